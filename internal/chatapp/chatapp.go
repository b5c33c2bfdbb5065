// Package chatapp holds the in-memory authoritative chat model: the user
// and room registries, name uniqueness, and membership invariants.
//
// Cross-references between users, rooms and connections are lookup keys,
// never owning handles — the three tables below are siblings, not a tree.
package chatapp

import (
	"sort"
	"sync"

	"github.com/nullchat/chatlined/internal/reactor"
)

// DefaultRoom is the room every server starts with and that never
// disappears, per the spec's "default" glossary entry.
const DefaultRoom = "default"

// Error is a sentinel distinguishing the chat-level failure reasons the
// Server needs to branch on; it deliberately does not wrap an underlying
// error since these are not I/O failures.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrTokenAlreadyRegistered Error = "chatapp: token already registered"
	ErrNameTaken              Error = "chatapp: name taken"
)

type user struct {
	token reactor.Token
	name  string
	room  string
}

type room struct {
	name    string
	members map[reactor.Token]struct{}
}

// App is the registry of users and rooms. The zero value is not usable;
// construct with New.
type App struct {
	mu sync.Mutex

	users     map[reactor.Token]*user
	namesToTk map[string]reactor.Token
	rooms     map[string]*room
}

// New returns an App with the default room already present.
func New() *App {
	a := &App{
		users:     make(map[reactor.Token]*user),
		namesToTk: make(map[string]reactor.Token),
		rooms:     make(map[string]*room),
	}
	a.rooms[DefaultRoom] = &room{name: DefaultRoom, members: make(map[reactor.Token]struct{})}
	return a
}

func (a *App) roomOrCreate(name string) *room {
	r, ok := a.rooms[name]
	if !ok {
		r = &room{name: name, members: make(map[reactor.Token]struct{})}
		a.rooms[name] = r
	}
	return r
}

// RegisterUser claims name for token, placing the new user in DefaultRoom.
// Fails if token already has a user, or name is already claimed.
func (a *App) RegisterUser(token reactor.Token, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.users[token]; ok {
		return ErrTokenAlreadyRegistered
	}
	if _, ok := a.namesToTk[name]; ok {
		return ErrNameTaken
	}

	u := &user{token: token, name: name, room: DefaultRoom}
	a.users[token] = u
	a.namesToTk[name] = token
	a.roomOrCreate(DefaultRoom).members[token] = struct{}{}
	return nil
}

// GetUsername returns the name registered for token, if any.
func (a *App) GetUsername(token reactor.Token) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[token]
	if !ok {
		return "", false
	}
	return u.name, true
}

// GetRoomList returns a snapshot of every room's name, sorted for
// deterministic test output (the spec leaves the order unspecified).
func (a *App) GetRoomList() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.rooms))
	for name := range a.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MoveRooms moves token's user into dest, creating dest if it does not
// exist. token must already be registered; idempotent when dest equals
// the user's current room.
func (a *App) MoveRooms(token reactor.Token, dest string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.users[token]
	if !ok {
		panic("chatapp: MoveRooms on an unregistered token")
	}
	if u.room == dest {
		a.roomOrCreate(dest) // dest may not exist yet even if named same as current — defensive no-op
		return
	}

	if cur, ok := a.rooms[u.room]; ok {
		delete(cur.members, token)
	}
	a.roomOrCreate(dest).members[token] = struct{}{}
	u.room = dest
}

// GetMessageRecipients returns every other member of sender's current
// room. sender must already be registered.
func (a *App) GetMessageRecipients(sender reactor.Token) []reactor.Token {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.users[sender]
	if !ok {
		panic("chatapp: GetMessageRecipients on an unregistered token")
	}
	r, ok := a.rooms[u.room]
	if !ok {
		return nil
	}
	recipients := make([]reactor.Token, 0, len(r.members))
	for t := range r.members {
		if t != sender {
			recipients = append(recipients, t)
		}
	}
	return recipients
}

// RemoveUser drops token's user, its room membership and its name claim.
// No-op if token was never registered.
func (a *App) RemoveUser(token reactor.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.users[token]
	if !ok {
		return
	}
	if r, ok := a.rooms[u.room]; ok {
		delete(r.members, token)
	}
	delete(a.namesToTk, u.name)
	delete(a.users, token)
}

// NumUsers and NumRooms back the StatsReporter's periodic snapshot; both
// are read-only and safe to call from any goroutine.
func (a *App) NumUsers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.users)
}

func (a *App) NumRooms() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rooms)
}
