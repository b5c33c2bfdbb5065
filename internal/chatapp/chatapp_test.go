package chatapp

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nullchat/chatlined/internal/reactor"
)

func assertInvariants(t *testing.T, a *App, tokens ...reactor.Token) {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tok := range tokens {
		u, ok := a.users[tok]
		if !ok {
			continue
		}
		if gotTok, ok := a.namesToTk[u.name]; !ok || gotTok != tok {
			t.Errorf("I1 violated: NameIndex[%q] = (%v,%v), want %v", u.name, gotTok, ok, tok)
		}
		r, ok := a.rooms[u.room]
		if !ok {
			t.Errorf("I1 violated: user %v's room %q does not exist", tok, u.room)
			continue
		}
		if _, member := r.members[tok]; !member {
			t.Errorf("I1 violated: user %v not present in its own room %q", tok, u.room)
		}
	}

	seen := make(map[string]reactor.Token)
	for name, tok := range a.namesToTk {
		if other, dup := seen[name]; dup && other != tok {
			t.Errorf("I2 violated: name %q mapped to two tokens", name)
		}
		seen[name] = tok
	}
}

func TestRegisterUserPlacesInDefaultRoom(t *testing.T) {
	a := New()
	if err := a.RegisterUser(1, "alice"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	assertInvariants(t, a, 1)

	name, ok := a.GetUsername(1)
	if !ok || name != "alice" {
		t.Fatalf("GetUsername(1) = (%q,%v), want (alice,true)", name, ok)
	}
}

// I3: register_user(t,n) after a successful register_user(t',n) with t'≠t
// yields NameTaken.
func TestNameCollisionYieldsNameTaken(t *testing.T) {
	a := New()
	if err := a.RegisterUser(1, "alice"); err != nil {
		t.Fatalf("first RegisterUser: %v", err)
	}
	err := a.RegisterUser(2, "alice")
	if err != ErrNameTaken {
		t.Fatalf("RegisterUser collision = %v, want ErrNameTaken", err)
	}
	assertInvariants(t, a, 1, 2)
}

func TestTokenAlreadyRegistered(t *testing.T) {
	a := New()
	if err := a.RegisterUser(1, "alice"); err != nil {
		t.Fatalf("first RegisterUser: %v", err)
	}
	err := a.RegisterUser(1, "bob")
	if err != ErrTokenAlreadyRegistered {
		t.Fatalf("RegisterUser re-registration = %v, want ErrTokenAlreadyRegistered", err)
	}
}

// I4: remove_user(t) followed by register_user(t'',previous_name) succeeds.
func TestRemoveUserFreesName(t *testing.T) {
	a := New()
	if err := a.RegisterUser(1, "alice"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	a.RemoveUser(1)

	if err := a.RegisterUser(2, "alice"); err != nil {
		t.Fatalf("RegisterUser after RemoveUser: %v", err)
	}
	assertInvariants(t, a, 2)

	if _, ok := a.GetUsername(1); ok {
		t.Fatalf("removed token 1 still resolves to a username")
	}
}

func TestRemoveUserNoOpWhenUnregistered(t *testing.T) {
	a := New()
	a.RemoveUser(99) // must not panic
	if got := a.GetRoomList(); !cmp.Equal(got, []string{DefaultRoom}) {
		t.Fatalf("unexpected room list after no-op remove: %v", got)
	}
}

// I5: move_rooms(t, r) followed by get_message_recipients(t') for any t' in
// room r returns t in its result iff t'≠t.
func TestMoveRoomsAffectsRecipients(t *testing.T) {
	a := New()
	for i, name := range []string{"alice", "bob", "carol"} {
		if err := a.RegisterUser(reactor.Token(i+1), name); err != nil {
			t.Fatalf("RegisterUser(%s): %v", name, err)
		}
	}
	a.MoveRooms(1, "red")
	assertInvariants(t, a, 1, 2, 3)

	redRecipients := a.GetMessageRecipients(1)
	if len(redRecipients) != 0 {
		t.Fatalf("alone in room red, expected no recipients, got %v", redRecipients)
	}

	defaultRecipients := a.GetMessageRecipients(2)
	sort.Slice(defaultRecipients, func(i, j int) bool { return defaultRecipients[i] < defaultRecipients[j] })
	want := []reactor.Token{3}
	if !cmp.Equal(defaultRecipients, want) {
		t.Fatalf("GetMessageRecipients(2) = %v, want %v (alice moved out, bob/carol remain)", defaultRecipients, want)
	}
}

// I6: idempotence of move_rooms(t, r) when the user is already in r.
func TestMoveRoomsIdempotent(t *testing.T) {
	a := New()
	if err := a.RegisterUser(1, "alice"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	before := a.GetRoomList()
	beforeRecipients := a.GetMessageRecipients(1)

	a.MoveRooms(1, DefaultRoom)

	after := a.GetRoomList()
	afterRecipients := a.GetMessageRecipients(1)
	if !cmp.Equal(before, after) {
		t.Fatalf("room list changed after idempotent move: %v -> %v", before, after)
	}
	if !cmp.Equal(beforeRecipients, afterRecipients) {
		t.Fatalf("recipients changed after idempotent move: %v -> %v", beforeRecipients, afterRecipients)
	}
	assertInvariants(t, a, 1)
}

func TestRoomsAreNeverDeleted(t *testing.T) {
	a := New()
	if err := a.RegisterUser(1, "alice"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	a.MoveRooms(1, "red")
	a.RemoveUser(1)

	got := a.GetRoomList()
	sort.Strings(got)
	want := []string{DefaultRoom, "red"}
	if !cmp.Equal(got, want) {
		t.Fatalf("GetRoomList() = %v, want %v (rooms persist even when empty)", got, want)
	}
}
