package chatserver

import "github.com/nullchat/chatlined/internal/reactor"

// ListenerToken is the distinguished token reserved for the listening
// socket; it is never handed out by TokenSlab and is never present in the
// connection table (§3 invariant 4).
const ListenerToken reactor.Token = 0

// DefaultMaxConnections is the recommended slab cap (§4.5).
const DefaultMaxConnections = 1024

// TokenSlab hands out and recycles connection tokens starting at
// ListenerToken+1 up to a fixed capacity. It never grows past that cap;
// exhaustion is reported to the caller as an ordinary failure.
type TokenSlab struct {
	cap   int
	next  reactor.Token // next never-yet-issued token, monotonically increasing until cap
	free  []reactor.Token
	live  map[reactor.Token]struct{}
}

// NewTokenSlab constructs a slab with room for cap live tokens.
func NewTokenSlab(cap int) *TokenSlab {
	return &TokenSlab{
		cap:  cap,
		next: ListenerToken + 1,
		live: make(map[reactor.Token]struct{}, cap),
	}
}

// Alloc returns a fresh or recycled token, or ok=false if the slab is at
// capacity.
func (s *TokenSlab) Alloc() (reactor.Token, bool) {
	if len(s.free) > 0 {
		tok := s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
		s.live[tok] = struct{}{}
		return tok, true
	}
	if len(s.live) >= s.cap {
		return 0, false
	}
	tok := s.next
	s.next++
	s.live[tok] = struct{}{}
	return tok, true
}

// Free returns token to the slab for future recycling. A no-op if token is
// not currently live (double-free is tolerated, matching RemoveUser's
// no-op-on-unknown-token shape elsewhere in this codebase).
func (s *TokenSlab) Free(token reactor.Token) {
	if _, ok := s.live[token]; !ok {
		return
	}
	delete(s.live, token)
	s.free = append(s.free, token)
}

// Len reports the number of currently live tokens, backing the
// StatsReporter's connection count.
func (s *TokenSlab) Len() int {
	return len(s.live)
}

// Full reports whether the slab is at capacity and Alloc would fail.
func (s *TokenSlab) Full() bool {
	return len(s.free) == 0 && len(s.live) >= s.cap
}
