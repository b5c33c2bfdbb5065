// Package reactor provides edge-triggered, one-shot readiness notification
// over a set of raw file descriptors, each tagged with an opaque Token.
//
// It performs no interpretation of bytes: callers register a descriptor and
// an interest set, then learn from Poll when that descriptor is readable,
// writable, hung up or errored. One-shot means a Token fires at most once
// per (re)registration — the caller must Reregister to keep receiving
// events for it. Edge-triggered means the caller must drain a readable
// descriptor until it would block, since no further readable event arrives
// on its own.
package reactor

import "fmt"

// Token is an opaque, stable identifier a caller attaches to a descriptor.
type Token uint64

// Interest is a bitmask of the readiness a caller wants to be told about.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Has reports whether i includes want.
func (i Interest) Has(want Interest) bool {
	return i&want != 0
}

// Ready is a bitmask of the readiness the kernel actually reported.
type Ready uint8

const (
	ReadyRead Ready = 1 << iota
	ReadyWrite
	ReadyError
	ReadyHangup
)

func (r Ready) Has(want Ready) bool {
	return r&want != 0
}

// Event is one (Token, readiness) pair yielded by a Poll call.
type Event struct {
	Token Token
	Ready Ready
}

// Reactor multiplexes readiness across many file descriptors.
type Reactor interface {
	// Register arms fd for one-shot notification of interest, tagged token.
	Register(fd int, token Token, interest Interest) error
	// Reregister re-arms a previously registered fd for another one-shot
	// notification, optionally with a different interest set.
	Reregister(fd int, token Token, interest Interest) error
	// Deregister removes fd from the reactor entirely.
	Deregister(fd int) error
	// Poll blocks until at least one event is ready (or the reactor is
	// closed) and appends ready events to events, returning the extended
	// slice. Passing a reused events[:0] slice avoids per-call allocation.
	Poll(events []Event) ([]Event, error)
	// Close releases the underlying kernel object. Poll calls in flight
	// return an error once Close has run.
	Close() error
}

// ErrClosed is returned by Poll once the reactor has been closed.
var ErrClosed = fmt.Errorf("reactor: closed")
