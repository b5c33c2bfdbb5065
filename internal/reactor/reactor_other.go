//go:build !linux && !windows

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollReactor is a portable fallback used off Linux (local development,
// non-Linux test runs). It keeps the same external contract — one-shot,
// caller-driven rearming via Reregister — by polling each registered fd
// with a non-blocking readiness probe on a short interval rather than via
// epoll. Production deployment targets Linux, exactly as the teacher's own
// KCP listener falls back to a generic path off its raw-socket-capable
// platforms.
type pollReactor struct {
	mu     sync.Mutex
	closed bool
	armed  map[int]armedFd
}

type armedFd struct {
	token    Token
	interest Interest
}

const pollInterval = 2 * time.Millisecond

func New() (Reactor, error) {
	return &pollReactor{armed: make(map[int]armedFd)}, nil
}

func (r *pollReactor) Register(fd int, token Token, interest Interest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed[fd] = armedFd{token: token, interest: interest}
	return nil
}

func (r *pollReactor) Reregister(fd int, token Token, interest Interest) error {
	return r.Register(fd, token, interest)
}

func (r *pollReactor) Deregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.armed, fd)
	return nil
}

func (r *pollReactor) Poll(events []Event) ([]Event, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return events, ErrClosed
		}
		snapshot := make(map[int]armedFd, len(r.armed))
		for fd, a := range r.armed {
			snapshot[fd] = a
		}
		r.mu.Unlock()

		for fd, a := range snapshot {
			ready := probe(fd, a.interest)
			if ready == 0 {
				continue
			}
			// One-shot: disarm until the caller reregisters.
			r.mu.Lock()
			if cur, ok := r.armed[fd]; ok && cur == a {
				delete(r.armed, fd)
			}
			r.mu.Unlock()
			events = append(events, Event{Token: a.token, Ready: ready})
		}
		if len(events) > 0 {
			return events, nil
		}
		time.Sleep(pollInterval)
	}
}

func (r *pollReactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// probe issues a zero-timeout poll(2) for fd to learn its current
// readiness without blocking, bridging Register/Reregister's edge-style
// contract onto a level-style syscall.
func probe(fd int, interest Interest) Ready {
	var events int16
	if interest.Has(Readable) {
		events |= unix.POLLIN
	}
	if interest.Has(Writable) {
		events |= unix.POLLOUT
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	n, err := unix.Poll(fds, 0)
	if err != nil || n == 0 {
		return 0
	}

	var r Ready
	if fds[0].Revents&unix.POLLIN != 0 {
		r |= ReadyRead
	}
	if fds[0].Revents&unix.POLLOUT != 0 {
		r |= ReadyWrite
	}
	if fds[0].Revents&unix.POLLERR != 0 {
		r |= ReadyError
	}
	if fds[0].Revents&(unix.POLLHUP|unix.POLLRDHUP) != 0 {
		r |= ReadyHangup
	}
	return r
}
