//go:build linux

package reactor

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollReactor is the production Reactor, backed directly by Linux epoll in
// edge-triggered, one-shot mode (EPOLLET|EPOLLONESHOT).
type epollReactor struct {
	epfd int

	mu     sync.Mutex
	closed bool
	tokens map[int]Token // fd -> token, needed to deregister by fd alone
}

// New opens a fresh epoll instance.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollReactor{epfd: epfd, tokens: make(map[int]Token)}, nil
}

func toEpollEvents(interest Interest) uint32 {
	var ev uint32 = unix.EPOLLET | unix.EPOLLONESHOT
	if interest.Has(Readable) {
		ev |= unix.EPOLLIN
	}
	if interest.Has(Writable) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (r *epollReactor) Register(fd int, token Token, interest Interest) error {
	event := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}

	r.mu.Lock()
	r.tokens[fd] = token
	r.mu.Unlock()

	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return errors.Wrapf(err, "epoll_ctl(ADD, fd=%d)", fd)
	}
	return nil
}

func (r *epollReactor) Reregister(fd int, token Token, interest Interest) error {
	event := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}

	r.mu.Lock()
	r.tokens[fd] = token
	r.mu.Unlock()

	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &event); err != nil {
		return errors.Wrapf(err, "epoll_ctl(MOD, fd=%d)", fd)
	}
	return nil
}

func (r *epollReactor) Deregister(fd int) error {
	r.mu.Lock()
	delete(r.tokens, fd)
	r.mu.Unlock()

	// Pre-4.5 kernels require a non-nil event pointer even for DEL.
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{}); err != nil {
		return errors.Wrapf(err, "epoll_ctl(DEL, fd=%d)", fd)
	}
	return nil
}

func (r *epollReactor) Poll(events []Event) ([]Event, error) {
	raw := make([]unix.EpollEvent, 128)
	for {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return events, ErrClosed
		}

		// Closing epfd does not wake a blocked epoll_wait, so wait in
		// bounded slices and recheck the closed flag between them.
		n, err := unix.EpollWait(r.epfd, raw, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.mu.Lock()
			closed = r.closed
			r.mu.Unlock()
			if closed {
				return events, ErrClosed
			}
			return events, errors.Wrap(err, "epoll_wait")
		}

		r.mu.Lock()
		for i := 0; i < n; i++ {
			fd := int(raw[i].Fd)
			token, ok := r.tokens[fd]
			if !ok {
				continue // raced with a Deregister; drop the stale event
			}
			events = append(events, Event{Token: token, Ready: toReady(raw[i].Events)})
		}
		r.mu.Unlock()

		if n > 0 {
			return events, nil
		}
	}
}

func toReady(epollEvents uint32) Ready {
	var r Ready
	if epollEvents&unix.EPOLLIN != 0 {
		r |= ReadyRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		r |= ReadyWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		r |= ReadyError
	}
	if epollEvents&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		r |= ReadyHangup
	}
	return r
}

func (r *epollReactor) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return unix.Close(r.epfd)
}
