//go:build windows

package reactor

import "errors"

// New is unimplemented on Windows. The reactor's raw-fd design targets the
// Linux epoll path; Windows would need an IOCP-backed implementation this
// core does not provide.
func New() (Reactor, error) {
	return nil, errors.New("reactor: no Windows implementation; build for linux")
}
