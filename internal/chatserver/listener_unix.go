//go:build !windows

package chatserver

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listen opens a non-blocking TCP listening socket bound to addr (host:port)
// and returns its raw file descriptor. The Server drives accept() itself
// through the Reactor rather than through net.Listener, since the whole
// point of this core is owning the non-blocking I/O loop directly.
func listen(addr string) (fd int, err error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, errors.Wrapf(err, "resolve listen address %q", addr)
	}

	domain := unix.AF_INET
	if tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(err, "socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "setsockopt(SO_REUSEADDR)")
	}

	sa, err := sockaddrFor(domain, tcpAddr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "bind %q", addr)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "listen")
	}
	return fd, nil
}

func sockaddrFor(domain int, addr *net.TCPAddr) (unix.Sockaddr, error) {
	if domain == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], addr.IP.To16())
		return sa, nil
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

// acceptOne accepts at most one pending connection, non-blocking.
// wouldBlock is true when there is nothing to accept right now.
func acceptOne(listenerFD int) (fd int, wouldBlock bool, err error) {
	nfd, _, err := unix.Accept4(listenerFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return -1, true, nil
	}
	if err != nil {
		return -1, false, err
	}
	return nfd, false, nil
}

// closeFD closes a raw socket fd, used both for the listener on shutdown
// and for sockets rejected outright (e.g. a slab at capacity).
func closeFD(fd int) error {
	return unix.Close(fd)
}

// boundAddr reports the address the fd is actually bound to, resolving
// the ":0" ephemeral-port case after bind(2) so callers (tests, startup
// logging) can learn the real port.
func boundAddr(fd int) (string, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", errors.Wrap(err, "getsockname")
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), fmt.Sprint(sa.Port)), nil
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), fmt.Sprint(sa.Port)), nil
	default:
		return "", errors.New("getsockname: unsupported address family")
	}
}
