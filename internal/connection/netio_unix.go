//go:build !windows

package connection

import "golang.org/x/sys/unix"

// sysRead performs exactly one non-blocking read(2). wouldBlock is true
// when the kernel had nothing to offer (EAGAIN/EWOULDBLOCK); n==0 with
// wouldBlock==false and err==nil signals the peer half-closed.
func sysRead(fd int, buf []byte) (n int, wouldBlock bool, err error) {
	n, err = unix.Read(fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, true, nil
	}
	return n, false, err
}

// sysWrite performs exactly one non-blocking write(2).
func sysWrite(fd int, buf []byte) (n int, wouldBlock bool, err error) {
	n, err = unix.Write(fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, true, nil
	}
	return n, false, err
}

func sysClose(fd int) error {
	return unix.Close(fd)
}
