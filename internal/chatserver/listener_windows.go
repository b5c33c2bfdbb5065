//go:build windows

package chatserver

import "errors"

var errNoWindows = errors.New("chatserver: no Windows raw-socket implementation; build for linux")

func listen(addr string) (fd int, err error) { return -1, errNoWindows }

func acceptOne(listenerFD int) (fd int, wouldBlock bool, err error) {
	return -1, false, errNoWindows
}

func closeFD(fd int) error { return errNoWindows }

func boundAddr(fd int) (string, error) { return "", errNoWindows }
