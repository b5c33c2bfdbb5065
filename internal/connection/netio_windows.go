//go:build windows

package connection

import "errors"

var errNoWindows = errors.New("connection: no Windows raw-socket implementation; build for linux")

func sysRead(fd int, buf []byte) (n int, wouldBlock bool, err error)  { return 0, false, errNoWindows }
func sysWrite(fd int, buf []byte) (n int, wouldBlock bool, err error) { return 0, false, errNoWindows }
func sysClose(fd int) error                                           { return errNoWindows }
