package reactor

import (
	"net"
	"runtime"
	"syscall"
	"testing"
	"time"
)

func rawFD(t *testing.T, conn syscall.Conn) int {
	t.Helper()
	sc, err := conn.SyscallConn()
	if err != nil {
		t.Fatalf("SyscallConn: %v", err)
	}
	var fd int
	err = sc.Control(func(f uintptr) { fd = int(f) })
	if err != nil {
		t.Fatalf("Control: %v", err)
	}
	return fd
}

func newTestReactor(t *testing.T) Reactor {
	t.Helper()
	r, err := New()
	if err != nil {
		if runtime.GOOS == "windows" {
			t.Skip("reactor has no Windows implementation")
		}
		t.Fatalf("New: %v", err)
	}
	return r
}

// A fresh write-side socket is writable as soon as it is registered; this
// exercises the Register -> Poll -> (one-shot disarm) -> Reregister cycle.
func TestReactorOneShotRearm(t *testing.T) {
	r := newTestReactor(t)
	defer r.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer server.Close()

	fd := rawFD(t, client.(syscall.Conn))
	const tok Token = 42
	if err := r.Register(fd, tok, Writable); err != nil {
		t.Fatalf("Register: %v", err)
	}

	events, err := r.Poll(nil)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(events) != 1 || events[0].Token != tok || !events[0].Ready.Has(ReadyWrite) {
		t.Fatalf("unexpected events: %+v", events)
	}

	// One-shot: without a Reregister, a second Poll must not report the
	// still-writable fd again within a short window.
	done := make(chan struct{})
	go func() {
		r.Poll(nil)
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("poll returned before reregister; one-shot semantics violated")
	case <-time.After(30 * time.Millisecond):
	}

	if err := r.Reregister(fd, tok, Writable); err != nil {
		t.Fatalf("Reregister: %v", err)
	}
	<-done
}

func TestReactorReadableOnData(t *testing.T) {
	r := newTestReactor(t)
	defer r.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer server.Close()

	fd := rawFD(t, server.(syscall.Conn))
	const tok Token = 7
	if err := r.Register(fd, tok, Readable); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := client.Write([]byte("hi\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	events, err := r.Poll(nil)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(events) != 1 || events[0].Token != tok || !events[0].Ready.Has(ReadyRead) {
		t.Fatalf("unexpected events: %+v", events)
	}
}
