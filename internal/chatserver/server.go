// Package chatserver owns the listening socket, the connection table and
// the ChatApp, and routes Reactor events into the Connection and ChatApp
// layers — this is the Server component (C5) plus its two small domain
// helpers, TokenSlab (C6) and StatsReporter (C8).
package chatserver

import (
	"fmt"
	"log"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/nullchat/chatlined/internal/buffers"
	"github.com/nullchat/chatlined/internal/chatapp"
	"github.com/nullchat/chatlined/internal/command"
	"github.com/nullchat/chatlined/internal/connection"
	"github.com/nullchat/chatlined/internal/reactor"
)

const broadcastTimeFormat = "2006:01:02 15:04:05"

// Config holds the resolved settings a Server is built from; see
// cmd/chatlined for where these are populated from flags/JSON.
type Config struct {
	ListenAddr     string
	MaxConnections int
	MaxLineBytes   int
	Quiet          bool
}

// Server is the event-driven connection manager described by §4.5.
type Server struct {
	cfg Config

	reactor    reactor.Reactor
	listenerFD int

	slab  *TokenSlab
	conns map[reactor.Token]*connection.Connection
	app   *chatapp.App

	// listenerArmed tracks whether the listener is currently registered
	// with the Reactor. It is false while the slab is at capacity: the
	// listener is deliberately left un-armed, and a pending connection
	// sits unaccepted in the kernel backlog until resetConnection frees a
	// slot and rearms it.
	listenerArmed bool

	logger *log.Logger
}

// New builds a Server bound to cfg.ListenAddr and arms the listener with
// the Reactor. It does not start serving; call Run for that.
func New(cfg Config, logger *log.Logger) (*Server, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = connection.DefaultMaxLine
	}
	if logger == nil {
		logger = log.Default()
	}

	fd, err := listen(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("chatserver: listen %s: %w", cfg.ListenAddr, err)
	}

	r, err := reactor.New()
	if err != nil {
		closeFD(fd)
		return nil, fmt.Errorf("chatserver: reactor: %w", err)
	}

	if err := r.Register(fd, ListenerToken, reactor.Readable); err != nil {
		r.Close()
		closeFD(fd)
		return nil, fmt.Errorf("chatserver: register listener: %w", err)
	}

	return &Server{
		cfg:           cfg,
		reactor:       r,
		listenerFD:    fd,
		slab:          NewTokenSlab(cfg.MaxConnections),
		conns:         make(map[reactor.Token]*connection.Connection),
		app:           chatapp.New(),
		listenerArmed: true,
		logger:        logger,
	}, nil
}

// Run blocks, polling the Reactor and dispatching events, until the
// Reactor is closed (via a listener error/hangup or an explicit Close).
func (s *Server) Run() error {
	var buf []reactor.Event
	for {
		events, err := s.reactor.Poll(buf[:0])
		if err != nil {
			if err == reactor.ErrClosed {
				return nil
			}
			return err
		}
		for _, ev := range events {
			s.handleEvent(ev)
		}
		buf = events
	}
}

// Close shuts the Reactor down, releasing Run, and closes every live
// connection and the listening socket.
func (s *Server) Close() error {
	var errs error
	for token := range s.conns {
		errs = multierr.Append(errs, s.conns[token].Dispose())
	}
	s.conns = make(map[reactor.Token]*connection.Connection)
	errs = multierr.Append(errs, s.reactor.Close())
	errs = multierr.Append(errs, closeFD(s.listenerFD))
	return errs
}

// NumConnections, NumUsers and NumRooms back the StatsReporter's periodic
// snapshot; all are read-only.
func (s *Server) NumConnections() int { return s.slab.Len() }
func (s *Server) NumUsers() int       { return s.app.NumUsers() }
func (s *Server) NumRooms() int       { return s.app.NumRooms() }

// Addr reports the address the listener is actually bound to, resolving
// an ephemeral ":0" port request to the port the kernel assigned.
func (s *Server) Addr() (string, error) {
	return boundAddr(s.listenerFD)
}

func (s *Server) handleEvent(ev reactor.Event) {
	if ev.Ready.Has(reactor.ReadyError) || ev.Ready.Has(reactor.ReadyHangup) {
		s.resetConnection(ev.Token)
		return
	}

	// Mirrors the writable-then-readable ordering of the source this core
	// is modeled on: a single event batch may carry both bits.
	if ev.Token != ListenerToken && ev.Ready.Has(reactor.ReadyWrite) {
		s.handleWritable(ev.Token)
		if _, stillOpen := s.conns[ev.Token]; !stillOpen {
			return
		}
	}

	if ev.Ready.Has(reactor.ReadyRead) {
		if ev.Token == ListenerToken {
			s.handleAccept()
		} else {
			s.handleReadable(ev.Token)
		}
	}
}

func (s *Server) handleAccept() {
	if s.slab.Full() {
		// Skip accept() entirely for this notification: the pending
		// connection stays in the kernel backlog, and the listener is
		// left un-armed until resetConnection frees a slot and rearms it.
		s.listenerArmed = false
		return
	}

	fd, wouldBlock, err := acceptOne(s.listenerFD)
	switch {
	case wouldBlock:
		s.rearmListener()
		return
	case err != nil:
		s.logger.Printf("accept: %v", err)
		s.rearmListener()
		return
	}

	token, ok := s.slab.Alloc()
	if !ok {
		s.logger.Printf("connection slab exhausted (cap=%d); dropping accepted socket", s.cfg.MaxConnections)
		closeFD(fd)
		s.rearmListener()
		return
	}

	conn := connection.NewWithMaxLine(fd, token, s.cfg.MaxLineBytes)
	s.conns[token] = conn

	if !s.cfg.Quiet {
		s.logger.Printf("accepted connection, token=%d", token)
	}

	// The spec's "Welcome back <username>" line would fire here if the
	// slab ever reissued a token still tied to a live username; under the
	// always-unauthorized-on-accept policy (see DESIGN.md Open Question
	// decisions) a freshly allocated token never resolves to a username,
	// so this branch is unreachable and kept only for documented fidelity
	// to §6's wire text.
	if username, ok := s.app.GetUsername(token); ok {
		s.enqueueLine(token, fmt.Sprintf("Server: Welcome back %s:\n", username))
	} else {
		s.enqueueLine(token, "Server: Select a username:\n")
	}

	if err := s.reactor.Register(fd, token, conn.Interest()); err != nil {
		s.logger.Printf("register connection %d: %v", token, err)
		s.resetConnection(token)
	}

	s.rearmListener()
}

func (s *Server) rearmListener() {
	if err := s.reactor.Reregister(s.listenerFD, ListenerToken, reactor.Readable); err != nil {
		s.logger.Printf("failed to reregister listener: %v; shutting down", err)
		s.reactor.Close()
		return
	}
	s.listenerArmed = true
}

func (s *Server) handleReadable(token reactor.Token) {
	conn, ok := s.conns[token]
	if !ok {
		return
	}

	// Rearming only reports bytes still in the kernel, so keep reading
	// while lines come out: a complete line left in the read buffer would
	// otherwise wait for the peer's next bytes.
	for {
		outcome, line := conn.Read()
		switch outcome {
		case connection.Message:
			s.handleMessage(token, line)
		case connection.ErrInvalidUTF8:
			s.enqueueLine(token, "Server: Invalid utf8, message was discarded.\n")
		case connection.NeedMore, connection.ErrDisconnected, connection.ErrIO:
			// NeedMore: nothing further to do. Disconnected/IO: the connection
			// already recorded the failure; its State reflects whether it is
			// now Closed, checked below.
		}
		if outcome != connection.Message && outcome != connection.ErrInvalidUTF8 {
			break
		}
		if _, live := s.conns[token]; !live || conn.State() == connection.Closed {
			break
		}
	}

	if conn.State() == connection.Closed {
		s.resetConnection(token)
		return
	}
	s.reregisterConnection(token)
}

func (s *Server) handleWritable(token reactor.Token) {
	conn, ok := s.conns[token]
	if !ok {
		return
	}
	conn.Write()
	if conn.State() == connection.Closed {
		s.resetConnection(token)
		return
	}
	s.reregisterConnection(token)
}

func (s *Server) reregisterConnection(token reactor.Token) {
	conn, ok := s.conns[token]
	if !ok {
		return
	}
	if err := s.reactor.Reregister(conn.FD, token, conn.Interest()); err != nil {
		s.resetConnection(token)
	}
}

// handleMessage interprets one framed, UTF-8-valid line: as a command, as
// a chat message from an authorized user, or as a name claim attempt.
func (s *Server) handleMessage(token reactor.Token, line []byte) {
	text := string(line)

	if command.IsCommand(text) {
		s.handleCommand(token, command.Parse(text))
		return
	}

	if username, ok := s.app.GetUsername(token); ok {
		payload := fmt.Sprintf("%s - %s: %s", time.Now().Format(broadcastTimeFormat), username, text)
		s.broadcast(token, []byte(payload))
		return
	}

	s.handleNameClaim(token, text)
}

func (s *Server) handleCommand(token reactor.Token, cmd command.Command) {
	switch cmd.Kind {
	case command.Rooms:
		rooms := s.app.GetRoomList()
		s.enqueueLine(token, strings.Join(rooms, "\n")+"\n")
	case command.Join:
		if _, ok := s.app.GetUsername(token); !ok {
			// MoveRooms requires a registered user; an unauthorized
			// connection has no room membership to move.
			s.enqueueLine(token, "Not a valid command\n")
			return
		}
		s.app.MoveRooms(token, cmd.Arg)
		s.enqueueLine(token, fmt.Sprintf("Moved to room %s\n", cmd.Arg))
	case command.Quit:
		if conn, ok := s.conns[token]; ok {
			conn.Quit()
		}
	default:
		s.enqueueLine(token, "Not a valid command\n")
	}
}

func (s *Server) handleNameClaim(token reactor.Token, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	name := fields[0]

	switch err := s.app.RegisterUser(token, name); err {
	case nil:
		s.enqueueLine(token, "Server: you have been successfully authorized\n")
	case chatapp.ErrNameTaken:
		s.enqueueLine(token, "Server: That username is taken, please try another\n")
	default:
		// ErrTokenAlreadyRegistered: a programmer error per §4.4, since
		// an authorized token never reaches handleNameClaim again.
		s.logger.Printf("unexpected RegisterUser error for token %d: %v", token, err)
	}
}

// broadcast fans payload out to every current member of sender's room
// except sender, sharing one allocation across every recipient queue.
func (s *Server) broadcast(sender reactor.Token, payload []byte) {
	recipients := s.app.GetMessageRecipients(sender)
	if len(recipients) == 0 {
		return
	}

	msg := buffers.New(payload)
	var badTokens []reactor.Token
	for i, tok := range recipients {
		if i > 0 {
			msg.Retain()
		}
		conn, ok := s.conns[tok]
		if !ok {
			msg.Release()
			continue
		}
		conn.Enqueue(msg)
		if err := s.reactor.Reregister(conn.FD, tok, conn.Interest()); err != nil {
			badTokens = append(badTokens, tok)
		}
	}

	// Collected, then reset after the loop: resetting mid-iteration would
	// mutate the connection table the loop above is still walking.
	for _, tok := range badTokens {
		s.resetConnection(tok)
	}
}

func (s *Server) enqueueLine(token reactor.Token, line string) {
	conn, ok := s.conns[token]
	if !ok {
		return
	}
	conn.Enqueue(buffers.New([]byte(line)))
	if err := s.reactor.Reregister(conn.FD, token, conn.Interest()); err != nil {
		s.resetConnection(token)
	}
}

func (s *Server) resetConnection(token reactor.Token) {
	if token == ListenerToken {
		s.logger.Printf("listener error/hangup; shutting down")
		s.reactor.Close()
		return
	}

	conn, ok := s.conns[token]
	if !ok {
		return
	}

	var errs error
	if err := s.reactor.Deregister(conn.FD); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("deregister %d: %w", token, err))
	}
	if err := conn.Dispose(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("dispose %d: %w", token, err))
	}
	if errs != nil {
		s.logger.Printf("reset connection %d: %v", token, errs)
	}

	delete(s.conns, token)
	s.slab.Free(token)
	s.app.RemoveUser(token)

	// A slot just freed; if the listener was left un-armed by a prior
	// SlabExhausted notification, this is what wakes it back up.
	if !s.listenerArmed {
		s.rearmListener()
	}
}
