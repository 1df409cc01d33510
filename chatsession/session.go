// Package chatsession implements the per-connection state machine of the
// chat relay: alias negotiation, joining and leaving the room, and routing
// of broadcast and private messages.
package chatsession

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cyberinferno/chatrelay/chatroom"
	"github.com/cyberinferno/chatrelay/command"
	"github.com/cyberinferno/chatrelay/linecodec"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/presence"
	"github.com/cyberinferno/chatrelay/tcpserver"
)

// DefaultPresenceTimeout bounds each presence store update.
const DefaultPresenceTimeout = 2 * time.Second

// State is the position of a session in its lifecycle.
type State int

const (
	Connecting   State = iota // Accepted, nothing sent yet
	AliasPending              // Waiting for a free alias
	Idle                      // Alias bound, outside the room
	InRoom                    // Member of the room
	Closed                    // Connection closed; terminal
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case AliasPending:
		return "AliasPending"
	case Idle:
		return "Idle"
	case InRoom:
		return "InRoom"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Dependencies are the shared collaborators every session of one server
// uses.
type Dependencies struct {
	Room            *chatroom.Registry
	Aliases         *chatroom.AliasTable
	Presence        presence.Store
	Logger          logger.Logger
	PresenceTimeout time.Duration
	MaxLineLength   int
}

// NewDependencies returns a fresh room and alias table, with presence
// disabled.
func NewDependencies(log logger.Logger) Dependencies {
	return Dependencies{
		Room:            chatroom.NewRegistry(),
		Aliases:         chatroom.NewAliasTable(),
		Presence:        presence.NopStore{},
		Logger:          log,
		PresenceTimeout: DefaultPresenceTimeout,
		MaxLineLength:   linecodec.DefaultMaxLineLength,
	}
}

// NewSessionFunc adapts NewSession to the acceptor's session constructor.
func NewSessionFunc(deps Dependencies) tcpserver.NewSessionFunc {
	return func(id uint32, conn net.Conn) tcpserver.TCPServerSession {
		return NewSession(id, conn, deps)
	}
}

// Session drives one client connection. It implements
// tcpserver.TCPServerSession and chatroom.Member.
type Session struct {
	id         uint32
	conn       net.Conn
	remoteAddr string
	reader     *linecodec.Reader
	writer     *linecodec.Writer
	deps       Dependencies
	log        logger.Logger

	mu    sync.RWMutex
	state State
	alias string

	closeOnce sync.Once
	closeErr  error
}

// NewSession wraps conn. The session does nothing until Handle is called.
//
// Parameters:
//   - id: Server-assigned session identifier
//   - conn: The accepted connection; the session owns and closes it
//   - deps: Shared room state and collaborators
//
// Returns:
//   - A new Session in the Connecting state
func NewSession(id uint32, conn net.Conn, deps Dependencies) *Session {
	if deps.Presence == nil {
		deps.Presence = presence.NopStore{}
	}

	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}

	if deps.PresenceTimeout <= 0 {
		deps.PresenceTimeout = DefaultPresenceTimeout
	}

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &Session{
		id:         id,
		conn:       conn,
		remoteAddr: remote,
		reader:     linecodec.NewReaderSize(conn, deps.MaxLineLength),
		writer:     linecodec.NewWriter(conn),
		deps:       deps,
		log: deps.Logger.With(
			logger.Field{Key: "session_id", Value: id},
			logger.Field{Key: "remote_addr", Value: remote},
		),
		state: Connecting,
	}
}

// ID implements chatroom.Member.
func (s *Session) ID() uint32 {
	return s.id
}

// Alias implements chatroom.Member. It is empty until negotiation succeeds.
func (s *Session) Alias() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alias
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SendLine implements chatroom.Member. It is safe for concurrent use.
func (s *Session) SendLine(text string) error {
	return s.writer.SendLine(text)
}

// Close closes the connection, unblocking a pending read. Safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}

// Handle runs the session until the client exits, disconnects, or the
// connection fails. Every exit path tears the session down.
func (s *Session) Handle() {
	defer s.teardown()

	s.setState(AliasPending)
	if err := s.negotiateAlias(); err != nil {
		s.logReadEnd(err)
		return
	}

	s.setState(Idle)
	for {
		line, err := s.receive()
		if err != nil {
			s.logReadEnd(err)
			return
		}

		switch command.Classify(line) {
		case command.Connect:
			exit, err := s.chat()
			if err != nil {
				s.logReadEnd(err)
				return
			}

			if exit {
				return
			}

			s.setState(Idle)
		case command.Exit:
			s.log.Debug("session exit requested")
			return
		default:
			if line == "" {
				continue
			}

			s.reply(MsgNotInRoom)
		}
	}
}

// negotiateAlias prompts until the client picks a free, valid alias.
func (s *Session) negotiateAlias() error {
	for {
		if err := s.SendLine(PromptAlias); err != nil {
			return err
		}

		line, err := s.reader.ReceiveLine()
		if errors.Is(err, linecodec.ErrLineTooLong) {
			s.reply(MsgLineTooLong)
			continue
		}

		if err != nil {
			return err
		}

		alias := strings.TrimSpace(line)
		if !validAlias(alias) {
			s.reply(MsgInvalidAlias)
			continue
		}

		if s.deps.Room.IsAliasTaken(alias) || !s.deps.Aliases.Claim(alias, s.id) {
			s.log.Debug("alias rejected", logger.Field{Key: "alias", Value: alias})
			s.reply(MsgAliasTaken)
			continue
		}

		s.mu.Lock()
		s.alias = alias
		s.mu.Unlock()

		s.log = s.log.With(logger.Field{Key: "alias", Value: alias})
		s.log.Info("alias assigned")
		return s.SendLine(welcomeMessage(alias))
	}
}

// chat joins the room and routes messages until the client leaves it.
//
// Returns:
//   - exit: true if the client asked to close the connection
//   - err: the read error that ended the session, if any
func (s *Session) chat() (bool, error) {
	alias := s.Alias()

	before, err := s.deps.Room.Join(s)
	if err != nil {
		s.log.Warn("room join refused", logger.Field{Key: "error", Value: err.Error()})
		switch {
		case errors.Is(err, chatroom.ErrAlreadyJoined):
			s.reply(MsgAlreadyIn)
		case errors.Is(err, chatroom.ErrAliasTaken):
			s.reply(MsgAliasTaken)
		}

		return false, nil
	}

	s.setState(InRoom)
	s.log.Info("joined room", logger.Field{Key: "members", Value: len(before) + 1})

	if len(before) > 0 {
		s.reply(membersMessage(before))
	}

	s.deliver(s.deps.Room.Members(), joinedMessage(alias))
	s.publishOnline()

	for {
		line, err := s.receive()
		if err != nil {
			if s.leaveRoom() {
				s.deliver(s.deps.Room.Members(), leftMessage(alias))
			}

			return false, err
		}

		cmd := command.Parse(line, s.deps.Room)
		switch cmd.Kind {
		case command.Broadcast:
			if line == "" {
				continue
			}

			s.broadcast(broadcastMessage(alias, cmd.Payload))
		case command.Private:
			s.private(alias, cmd)
		case command.Connect:
			s.reply(MsgAlreadyIn)
		case command.Disconnect:
			s.deliver(s.deps.Room.Members(), leftMessage(alias))
			s.leaveRoom()
			return false, nil
		case command.Exit:
			s.deliver(s.deps.Room.Members(), leftMessage(alias))
			s.leaveRoom()
			return true, nil
		}
	}
}

// broadcast sends text to every member except the sender.
func (s *Session) broadcast(text string) {
	members := s.deps.Room.Members()
	recipients := members[:0]
	for _, m := range members {
		if m.ID() != s.id {
			recipients = append(recipients, m)
		}
	}

	s.deliver(recipients, text)
}

func (s *Session) private(alias string, cmd command.Command) {
	s.deliver(cmd.Targets, privateMessage(alias, cmd.Payload))

	if len(cmd.Unresolved) > 0 {
		s.reply(notFoundMessage(cmd.Unresolved))
	}
}

// deliver sends text to each member. Failures are logged; the failing
// session's own read loop deregisters it.
func (s *Session) deliver(members []chatroom.Member, text string) {
	for _, m := range members {
		if err := m.SendLine(text); err != nil {
			s.log.Warn("delivery failed",
				logger.Field{Key: "to", Value: m.Alias()},
				logger.Field{Key: "error", Value: err.Error()},
			)
		}
	}
}

// receive reads the next line. Oversized lines are answered with
// MsgLineTooLong and skipped.
func (s *Session) receive() (string, error) {
	for {
		line, err := s.reader.ReceiveLine()
		if !errors.Is(err, linecodec.ErrLineTooLong) {
			return line, err
		}

		s.log.Debug("oversized line dropped")
		s.reply(MsgLineTooLong)
	}
}

func (s *Session) reply(text string) {
	if err := s.SendLine(text); err != nil {
		s.log.Debug("reply failed", logger.Field{Key: "error", Value: err.Error()})
	}
}

// leaveRoom removes the session from the room and the presence mirror.
//
// Returns:
//   - true if the session was a member
func (s *Session) leaveRoom() bool {
	alias, ok := s.deps.Room.Leave(s.id)
	if !ok {
		return false
	}

	s.log.Info("left room")
	s.publishOffline(alias)
	return true
}

func (s *Session) publishOnline() {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.PresenceTimeout)
	defer cancel()

	entry := presence.Entry{
		Alias:      s.Alias(),
		SessionID:  s.id,
		RemoteAddr: s.remoteAddr,
		JoinedAt:   time.Now().UTC(),
	}

	if err := s.deps.Presence.Online(ctx, entry); err != nil {
		s.log.Warn("presence update failed", logger.Field{Key: "error", Value: err.Error()})
	}
}

func (s *Session) publishOffline(alias string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.PresenceTimeout)
	defer cancel()

	if err := s.deps.Presence.Offline(ctx, alias); err != nil {
		s.log.Warn("presence update failed", logger.Field{Key: "error", Value: err.Error()})
	}
}

// teardown releases everything the session holds.
func (s *Session) teardown() {
	s.leaveRoom()

	if alias := s.Alias(); alias != "" {
		s.deps.Aliases.Release(alias, s.id)
	}

	s.setState(Closed)
	if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("close failed", logger.Field{Key: "error", Value: err.Error()})
	}

	s.log.Info("session closed")
}

func (s *Session) logReadEnd(err error) {
	if linecodec.IsDisconnect(err) {
		s.log.Debug("peer disconnected")
		return
	}

	s.log.Warn("read failed", logger.Field{Key: "error", Value: err.Error()})
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
