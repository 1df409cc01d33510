// Package tcpserver accepts TCP connections, enforces a cap on concurrently
// serviced connections, and runs one session per admitted connection.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/chatrelay/idgenerator"
	"github.com/cyberinferno/chatrelay/linecodec"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/safemap"
)

const (
	// DefaultMaxSessions is the number of connections serviced at once.
	DefaultMaxSessions = 5

	// CapacityNotice is sent to connections refused because the server is
	// full.
	CapacityNotice = "EXIT Processed"

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ErrServerRunning is returned by Start when the server is already running.
var ErrServerRunning = errors.New("server already running")

// NewSessionFunc creates the session for an admitted connection. It receives
// the assigned session ID and the connection, which the session then owns.
type NewSessionFunc func(id uint32, conn net.Conn) TCPServerSession

// Config holds the acceptor settings.
type Config struct {
	// Name identifies the server in log entries.
	Name string
	// Addr is the "host:port" to listen on; port 0 picks a free port.
	Addr string
	// MaxSessions caps concurrently serviced connections.
	MaxSessions int
	// FirstSessionID is the ID given to the first admitted connection; zero
	// selects 1. Later connections count up from it.
	FirstSessionID uint32
}

// DefaultConfig returns a Config listening on addr with DefaultMaxSessions.
func DefaultConfig(addr string) Config {
	return Config{
		Name:        "chatrelay",
		Addr:        addr,
		MaxSessions: DefaultMaxSessions,
	}
}

// TCPServer accepts connections and hands each admitted one to a session
// created by NewSession. Sessions are not supervised: the accept loop never
// waits for them.
type TCPServer struct {
	config     Config
	log        logger.Logger
	newSession NewSessionFunc
	listener   net.Listener
	sessions   *safemap.SafeMap[uint32, TCPServerSession]
	running    atomic.Bool
	ids        *idgenerator.IdGenerator

	mu   sync.Mutex
	live int
}

// NewTCPServer returns a stopped server. A non-positive MaxSessions selects
// DefaultMaxSessions.
//
// Parameters:
//   - config: Listen address, name, and admission cap
//   - newSession: Constructor for admitted connections
//   - log: Logger for server events
//
// Returns:
//   - The server; call Start to begin accepting
func NewTCPServer(config Config, newSession NewSessionFunc, log logger.Logger) *TCPServer {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	var after uint32
	if config.FirstSessionID > 0 {
		after = config.FirstSessionID - 1
	}

	return &TCPServer{
		config:     config,
		ids:        idgenerator.NewIdGenerator(after),
		log:        log.With(logger.Field{Key: "server", Value: config.Name}),
		newSession: newSession,
		sessions:   safemap.NewSafeMap[uint32, TCPServerSession](),
	}
}

// Start binds the listen address and runs AcceptLoop in a goroutine.
//
// Returns:
//   - ErrServerRunning, or the listen error; nothing is accepted on failure
func (s *TCPServer) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server %s: %w", s.config.Name, ErrServerRunning)
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.log.Error("server failed to start", logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("server %s failed to start: %w", s.config.Name, err)
	}

	s.listener = ln
	s.running.Store(true)

	s.log.Info("server started",
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "max_sessions", Value: s.config.MaxSessions},
	)

	go s.AcceptLoop()
	return nil
}

// Run starts the server and blocks until ctx is done, then stops it.
func (s *TCPServer) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop closes the listener and every live session. Safe to call when the
// server is not running.
func (s *TCPServer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	_ = s.listener.Close()

	s.sessions.Range(func(_ uint32, session TCPServerSession) bool {
		_ = session.Close()
		return true
	})

	s.log.Info("server stopped")
}

// Addr returns the bound address, or nil before Start.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// LiveSessions returns the number of admitted sessions still running.
func (s *TCPServer) LiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// GetSession returns the live session with the given id.
func (s *TCPServer) GetSession(id uint32) (TCPServerSession, bool) {
	return s.sessions.Load(id)
}

// AcceptLoop accepts connections until the server is stopped. Connections
// over the cap get CapacityNotice and are closed; the rest are admitted and
// served in their own goroutine.
func (s *TCPServer) AcceptLoop() {
	var delay time.Duration
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			s.log.Error("accept error",
				logger.Field{Key: "error", Value: err.Error()},
				logger.Field{Key: "retry_in", Value: delay.String()},
			)
			time.Sleep(delay)
			continue
		}

		delay = 0
		if !s.admit() {
			s.reject(conn)
			continue
		}

		id := s.ids.Id()
		session := s.newSession(id, conn)
		s.sessions.Store(id, session)
		if !s.running.Load() {
			_ = session.Close()
		}

		go s.serve(session)
	}
}

// admit takes an admission slot if one is free.
func (s *TCPServer) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live >= s.config.MaxSessions {
		return false
	}

	s.live++
	return true
}

func (s *TCPServer) release(id uint32) {
	s.sessions.Delete(id)

	s.mu.Lock()
	s.live--
	s.mu.Unlock()
}

func (s *TCPServer) reject(conn net.Conn) {
	s.log.Warn("maximum number of sessions reached",
		logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()},
	)

	if err := linecodec.SendLine(conn, CapacityNotice); err != nil {
		s.log.Debug("capacity notice failed", logger.Field{Key: "error", Value: err.Error()})
	}

	_ = conn.Close()
}

// serve runs one session and gives its slot back however Handle ends.
func (s *TCPServer) serve(session TCPServerSession) {
	id := session.ID()
	defer s.release(id)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panicked",
				logger.Field{Key: "session_id", Value: id},
				logger.Field{Key: "panic", Value: fmt.Sprint(r)},
				logger.Field{Key: "stack", Value: string(debug.Stack())},
			)
			_ = session.Close()
		}
	}()

	session.Handle()
}
