// Package chatclient is a line-oriented TCP client for the chat relay. It
// reports connection state changes, received lines, and errors to
// registered handlers.
package chatclient

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/chatrelay/linecodec"
)

// ErrNotConnected is returned by SendLine when there is no live connection.
var ErrNotConnected = errors.New("not connected")

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Connected and reading
	Closed                              // Closed by Close; terminal
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address (e.g. "host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// LineEvent is emitted for every line received from the server.
type LineEvent struct {
	Line      string
	Timestamp time.Time
}

// ErrorEvent is emitted when a read, write, or dial error occurs.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// ConnectionStateHandler is called when the connection state changes.
type ConnectionStateHandler func(event ConnectionStateEvent)

// LineHandler is called for each received line.
type LineHandler func(event LineEvent)

// ErrorHandler is called when an I/O error occurs.
type ErrorHandler func(event ErrorEvent)

// Config holds client settings.
type Config struct {
	// Address is the "host:port" of the chat server.
	Address string
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds each SendLine; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxLineLength is the longest line accepted from the server.
	MaxLineLength int
}

// DefaultConfig returns a Config for address with a 10s dial timeout, a 10s
// write timeout, and the codec's default line limit.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxLineLength:     linecodec.DefaultMaxLineLength,
	}
}

// Client is a chat relay client. Register handlers, then call Connect.
// Handlers run on the read goroutine in arrival order, so a LineHandler
// sees lines in the order the server sent them; handlers must not block
// for long.
type Client struct {
	config Config

	mu     sync.RWMutex
	conn   net.Conn
	writer *linecodec.Writer
	state  ConnectionState
	closed bool

	onConnectionState ConnectionStateHandler
	onLine            LineHandler
	onError           ErrorHandler

	wg sync.WaitGroup
}

// NewClient returns a Disconnected client.
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		state:  Disconnected,
	}
}

// OnConnectionState registers the handler for state changes, replacing any
// previous one. Pass nil to clear it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnLine registers the handler for received lines, replacing any previous
// one. Pass nil to clear it.
func (c *Client) OnLine(handler LineHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = handler
}

// OnError registers the handler for I/O errors, replacing any previous one.
// Pass nil to clear it.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the server and starts the read goroutine.
//
// Returns:
//   - nil on success; an error if the client is closed, already connected,
//     or the dial fails
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}

	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return fmt.Errorf("dial %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.writer = linecodec.NewWriter(conn)
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)
	return nil
}

// SendLine writes one line to the server.
//
// Returns:
//   - ErrNotConnected, or the write error
func (c *Client) SendLine(text string) error {
	c.mu.RLock()
	conn, writer, state := c.conn, c.writer, c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if err := writer.SendLine(text); err != nil {
		c.emitError(err)
		return err
	}

	return nil
}

// Disconnect closes the connection; Connect may be called again afterwards.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.writer = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	c.wg.Wait()
	return err
}

// Close disconnects and moves the client to Closed. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.mu.Unlock()

	_ = c.Disconnect()
	c.setState(Closed, nil)
	return nil
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is Connected.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	reader := linecodec.NewReaderSize(conn, c.config.MaxLineLength)
	for {
		line, err := reader.ReceiveLine()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.writer = nil
			}
			closed := c.closed
			c.mu.Unlock()

			_ = conn.Close()
			if closed {
				return
			}

			if linecodec.IsDisconnect(err) {
				c.setState(Disconnected, nil)
				return
			}

			c.emitError(err)
			c.setState(Disconnected, err)
			return
		}

		c.emitLine(line)
	}
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitLine(line string) {
	c.mu.RLock()
	handler := c.onLine
	c.mu.RUnlock()

	if handler != nil {
		handler(LineEvent{Line: line, Timestamp: time.Now()})
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}
