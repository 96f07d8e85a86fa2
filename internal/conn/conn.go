// Package conn wraps a message-framed WebSocket in a Conn that queues outgoing
// JSON frames through a single write pump, classifies read failures, and can be
// closed from any goroutine to unblock a pending Receive.
package conn

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultSendBuffer = 256
	defaultWriteWait  = 10 * time.Second
	closeGrace        = time.Second
)

// Socket is the subset of a WebSocket connection that Conn needs. Both
// *github.com/gorilla/websocket.Conn and the fiber contrib *websocket.Conn
// satisfy it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Options tunes a Conn. The zero value is usable: no read limit, no keepalive
// pings and a 256 message send queue.
type Options struct {
	// ID labels the connection in logs. A random UUID is used when empty.
	ID   string
	Addr string

	MaxMessageSize int64
	SendBuffer     int

	// PongWait is how long the peer may stay silent before the read fails.
	// Every pong extends the deadline. Zero disables the read deadline.
	PongWait time.Duration
	// PingInterval must be shorter than PongWait. Zero derives it from
	// PongWait, or disables pings when PongWait is zero as well.
	PingInterval time.Duration
	WriteWait    time.Duration

	Logger *slog.Logger
}

// Conn is a duplex JSON message channel over one WebSocket.
type Conn struct {
	ws   Socket
	id   string
	addr string

	send      chan []byte
	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
	closeErr  error

	maxMessageSize int64
	pongWait       time.Duration
	pingInterval   time.Duration
	writeWait      time.Duration

	log *slog.Logger
}

// New wraps ws and starts its write pump. The caller must eventually call
// Close, or read until Receive fails, to release the pump, and Wait before
// handing ws back to its owner.
func New(ws Socket, opts Options) *Conn {
	opts = sanitizeOptions(opts)

	c := &Conn{
		ws:             ws,
		id:             opts.ID,
		addr:           opts.Addr,
		send:           make(chan []byte, opts.SendBuffer),
		done:           make(chan struct{}),
		pumpDone:       make(chan struct{}),
		maxMessageSize: opts.MaxMessageSize,
		pongWait:       opts.PongWait,
		pingInterval:   opts.PingInterval,
		writeWait:      opts.WriteWait,
	}
	c.log = opts.Logger.With("conn", c.id, "addr", c.addr)

	c.setupReadConnection()
	go c.writePump()
	return c
}

func sanitizeOptions(opts Options) Options {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.PongWait > 0 && (opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait) {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 0
	}
	if opts.PingInterval < 0 {
		opts.PingInterval = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// ID returns the connection label.
func (c *Conn) ID() string {
	return c.id
}

// Addr returns the remote address given at construction.
func (c *Conn) Addr() string {
	return c.addr
}

// Done is closed once the connection starts closing.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the write pump has exited. After Close, the pump no
// longer touches the socket once Wait returns, so pooled sockets can be
// reused safely.
func (c *Conn) Wait() {
	<-c.pumpDone
}

// setupReadConnection configures the read limit, read deadline and pong handler.
func (c *Conn) setupReadConnection() {
	if c.maxMessageSize > 0 {
		c.ws.SetReadLimit(c.maxMessageSize)
	}
	if c.pongWait <= 0 {
		return
	}
	if err := c.ws.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// Send encodes msg as JSON and queues it for the write pump. It never blocks:
// when the queue is full the connection is closed and an error is returned.
func (c *Conn) Send(msg any) error {
	payload, err := encode(msg)
	if err != nil {
		return fmt.Errorf("conn: encode message: %w", err)
	}

	select {
	case <-c.done:
		return &ChannelError{Op: "send", Err: ErrClosed}
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return &ChannelError{Op: "send", Err: ErrClosed}
	default:
		c.log.Warn("Send buffer full; closing connection", "buffered", cap(c.send))
		go func() { _ = c.CloseWithCode(websocket.ClosePolicyViolation, "send buffer full") }()
		return &ChannelError{Op: "send", Err: ErrSendBufferFull}
	}
}

func encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		return json.Marshal(msg)
	}
}

// Receive blocks for the next text frame. Any read failure, or a frame that is
// not text, closes the connection and returns a *ChannelError.
func (c *Conn) Receive() ([]byte, error) {
	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		_ = c.Close()
		return nil, c.readFailure(err)
	}

	if messageType != websocket.TextMessage {
		c.log.Info("Unsupported frame type; closing connection", "type", messageType)
		_ = c.CloseWithCode(websocket.CloseUnsupportedData, "text frames only")
		return nil, &ChannelError{Op: "receive", Err: ErrUnsupportedFrame}
	}

	return data, nil
}

// readFailure logs the read error at a level matching its cause and wraps it.
func (c *Conn) readFailure(err error) error {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("Message exceeded maximum size", "limit", c.maxMessageSize)
	case IsExpectedClose(err):
		c.log.Debug("Connection closed", "reason", err)
	default:
		c.log.Warn("WebSocket read error", "error", err)
	}
	return &ChannelError{Op: "receive", Err: err}
}

// Close sends a normal close frame and closes the socket. It is safe to call
// from any goroutine and more than once.
func (c *Conn) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode is Close with an explicit close code and reason.
func (c *Conn) CloseWithCode(code int, reason string) error {
	c.closeOnce.Do(func() {
		close(c.done)

		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
			if !IsExpectedClose(err) {
				c.log.Debug("Error writing close frame", "error", err)
			}
		}

		if err := c.ws.Close(); err != nil && !IsExpectedClose(err) {
			c.closeErr = err
			c.log.Warn("Error closing connection", "error", err)
		}
	})
	return c.closeErr
}

func (c *Conn) writePump() {
	defer close(c.pumpDone)

	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for c.processWriteEvent(tick) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Conn) processWriteEvent(tick <-chan time.Time) bool {
	select {
	case <-c.done:
		return false
	case message := <-c.send:
		if !c.writeTextMessage(message) {
			_ = c.Close()
			return false
		}
		return true
	case <-tick:
		if !c.writePing() {
			_ = c.Close()
			return false
		}
		return true
	}
}

// writeTextMessage writes one JSON message as one text frame.
func (c *Conn) writeTextMessage(message []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.log.Debug("Error setting write deadline", "error", err)
		return false
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		if !IsExpectedClose(err) {
			c.log.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

// writePing sends a ping to keep the connection alive.
func (c *Conn) writePing() bool {
	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
		if !IsExpectedClose(err) {
			c.log.Warn("Error writing ping", "error", err)
		}
		return false
	}
	return true
}
