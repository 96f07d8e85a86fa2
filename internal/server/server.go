package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/conn"
)

// ErrShuttingDown is returned for connections that arrive after Shutdown.
var ErrShuttingDown = errors.New("server: shutting down")

// Server owns the chat state shared by every connection: the room registry,
// the broadcaster and the hub that tracks live sockets. Both HTTP frontends
// hand upgraded sockets to ServeChat or ServeEcho.
type Server struct {
	cfg         Config
	registry    *chat.Registry
	broadcaster *chat.Broadcaster
	hub         *Hub
	origins     *originPolicy
	upgrader    websocket.Upgrader
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Server. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()

	registry := chat.NewRegistry(logger)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:         cfg,
		registry:    registry,
		broadcaster: chat.NewBroadcaster(registry, logger),
		hub:         NewHub(logger),
		origins:     newOriginPolicy(cfg.AllowedOrigins, logger),
		log:         logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.origins.check(r.Header.Get("Origin"))
		},
	}
	return s
}

// Config returns the sanitized configuration the server runs with.
func (s *Server) Config() Config {
	return s.cfg
}

// Registry exposes the room registry.
func (s *Server) Registry() *chat.Registry {
	return s.registry
}

// Hub exposes the connection tracker.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.log
}

// OriginAllowed reports whether an upgrade from origin is permitted.
func (s *Server) OriginAllowed(origin string) bool {
	return s.origins.check(origin)
}

// Health summarizes the server for the /health endpoint.
func (s *Server) Health() HealthStatus {
	stats := s.registry.Stats()
	return HealthStatus{
		Status:      "ok",
		Transport:   s.cfg.Transport,
		Connections: s.hub.ClientCount(),
		Rooms:       stats.Rooms,
		Members:     stats.Members,
	}
}

func (s *Server) newConn(ws conn.Socket, addr string) *conn.Conn {
	return conn.New(ws, conn.Options{
		Addr:           addr,
		MaxMessageSize: s.cfg.MaxMessageSize,
		PongWait:       s.cfg.PongWait,
		Logger:         s.log,
	})
}

// track registers c with the hub, or closes it when the server is stopping.
func (s *Server) track(c *conn.Conn) error {
	if s.hub.Track(c) {
		return nil
	}
	_ = c.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
	c.Wait()
	return ErrShuttingDown
}

// release closes c and waits for its write pump before untracking it. The
// fiber frontend recycles the socket as soon as the handler returns.
func (s *Server) release(c *conn.Conn) {
	_ = c.Close()
	c.Wait()
	s.hub.Untrack(c)
}

// ServeChat runs a chat session on an upgraded socket and blocks until it
// ends. The socket is closed on return.
func (s *Server) ServeChat(ws conn.Socket, addr string) error {
	c := s.newConn(ws, addr)
	if err := s.track(c); err != nil {
		return err
	}
	defer s.release(c)

	session := chat.NewSession(c, s.registry, s.broadcaster, chat.SessionConfig{
		DefaultRoom:       s.cfg.DefaultRoom,
		RateLimitBurst:    s.cfg.RateLimit.Burst,
		RateLimitInterval: s.cfg.RateLimit.RefillInterval,
		Logger:            s.log,
	})

	err := session.Run(s.ctx)
	if err != nil {
		s.log.Warn("Chat session ended with error", "conn", c.ID(), "addr", addr, "error", err)
	}
	return err
}

// ServeEcho answers every JSON frame with an echo envelope until the socket
// closes.
func (s *Server) ServeEcho(ws conn.Socket, addr string) error {
	c := s.newConn(ws, addr)
	if err := s.track(c); err != nil {
		return err
	}
	defer s.release(c)

	err := chat.ServeEcho(s.ctx, c, s.log)
	if err != nil {
		s.log.Warn("Echo session ended with error", "conn", c.ID(), "addr", addr, "error", err)
	}
	return err
}

// Shutdown stops accepting sessions, closes every live socket with 1001 and
// waits up to timeout for their handlers to return.
func (s *Server) Shutdown(timeout time.Duration) error {
	err := s.hub.Shutdown(timeout)
	s.cancel()
	return err
}
