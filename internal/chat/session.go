package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/conn"
)

const (
	// DefaultRoom is joined by every new connection unless configured otherwise.
	DefaultRoom = "default"

	maxNickAttempts    = 8
	closeTryAgainLater = 1013
)

// ErrNoFreeNickname is returned by Session.Run when no generated nickname was
// free in the default room.
var ErrNoFreeNickname = errors.New("chat: could not allocate a free nickname")

// SessionConfig tunes a Session. The zero value joins DefaultRoom with
// User<n> nicknames and no rate limit.
type SessionConfig struct {
	DefaultRoom string

	// RateLimitBurst chat messages are allowed per RateLimitInterval.
	// Zero disables rate limiting.
	RateLimitBurst    int
	RateLimitInterval time.Duration

	// NewNick generates the nickname used on connect.
	NewNick func() string

	Logger *slog.Logger
}

// RandomNick returns User<n> with n in [0, 999999].
func RandomNick() string {
	return fmt.Sprintf("User%d", rand.IntN(1_000_000))
}

// Session is the protocol state machine for one chat connection. Between the
// entry join and cleanup the connection is always a member of exactly one
// room under exactly one nickname.
type Session struct {
	conn        Connection
	registry    *Registry
	broadcaster *Broadcaster
	limiter     *rateLimiter
	newNick     func() string
	defaultRoom string
	log         *slog.Logger

	mu      sync.Mutex
	room    string
	nick    string
	entered bool

	cleanupOnce sync.Once
}

// NewSession binds a session to c. Run must be called to start it.
func NewSession(c Connection, registry *Registry, broadcaster *Broadcaster, cfg SessionConfig) *Session {
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = DefaultRoom
	}
	if cfg.NewNick == nil {
		cfg.NewNick = RandomNick
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		conn:        c,
		registry:    registry,
		broadcaster: broadcaster,
		limiter:     newRateLimiter(cfg.RateLimitBurst, cfg.RateLimitInterval),
		newNick:     cfg.NewNick,
		defaultRoom: cfg.DefaultRoom,
		log:         cfg.Logger.With("conn", c.ID()),
	}
}

// Room returns the room the session is currently in.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Nick returns the session's current nickname.
func (s *Session) Nick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

func (s *Session) current() (room, nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.nick
}

func (s *Session) setCurrent(room, nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room, s.nick = room, nick
}

// Run joins the default room, serves actions until the connection ends, then
// leaves the room and closes the connection. Cancelling ctx closes the
// connection, which ends the loop the same way a client disconnect does.
// Channel closure is not an error; Run returns nil for it.
func (s *Session) Run(ctx context.Context) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.cleanup()

	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		data, err := s.conn.Receive()
		if err != nil {
			if conn.IsExpectedClose(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.dispatch(data)
	}
}

// enter is the entry action: claim a nickname in the default room and
// announce it to everyone there, the new member included.
func (s *Session) enter() error {
	room := s.defaultRoom
	for attempt := 0; attempt < maxNickAttempts; attempt++ {
		nick := s.newNick()
		if err := s.registry.Join(room, nick, s.conn); err != nil {
			continue
		}

		s.mu.Lock()
		s.room, s.nick, s.entered = room, nick, true
		s.mu.Unlock()

		s.log.Info("Client connected", "room", room, "user", nick)
		s.broadcaster.Broadcast(room, memberEvent(EventConnecting, room, nick), nil)
		return nil
	}

	s.log.Warn("No free nickname; disconnecting", "room", room)
	if closer, ok := s.conn.(interface{ CloseWithCode(int, string) error }); ok {
		_ = closer.CloseWithCode(closeTryAgainLater, msgNoFreeNicknames)
	} else {
		_ = s.conn.Close()
	}
	return ErrNoFreeNickname
}

// cleanup runs once however the loop ended.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		s.mu.Lock()
		room, nick, entered := s.room, s.nick, s.entered
		s.mu.Unlock()

		if entered {
			s.registry.Leave(room, nick)
			s.broadcaster.Broadcast(room, memberEvent(EventLeft, room, nick), nil)
			s.log.Info("Client disconnected", "room", room, "user", nick)
		}
		_ = s.conn.Close()
	})
}

// dispatch handles one inbound frame.
func (s *Session) dispatch(data []byte) {
	req, err := DecodeRequest(data)
	if err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			s.log.Debug("Rejected message", "action", protoErr.Action, "reason", protoErr.Reason)
			s.reply(failure(protoErr.Action, protoErr.Reason))
		}
		return
	}

	switch r := req.(type) {
	case SetNick:
		s.handleSetNick(r)
	case JoinRoom:
		s.handleJoinRoom(r)
	case ChatMessage:
		s.handleChatMessage(r)
	case UserList:
		s.handleUserList(r)
	}
}

func (s *Session) handleSetNick(r SetNick) {
	room, oldNick := s.current()

	changed, err := s.registry.Rename(room, oldNick, r.Nick, s.conn)
	if err != nil {
		s.reply(failure(ActionSetNick, msgNicknameInUse))
		return
	}

	s.setCurrent(room, r.Nick)
	s.reply(success(ActionSetNick, ""))

	if changed {
		s.log.Info("Nickname changed", "room", room, "from", oldNick, "to", r.Nick)
		s.broadcaster.Broadcast(room, NickChangedEvent{
			Action:   EventNickChanged,
			Room:     room,
			FromUser: oldNick,
			ToUser:   r.Nick,
		}, s.conn)
	}
}

func (s *Session) handleJoinRoom(r JoinRoom) {
	oldRoom, nick := s.current()

	changed, err := s.registry.Move(s.conn, oldRoom, nick, r.Room)
	if err != nil {
		s.reply(failure(ActionJoinRoom, msgRoomNameInUse))
		return
	}

	s.setCurrent(r.Room, nick)
	s.reply(success(ActionJoinRoom, ""))

	if changed {
		s.log.Info("Room changed", "from", oldRoom, "to", r.Room, "user", nick)
		s.broadcaster.Broadcast(oldRoom, memberEvent(EventLeft, oldRoom, nick), nil)
		s.broadcaster.Broadcast(r.Room, memberEvent(EventJoined, r.Room, nick), s.conn)
	}
}

func (s *Session) handleChatMessage(r ChatMessage) {
	if !s.limiter.allow() {
		s.log.Info("Rate limit exceeded; discarding message")
		s.reply(failure(ActionChatMessage, msgRateLimited))
		return
	}

	room, nick := s.current()
	s.broadcaster.Broadcast(room, ChatEvent{
		Action:  ActionChatMessage,
		Message: r.Message,
		User:    nick,
	}, s.conn)
	s.reply(success(ActionChatMessage, r.Message))
}

func (s *Session) handleUserList(r UserList) {
	s.reply(UserListReply{
		Action:  ActionUserList,
		Success: true,
		Room:    r.Room,
		Users:   s.registry.ListUsers(r.Room),
	})
}

func (s *Session) reply(msg any) {
	if err := s.conn.Send(msg); err != nil && !conn.IsExpectedClose(err) {
		s.log.Warn("Failed to send reply", "error", err)
	}
}
