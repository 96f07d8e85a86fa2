package chat

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/conn"
)

// Broadcaster pushes one message to every member of a room.
type Broadcaster struct {
	registry *Registry
	log      *slog.Logger
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, log: logger}
}

// Broadcast delivers msg to every member of room except exclude, which may be
// nil. It returns how many members accepted the message. A member whose
// connection refuses the message is skipped; its own session notices the
// closed connection and cleans up.
func (b *Broadcaster) Broadcast(room string, msg any, exclude Connection) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("Failed to marshal broadcast message", "room", room, "error", err)
		return 0
	}

	members := b.registry.Members(room)
	delivered := 0
	for _, m := range members {
		if exclude != nil && m.Conn == exclude {
			continue
		}
		if err := m.Conn.Send(json.RawMessage(payload)); err != nil {
			b.logDrop(room, m, err)
			continue
		}
		delivered++
	}

	b.log.Debug("Broadcast delivered", "room", room, "delivered", delivered, "members", len(members))
	return delivered
}

func (b *Broadcaster) logDrop(room string, m Member, err error) {
	if errors.Is(err, conn.ErrSendBufferFull) {
		b.log.Warn("Dropped slow member during broadcast", "room", room, "user", m.Nick, "conn", m.Conn.ID())
		return
	}
	if conn.IsExpectedClose(err) {
		b.log.Debug("Skipped closed member during broadcast", "room", room, "user", m.Nick, "conn", m.Conn.ID())
		return
	}
	b.log.Warn("Broadcast delivery failed; closing member", "room", room, "user", m.Nick, "error", err)
	_ = m.Conn.Close()
}
