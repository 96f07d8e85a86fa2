package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/conn"
)

// ServeEcho answers every JSON frame on c with {"echo": <frame>} until the
// connection ends. Frames that are not JSON get a success:false reply.
func ServeEcho(ctx context.Context, c Connection, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("conn", c.ID())

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer func() { _ = c.Close() }()

	for {
		data, err := c.Receive()
		if err != nil {
			if conn.IsExpectedClose(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		data = bytes.TrimSpace(data)
		if !json.Valid(data) {
			logger.Debug("Rejected non-JSON echo frame")
			if err := c.Send(failure("echo", "Invalid JSON payload.")); err != nil {
				return nil
			}
			continue
		}

		logger.Debug("Echoing frame", "bytes", len(data))
		if err := c.Send(EchoReply{Echo: json.RawMessage(data)}); err != nil {
			return nil
		}
	}
}
