package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/conn"
)

// Sender is the outbound half of a connection.
type Sender interface {
	Send(msg any) error
}

// Receiver is the inbound half of a connection.
type Receiver interface {
	Receive() ([]byte, error)
}

// ErrQuit is returned by an Encoder when the user asks to leave.
var ErrQuit = errors.New("client: quit")

// Encoder turns one line of user input into the message to send. A nil
// message with a nil error means there is nothing to send.
type Encoder func(line string) (any, error)

// Reader decodes every inbound frame and passes it to handle until the
// connection closes. A closed connection ends the reader cleanly.
func Reader(c Receiver, handle func(chat.Event) error) Activity {
	return func(_ context.Context) error {
		for {
			data, err := c.Receive()
			if err != nil {
				if conn.IsExpectedClose(err) {
					return nil
				}
				return err
			}

			var ev chat.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if err := handle(ev); err != nil {
				return err
			}
		}
	}
}

// Heartbeat sends next() immediately and then once per interval until ctx is
// cancelled.
func Heartbeat(c Sender, interval time.Duration, next func() (any, error)) Activity {
	return func(ctx context.Context) error {
		if interval <= 0 {
			<-ctx.Done()
			return ctx.Err()
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			msg, err := next()
			if err != nil {
				return err
			}
			if err := c.Send(msg); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}

// InputRelay sends every line from lines through encode. It ends cleanly when
// lines is closed or encode returns ErrQuit. Other encode errors are written
// to out and the line is skipped.
func InputRelay(c Sender, lines <-chan string, encode Encoder, out io.Writer) Activity {
	return func(ctx context.Context) error {
		for {
			var line string
			select {
			case <-ctx.Done():
				return ctx.Err()
			case l, ok := <-lines:
				if !ok {
					return nil
				}
				line = l
			}

			msg, err := encode(line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				_, _ = fmt.Fprintf(out, "!!! %v\n", err)
				continue
			}
			if msg == nil {
				continue
			}
			if err := c.Send(msg); err != nil {
				return err
			}
		}
	}
}

// ChatInput encodes lines for the /chat endpoint. Plain text becomes a
// chat_message; /nick, /join, /users and /quit map to the other actions.
func ChatInput(state *State) Encoder {
	return func(line string) (any, error) {
		line = strings.TrimSpace(line)
		if line == "" {
			return nil, nil
		}
		if !strings.HasPrefix(line, "/") {
			return chat.EncodeRequest(chat.ChatMessage{Message: line})
		}

		command, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch command {
		case "/quit":
			return nil, ErrQuit
		case "/nick":
			if arg == "" {
				return nil, errors.New("usage: /nick <name>")
			}
			state.expectNick(arg)
			return chat.EncodeRequest(chat.SetNick{Nick: arg})
		case "/join":
			if arg == "" {
				return nil, errors.New("usage: /join <room>")
			}
			state.expectRoom(arg)
			return chat.EncodeRequest(chat.JoinRoom{Room: arg})
		case "/users":
			if arg == "" {
				arg = state.Room()
			}
			if arg == "" {
				return nil, errors.New("usage: /users <room>")
			}
			state.expectUserList()
			return chat.EncodeRequest(chat.UserList{Room: arg})
		default:
			return nil, fmt.Errorf("unknown command %q", command)
		}
	}
}

// EchoInput encodes lines for the /echo endpoint.
func EchoInput(line string) (any, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return nil, nil
	case "/quit":
		return nil, ErrQuit
	}
	return map[string]string{"message": line}, nil
}

// UserListHeartbeat returns the periodic message for the chat endpoint: a
// user_list for the current room. Before the room is known it asks for the
// default room.
func UserListHeartbeat(state *State) func() (any, error) {
	return func() (any, error) {
		room := state.Room()
		if room == "" {
			room = chat.DefaultRoom
		}
		return chat.EncodeRequest(chat.UserList{Room: room})
	}
}
