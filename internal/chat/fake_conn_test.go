package chat

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/conn"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-memory Connection. Frames pushed with push are returned by
// Receive; everything the session sends lands on out.
type fakeConn struct {
	id      string
	inbox   chan []byte
	out     chan []byte
	errs    chan error
	closed  chan struct{}
	once    sync.Once
	sendErr error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:     id,
		inbox:  make(chan []byte, 16),
		out:    make(chan []byte, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg any) error {
	select {
	case <-f.closed:
		return &conn.ChannelError{Op: "send", Err: conn.ErrClosed}
	default:
	}
	if f.sendErr != nil {
		return f.sendErr
	}

	var data []byte
	switch m := msg.(type) {
	case []byte:
		data = m
	case json.RawMessage:
		data = m
	default:
		var err error
		if data, err = json.Marshal(msg); err != nil {
			return err
		}
	}

	select {
	case f.out <- data:
		return nil
	default:
		return &conn.ChannelError{Op: "send", Err: conn.ErrSendBufferFull}
	}
}

func (f *fakeConn) Receive() ([]byte, error) {
	select {
	case <-f.closed:
		return nil, &conn.ChannelError{Op: "receive", Err: conn.ErrClosed}
	default:
	}
	select {
	case data := <-f.inbox:
		return data, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, &conn.ChannelError{Op: "receive", Err: conn.ErrClosed}
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fail makes the pending or next Receive return err.
func (f *fakeConn) fail(err error) {
	f.errs <- err
}

func (f *fakeConn) pushRaw(data string) {
	f.inbox <- []byte(data)
}

func (f *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal %v: %v", v, err)
	}
	f.inbox <- data
}

// next returns the next frame the session sent on f.
func (f *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-f.out:
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("%s received non-JSON frame %q: %v", f.id, data, err)
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("%s: timed out waiting for a message", f.id)
		return nil
	}
}

// readUntil skips frames until one with action arrives.
func (f *fakeConn) readUntil(t *testing.T, action string) map[string]any {
	t.Helper()
	for {
		msg := f.next(t)
		if msg["action"] == action {
			return msg
		}
	}
}

// expectNone fails if f receives anything within wait.
func (f *fakeConn) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case data := <-f.out:
		t.Fatalf("%s: expected no message, got %s", f.id, data)
	case <-time.After(wait):
	}
}

func expectAction(t *testing.T, msg map[string]any, action string) {
	t.Helper()
	if msg["action"] != action {
		t.Fatalf("Expected action %q, got %v", action, msg)
	}
}

func expectReply(t *testing.T, msg map[string]any, action string, success bool, message string) {
	t.Helper()
	expectAction(t, msg, action)
	if msg["success"] != success {
		t.Errorf("Expected success=%v, got %v", success, msg)
	}
	if msg["message"] != message {
		t.Errorf("Expected message %q, got %v", message, msg["message"])
	}
}

func stringsOf(t *testing.T, v any) []string {
	t.Helper()
	raw, ok := v.([]any)
	if !ok {
		t.Fatalf("Expected a JSON array, got %v", v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			t.Fatalf("Expected string element, got %v", item)
		}
		out = append(out, s)
	}
	return out
}
