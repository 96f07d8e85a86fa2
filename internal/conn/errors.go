package conn

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

var (
	// ErrClosed reports that the connection is closed or closing. Every
	// *ChannelError matches it with errors.Is.
	ErrClosed = errors.New("conn: connection closed")

	// ErrUnsupportedFrame is returned by Receive for binary frames.
	ErrUnsupportedFrame = errors.New("conn: unsupported frame type")

	// ErrSendBufferFull is returned by Send when the peer is not draining its
	// queue fast enough. The connection is closed as a consequence.
	ErrSendBufferFull = errors.New("conn: send buffer full")
)

// ChannelError is a transport failure or close. It is not recoverable for the
// connection it came from.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return "conn: " + e.Op + ": " + e.Err.Error()
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Is makes every ChannelError match ErrClosed.
func (e *ChannelError) Is(target error) bool {
	return target == ErrClosed
}

// IsExpectedClose reports whether err is an ordinary way for a connection to
// end: a normal or going-away close frame, an abnormal closure, EOF, or a
// write on a socket that was already closed locally.
func IsExpectedClose(err error) bool {
	if err == nil {
		return true
	}

	var channelErr *ChannelError
	if errors.As(err, &channelErr) {
		if errors.Is(channelErr.Err, ErrClosed) {
			return true
		}
		err = channelErr.Err
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}

	// The fiber transport returns its own close error type; match on text.
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "websocket: close 1000") ||
		strings.Contains(errStr, "websocket: close 1001") ||
		strings.Contains(errStr, "websocket: close 1005") ||
		strings.Contains(errStr, "websocket: close 1006") ||
		strings.Contains(errStr, "broken pipe")
}
