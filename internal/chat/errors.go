package chat

import "errors"

// ErrNameInUse is returned by Registry operations when the requested nickname
// is already held by another connection in the target room.
var ErrNameInUse = errors.New("chat: name already in use")

// Reply texts for name conflicts.
const (
	msgNicknameInUse   = "Nickname is already in use"
	msgRoomNameInUse   = "Name already in use in this room."
	msgRateLimited     = "Rate limit exceeded"
	msgNoFreeNicknames = "Username already in use"
)

// ProtocolError is a malformed or unknown inbound message. It is answered
// with a success:false reply and never ends the session.
type ProtocolError struct {
	Action string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Action == "" {
		return "chat: protocol error: " + e.Reason
	}
	return "chat: protocol error in " + e.Action + ": " + e.Reason
}
