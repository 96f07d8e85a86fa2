package chat

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Inbound action names.
const (
	ActionSetNick     = "set_nick"
	ActionJoinRoom    = "join_room"
	ActionChatMessage = "chat_message"
	ActionUserList    = "user_list"
)

// Outbound event names. chat_message is shared with the inbound action.
const (
	EventConnecting  = "connecting"
	EventJoined      = "joined"
	EventLeft        = "left"
	EventNickChanged = "nick_changed"
)

// MaxNameLength bounds nicknames and room names, in bytes.
const MaxNameLength = 64

// Request is a decoded inbound action. The concrete types are SetNick,
// JoinRoom, ChatMessage and UserList.
type Request interface {
	Action() string
	isRequest()
}

// SetNick asks to change the caller's nickname in its current room.
type SetNick struct {
	Nick string
}

// JoinRoom asks to move the caller to another room.
type JoinRoom struct {
	Room string
}

// ChatMessage is a line of chat for the caller's current room.
type ChatMessage struct {
	Message string
}

// UserList asks for the nicknames currently in Room.
type UserList struct {
	Room string
}

func (SetNick) Action() string     { return ActionSetNick }
func (JoinRoom) Action() string    { return ActionJoinRoom }
func (ChatMessage) Action() string { return ActionChatMessage }
func (UserList) Action() string    { return ActionUserList }

func (SetNick) isRequest()     {}
func (JoinRoom) isRequest()    {}
func (ChatMessage) isRequest() {}
func (UserList) isRequest()    {}

// envelope peeks at every field a request may carry. Fields stay raw so a
// wrongly typed one can be reported against the action it belongs to.
type envelope struct {
	Action  json.RawMessage `json:"action"`
	Nick    json.RawMessage `json:"nick"`
	Room    json.RawMessage `json:"room"`
	Message json.RawMessage `json:"message"`
}

// DecodeRequest parses one inbound frame. Anything that is not a JSON object
// with a known action and its required fields yields a *ProtocolError.
func DecodeRequest(data []byte) (Request, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, &ProtocolError{Reason: "Message must be a JSON object."}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "Invalid JSON payload."}
	}

	actionField, err := stringField("", "action", env.Action)
	if err != nil {
		return nil, err
	}
	if actionField == nil || *actionField == "" {
		return nil, &ProtocolError{Reason: "Missing action."}
	}

	action := *actionField
	switch action {
	case ActionSetNick:
		nick, err := requireName(action, "nick", env.Nick)
		if err != nil {
			return nil, err
		}
		return SetNick{Nick: nick}, nil

	case ActionJoinRoom:
		room, err := requireName(action, "room", env.Room)
		if err != nil {
			return nil, err
		}
		return JoinRoom{Room: room}, nil

	case ActionChatMessage:
		message, err := stringField(action, "message", env.Message)
		if err != nil {
			return nil, err
		}
		if message == nil {
			return nil, &ProtocolError{Action: action, Reason: "Missing field 'message'."}
		}
		return ChatMessage{Message: *message}, nil

	case ActionUserList:
		room, err := requireName(action, "room", env.Room)
		if err != nil {
			return nil, err
		}
		return UserList{Room: room}, nil

	default:
		return nil, &ProtocolError{Action: action, Reason: "Not allowed."}
	}
}

// stringField decodes one raw field. A missing or null field yields nil.
func stringField(action, field string, raw json.RawMessage) (*string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &ProtocolError{Action: action, Reason: "Field '" + field + "' must be a string."}
	}
	return &value, nil
}

func requireName(action, field string, raw json.RawMessage) (string, error) {
	value, err := stringField(action, field, raw)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", &ProtocolError{Action: action, Reason: "Missing field '" + field + "'."}
	}
	name := strings.TrimSpace(*value)
	if name == "" {
		return "", &ProtocolError{Action: action, Reason: "Field '" + field + "' must not be empty."}
	}
	if len(name) > MaxNameLength {
		return "", &ProtocolError{Action: action, Reason: "Field '" + field + "' is too long."}
	}
	return name, nil
}

// EncodeRequest renders r as the JSON object a client sends.
func EncodeRequest(r Request) ([]byte, error) {
	wire := struct {
		Action  string `json:"action"`
		Nick    string `json:"nick,omitempty"`
		Room    string `json:"room,omitempty"`
		Message string `json:"message,omitempty"`
	}{Action: r.Action()}

	switch v := r.(type) {
	case SetNick:
		wire.Nick = v.Nick
	case JoinRoom:
		wire.Room = v.Room
	case ChatMessage:
		wire.Message = v.Message
	case UserList:
		wire.Room = v.Room
	}
	return json.Marshal(wire)
}

// Reply is the direct answer to an action. Message is always present on the
// wire, empty on plain success.
type Reply struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UserListReply answers user_list.
type UserListReply struct {
	Action  string   `json:"action"`
	Success bool     `json:"success"`
	Room    string   `json:"room"`
	Users   []string `json:"users"`
}

// MemberEvent is broadcast for connecting, joined and left.
type MemberEvent struct {
	Action string `json:"action"`
	Room   string `json:"room"`
	User   string `json:"user"`
}

// NickChangedEvent is broadcast when a member renames itself.
type NickChangedEvent struct {
	Action   string `json:"action"`
	Room     string `json:"room"`
	FromUser string `json:"from_user"`
	ToUser   string `json:"to_user"`
}

// ChatEvent carries a chat line to the other members of a room.
type ChatEvent struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	User    string `json:"user"`
}

// EchoReply wraps whatever the echo endpoint received.
type EchoReply struct {
	Echo json.RawMessage `json:"echo"`
}

func success(action, message string) Reply {
	return Reply{Action: action, Success: true, Message: message}
}

func failure(action, message string) Reply {
	return Reply{Action: action, Success: false, Message: message}
}

func memberEvent(action, room, user string) MemberEvent {
	return MemberEvent{Action: action, Room: room, User: user}
}

// Event is the client-side view of any outbound message. Fields that a given
// action does not use stay zero.
type Event struct {
	Action   string          `json:"action"`
	Success  *bool           `json:"success,omitempty"`
	Message  string          `json:"message,omitempty"`
	Room     string          `json:"room,omitempty"`
	User     string          `json:"user,omitempty"`
	FromUser string          `json:"from_user,omitempty"`
	ToUser   string          `json:"to_user,omitempty"`
	Users    []string        `json:"users,omitempty"`
	Echo     json.RawMessage `json:"echo,omitempty"`
}

// IsReply reports whether the event is a direct reply rather than a broadcast.
func (e Event) IsReply() bool {
	return e.Success != nil
}
