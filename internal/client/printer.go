package client

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// State is what the client knows about its own membership. It is updated
// from server events, since join_room and set_nick replies do not repeat the
// requested name.
type State struct {
	mu          sync.Mutex
	room        string
	nick        string
	users       []string
	pendingRoom string
	pendingNick string
	listWanted  int
}

// Room returns the current room, or "" before the server announced it.
func (s *State) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Nick returns the current nickname, or "" before the server announced it.
func (s *State) Nick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

// Users returns the last user list received for the current room.
func (s *State) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

func (s *State) expectRoom(room string) {
	s.mu.Lock()
	s.pendingRoom = room
	s.mu.Unlock()
}

func (s *State) expectNick(nick string) {
	s.mu.Lock()
	s.pendingNick = nick
	s.mu.Unlock()
}

func (s *State) expectUserList() {
	s.mu.Lock()
	s.listWanted++
	s.mu.Unlock()
}

// observe applies ev and reports whether a user_list reply was asked for
// interactively.
func (s *State) observe(ev chat.Event) (listWanted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Action {
	case chat.EventConnecting:
		if s.nick == "" {
			s.nick, s.room = ev.User, ev.Room
		}
	case chat.ActionSetNick:
		if ev.IsReply() && *ev.Success && s.pendingNick != "" {
			s.nick = s.pendingNick
		}
		s.pendingNick = ""
	case chat.ActionJoinRoom:
		if ev.IsReply() && *ev.Success && s.pendingRoom != "" {
			s.room = s.pendingRoom
			s.users = nil
		}
		s.pendingRoom = ""
	case chat.ActionUserList:
		if ev.Room == s.room {
			s.users = append(s.users[:0], ev.Users...)
		}
		if s.listWanted > 0 {
			s.listWanted--
			return true
		}
	}
	return false
}

// Printer writes server events as console lines.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	state *State
}

// NewPrinter creates a Printer that also keeps state current. state may be
// nil for the echo endpoint.
func NewPrinter(out io.Writer, state *State) *Printer {
	return &Printer{out: out, state: state}
}

// Handle is a Reader callback.
func (p *Printer) Handle(ev chat.Event) error {
	listWanted := false
	if p.state != nil {
		listWanted = p.state.observe(ev)
	}

	line := p.format(ev, listWanted)
	if line == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.out, line)
	return err
}

func (p *Printer) format(ev chat.Event, listWanted bool) string {
	if ev.Echo != nil {
		return ">>>ECHO: " + string(ev.Echo)
	}

	if ev.IsReply() && !*ev.Success {
		action := ev.Action
		if action == "" {
			action = "error"
		}
		return fmt.Sprintf(">>>ERROR %s: %s", action, ev.Message)
	}

	switch ev.Action {
	case chat.ActionChatMessage:
		if ev.IsReply() {
			return ""
		}
		return fmt.Sprintf(">>>%s: %s", ev.User, ev.Message)
	case chat.EventConnecting:
		return fmt.Sprintf(">>>SYSTEM: %s connected to %s", ev.User, ev.Room)
	case chat.EventJoined:
		return fmt.Sprintf(">>>SYSTEM: %s joined %s", ev.User, ev.Room)
	case chat.EventLeft:
		return fmt.Sprintf(">>>SYSTEM: %s left %s", ev.User, ev.Room)
	case chat.EventNickChanged:
		return fmt.Sprintf(">>>SYSTEM: %s is now known as %s", ev.FromUser, ev.ToUser)
	case chat.ActionSetNick:
		if p.state != nil {
			return ">>>SYSTEM: you are now known as " + p.state.Nick()
		}
	case chat.ActionJoinRoom:
		if p.state != nil {
			return ">>>SYSTEM: you are now in " + p.state.Room()
		}
	case chat.ActionUserList:
		if listWanted {
			return fmt.Sprintf(">>>SYSTEM: users in %s: %s", ev.Room, strings.Join(ev.Users, ", "))
		}
	}
	return ""
}
