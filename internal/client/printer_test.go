package client

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/Tyrowin/roomchat/internal/chat"
)

func event(t *testing.T, raw string) chat.Event {
	t.Helper()
	var ev chat.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("Bad fixture %s: %v", raw, err)
	}
	return ev
}

func TestPrinterLines(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"chat", `{"action":"chat_message","user":"Bob","message":"hi"}`, ">>>Bob: hi\n"},
		{"own chat confirmation", `{"action":"chat_message","success":true,"message":"hi"}`, ""},
		{"failure", `{"action":"set_nick","success":false,"message":"Nickname is already in use"}`,
			">>>ERROR set_nick: Nickname is already in use\n"},
		{"failure without action", `{"success":false,"message":"Invalid JSON"}`, ">>>ERROR error: Invalid JSON\n"},
		{"joined", `{"action":"joined","room":"lobby","user":"Bob"}`, ">>>SYSTEM: Bob joined lobby\n"},
		{"left", `{"action":"left","room":"lobby","user":"Bob"}`, ">>>SYSTEM: Bob left lobby\n"},
		{"nick changed", `{"action":"nick_changed","room":"lobby","from_user":"A","to_user":"B"}`,
			">>>SYSTEM: A is now known as B\n"},
		{"echo", `{"echo":{"message":"x"}}`, `>>>ECHO: {"message":"x"}` + "\n"},
		{"unsolicited user list", `{"action":"user_list","success":true,"room":"lobby","users":["A"]}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrinter(&out, &State{})
			if err := p.Handle(event(t, tt.raw)); err != nil {
				t.Fatalf("Handle failed: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, out.String())
			}
		})
	}
}

func TestPrinterTracksState(t *testing.T) {
	var out bytes.Buffer
	state := &State{}
	p := NewPrinter(&out, state)
	encode := ChatInput(state)

	handle := func(raw string) {
		t.Helper()
		if err := p.Handle(event(t, raw)); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
	}

	handle(`{"action":"connecting","room":"default","user":"User1"}`)
	handle(`{"action":"connecting","room":"default","user":"User2"}`)
	if state.Nick() != "User1" || state.Room() != "default" {
		t.Fatalf("Only the first connecting event is ours, got %s in %s", state.Nick(), state.Room())
	}

	if _, err := encode("/nick Alice"); err != nil {
		t.Fatal(err)
	}
	handle(`{"action":"set_nick","success":true}`)
	if state.Nick() != "Alice" {
		t.Errorf("Expected nick Alice, got %s", state.Nick())
	}

	if _, err := encode("/join lobby"); err != nil {
		t.Fatal(err)
	}
	handle(`{"action":"join_room","success":false,"message":"Name already in use in this room."}`)
	if state.Room() != "default" {
		t.Errorf("A failed join must not move the client, got %s", state.Room())
	}

	if _, err := encode("/join lobby"); err != nil {
		t.Fatal(err)
	}
	handle(`{"action":"join_room","success":true}`)
	if state.Room() != "lobby" {
		t.Errorf("Expected room lobby, got %s", state.Room())
	}

	if _, err := encode("/users"); err != nil {
		t.Fatal(err)
	}
	handle(`{"action":"user_list","success":true,"room":"lobby","users":["Alice","Bob"]}`)
	if !reflect.DeepEqual(state.Users(), []string{"Alice", "Bob"}) {
		t.Errorf("Unexpected users %v", state.Users())
	}

	want := []string{
		">>>SYSTEM: User1 connected to default",
		">>>SYSTEM: User2 connected to default",
		">>>SYSTEM: you are now known as Alice",
		">>>ERROR join_room: Name already in use in this room.",
		">>>SYSTEM: you are now in lobby",
		">>>SYSTEM: users in lobby: Alice, Bob",
	}
	got := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Unexpected output:\n%s", out.String())
	}
}
