package relay

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/omochice/toy-private-chat/pkg/protocol"
)

func newTestPeer(name string) *peer {
	return &peer{name: name, send: make(chan []byte, 16)}
}

// drain decodes every frame queued for p.
func drain(t *testing.T, p *peer) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for {
		select {
		case data, ok := <-p.send:
			if !ok {
				return frames
			}
			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("queued frame is not JSON: %v", err)
			}
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func TestHub_Register(t *testing.T) {
	hub := NewHub()
	alice := newTestPeer("alice")
	bob := newTestPeer("bob")

	hub.Register(alice)
	hub.Register(bob)

	if got := hub.ClientCount(); got != 2 {
		t.Errorf("ClientCount() = %d, want 2", got)
	}
	if got, want := hub.Online(), []string{"alice", "bob"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Online() = %v, want %v", got, want)
	}

	frames := drain(t, alice)
	if len(frames) != 2 {
		t.Fatalf("alice got %d frames, want 2 roster updates", len(frames))
	}
	last := frames[1]
	if last["type"] != "online_users" {
		t.Errorf("type = %v, want online_users", last["type"])
	}
	if users, _ := last["users"].([]any); len(users) != 2 {
		t.Errorf("users = %v, want both peers", last["users"])
	}
}

func TestHub_RegisterReplacesSameName(t *testing.T) {
	hub := NewHub()
	first := newTestPeer("alice")
	second := newTestPeer("alice")

	hub.Register(first)
	hub.Register(second)

	drain(t, first)
	if _, ok := <-first.send; ok {
		t.Error("first connection's send channel should be closed")
	}
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}

	// A stale unregister must not evict the replacement.
	hub.Unregister(first)
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() after stale Unregister = %d, want 1", got)
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub()
	alice := newTestPeer("alice")
	bob := newTestPeer("bob")
	hub.Register(alice)
	hub.Register(bob)
	drain(t, alice)

	hub.Unregister(bob)

	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
	frames := drain(t, alice)
	if len(frames) != 1 || frames[0]["type"] != "online_users" {
		t.Fatalf("alice frames = %v, want one roster update", frames)
	}
}

func TestHub_Route(t *testing.T) {
	tests := []struct {
		name      string
		from      string
		frame     protocol.Frame
		wantAlice string
		wantBob   string
		wantCarol string
	}{
		{
			name:    "message goes to recipient only",
			from:    "alice",
			frame:   protocol.Message{ID: "m1", User: "alice", Recipient: "bob", Message: "hi"},
			wantBob: "message",
		},
		{
			name:      "read receipt goes to original sender",
			from:      "bob",
			frame:     protocol.ReadReceipt{User: "bob", Sender: "alice", ID: "m1"},
			wantAlice: "read_receipt",
		},
		{
			name:      "typing is broadcast to others",
			from:      "alice",
			frame:     protocol.Typing{User: "alice"},
			wantBob:   "typing",
			wantCarol: "typing",
		},
		{
			name:  "spoofed sender is dropped",
			from:  "carol",
			frame: protocol.Message{ID: "m2", User: "alice", Recipient: "bob", Message: "hi"},
		},
		{
			name:  "offline recipient is dropped",
			from:  "alice",
			frame: protocol.Message{ID: "m3", User: "alice", Recipient: "dave", Message: "hi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub()
			peers := map[string]*peer{}
			for _, name := range []string{"alice", "bob", "carol"} {
				peers[name] = newTestPeer(name)
				hub.Register(peers[name])
			}
			for _, p := range peers {
				drain(t, p)
			}

			hub.Route(peers[tt.from], tt.frame)

			for name, want := range map[string]string{"alice": tt.wantAlice, "bob": tt.wantBob, "carol": tt.wantCarol} {
				frames := drain(t, peers[name])
				switch {
				case want == "" && len(frames) != 0:
					t.Errorf("%s got %v, want nothing", name, frames)
				case want != "" && (len(frames) != 1 || frames[0]["type"] != want):
					t.Errorf("%s got %v, want one %s frame", name, frames, want)
				}
			}
		})
	}
}
