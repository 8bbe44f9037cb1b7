package message

import "testing"

func TestConversationWith(t *testing.T) {
	direct := NewDirect("alice", "bob", "hi", "")

	t.Run("sender sees the receiver", func(t *testing.T) {
		if got := direct.ConversationWith("alice"); got != "bob" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("receiver sees the sender", func(t *testing.T) {
		if got := direct.ConversationWith("bob"); got != "alice" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("group key wins for either party", func(t *testing.T) {
		g := NewGroup("alice", "team", "hi all", "")
		if got := g.ConversationWith("alice"); got != "team" {
			t.Fatalf("got %q", got)
		}
		if got := g.ConversationWith("bob"); got != "team" {
			t.Fatalf("got %q", got)
		}
	})
}

func TestNewMessageDefaults(t *testing.T) {
	m := NewDirect("alice", "bob", "hi", "")
	if m.ID == "" || m.CreatedAt == 0 {
		t.Fatalf("missing id or timestamp: %+v", m)
	}
	if m.Status != StatusSent {
		t.Fatalf("expected %q, got %q", StatusSent, m.Status)
	}
	if m.GroupID != "" {
		t.Fatal("direct message must not carry a group id")
	}

	g := NewGroup("alice", "team", "hi", "")
	if g.ReceiverID != "" {
		t.Fatal("group message must not carry a receiver")
	}
}

func TestPreview(t *testing.T) {
	if got := NewDirect("a", "b", "hello", "").Preview(); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := NewDirect("a", "b", "", "att-123").Preview(); got != "📷 Photo" {
		t.Fatalf("got %q", got)
	}
	if got := NewDirect("a", "b", "", "").Preview(); got != "" {
		t.Fatalf("got %q", got)
	}
}
