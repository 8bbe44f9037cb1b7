package client

import (
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/huddle/internal/event"
	"github.com/petervdpas/huddle/internal/message"
)

type fakeUpstream struct {
	mu   sync.Mutex
	sent []event.Envelope
}

func (f *fakeUpstream) Emit(env event.Envelope) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeUpstream) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, env := range f.sent {
		out[i] = env.Event
	}
	return out
}

func newTestStore(t *testing.T, self string) (*SyncStore, *fakeUpstream) {
	t.Helper()
	up := &fakeUpstream{}
	s := NewSyncStore(self, up)
	t.Cleanup(s.Close)
	return s, up
}

func pushMessage(s *SyncStore, m *message.Message) {
	s.OnPush(event.Must(event.NewMessage, event.NewMessagePayload{Message: *m}))
}

func TestDuplicatePushIsIgnored(t *testing.T) {
	s, _ := newTestStore(t, "me")

	m := message.NewDirect("alice", "me", "hello", "")
	pushMessage(s, m)
	pushMessage(s, m)

	if got := s.Messages("alice"); len(got) != 1 {
		t.Fatalf("expected 1 message after duplicate push, got %d", len(got))
	}
	if s.Unread("alice") != 1 {
		t.Fatalf("expected unread 1, got %d", s.Unread("alice"))
	}
}

func TestConversationReordering(t *testing.T) {
	s, _ := newTestStore(t, "me")

	pushMessage(s, message.NewDirect("alice", "me", "a1", ""))
	pushMessage(s, message.NewDirect("bob", "me", "b1", ""))

	convs := s.Conversations()
	if len(convs) != 2 || convs[0].Key != "bob" || convs[1].Key != "alice" {
		t.Fatalf("expected [bob alice], got %+v", convs)
	}

	// A new message moves alice back to the top; bob keeps his place
	// below, nothing is lost.
	pushMessage(s, message.NewDirect("alice", "me", "a2", ""))
	convs = s.Conversations()
	if convs[0].Key != "alice" || convs[1].Key != "bob" {
		t.Fatalf("expected [alice bob], got %+v", convs)
	}
	if convs[0].LastMessage == nil || convs[0].LastMessage.Text != "a2" {
		t.Fatalf("expected latest message stamped, got %+v", convs[0].LastMessage)
	}
}

func TestUnreadCounting(t *testing.T) {
	s, up := newTestStore(t, "me")

	pushMessage(s, message.NewDirect("alice", "me", "one", ""))
	pushMessage(s, message.NewDirect("alice", "me", "two", ""))
	if s.Unread("alice") != 2 {
		t.Fatalf("expected 2, got %d", s.Unread("alice"))
	}

	t.Run("own echoes do not count", func(t *testing.T) {
		pushMessage(s, message.NewDirect("me", "alice", "reply", ""))
		if s.Unread("alice") != 2 {
			t.Fatalf("expected 2, got %d", s.Unread("alice"))
		}
	})

	t.Run("active conversation does not count", func(t *testing.T) {
		s.SetActive("alice")
		if s.Unread("alice") != 0 {
			t.Fatalf("expected reset, got %d", s.Unread("alice"))
		}
		pushMessage(s, message.NewDirect("alice", "me", "three", ""))
		if s.Unread("alice") != 0 {
			t.Fatalf("active conversation must stay at 0, got %d", s.Unread("alice"))
		}
	})

	t.Run("opening acknowledges upstream", func(t *testing.T) {
		events := up.events()
		found := false
		for _, e := range events {
			if e == event.MarkSeen {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %s emitted on open, got %v", event.MarkSeen, events)
		}
	})
}

func TestOptimisticSendLifecycle(t *testing.T) {
	s, _ := newTestStore(t, "me")

	t.Run("confirm replaces the pending entry", func(t *testing.T) {
		local := message.NewDirect("me", "alice", "draft", "")
		s.AppendPending(local)

		msgs := s.Messages("alice")
		if len(msgs) != 1 || !msgs[0].Pending {
			t.Fatalf("expected one pending entry, got %+v", msgs)
		}

		confirmed := message.NewDirect("me", "alice", "draft", "")
		s.ConfirmPending(local.ID, confirmed)

		msgs = s.Messages("alice")
		if len(msgs) != 1 || msgs[0].Pending || msgs[0].ID != confirmed.ID {
			t.Fatalf("expected confirmed entry, got %+v", msgs)
		}

		// The push echo of the confirmed message must not duplicate it.
		pushMessage(s, confirmed)
		if got := s.Messages("alice"); len(got) != 1 {
			t.Fatalf("expected 1 after echo, got %d", len(got))
		}
	})

	t.Run("failure rolls the entry back", func(t *testing.T) {
		local := message.NewDirect("me", "bob", "doomed", "")
		s.AppendPending(local)
		s.FailPending(local.ID)

		if got := s.Messages("bob"); len(got) != 0 {
			t.Fatalf("expected rollback, got %+v", got)
		}
	})

	t.Run("unknown local id is a no-op", func(t *testing.T) {
		s.ConfirmPending("ghost", message.NewDirect("me", "alice", "x", ""))
		s.FailPending("ghost")
	})
}

func TestPresenceTracking(t *testing.T) {
	s, _ := newTestStore(t, "me")

	s.OnPush(event.Must(event.OnlineUsers, event.OnlineUsersPayload{"alice", "bob"}))
	if !s.IsOnline("alice") || !s.IsOnline("bob") || s.IsOnline("carol") {
		t.Fatalf("unexpected online set %v", s.Online())
	}

	s.OnPush(event.Must(event.UserOffline, event.UserOfflinePayload{UserID: "bob", LastSeen: 42}))
	if s.IsOnline("bob") {
		t.Fatal("bob must be offline after userOffline")
	}

	// The follow-up snapshot replaces the whole set.
	s.OnPush(event.Must(event.OnlineUsers, event.OnlineUsersPayload{"carol"}))
	if got := s.Online(); len(got) != 1 || got[0] != "carol" {
		t.Fatalf("expected [carol], got %v", got)
	}
}

func TestTypingIndicatorExpires(t *testing.T) {
	s, _ := newTestStore(t, "me")

	s.OnPush(event.Must(event.Typing, event.TypingNotice{SenderID: "alice"}))
	if !s.IsTyping("alice") {
		t.Fatal("expected typing indicator lit")
	}

	t.Run("explicit stop clears it", func(t *testing.T) {
		s.OnPush(event.Must(event.StopTyping, event.StopTypingNotice{SenderID: "alice"}))
		if s.IsTyping("alice") {
			t.Fatal("expected indicator cleared")
		}
	})

	t.Run("lost stopTyping self-expires", func(t *testing.T) {
		s.OnPush(event.Must(event.Typing, event.TypingNotice{SenderID: "bob"}))
		deadline := time.Now().Add(typingTTL + time.Second)
		for s.IsTyping("bob") {
			if time.Now().After(deadline) {
				t.Fatal("typing indicator never expired")
			}
			time.Sleep(20 * time.Millisecond)
		}
	})
}

func TestNotifyTypingEmitsStopAfterPause(t *testing.T) {
	s, up := newTestStore(t, "me")

	// Every keystroke re-emits typing; the pause timer is re-armed.
	s.NotifyTyping("alice")
	s.NotifyTyping("alice")

	events := up.events()
	typingCount := 0
	for _, e := range events {
		if e == event.Typing {
			typingCount++
		}
	}
	if typingCount != 2 {
		t.Fatalf("expected one typing emit per keystroke, got %v", events)
	}

	deadline := time.Now().Add(typingTTL + time.Second)
	for {
		stop := 0
		for _, e := range up.events() {
			if e == event.StopTyping {
				stop++
			}
		}
		if stop == 1 {
			break
		}
		if stop > 1 {
			t.Fatalf("expected a single stopTyping, got %v", up.events())
		}
		if time.Now().After(deadline) {
			t.Fatal("stopTyping never emitted")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// relayUpstream forwards a sender store's typing traffic into a receiver
// store, the way the server relays it between two clients.
type relayUpstream struct {
	to   *SyncStore
	from string
}

func (f relayUpstream) Emit(env event.Envelope) error {
	switch env.Event {
	case event.Typing:
		f.to.OnPush(event.Must(event.Typing, event.TypingNotice{SenderID: f.from}))
	case event.StopTyping:
		f.to.OnPush(event.Must(event.StopTyping, event.StopTypingNotice{SenderID: f.from}))
	}
	return nil
}

func TestContinuousTypingKeepsIndicatorLit(t *testing.T) {
	receiver, _ := newTestStore(t, "bob")
	sender := NewSyncStore("alice", relayUpstream{to: receiver, from: "alice"})
	t.Cleanup(sender.Close)

	// One keystroke every 500ms for longer than the indicator TTL. Each
	// keystroke must refresh the receiver, so the indicator never goes
	// dark while alice keeps typing.
	end := time.Now().Add(typingTTL + 1500*time.Millisecond)
	for time.Now().Before(end) {
		sender.NotifyTyping("bob")
		if !receiver.IsTyping("alice") {
			t.Fatal("indicator went dark while the sender was still typing")
		}
		time.Sleep(500 * time.Millisecond)
		if !receiver.IsTyping("alice") {
			t.Fatal("indicator went dark between keystrokes")
		}
	}

	// Once the sender pauses, the indicator clears on its own.
	deadline := time.Now().Add(2*typingTTL + time.Second)
	for receiver.IsTyping("alice") {
		if time.Now().After(deadline) {
			t.Fatal("indicator never cleared after the sender stopped")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSeenMarksOwnMessages(t *testing.T) {
	s, _ := newTestStore(t, "me")

	sent := message.NewDirect("me", "alice", "did you see this", "")
	pushMessage(s, sent)
	pushMessage(s, message.NewDirect("alice", "me", "yes", ""))

	s.OnPush(event.Must(event.MessagesSeen, event.MessagesSeenPayload{ReceiverID: "alice"}))

	for _, m := range s.Messages("alice") {
		if m.SenderID == "me" && m.Status != message.StatusSeen {
			t.Fatalf("own message %q not marked seen", m.Text)
		}
		if m.SenderID == "alice" && m.Status == message.StatusSeen {
			t.Fatal("their message must not flip to seen")
		}
	}
}

func TestLoadHistorySeedsDeduplication(t *testing.T) {
	s, _ := newTestStore(t, "me")

	a := message.NewDirect("alice", "me", "old one", "")
	b := message.NewDirect("me", "alice", "old two", "")
	s.LoadHistory("alice", false, []message.Message{*a, *b})

	if got := s.Messages("alice"); len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}

	// A live push duplicating history must be ignored.
	pushMessage(s, a)
	if got := s.Messages("alice"); len(got) != 2 {
		t.Fatalf("expected 2 after duplicate push, got %d", len(got))
	}
}

func TestCallEventsAreForwarded(t *testing.T) {
	s, _ := newTestStore(t, "me")
	ch, cancel := s.Subscribe()
	defer cancel()

	s.OnPush(event.Must(event.CallFailed, event.CallFailedPayload{Reason: "user busy"}))

	select {
	case c := <-ch:
		if c.Kind != ChangeCall {
			t.Fatalf("expected ChangeCall, got %v", c.Kind)
		}
		p, ok := c.Payload.(event.CallFailedPayload)
		if !ok || p.Reason != "user busy" {
			t.Fatalf("unexpected payload %+v", c.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}
