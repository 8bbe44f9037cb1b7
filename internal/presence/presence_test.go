package presence

import (
	"encoding/json"
	"testing"

	"github.com/petervdpas/huddle/internal/event"
	"github.com/petervdpas/huddle/internal/registry"
)

type fakeOut struct {
	sent []event.Envelope
}

func (f *fakeOut) Broadcast(env event.Envelope) int {
	f.sent = append(f.sent, env)
	return 1
}

type fakeStore struct {
	lastSeen map[string]int64
}

func (f *fakeStore) SetLastSeen(userID string, millis int64) error {
	if f.lastSeen == nil {
		f.lastSeen = make(map[string]int64)
	}
	f.lastSeen[userID] = millis
	return nil
}

func onlineSet(t *testing.T, env event.Envelope) []string {
	t.Helper()
	if env.Event != event.OnlineUsers {
		t.Fatalf("expected %s, got %s", event.OnlineUsers, env.Event)
	}
	var ids []string
	if err := json.Unmarshal(env.Data, &ids); err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestConnectedBroadcastsOnlineSet(t *testing.T) {
	out := &fakeOut{}
	svc := New(registry.NewMemory(), out, nil)

	svc.Connected("c1", "alice")
	svc.Connected("c2", "bob")

	if len(out.sent) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(out.sent))
	}
	ids := onlineSet(t, out.sent[1])
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
		t.Fatalf("expected sorted [alice bob], got %v", ids)
	}
}

func TestSecondConnectionStillBroadcasts(t *testing.T) {
	// Every connect rebroadcasts the set, even when the identity was
	// already online, so a fresh tab gets state immediately.
	out := &fakeOut{}
	svc := New(registry.NewMemory(), out, nil)

	svc.Connected("c1", "alice")
	svc.Connected("c2", "alice")

	if len(out.sent) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(out.sent))
	}
}

func TestPairingConnectionsAreInvisible(t *testing.T) {
	out := &fakeOut{}
	reg := registry.NewMemory()
	svc := New(reg, out, nil)

	svc.Connected("c1", "")
	if len(out.sent) != 0 {
		t.Fatal("unauthenticated connection must not broadcast presence")
	}
	if ids := reg.OnlineIdentities(); len(ids) != 0 {
		t.Fatalf("expected empty registry, got %v", ids)
	}
}

func TestDisconnectedAnnouncesOnlyLastDrop(t *testing.T) {
	out := &fakeOut{}
	store := &fakeStore{}
	reg := registry.NewMemory()
	svc := New(reg, out, store)

	svc.Connected("c1", "alice")
	svc.Connected("c2", "alice")
	out.sent = nil

	t.Run("intermediate drop is silent", func(t *testing.T) {
		svc.Disconnected("c1")
		if len(out.sent) != 0 {
			t.Fatalf("expected no broadcast, got %d", len(out.sent))
		}
		if _, ok := store.lastSeen["alice"]; ok {
			t.Fatal("last-seen must not be stamped while a connection remains")
		}
	})

	t.Run("final drop announces offline", func(t *testing.T) {
		svc.Disconnected("c2")
		if len(out.sent) != 2 {
			t.Fatalf("expected userOffline + online set, got %d", len(out.sent))
		}

		if out.sent[0].Event != event.UserOffline {
			t.Fatalf("expected %s first, got %s", event.UserOffline, out.sent[0].Event)
		}
		var p event.UserOfflinePayload
		if err := json.Unmarshal(out.sent[0].Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.UserID != "alice" || p.LastSeen == 0 {
			t.Fatalf("unexpected payload %+v", p)
		}
		if store.lastSeen["alice"] != p.LastSeen {
			t.Fatalf("persisted %d, announced %d", store.lastSeen["alice"], p.LastSeen)
		}

		if ids := onlineSet(t, out.sent[1]); len(ids) != 0 {
			t.Fatalf("expected empty online set, got %v", ids)
		}
	})

	t.Run("unknown connection is ignored", func(t *testing.T) {
		before := len(out.sent)
		svc.Disconnected("ghost")
		if len(out.sent) != before {
			t.Fatal("unknown connID must not broadcast")
		}
	})
}
