package registry

import (
	"sort"
	"testing"
	"time"
)

func TestRegisterDeregister(t *testing.T) {
	m := NewMemory()

	t.Run("first connection brings identity online", func(t *testing.T) {
		if !m.Register("c1", "alice") {
			t.Fatal("expected first registration to report online transition")
		}
		if m.Register("c2", "alice") {
			t.Fatal("second connection must not report another transition")
		}
		if got := m.OnlineIdentities(); len(got) != 1 || got[0] != "alice" {
			t.Fatalf("expected [alice], got %v", got)
		}
	})

	t.Run("re-registering a connection is a no-op", func(t *testing.T) {
		if m.Register("c1", "alice") {
			t.Fatal("duplicate connID must not register again")
		}
		conns := m.ConnectionsFor("alice")
		if len(conns) != 2 {
			t.Fatalf("expected 2 connections, got %v", conns)
		}
	})

	t.Run("offline only on last drop", func(t *testing.T) {
		dep, ok := m.Deregister("c1")
		if !ok || dep.UserID != "alice" {
			t.Fatalf("unexpected departure %+v ok=%v", dep, ok)
		}
		if dep.WentOffline {
			t.Fatal("alice still has c2 open, must not go offline")
		}

		dep, ok = m.Deregister("c2")
		if !ok || !dep.WentOffline {
			t.Fatalf("expected final drop to go offline, got %+v ok=%v", dep, ok)
		}
		if dep.LastSeen.IsZero() {
			t.Fatal("last drop must stamp LastSeen")
		}
		if got := m.OnlineIdentities(); len(got) != 0 {
			t.Fatalf("expected nobody online, got %v", got)
		}
	})

	t.Run("unknown connection", func(t *testing.T) {
		if _, ok := m.Deregister("nope"); ok {
			t.Fatal("unknown connID must report ok=false")
		}
	})
}

func TestLastSeenStampedOnce(t *testing.T) {
	m := NewMemory()
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return stamp }

	m.Register("c1", "bob")
	m.Register("c2", "bob")

	dep, _ := m.Deregister("c1")
	if !dep.LastSeen.IsZero() {
		t.Fatal("intermediate drop must not carry a LastSeen stamp")
	}
	dep, _ = m.Deregister("c2")
	if !dep.LastSeen.Equal(stamp) {
		t.Fatalf("expected stamp %v, got %v", stamp, dep.LastSeen)
	}
}

func TestOnlineIdentities(t *testing.T) {
	m := NewMemory()
	m.Register("a1", "alice")
	m.Register("b1", "bob")
	m.Register("b2", "bob")

	got := m.OnlineIdentities()
	sort.Strings(got)
	want := []string{"alice", "bob"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if owner, ok := m.owner("b2"); !ok || owner != "bob" {
		t.Fatalf("expected b2 owned by bob, got %q ok=%v", owner, ok)
	}
}
