package pairing

import (
	"errors"
	"testing"
	"time"

	"github.com/petervdpas/huddle/internal/event"
)

type fakeSender struct {
	sent map[string][]event.Envelope
	dead map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sent: make(map[string][]event.Envelope),
		dead: make(map[string]bool),
	}
}

func (f *fakeSender) SendTo(connID string, env event.Envelope) bool {
	if f.dead[connID] {
		return false
	}
	f.sent[connID] = append(f.sent[connID], env)
	return true
}

type fakeIssuer struct{}

func (fakeIssuer) IssueSession(userID string) (string, error) {
	return "session-for-" + userID, nil
}

func TestPairingHappyPath(t *testing.T) {
	send := newFakeSender()
	c := New(send, fakeIssuer{}, Options{})
	defer c.Close()

	s, err := c.Initiate("conn-new-device")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Code) != 6 {
		t.Fatalf("expected a 6-digit code, got %q", s.Code)
	}
	if got := send.sent["conn-new-device"]; len(got) != 1 || got[0].Event != event.PairingCode {
		t.Fatalf("expected one %s push, got %v", event.PairingCode, got)
	}

	if err := c.Confirm(s.Code, "alice"); err != nil {
		t.Fatal(err)
	}
	pushes := send.sent["conn-new-device"]
	if len(pushes) != 2 || pushes[1].Event != event.PairingAuthorized {
		t.Fatalf("expected %s push, got %v", event.PairingAuthorized, pushes)
	}

	token, userID, err := c.Redeem(s.Token)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "alice" || token != "session-for-alice" {
		t.Fatalf("unexpected redemption %q / %q", token, userID)
	}
}

func TestConfirmFailures(t *testing.T) {
	send := newFakeSender()
	c := New(send, fakeIssuer{}, Options{CodeTTL: 50 * time.Millisecond})
	defer c.Close()

	t.Run("unknown code", func(t *testing.T) {
		if err := c.Confirm("000000", "alice"); !errors.Is(err, ErrCodeNotFound) {
			t.Fatalf("expected ErrCodeNotFound, got %v", err)
		}
	})

	t.Run("used code", func(t *testing.T) {
		s, err := c.Initiate("conn-aaaaaaaa")
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Confirm(s.Code, "alice"); err != nil {
			t.Fatal(err)
		}
		if err := c.Confirm(s.Code, "bob"); !errors.Is(err, ErrCodeUsed) {
			t.Fatalf("expected ErrCodeUsed, got %v", err)
		}
	})

	t.Run("expired code stays distinguishable from unknown", func(t *testing.T) {
		s, err := c.Initiate("conn-bbbbbbbb")
		if err != nil {
			t.Fatal(err)
		}
		time.Sleep(80 * time.Millisecond)
		if err := c.Confirm(s.Code, "alice"); !errors.Is(err, ErrCodeExpired) {
			t.Fatalf("expected ErrCodeExpired, got %v", err)
		}
	})

	t.Run("origin connection gone", func(t *testing.T) {
		send2 := newFakeSender()
		c2 := New(send2, fakeIssuer{}, Options{})
		defer c2.Close()

		s, err := c2.Initiate("conn-cccccccc")
		if err != nil {
			t.Fatal(err)
		}
		send2.dead["conn-cccccccc"] = true
		if err := c2.Confirm(s.Code, "alice"); !errors.Is(err, ErrOriginGone) {
			t.Fatalf("expected ErrOriginGone, got %v", err)
		}
		// The failed confirmation burns the code entirely.
		if err := c2.Confirm(s.Code, "alice"); !errors.Is(err, ErrCodeNotFound) {
			t.Fatalf("expected ErrCodeNotFound after burn, got %v", err)
		}
	})
}

func TestRedeemAtMostOnce(t *testing.T) {
	send := newFakeSender()
	c := New(send, fakeIssuer{}, Options{})
	defer c.Close()

	s, err := c.Initiate("conn-dddddddd")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Confirm(s.Code, "alice"); err != nil {
		t.Fatal(err)
	}

	if _, _, err := c.Redeem(s.Token); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Redeem(s.Token); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed on second redemption, got %v", err)
	}
}

// flakyIssuer fails a number of IssueSession calls before recovering.
type flakyIssuer struct{ fails int }

func (f *flakyIssuer) IssueSession(userID string) (string, error) {
	if f.fails > 0 {
		f.fails--
		return "", errors.New("signing key unavailable")
	}
	return "session-for-" + userID, nil
}

func TestRedeemSurvivesIssuerFailure(t *testing.T) {
	send := newFakeSender()
	c := New(send, &flakyIssuer{fails: 1}, Options{})
	defer c.Close()

	s, err := c.Initiate("conn-ffffffff")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Confirm(s.Code, "alice"); err != nil {
		t.Fatal(err)
	}

	// The first attempt hits the issuer failure. The token must survive
	// it, so the device can retry and still pair.
	if _, _, err := c.Redeem(s.Token); err == nil {
		t.Fatal("expected issuer failure to surface")
	}
	session, userID, err := c.Redeem(s.Token)
	if err != nil {
		t.Fatalf("retry after issuer failure: %v", err)
	}
	if session == "" || userID != "alice" {
		t.Fatalf("got %q for %q", session, userID)
	}

	// Consumption stays at-most-once.
	if _, _, err := c.Redeem(s.Token); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed after success, got %v", err)
	}
}

func TestRedeemFailures(t *testing.T) {
	send := newFakeSender()
	c := New(send, fakeIssuer{}, Options{TokenTTL: 50 * time.Millisecond})
	defer c.Close()

	t.Run("unknown token", func(t *testing.T) {
		if _, _, err := c.Redeem("nope"); !errors.Is(err, ErrTokenNotFound) {
			t.Fatalf("expected ErrTokenNotFound, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		s, err := c.Initiate("conn-eeeeeeee")
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Confirm(s.Code, "alice"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(80 * time.Millisecond)
		if _, _, err := c.Redeem(s.Token); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
	})
}

func TestConnClosedInvalidatesPendingCode(t *testing.T) {
	send := newFakeSender()
	c := New(send, fakeIssuer{}, Options{})
	defer c.Close()

	s, err := c.Initiate("conn-ffffffff")
	if err != nil {
		t.Fatal(err)
	}
	c.ConnClosed("conn-ffffffff")

	if err := c.Confirm(s.Code, "alice"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound after disconnect, got %v", err)
	}
}

func TestConnClosedKeepsConfirmedToken(t *testing.T) {
	// Once confirmed, the token must survive the websocket closing: the
	// new device reconnects over plain HTTP to redeem it.
	send := newFakeSender()
	c := New(send, fakeIssuer{}, Options{})
	defer c.Close()

	s, err := c.Initiate("conn-gggggggg")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Confirm(s.Code, "alice"); err != nil {
		t.Fatal(err)
	}
	c.ConnClosed("conn-gggggggg")

	if _, _, err := c.Redeem(s.Token); err != nil {
		t.Fatalf("confirmed token must survive disconnect, got %v", err)
	}
}
