package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPasswordHashing(t *testing.T) {
	m := New("secret", 0)

	hash, err := m.HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "hunter22" {
		t.Fatal("hash must not equal the plaintext")
	}
	if err := m.CheckPassword(hash, "hunter22"); err != nil {
		t.Fatal(err)
	}
	if err := m.CheckPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	m := New("secret", time.Hour)

	token, err := m.IssueSession("alice")
	if err != nil {
		t.Fatal(err)
	}
	userID, err := m.VerifySession(token)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "alice" {
		t.Fatalf("expected alice, got %q", userID)
	}
}

func TestVerifyFailures(t *testing.T) {
	m := New("secret", time.Hour)

	t.Run("garbage token", func(t *testing.T) {
		if _, err := m.VerifySession("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := New("different", time.Hour)
		token, _ := other.IssueSession("alice")
		if _, err := m.VerifySession(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired session", func(t *testing.T) {
		short := New("secret", time.Millisecond)
		token, _ := short.IssueSession("alice")
		time.Sleep(5 * time.Millisecond)
		if _, err := short.VerifySession(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})
}

func TestMiddleware(t *testing.T) {
	m := New("secret", time.Hour)
	token, _ := m.IssueSession("alice")

	var got string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserID(r.Context())
	}))

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK || got != "alice" {
			t.Fatalf("code=%d user=%q", w.Code, got)
		}
	})

	t.Run("query parameter", func(t *testing.T) {
		got = ""
		r := httptest.NewRequest("GET", "/?token="+token, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK || got != "alice" {
			t.Fatalf("code=%d user=%q", w.Code, got)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})
}

func TestUserIDWithoutMiddleware(t *testing.T) {
	if id := UserID(context.Background()); id != "" {
		t.Fatalf("expected empty, got %q", id)
	}
}
