// Package server exposes the HTTP surface: account and message APIs,
// pairing confirmation, log inspection and the websocket endpoint the
// real-time hub hangs off.
package server

import (
	"net/http"

	"github.com/petervdpas/huddle/internal/auth"
	"github.com/petervdpas/huddle/internal/avatar"
	"github.com/petervdpas/huddle/internal/content"
	"github.com/petervdpas/huddle/internal/hub"
	"github.com/petervdpas/huddle/internal/pairing"
	"github.com/petervdpas/huddle/internal/relay"
	"github.com/petervdpas/huddle/internal/storage"
)

// Deps carries everything the routes need.
type Deps struct {
	DB      *storage.DB
	Auth    *auth.Manager
	Hub     *hub.Hub
	Relay   *relay.Relay
	Pairing *pairing.Coordinator
	Logs    *LogBuffer

	// Avatars and Attachments are optional media stores; their routes are
	// registered only when present.
	Avatars     *avatar.Store
	Attachments *content.Store
}

// Handler builds the full route table.
func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()

	registerAuth(mux, d)
	registerMessages(mux, d)
	registerGroups(mux, d)
	registerPairing(mux, d)
	registerStatus(mux, d)
	registerMedia(mux, d)

	if d.Logs != nil {
		mux.HandleFunc("/api/logs", d.Logs.ServeLogsJSON)
		mux.HandleFunc("/api/logs/stream", d.Logs.ServeLogsSSE)
	}

	mux.HandleFunc("/ws", d.Hub.ServeWS)

	return mux
}

// requireAuth wraps a handler with session verification.
func requireAuth(d Deps, fn http.HandlerFunc) http.HandlerFunc {
	h := d.Auth.Middleware(fn)
	return func(w http.ResponseWriter, r *http.Request) { h.ServeHTTP(w, r) }
}

// authGet registers a GET handler that requires a session.
func authGet(mux *http.ServeMux, d Deps, pattern string, fn http.HandlerFunc) {
	handleGet(mux, pattern, requireAuth(d, fn))
}

// authPost registers a POST handler that requires a session and decodes
// a JSON body of type T.
func authPost[T any](mux *http.ServeMux, d Deps, pattern string, fn func(w http.ResponseWriter, r *http.Request, userID string, req T)) {
	handlePost(mux, pattern, func(w http.ResponseWriter, r *http.Request, req T) {
		userID, err := d.Auth.VerifySession(auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		fn(w, r, userID, req)
	})
}
