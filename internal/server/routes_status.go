package server

import (
	"errors"
	"net/http"

	"github.com/petervdpas/huddle/internal/auth"
	"github.com/petervdpas/huddle/internal/storage"
)

func registerStatus(mux *http.ServeMux, d Deps) {
	// GET /api/status — every user's live statuses, grouped per user.
	authGet(mux, d, "/api/status", func(w http.ResponseWriter, r *http.Request) {
		self := auth.UserID(r.Context())
		feed, err := d.DB.StatusFeed(self)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load statuses")
			return
		}
		writeJSON(w, feed)
	})

	// POST /api/status/upload
	authPost(mux, d, "/api/status/upload", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		Text  string `json:"text"`
		Image string `json:"image"`
	}) {
		if req.Text == "" && req.Image == "" {
			writeError(w, http.StatusBadRequest, "status is empty")
			return
		}
		s, err := d.DB.InsertStatus(userID, req.Text, req.Image)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not store status")
			return
		}
		writeJSON(w, s)
	})

	// POST /api/status/view — record that the caller opened a status.
	authPost(mux, d, "/api/status/view", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		StatusID string `json:"statusId"`
	}) {
		if req.StatusID == "" {
			writeError(w, http.StatusBadRequest, "missing statusId")
			return
		}
		err := d.DB.MarkStatusViewed(req.StatusID, userID)
		if errors.Is(err, storage.ErrStatusNotFound) {
			writeError(w, http.StatusNotFound, "status not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not record view")
			return
		}
		writeJSON(w, map[string]string{"status": "viewed"})
	})
}
