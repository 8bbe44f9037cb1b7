package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/petervdpas/huddle/internal/auth"
	"github.com/petervdpas/huddle/internal/content"
)

// maxAvatarBytes caps an avatar upload.
const maxAvatarBytes = 1 << 20

func registerMedia(mux *http.ServeMux, d Deps) {
	if d.Avatars != nil {
		registerAvatar(mux, d)
	}
	if d.Attachments != nil {
		registerAttachments(mux, d)
	}
}

func registerAvatar(mux *http.ServeMux, d Deps) {
	// GET /api/avatar?user_id=... serves the image, POST uploads the raw
	// body for the caller.
	mux.HandleFunc("/api/avatar", requireAuth(d, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			serveAvatar(d, w, r)
		case http.MethodPost:
			uploadAvatar(d, w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}))
}

func serveAvatar(d Deps, w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	hash := d.Avatars.Hash(userID)
	if hash == "" {
		writeError(w, http.StatusNotFound, "no avatar")
		return
	}
	etag := `"` + hash + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	data, err := d.Avatars.Read(userID)
	if err != nil || data == nil {
		writeError(w, http.StatusNotFound, "no avatar")
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}

func uploadAvatar(d Deps, w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAvatarBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "avatar too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}
	hash, err := d.Avatars.Write(userID, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not store avatar")
		return
	}
	url := "/api/avatar?user_id=" + userID + "&v=" + hash
	if err := d.DB.SetAvatar(userID, url); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update profile")
		return
	}
	writeJSON(w, map[string]string{"avatar": url})
}

func registerAttachments(mux *http.ServeMux, d Deps) {
	// GET /api/attachments?id=...
	authGet(mux, d, "/api/attachments", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		data, err := d.Attachments.Read(id)
		switch {
		case errors.Is(err, content.ErrBadID):
			writeError(w, http.StatusBadRequest, "invalid attachment id")
			return
		case errors.Is(err, content.ErrNotFound):
			writeError(w, http.StatusNotFound, "attachment not found")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "could not read attachment")
			return
		}
		// Attachments are immutable, cache them hard.
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", http.DetectContentType(data))
		_, _ = w.Write(data)
	})

	// POST /api/attachments/upload stores the raw body and returns the id
	// to reference from a message.
	mux.HandleFunc("/api/attachments/upload", requireAuth(d, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, content.MaxBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
			return
		}
		id, err := d.Attachments.Put(data)
		if errors.Is(err, content.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not store attachment")
			return
		}
		writeJSON(w, map[string]string{"id": id})
	}))
}
