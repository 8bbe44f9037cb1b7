package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/petervdpas/huddle/internal/auth"
	"github.com/petervdpas/huddle/internal/storage"
	"github.com/petervdpas/huddle/internal/util"
)

type sessionResponse struct {
	User  *storage.User `json:"user"`
	Token string        `json:"token"`
}

func registerAuth(mux *http.ServeMux, d Deps) {
	// POST /api/auth/signup
	handlePost(mux, "/api/auth/signup", func(w http.ResponseWriter, r *http.Request, req struct {
		Username string `json:"username"`
		FullName string `json:"fullName"`
		Password string `json:"password"`
	}) {
		username, err := util.ValidateUsername(req.Username)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.Password) < 6 {
			writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
			return
		}

		hash, err := d.Auth.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not create account")
			return
		}
		u, err := d.DB.CreateUser(username, req.FullName, hash)
		if errors.Is(err, storage.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not create account")
			return
		}

		token, err := d.Auth.IssueSession(u.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not create session")
			return
		}
		log.Printf("AUTH: new account %s (%s)", u.Username, u.ID)
		writeJSON(w, sessionResponse{User: u, Token: token})
	})

	// POST /api/auth/login
	handlePost(mux, "/api/auth/login", func(w http.ResponseWriter, r *http.Request, req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}) {
		u, err := d.DB.UserByUsername(req.Username)
		if err != nil {
			// Same response as a wrong password so usernames cannot
			// be probed.
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err := d.Auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		token, err := d.Auth.IssueSession(u.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not create session")
			return
		}
		log.Printf("AUTH: login %s", u.Username)
		writeJSON(w, sessionResponse{User: u, Token: token})
	})

	// GET /api/auth/check
	authGet(mux, d, "/api/auth/check", func(w http.ResponseWriter, r *http.Request) {
		u, err := d.DB.UserByID(auth.UserID(r.Context()))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeJSON(w, u)
	})

	// POST /api/auth/update-profile
	authPost(mux, d, "/api/auth/update-profile", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		Avatar string `json:"avatar"`
	}) {
		if err := d.DB.SetAvatar(userID, req.Avatar); err != nil {
			writeError(w, http.StatusInternalServerError, "could not update profile")
			return
		}
		u, err := d.DB.UserByID(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load profile")
			return
		}
		writeJSON(w, u)
	})
}
