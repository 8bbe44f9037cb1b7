package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/petervdpas/huddle/internal/auth"
	"github.com/petervdpas/huddle/internal/message"
	"github.com/petervdpas/huddle/internal/storage"
)

func registerGroups(mux *http.ServeMux, d Deps) {
	// POST /api/groups/create
	authPost(mux, d, "/api/groups/create", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}) {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "missing name")
			return
		}
		g, err := d.DB.CreateGroup(name, userID, req.Members)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not create group")
			return
		}
		writeJSON(w, g)
	})

	// GET /api/groups — groups the requester belongs to.
	authGet(mux, d, "/api/groups", func(w http.ResponseWriter, r *http.Request) {
		groups, err := d.DB.GroupsFor(auth.UserID(r.Context()))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not list groups")
			return
		}
		if groups == nil {
			groups = []storage.Group{}
		}
		writeJSON(w, groups)
	})

	// GET /api/groups/history?group_id=X&limit=N
	authGet(mux, d, "/api/groups/history", func(w http.ResponseWriter, r *http.Request) {
		groupID := r.URL.Query().Get("group_id")
		if groupID == "" {
			writeError(w, http.StatusBadRequest, "missing group_id")
			return
		}
		ok, err := d.DB.IsMember(groupID, auth.UserID(r.Context()))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not check membership")
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "not a member")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		msgs, err := d.DB.GroupHistory(groupID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load history")
			return
		}
		if msgs == nil {
			msgs = []message.Message{}
		}
		writeJSON(w, msgs)
	})

	// POST /api/groups/send
	authPost(mux, d, "/api/groups/send", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		GroupID string `json:"groupId"`
		Text    string `json:"text"`
		Image   string `json:"image"`
	}) {
		if req.GroupID == "" {
			writeError(w, http.StatusBadRequest, "missing groupId")
			return
		}
		if req.Text == "" && req.Image == "" {
			writeError(w, http.StatusBadRequest, "message is empty")
			return
		}
		ok, err := d.DB.IsMember(req.GroupID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not check membership")
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "not a member")
			return
		}
		m := message.NewGroup(userID, req.GroupID, req.Text, req.Image)
		if err := d.DB.InsertMessage(m); err != nil {
			writeError(w, http.StatusInternalServerError, "could not store message")
			return
		}
		if err := d.Relay.RelayNewMessage(m); err != nil {
			writeError(w, http.StatusInternalServerError, "could not deliver message")
			return
		}
		writeJSON(w, m)
	})
}
