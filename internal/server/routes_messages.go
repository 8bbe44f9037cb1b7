package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/petervdpas/huddle/internal/auth"
	"github.com/petervdpas/huddle/internal/message"
	"github.com/petervdpas/huddle/internal/storage"
)

// sidebarUser is a contact row plus how many of their messages the
// requester has not read yet.
type sidebarUser struct {
	storage.User
	Unread int `json:"unread,omitempty"`
}

func registerMessages(mux *http.ServeMux, d Deps) {
	// GET /api/messages/users — contact sidebar with unread counts.
	authGet(mux, d, "/api/messages/users", func(w http.ResponseWriter, r *http.Request) {
		self := auth.UserID(r.Context())
		users, err := d.DB.ListUsersExcept(self)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not list users")
			return
		}
		unread, err := d.DB.UnreadCounts(self)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not count unread")
			return
		}
		out := make([]sidebarUser, 0, len(users))
		for _, u := range users {
			out = append(out, sidebarUser{User: u, Unread: unread[u.ID]})
		}
		writeJSON(w, out)
	})

	// GET /api/messages/history?user_id=X&limit=N
	authGet(mux, d, "/api/messages/history", func(w http.ResponseWriter, r *http.Request) {
		self := auth.UserID(r.Context())
		other := r.URL.Query().Get("user_id")
		if other == "" {
			writeError(w, http.StatusBadRequest, "missing user_id")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		msgs, err := d.DB.DirectHistory(self, other, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load history")
			return
		}
		if msgs == nil {
			msgs = []message.Message{}
		}
		writeJSON(w, msgs)
	})

	// POST /api/messages/send
	authPost(mux, d, "/api/messages/send", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		ReceiverID string `json:"receiverId"`
		Text       string `json:"text"`
		Image      string `json:"image"`
	}) {
		if req.ReceiverID == "" {
			writeError(w, http.StatusBadRequest, "missing receiverId")
			return
		}
		if req.Text == "" && req.Image == "" {
			writeError(w, http.StatusBadRequest, "message is empty")
			return
		}
		blocked, err := d.DB.Blocked(userID, req.ReceiverID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not send message")
			return
		}
		if blocked {
			writeError(w, http.StatusForbidden, "you cannot message this contact")
			return
		}
		m := message.NewDirect(userID, req.ReceiverID, req.Text, req.Image)
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

	// POST /api/messages/seen — mark a sender's messages read.
	authPost(mux, d, "/api/messages/seen", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		SenderID string `json:"senderId"`
	}) {
		if req.SenderID == "" {
			writeError(w, http.StatusBadRequest, "missing senderId")
			return
		}
		n, err := d.DB.MarkSeen(req.SenderID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not mark seen")
			return
		}
		if n > 0 {
			d.Relay.RelaySeen(userID, req.SenderID)
		}
		writeJSON(w, map[string]int64{"updated": n})
	})

	// POST /api/messages/react
	authPost(mux, d, "/api/messages/react", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		MessageID string `json:"messageId"`
		Emoji     string `json:"emoji"`
	}) {
		if req.MessageID == "" || req.Emoji == "" {
			writeError(w, http.StatusBadRequest, "missing messageId or emoji")
			return
		}
		m, err := d.DB.AddReaction(req.MessageID, userID, req.Emoji)
		if errors.Is(err, storage.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not store reaction")
			return
		}
		writeJSON(w, m)
	})

	// POST /api/messages/block — stop contact with a user.
	authPost(mux, d, "/api/messages/block", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		UserID string `json:"userId"`
	}) {
		if req.UserID == "" || req.UserID == userID {
			writeError(w, http.StatusBadRequest, "invalid userId")
			return
		}
		if err := d.DB.Block(userID, req.UserID); err != nil {
			writeError(w, http.StatusInternalServerError, "could not block user")
			return
		}
		writeBlockedList(w, d, userID)
	})

	// POST /api/messages/unblock
	authPost(mux, d, "/api/messages/unblock", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		UserID string `json:"userId"`
	}) {
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "missing userId")
			return
		}
		if err := d.DB.Unblock(userID, req.UserID); err != nil {
			writeError(w, http.StatusInternalServerError, "could not unblock user")
			return
		}
		writeBlockedList(w, d, userID)
	})

	// POST /api/messages/clear — delete a direct conversation.
	authPost(mux, d, "/api/messages/clear", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		UserID string `json:"userId"`
	}) {
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "missing userId")
			return
		}
		if err := d.DB.ClearDirectHistory(userID, req.UserID); err != nil {
			writeError(w, http.StatusInternalServerError, "could not clear history")
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	})
}

// writeBlockedList responds with the caller's current blocked set, so the
// client can replace its copy wholesale.
func writeBlockedList(w http.ResponseWriter, d Deps, userID string) {
	ids, err := d.DB.BlockedIDs(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list blocked users")
		return
	}
	writeJSON(w, map[string][]string{"blockedUsers": ids})
}
