package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/petervdpas/huddle/internal/pairing"
)

func registerPairing(mux *http.ServeMux, d Deps) {
	// POST /api/pair/confirm — an authenticated device approves the
	// code shown on a new device.
	authPost(mux, d, "/api/pair/confirm", func(w http.ResponseWriter, r *http.Request, userID string, req struct {
		PairingCode string `json:"pairingCode"`
	}) {
		if req.PairingCode == "" {
			writeError(w, http.StatusBadRequest, "missing pairingCode")
			return
		}
		err := d.Pairing.Confirm(req.PairingCode, userID)
		switch {
		case err == nil:
			log.Printf("PAIR: code %s confirmed by %s", req.PairingCode, userID)
			writeJSON(w, map[string]string{"status": "authorized"})
		case errors.Is(err, pairing.ErrCodeNotFound):
			writeError(w, http.StatusNotFound, "unknown pairing code")
		case errors.Is(err, pairing.ErrCodeExpired):
			writeError(w, http.StatusGone, "pairing code expired")
		case errors.Is(err, pairing.ErrCodeUsed):
			writeError(w, http.StatusConflict, "pairing code already used")
		case errors.Is(err, pairing.ErrOriginGone):
			writeError(w, http.StatusGone, "the new device is no longer waiting")
		default:
			writeError(w, http.StatusInternalServerError, "pairing failed")
		}
	})

	// POST /api/pair/redeem — the new device trades its token for a
	// session. No auth: the token is the proof.
	handlePost(mux, "/api/pair/redeem", func(w http.ResponseWriter, r *http.Request, req struct {
		PairingToken string `json:"pairingToken"`
	}) {
		if req.PairingToken == "" {
			writeError(w, http.StatusBadRequest, "missing pairingToken")
			return
		}
		token, userID, err := d.Pairing.Redeem(req.PairingToken)
		switch {
		case err == nil:
			log.Printf("PAIR: token redeemed for %s", userID)
			writeJSON(w, map[string]string{"token": token, "userId": userID})
		case errors.Is(err, pairing.ErrTokenNotFound):
			writeError(w, http.StatusNotFound, "unknown pairing token")
		case errors.Is(err, pairing.ErrTokenExpired):
			writeError(w, http.StatusGone, "pairing token expired")
		case errors.Is(err, pairing.ErrTokenUsed):
			writeError(w, http.StatusConflict, "pairing token already used")
		default:
			writeError(w, http.StatusInternalServerError, "pairing failed")
		}
	})
}
