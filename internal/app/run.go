// Package app assembles the server: storage, auth, the connection hub
// and the coordinators behind it, then serves HTTP until the context is
// cancelled.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/petervdpas/huddle/internal/auth"
	"github.com/petervdpas/huddle/internal/avatar"
	"github.com/petervdpas/huddle/internal/callsig"
	"github.com/petervdpas/huddle/internal/config"
	"github.com/petervdpas/huddle/internal/content"
	"github.com/petervdpas/huddle/internal/hub"
	"github.com/petervdpas/huddle/internal/pairing"
	"github.com/petervdpas/huddle/internal/presence"
	"github.com/petervdpas/huddle/internal/registry"
	"github.com/petervdpas/huddle/internal/relay"
	"github.com/petervdpas/huddle/internal/server"
	"github.com/petervdpas/huddle/internal/storage"
	"github.com/petervdpas/huddle/internal/util"
)

type Options struct {
	DataDir string
	CfgPath string
	Cfg     config.Config
}

func Run(ctx context.Context, opt Options) error {
	logBuf := server.NewLogBuffer(800)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))

	logBanner(opt.DataDir, opt.CfgPath)

	cfg := opt.Cfg

	// A missing secret means first run: generate one and persist it so
	// sessions survive restarts.
	if cfg.Auth.Secret == "" {
		secret, err := newSecret()
		if err != nil {
			return fmt.Errorf("generate auth secret: %w", err)
		}
		cfg.Auth.Secret = secret
		if err := config.Save(opt.CfgPath, cfg); err != nil {
			return fmt.Errorf("persist auth secret: %w", err)
		}
		log.Printf("AUTH: generated new session secret")
	}

	// ── Storage
	dataDir := util.ResolvePath(opt.DataDir, cfg.Storage.DataDir)
	db, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.Printf("STORE: database at %s", db.Path())

	// ── Media stores
	avatars, err := avatar.NewStore(dataDir)
	if err != nil {
		return fmt.Errorf("open avatar store: %w", err)
	}
	attachments, err := content.NewStore(dataDir)
	if err != nil {
		return fmt.Errorf("open attachment store: %w", err)
	}

	// ── Auth
	authMgr := auth.New(cfg.Auth.Secret, time.Duration(cfg.Auth.SessionTTLHours)*time.Hour)

	// ── Connection hub
	reg := registry.NewMemory()
	h := hub.New(reg, func(r *http.Request) (string, bool, error) {
		if r.URL.Query().Get("pairing") == "1" {
			return "", true, nil
		}
		userID, err := authMgr.VerifySession(auth.TokenFromRequest(r))
		if err != nil {
			return "", false, err
		}
		return userID, false, nil
	})

	// ── Coordinators
	presenceSvc := presence.New(reg, h, db)
	messageRelay := relay.New(h, db)
	calls := callsig.New(h, reg)
	pairingCoord := pairing.New(h, authMgr, pairing.Options{
		CodeTTL:  time.Duration(cfg.Pairing.CodeTTLSec) * time.Second,
		TokenTTL: time.Duration(cfg.Pairing.TokenTTLSec) * time.Second,
	})
	defer pairingCoord.Close()

	wireHub(h, db, presenceSvc, messageRelay, calls, pairingCoord)

	// ── HTTP server
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: server.Handler(server.Deps{
			DB:      db,
			Auth:    authMgr,
			Hub:     h,
			Relay:   messageRelay,
			Pairing: pairingCoord,
			Logs:    logBuf,

			Avatars:     avatars,
			Attachments: attachments,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP: listening on http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("APP: shutting down")
	h.Close()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func logBanner(dataDir, cfgPath string) {
	log.Println("────────────────────────────────────────")
	log.Println("Huddle server scope")
	log.Printf(" Data folder : %s", dataDir)
	log.Printf(" Config file : %s", cfgPath)
	log.Println("")
	log.Println(" This process serves ONE community.")
	log.Println(" The data folder is its boundary.")
	log.Println(" Different folder/config = different community.")
	log.Println("────────────────────────────────────────")
}
