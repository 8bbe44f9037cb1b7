package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/petervdpas/huddle/internal/util"
)

type Config struct {
	Server  Server  `json:"server"`
	Auth    Auth    `json:"auth"`
	Storage Storage `json:"storage"`
	Pairing Pairing `json:"pairing"`
}

type Server struct {
	// Bind address for the HTTP server. Default "127.0.0.1" (localhost only).
	// Set to "0.0.0.0" to accept connections from other machines.
	Bind string `json:"bind"`
	Port int    `json:"port"`
}

type Auth struct {
	// HMAC secret for session tokens. Generated on first run when empty.
	Secret string `json:"secret"`

	// Session token lifetime in hours.
	SessionTTLHours int `json:"session_ttl_hours"`
}

type Storage struct {
	// Data directory for the SQLite database. Relative to the config dir.
	DataDir string `json:"data_dir"`
}

type Pairing struct {
	// Lifetime of a displayed pairing code, in seconds.
	CodeTTLSec int `json:"code_ttl_seconds"`

	// Lifetime of an issued pairing token, in seconds.
	TokenTTLSec int `json:"token_ttl_seconds"`
}

func Default() Config {
	return Config{
		Server: Server{
			Bind: "127.0.0.1",
			Port: 8790,
		},
		Auth: Auth{
			Secret:          "",
			SessionTTLHours: 168,
		},
		Storage: Storage{
			DataDir: "data",
		},
		Pairing: Pairing{
			CodeTTLSec:  60,
			TokenTTLSec: 120,
		},
	}
}

func (c *Config) Validate() error {
	// Server
	if b := strings.TrimSpace(c.Server.Bind); b != "" {
		if net.ParseIP(b) == nil {
			return errors.New("server.bind must be a valid IP address")
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be 1..65535")
	}

	// Auth
	if c.Auth.SessionTTLHours <= 0 {
		return errors.New("auth.session_ttl_hours must be > 0")
	}

	// Storage
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return errors.New("storage.data_dir is required")
	}

	// Pairing
	if c.Pairing.CodeTTLSec <= 0 {
		return errors.New("pairing.code_ttl_seconds must be > 0")
	}
	if c.Pairing.TokenTTLSec <= 0 {
		return errors.New("pairing.token_ttl_seconds must be > 0")
	}
	if c.Pairing.TokenTTLSec < c.Pairing.CodeTTLSec {
		return errors.New("pairing.token_ttl_seconds must be >= pairing.code_ttl_seconds")
	}

	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
