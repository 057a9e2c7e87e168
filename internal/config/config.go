// Package config loads chronolock settings from a YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the top-level configuration file.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	IPFS   IPFSConfig   `yaml:"ipfs"`
	Ledger LedgerConfig `yaml:"ledger"`
	Log    LogConfig    `yaml:"log"`
}

// StoreConfig selects local persistence.
type StoreConfig struct {
	// Backend is "sqlite" or "redis".
	// Default: sqlite
	Backend string `yaml:"backend,omitempty"`

	// Path is the SQLite database file.
	// Default: ~/.chronolock/memories.db
	Path string `yaml:"path,omitempty"`

	// RedisURL is used when Backend is "redis".
	RedisURL string `yaml:"redis_url,omitempty"`
}

// IPFSConfig configures the pinning service.
type IPFSConfig struct {
	APIURL     string `yaml:"api_url,omitempty"`
	GatewayURL string `yaml:"gateway_url,omitempty"`
	JWT        string `yaml:"jwt,omitempty"`

	// UploadTimeout bounds one upload.
	// Format: Go duration string (e.g., "60s")
	// Default: 60s
	UploadTimeout string `yaml:"upload_timeout,omitempty"`

	// RetrieveTimeout bounds one gateway fetch.
	// Default: 30s
	RetrieveTimeout string `yaml:"retrieve_timeout,omitempty"`
}

// LedgerConfig configures the algod and indexer endpoints and the local
// signing account.
type LedgerConfig struct {
	AlgodURL     string `yaml:"algod_url,omitempty"`
	AlgodToken   string `yaml:"algod_token,omitempty"`
	IndexerURL   string `yaml:"indexer_url,omitempty"`
	IndexerToken string `yaml:"indexer_token,omitempty"`

	// Mnemonic is the 25-word account phrase used to sign contract
	// deployments. Prefer CHRONOLOCK_MNEMONIC over writing it to disk.
	Mnemonic string `yaml:"mnemonic,omitempty"`

	// ReadTimeout bounds each node or indexer call.
	// Default: 30s
	ReadTimeout string `yaml:"read_timeout,omitempty"`

	// ConfirmTimeout bounds waiting for a deployment to be confirmed.
	// Default: 60s
	ConfirmTimeout string `yaml:"confirm_timeout,omitempty"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// Dir returns the chronolock home directory.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chronolock")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config at path and applies environment overrides. An empty
// path means DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Store.Path, "CHRONOLOCK_DB")
	set(&c.Store.Backend, "CHRONOLOCK_STORE")
	set(&c.Store.RedisURL, "CHRONOLOCK_REDIS_URL")
	set(&c.IPFS.JWT, "PINATA_JWT")
	set(&c.IPFS.GatewayURL, "CHRONOLOCK_IPFS_GATEWAY")
	set(&c.Ledger.AlgodURL, "CHRONOLOCK_ALGOD_URL")
	set(&c.Ledger.AlgodToken, "CHRONOLOCK_ALGOD_TOKEN")
	set(&c.Ledger.IndexerURL, "CHRONOLOCK_INDEXER_URL")
	set(&c.Ledger.IndexerToken, "CHRONOLOCK_INDEXER_TOKEN")
	set(&c.Ledger.Mnemonic, "CHRONOLOCK_MNEMONIC")
	set(&c.Log.Level, "CHRONOLOCK_LOG_LEVEL")
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Store.GetBackend() {
	case BackendSQLite:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store backend %q requires redis_url", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// GetBackend returns the backend or the default value.
func (s StoreConfig) GetBackend() string {
	if s.Backend == "" {
		return BackendSQLite
	}
	return strings.ToLower(s.Backend)
}

// GetPath returns the SQLite path or the default value.
func (s StoreConfig) GetPath() string {
	if s.Path == "" {
		return filepath.Join(Dir(), "memories.db")
	}
	return s.Path
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetUploadTimeout parses the upload timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (i IPFSConfig) GetUploadTimeout() time.Duration {
	return parseDuration(i.UploadTimeout, 60*time.Second)
}

// GetRetrieveTimeout parses the retrieve timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (i IPFSConfig) GetRetrieveTimeout() time.Duration {
	return parseDuration(i.RetrieveTimeout, 30*time.Second)
}

// GetReadTimeout returns the per-call ledger timeout or the default value.
func (l LedgerConfig) GetReadTimeout() time.Duration {
	return parseDuration(l.ReadTimeout, 30*time.Second)
}

// GetConfirmTimeout returns the confirmation timeout or the default value.
func (l LedgerConfig) GetConfirmTimeout() time.Duration {
	return parseDuration(l.ConfirmTimeout, 60*time.Second)
}

// SlogLevel maps Level to a slog.Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
