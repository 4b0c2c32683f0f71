package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/metrics"
)

// Type selects a substrate.
type Type string

const (
	TypeMemory Type = "memory"
	TypeFile   Type = "file"
	TypeRedis  Type = "redis"
)

// Config describes a token store.
type Config struct {
	Type Type `yaml:"type" env:"AUTHCTL_STORAGE_TYPE" env-default:"file"`

	// Path is the token file for TypeFile. Default: <user config dir>/authctl/tokens.yaml.
	Path string `yaml:"path" env:"AUTHCTL_STORAGE_PATH"`

	// Plaintext disables encryption at rest. Otherwise file and Redis values
	// are sealed with the key at KeyPath. The memory substrate is never sealed.
	Plaintext bool `yaml:"plaintext" env:"AUTHCTL_STORAGE_PLAINTEXT"`

	// KeyPath is the key file. Default: <user config dir>/authctl/token.key.
	KeyPath string `yaml:"key_path" env:"AUTHCTL_STORAGE_KEY_PATH"`

	Redis RedisConfig `yaml:"redis"`
}

// DefaultDir returns the per-user directory holding token and key files.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "authctl")
}

// Open builds a Store from cfg. Key material problems disable encryption
// instead of failing; substrate connection problems are returned.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var sub Substrate
	switch cfg.Type {
	case TypeMemory:
		sub = NewMemory()
	case TypeFile, "":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(DefaultDir(), "tokens.yaml")
		}
		sub = NewFile(path)
	case TypeRedis:
		r, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		sub = r
	default:
		return nil, fmt.Errorf("authsession/store: unsupported store type: %s", cfg.Type)
	}

	opts := []Option{WithLogger(logger), WithMetrics(m)}
	if !cfg.Plaintext && cfg.Type != TypeMemory {
		keyPath := cfg.KeyPath
		if keyPath == "" {
			keyPath = filepath.Join(DefaultDir(), "token.key")
		}
		key, err := LoadOrCreateKey(keyPath)
		if err != nil {
			logger.Warn("token key unavailable, storing plain values", "error", err)
		} else {
			opts = append(opts, WithEncryptionKey(key))
		}
	}
	return New(sub, opts...), nil
}
