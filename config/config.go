// Package config loads authctl configuration from YAML and environment
// variables with a predictable priority.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/store"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "AUTHCTL_CONFIG"

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "authctl.yaml"

// Config is the root configuration.
// Sources, highest priority first:
//  1. explicit path (--config);
//  2. the path in AUTHCTL_CONFIG;
//  3. ./authctl.yaml;
//  4. environment variables only.
//
// Environment variables are always overlaid on values read from a file.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Chat    ChatConfig    `yaml:"chat"`
	Refresh RefreshConfig `yaml:"refresh"`
	Storage store.Config  `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
}

// APIConfig points at the REST auth API.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url" env:"AUTHCTL_API_URL" env-required:"true"`
	Timeout   time.Duration `yaml:"timeout" env:"AUTHCTL_API_TIMEOUT" env-default:"10s"`
	UserAgent string        `yaml:"user_agent" env:"AUTHCTL_USER_AGENT" env-default:"authctl"`
}

// ChatConfig points at the chat workflow webhook.
type ChatConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"AUTHCTL_CHAT_WEBHOOK_URL"`
}

// RefreshConfig tunes the refresh coordinator.
type RefreshConfig struct {
	Buffer      time.Duration `yaml:"buffer" env:"AUTHCTL_REFRESH_BUFFER" env-default:"5m"`
	MinInterval time.Duration `yaml:"min_interval" env:"AUTHCTL_REFRESH_MIN_INTERVAL" env-default:"30s"`
	MaxRetries  int           `yaml:"max_retries" env:"AUTHCTL_REFRESH_MAX_RETRIES" env-default:"3"`
	BaseBackoff time.Duration `yaml:"base_backoff" env:"AUTHCTL_REFRESH_BASE_BACKOFF" env-default:"1s"`
	MaxBackoff  time.Duration `yaml:"max_backoff" env:"AUTHCTL_REFRESH_MAX_BACKOFF" env-default:"10s"`
}

// LogConfig selects the log level and format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level" env:"AUTHCTL_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"AUTHCTL_LOG_FORMAT" env-default:"text"`
}

// ServerConfig is the listen address of the local dashboard.
type ServerConfig struct {
	Host string `yaml:"host" env:"AUTHCTL_SERVER_HOST" env-default:"127.0.0.1"`
	Port string `yaml:"port" env:"AUTHCTL_SERVER_PORT" env-default:"8787"`
}

// Addr returns the address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// Session returns the session settings as an authsession.Config.
func (c *Config) Session() authsession.Config {
	return authsession.Config{
		BaseURL:            c.API.BaseURL,
		ChatWebhookURL:     c.Chat.WebhookURL,
		RefreshBuffer:      c.Refresh.Buffer,
		MinRefreshInterval: c.Refresh.MinInterval,
		MaxRetries:         c.Refresh.MaxRetries,
		RequestTimeout:     c.API.Timeout,
	}
}

// NewLogger builds a slog.Logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration by priority: explicit path, AUTHCTL_CONFIG,
// ./authctl.yaml, then environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		// ReadConfig overlays the environment after parsing the file.
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", p, err)
		}
		return &cfg, nil
	}

	var (
		loaded *Config
		err    error
	)
	switch {
	case path != "":
		loaded, err = tryRead(path)
	case os.Getenv(EnvPath) != "":
		loaded, err = tryRead(os.Getenv(EnvPath))
	default:
		if _, statErr := os.Stat(DefaultFile); statErr == nil {
			loaded, err = tryRead(DefaultFile)
		} else if err = cleanenv.ReadEnv(&cfg); err != nil {
			err = fmt.Errorf("config not found: provide --config, %s, %s or env vars: %w", EnvPath, DefaultFile, err)
		} else {
			loaded = &cfg
		}
	}
	if err != nil {
		return nil, err
	}

	if err := loaded.validate(); err != nil {
		return nil, err
	}
	return loaded, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("config: api.base_url (AUTHCTL_API_URL) is required")
	}
	if c.Refresh.MaxRetries < 1 {
		return fmt.Errorf("config: refresh.max_retries must be at least 1, got %d", c.Refresh.MaxRetries)
	}
	return nil
}

// Usage returns the environment variable help text.
func Usage() string {
	var cfg Config
	var b strings.Builder
	cleanenv.FUsage(&b, &cfg, nil)()
	return b.String()
}
