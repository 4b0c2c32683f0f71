// Package authsession provides a client-side auth session SDK for Go programs
// that talk to a REST auth API.
//
// The SDK defines the collaborators of a session (auth API, token store,
// token source, session service, chat client). Concrete implementations live
// in subpackages and are injected via Option functions.
//
// Example usage:
//
//	api := authhttp.New(cfg.BaseURL)
//	st := store.New(store.NewMemory())
//	coord := refresh.New(api, st)
//	client, err := authsession.NewClient(
//	    authsession.Config{BaseURL: "https://api.example.com"},
//	    authsession.WithAuthAPI(api),
//	    authsession.WithTokenStore(st),
//	    authsession.WithTokenSource(coord),
//	)
package authsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Default session tuning values.
const (
	DefaultRefreshBuffer      = 5 * time.Minute
	DefaultMinRefreshInterval = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRequestTimeout     = 10 * time.Second
)

// Client is the main entry point for session operations.
// Service implementations are injected via Option functions.
type Client struct {
	config   Config
	logger   *slog.Logger
	api      AuthAPI
	store    TokenStore
	source   TokenSource
	sessions SessionService
	chat     ChatService
}

// Config holds connection and behavior configuration.
type Config struct {
	// BaseURL is the root URL of the auth API, e.g. "https://api.example.com".
	BaseURL string

	// ChatWebhookURL is the workflow webhook that receives chat messages. Optional.
	ChatWebhookURL string

	// RefreshBuffer is how long before expiry an access token is refreshed. Default: 5 minutes.
	RefreshBuffer time.Duration

	// MinRefreshInterval is the minimum time between two refresh attempts. Default: 30 seconds.
	MinRefreshInterval time.Duration

	// MaxRetries bounds the attempts of a single refresh. Default: 3.
	MaxRetries int

	// RequestTimeout applies to every call to the auth API. Default: 10 seconds.
	RequestTimeout time.Duration
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAuthAPI sets the auth API implementation.
func WithAuthAPI(a AuthAPI) Option {
	return func(c *Client) { c.api = a }
}

// WithTokenStore sets the token persistence implementation.
func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.store = s }
}

// WithTokenSource sets the token source used by outbound transports.
func WithTokenSource(s TokenSource) Option {
	return func(c *Client) { c.source = s }
}

// WithSessions sets the session service.
func WithSessions(s SessionService) Option {
	return func(c *Client) { c.sessions = s }
}

// WithChat sets the chat client.
func WithChat(ch ChatService) Option {
	return func(c *Client) { c.chat = ch }
}

// NewClient creates a new session client with the given configuration and options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("authsession: BaseURL is required")
	}
	cfg.applyDefaults()

	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = DefaultRefreshBuffer
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = DefaultMinRefreshInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// API returns the auth API, or nil if not configured.
func (c *Client) API() AuthAPI { return c.api }

// Store returns the token store, or nil if not configured.
func (c *Client) Store() TokenStore { return c.store }

// Tokens returns the token source, or nil if not configured.
func (c *Client) Tokens() TokenSource { return c.source }

// Sessions returns the session service, or nil if not configured.
func (c *Client) Sessions() SessionService { return c.sessions }

// Chat returns the chat client, or nil if not configured.
func (c *Client) Chat() ChatService { return c.chat }

// HealthCheck verifies the client is wired well enough to open a session.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.api == nil {
		return errors.New("authsession: no auth API configured")
	}
	if c.store == nil {
		return errors.New("authsession: no token store configured")
	}
	return nil
}

// Close releases all resources held by the client.
// Any injected collaborator that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []any{c.sessions, c.chat, c.source, c.store, c.api}
	var errs []error
	for _, svc := range closers {
		cl, ok := svc.(io.Closer)
		if !ok || cl == nil {
			continue
		}
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
