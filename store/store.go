// Package store persists the access/refresh token pair on a pluggable
// key-value substrate, optionally encrypted at rest.
//
// Storage failures never reach callers: they are logged, counted and turned
// into empty values or no-ops, so a broken disk degrades to "log in again"
// instead of failing the session.
package store

import (
	"context"
	"io"
	"log/slog"
	"sync"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/metrics"
)

// Default substrate keys.
const (
	AccessKey  = "accessToken"
	RefreshKey = "refreshToken"
)

// Store implements authsession.TokenStore.
type Store struct {
	sub     Substrate
	sealer  Sealer
	logger  *slog.Logger
	metrics *metrics.Metrics

	accessKey  string
	refreshKey string

	// serializes writers so a rollback restores the values it read
	mu sync.Mutex
}

// compile-time check
var _ authsession.TokenStore = (*Store)(nil)

// Option configures the Store.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sealer     Sealer
	key        []byte
	accessKey  string
	refreshKey string
}

// WithLogger sets the logger used for swallowed storage failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEncryptionKey enables encryption at rest with the given key material.
// If the cipher cannot be built the store falls back to plain values.
func WithEncryptionKey(key []byte) Option {
	return func(o *options) { o.key = key }
}

// WithSealer sets the sealer directly, overriding WithEncryptionKey.
func WithSealer(s Sealer) Option {
	return func(o *options) { o.sealer = s }
}

// WithKeys overrides the substrate keys for the two tokens.
func WithKeys(access, refresh string) Option {
	return func(o *options) {
		o.accessKey = access
		o.refreshKey = refresh
	}
}

// New creates a token store on sub.
func New(sub Substrate, opts ...Option) *Store {
	o := options{
		logger:     slog.Default(),
		accessKey:  AccessKey,
		refreshKey: RefreshKey,
	}
	for _, fn := range opts {
		fn(&o)
	}

	s := &Store{
		sub:        sub,
		logger:     o.logger,
		metrics:    o.metrics,
		accessKey:  o.accessKey,
		refreshKey: o.refreshKey,
	}
	s.sealer = o.sealer
	if s.sealer == nil {
		s.sealer = selectSealer(o.key, o.logger)
	}
	return s
}

func selectSealer(key []byte, logger *slog.Logger) Sealer {
	if len(key) == 0 {
		return PlainSealer{}
	}
	sealer, err := NewEncryptedSealer(key)
	if err != nil {
		logger.Warn("token encryption unavailable, storing plain values", "error", err)
		return PlainSealer{}
	}
	return sealer
}

// Encrypted reports whether values are encrypted at rest.
func (s *Store) Encrypted() bool { return s.sealer.Encrypted() }

// Save writes both tokens together. An empty token removes its entry.
// Saving two empty tokens does nothing.
func (s *Store) Save(ctx context.Context, accessToken, refreshToken string) {
	if accessToken == "" && refreshToken == "" {
		return
	}

	access, err := s.seal(accessToken)
	if err != nil {
		s.fail("save", err)
		return
	}
	refresh, err := s.seal(refreshToken)
	if err != nil {
		s.fail("save", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if batch, ok := s.sub.(BatchSubstrate); ok {
		if err := batch.SetMany(ctx, map[string]string{s.accessKey: access, s.refreshKey: refresh}); err != nil {
			s.fail("save", err)
		}
		return
	}
	s.saveSequential(ctx, access, refresh)
}

// saveSequential writes access then refresh, restoring the previous access
// value if the second write fails.
func (s *Store) saveSequential(ctx context.Context, access, refresh string) {
	prev, hadPrev, err := s.sub.Get(ctx, s.accessKey)
	if err != nil {
		s.fail("save", err)
		return
	}

	if err := s.put(ctx, s.accessKey, access); err != nil {
		s.fail("save", err)
		return
	}
	if err := s.put(ctx, s.refreshKey, refresh); err != nil {
		s.fail("save", err)

		var rbErr error
		if hadPrev {
			rbErr = s.sub.Set(ctx, s.accessKey, prev)
		} else {
			rbErr = s.sub.Delete(ctx, s.accessKey)
		}
		if rbErr != nil {
			// Neither pair is trustworthy now; drop both.
			s.fail("rollback", rbErr)
			_ = s.sub.Delete(ctx, s.accessKey, s.refreshKey)
		}
	}
}

func (s *Store) put(ctx context.Context, key, value string) error {
	if value == "" {
		return s.sub.Delete(ctx, key)
	}
	return s.sub.Set(ctx, key, value)
}

// Load returns the stored pair. Missing or unreadable values are empty.
func (s *Store) Load(ctx context.Context) authsession.TokenPair {
	return authsession.TokenPair{
		AccessToken:  s.get(ctx, s.accessKey),
		RefreshToken: s.get(ctx, s.refreshKey),
	}
}

func (s *Store) get(ctx context.Context, key string) string {
	v, ok, err := s.sub.Get(ctx, key)
	if err != nil {
		s.fail("load", err)
		return ""
	}
	if !ok || v == "" {
		return ""
	}
	plain, err := s.sealer.Open(v)
	if err != nil {
		s.fail("open", err)
		return ""
	}
	return plain
}

// Clear removes both tokens.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sub.Delete(ctx, s.accessKey, s.refreshKey); err != nil {
		s.fail("clear", err)
	}
}

// Close closes the substrate if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.sub.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) seal(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return s.sealer.Seal(v)
}

func (s *Store) fail(op string, err error) {
	s.logger.Warn("token storage failure", "op", op, "error", err)
	s.metrics.RecordStorageError(op)
}
