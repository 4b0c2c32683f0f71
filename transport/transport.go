// Package transport provides an http.RoundTripper that authenticates outbound
// requests with the session's access token.
package transport

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

// Transport attaches "Authorization: Bearer <token>" to each request. On a 401
// it refreshes once through the token source and replays the request with the
// new token when the body can be replayed.
type Transport struct {
	src    authsession.TokenSource
	base   http.RoundTripper
	logger *slog.Logger
}

// compile-time check
var _ http.RoundTripper = (*Transport)(nil)

// Option configures the Transport.
type Option func(*Transport)

// WithBase sets the underlying RoundTripper. Default: http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New wraps base with session authentication from src.
func New(src authsession.TokenSource, opts ...Option) *Transport {
	t := &Transport{
		src:    src,
		base:   http.DefaultTransport,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NewClient returns an *http.Client using a Transport over src.
func NewClient(src authsession.TokenSource, opts ...Option) *http.Client {
	return &http.Client{Transport: New(src, opts...)}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.src.EnsureValidToken(req.Context())
	if err != nil {
		return nil, fmt.Errorf("authsession/transport: %w", err)
	}

	resp, err := t.base.RoundTrip(authorize(req, tok))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	fresh, rerr := t.src.Refresh(req.Context())
	if rerr != nil || fresh == "" || fresh == tok {
		if rerr != nil {
			t.logger.Debug("refresh after 401 failed", "url", req.URL.Redacted(), "error", rerr)
		}
		return resp, nil
	}

	replay := authorize(req, fresh)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		replay.Body = body
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return t.base.RoundTrip(replay)
}

// authorize clones req with the bearer token set. RoundTrippers must not
// modify the caller's request.
func authorize(req *http.Request, tok string) *http.Request {
	r := req.Clone(req.Context())
	if tok != "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	return r
}
