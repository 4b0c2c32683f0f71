// Package kratosmw provides Kratos client middleware that authenticates
// outgoing requests with the session's access token. Works with both Kratos
// HTTP and gRPC client transports.
package kratosmw

import (
	"context"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

// AuthOption configures Client middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedOperations map[string]bool
}

// WithExcludedOperations sets operations that are sent without a token
// (e.g. health checks). Operations are matched by transport.Operation().
func WithExcludedOperations(ops ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, op := range ops {
			cfg.excludedOperations[op] = true
		}
	}
}

// Client returns Kratos client-side middleware that sets the Authorization
// header from src. When the call fails with Unauthorized it refreshes through
// src and retries once.
func Client(src authsession.TokenSource, opts ...AuthOption) middleware.Middleware {
	cfg := &authConfig{excludedOperations: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			tr, ok := transport.FromClientContext(ctx)
			if !ok {
				return handler(ctx, req)
			}
			if cfg.excludedOperations[tr.Operation()] {
				return handler(ctx, req)
			}

			token, err := src.EnsureValidToken(ctx)
			if err != nil {
				return nil, errors.Unauthorized("UNAUTHORIZED", "no valid session")
			}
			setBearer(tr, token)

			reply, err := handler(ctx, req)
			if !errors.IsUnauthorized(err) {
				return reply, err
			}

			fresh, rerr := src.Refresh(ctx)
			if rerr != nil || fresh == "" || fresh == token {
				return reply, err
			}
			setBearer(tr, fresh)
			return handler(ctx, req)
		}
	}
}

// --- internal helpers ---

func setBearer(tr transport.Transporter, token string) {
	if token == "" {
		return
	}
	tr.RequestHeader().Set("Authorization", "Bearer "+token)
}
