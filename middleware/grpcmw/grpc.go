// Package grpcmw provides gRPC client interceptors that authenticate outgoing
// calls with the session's access token.
//
// Use this package for gRPC clients that do NOT use Kratos.
// For Kratos-based clients, use kratosmw instead.
package grpcmw

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

// AuthOption configures auth interceptor behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedMethods map[string]bool
}

// WithExcludedMethods sets gRPC methods that are sent without a token.
// Methods should be fully qualified (e.g. "/package.Service/Method").
func WithExcludedMethods(methods ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, m := range methods {
			cfg.excludedMethods[m] = true
		}
	}
}

func newConfig(opts []AuthOption) *authConfig {
	cfg := &authConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// UnaryClientAuth returns a unary client interceptor that attaches the bearer
// token to outgoing metadata. When the server answers Unauthenticated, it
// refreshes through src and retries the call once.
func UnaryClientAuth(src authsession.TokenSource, opts ...AuthOption) grpc.UnaryClientInterceptor {
	cfg := newConfig(opts)

	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		if cfg.excludedMethods[method] {
			return invoker(ctx, method, req, reply, cc, callOpts...)
		}

		tok, err := src.EnsureValidToken(ctx)
		if err != nil {
			return sessionError(err)
		}

		err = invoker(withBearer(ctx, tok), method, req, reply, cc, callOpts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}

		fresh, rerr := src.Refresh(ctx)
		if rerr != nil || fresh == "" || fresh == tok {
			return err
		}
		return invoker(withBearer(ctx, fresh), method, req, reply, cc, callOpts...)
	}
}

// StreamClientAuth returns a stream client interceptor that attaches the
// bearer token. Streams are not retried.
func StreamClientAuth(src authsession.TokenSource, opts ...AuthOption) grpc.StreamClientInterceptor {
	cfg := newConfig(opts)

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
		if cfg.excludedMethods[method] {
			return streamer(ctx, desc, cc, method, callOpts...)
		}

		tok, err := src.EnsureValidToken(ctx)
		if err != nil {
			return nil, sessionError(err)
		}
		return streamer(withBearer(ctx, tok), desc, cc, method, callOpts...)
	}
}

// --- internal helpers ---

// sessionError maps a token source failure to a status. Cancellation and
// deadlines keep their own codes.
func sessionError(err error) error {
	if s := status.FromContextError(err); s.Code() != codes.Unknown {
		return s.Err()
	}
	return status.Errorf(codes.Unauthenticated, "no valid session: %v", err)
}

func withBearer(ctx context.Context, tok string) context.Context {
	if tok == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}
