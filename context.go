package authsession

import "context"

type ctxKey string

const (
	ctxKeyClaims      ctxKey = "authsession_claims"
	ctxKeyAccessToken ctxKey = "authsession_access_token"
)

// WithClaims stores decoded token claims in the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// ClaimsFromContext extracts decoded token claims from the context.
func ClaimsFromContext(ctx context.Context) *Claims {
	v, _ := ctx.Value(ctxKeyClaims).(*Claims)
	return v
}

// WithAccessToken stores the access token used for the current call in the context.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeyAccessToken, token)
}

// AccessTokenFromContext extracts the access token from the context.
func AccessTokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyAccessToken).(string)
	return v
}
