// Package token reads the claims of compact JWT access tokens.
//
// Claims are decoded without signature verification: the issuing server signs
// and verifies, this client only reads expiry and identity for session
// decisions. All functions are pure and never panic on malformed input.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

var parser = jwt.NewParser()

// DecodeClaims returns the claims of tok, or nil and false when tok is not a
// three-segment token with a decodable claims segment.
func DecodeClaims(tok string) (*authsession.Claims, bool) {
	m, ok := decode(tok)
	if !ok {
		return nil, false
	}
	return mapToClaims(m), true
}

// IsExpired reports whether tok is expired at now. A token whose claims cannot
// be read, or that carries no expiry, is treated as expired. Expiry is inclusive:
// a token is expired at exactly its exp second.
func IsExpired(tok string, now time.Time) bool {
	exp, ok := ExpiresAt(tok)
	if !ok {
		return true
	}
	return !now.Before(exp)
}

// ExpiresWithin reports whether tok expires within threshold of now.
// Unreadable tokens report true.
func ExpiresWithin(tok string, now time.Time, threshold time.Duration) bool {
	exp, ok := ExpiresAt(tok)
	if !ok {
		return true
	}
	return exp.Sub(now) <= threshold
}

// ExpiresAt returns the exp claim of tok.
func ExpiresAt(tok string) (time.Time, bool) {
	m, ok := decode(tok)
	if !ok {
		return time.Time{}, false
	}
	exp, err := m.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Encode signs claims with HS256. Only the in-memory issuer used by tests and
// local development mints tokens; production tokens come from the auth API.
func Encode(c authsession.Claims, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("authsession/token: empty signing key")
	}

	m := jwt.MapClaims{}
	for k, v := range c.Extra {
		m[k] = v
	}
	if c.Subject != "" {
		m["sub"] = c.Subject
	}
	if c.TenantID != "" {
		m["tenantId"] = c.TenantID
	}
	if c.Email != "" {
		m["email"] = c.Email
	}
	if c.Role != "" {
		m["role"] = string(c.Role)
	}
	if !c.IssuedAt.IsZero() {
		m["iat"] = c.IssuedAt.Unix()
	}
	if !c.ExpiresAt.IsZero() {
		m["exp"] = c.ExpiresAt.Unix()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, m).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("authsession/token: sign: %w", err)
	}
	return signed, nil
}

func decode(tok string) (jwt.MapClaims, bool) {
	if tok == "" {
		return nil, false
	}
	m := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tok, m); err != nil {
		return nil, false
	}
	return m, true
}

// standardClaims are read into typed fields; everything else goes to Extra.
var standardClaims = map[string]bool{
	"sub": true, "userId": true, "tenantId": true, "tenant_id": true,
	"email": true, "role": true, "exp": true, "iat": true,
}

func mapToClaims(m jwt.MapClaims) *authsession.Claims {
	c := &authsession.Claims{
		Extra: make(map[string]any),
	}

	if v, ok := m["sub"].(string); ok {
		c.Subject = v
	} else if v, ok := m["userId"].(string); ok {
		c.Subject = v
	}
	if v, ok := m["tenantId"].(string); ok {
		c.TenantID = v
	} else if v, ok := m["tenant_id"].(string); ok {
		c.TenantID = v
	}
	if v, ok := m["email"].(string); ok {
		c.Email = v
	}
	if v, ok := m["role"].(string); ok {
		c.Role = authsession.ParseRole(v)
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}

	for k, v := range m {
		if !standardClaims[k] {
			c.Extra[k] = v
		}
	}
	return c
}
