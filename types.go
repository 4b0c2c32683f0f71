package authsession

import (
	"strings"
	"time"
)

// TokenPair is the access/refresh token pair issued by the auth API.
// Both tokens are compact JWS strings; only the access token's claims are read locally.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether neither token is set.
func (p TokenPair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Claims represents the claims decoded from an access token.
// Claims are read for display and routing decisions only; the server verifies signatures.
type Claims struct {
	Subject   string
	TenantID  string
	Email     string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

// Role is a user role. Roles form a total order: MEMBER < ADMIN < MASTER.
type Role string

const (
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
	RoleMaster Role = "MASTER"
)

// ParseRole normalizes s into a Role. Unknown values are returned upper-cased
// and rank below every known role.
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

// Rank returns the position of r in the role order, or 0 for unknown roles.
func (r Role) Rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleAdmin:
		return 2
	case RoleMaster:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether r is a known role ranked at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() > 0 && r.Rank() >= min.Rank()
}

// User is the user profile returned by the auth API.
type User struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Role          Role   `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
}

// Credentials holds login input.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenantId,omitempty"`
}

// RegisterRequest holds registration input.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	TenantName string `json:"tenantName,omitempty"`
}

// AuthResult is the outcome of login, registration and email verification.
// Tokens is nil when the server did not open a session (e.g. verification pending).
type AuthResult struct {
	User                 *User
	Tokens               *TokenPair
	RequiresVerification bool
	Message              string
}
