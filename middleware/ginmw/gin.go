// Package ginmw provides Gin HTTP middleware that guards routes with the
// local session.
//
// The guards only read the session's claims for routing decisions; the auth
// API remains the authority for every request made with the token.
package ginmw

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

// Context keys for storing session data in gin.Context.
const (
	KeyUserID   = "authsession_user_id"
	KeyTenantID = "authsession_tenant_id"
	KeyRole     = "authsession_role"
	KeyEmail    = "authsession_email"
	KeyClaims   = "authsession_claims"
)

// ClaimsSource reports the claims of the current session.
// *session.Service satisfies it.
type ClaimsSource interface {
	Claims(ctx context.Context) (*authsession.Claims, bool)
}

// RequireSession returns Gin middleware that responds 401 unless a session
// with an unexpired access token exists. On success the claims are stored in
// the Gin context and in the request context (authsession.ClaimsFromContext).
func RequireSession(src ClaimsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if loadSession(c, src) == nil {
			return
		}
		c.Next()
	}
}

// RequireRole returns Gin middleware that responds 401 without a session and
// 403 when the session role ranks below min.
func RequireRole(src ClaimsSource, min authsession.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			if claims = loadSession(c, src); claims == nil {
				return
			}
		}

		if !claims.Role.AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role", "required": string(min)})
			return
		}

		c.Next()
	}
}

// --- Context helpers ---

// GetUserID returns the session user ID from the Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(KeyUserID)
}

// GetTenantID returns the tenant ID from the Gin context.
func GetTenantID(c *gin.Context) string {
	return c.GetString(KeyTenantID)
}

// GetRole returns the session role from the Gin context.
func GetRole(c *gin.Context) authsession.Role {
	v, _ := c.Get(KeyRole)
	r, _ := v.(authsession.Role)
	return r
}

// GetEmail returns the session email from the Gin context.
func GetEmail(c *gin.Context) string {
	return c.GetString(KeyEmail)
}

// GetClaims returns the full claims from the Gin context.
func GetClaims(c *gin.Context) *authsession.Claims {
	v, _ := c.Get(KeyClaims)
	cl, _ := v.(*authsession.Claims)
	return cl
}

// --- internal helpers ---

// loadSession stores the session claims in c, or aborts with 401 and returns nil.
func loadSession(c *gin.Context, src ClaimsSource) *authsession.Claims {
	claims, ok := src.Claims(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no active session"})
		return nil
	}

	c.Set(KeyClaims, claims)
	c.Set(KeyUserID, claims.Subject)
	c.Set(KeyTenantID, claims.TenantID)
	c.Set(KeyRole, claims.Role)
	c.Set(KeyEmail, claims.Email)
	c.Request = c.Request.WithContext(authsession.WithClaims(c.Request.Context(), claims))
	return claims
}
