// Package bff serves the local dashboard API on top of the session stack.
package bff

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/middleware/ginmw"
)

// Handler holds the dashboard dependencies.
type Handler struct {
	sessions authsession.SessionService
	chat     authsession.ChatService
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Handler.
type Option func(*Handler)

// WithChat enables POST /api/chat.
func WithChat(ch authsession.ChatService) Option {
	return func(h *Handler) { h.chat = ch }
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewRouter returns a gin engine serving:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /api/session      (session required)
//	GET  /api/me           (session required)
//	POST /api/chat         (session required)
//	GET  /api/admin/ping   (ADMIN or above)
func NewRouter(sessions authsession.SessionService, opts ...Option) *gin.Engine {
	h := &Handler{
		sessions: sessions,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}

	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api", ginmw.RequireSession(sessions))
	api.GET("/session", h.Session)
	api.GET("/me", h.Me)
	api.POST("/chat", h.Chat)
	api.GET("/admin/ping", ginmw.RequireRole(sessions, authsession.RoleAdmin), h.AdminPing)

	return r
}

// Healthz reports liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Session returns the claims of the current session.
func (h *Handler) Session(c *gin.Context) {
	claims := ginmw.GetClaims(c)
	c.JSON(http.StatusOK, gin.H{
		"userId":    claims.Subject,
		"tenantId":  claims.TenantID,
		"email":     claims.Email,
		"role":      claims.Role,
		"expiresAt": claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Me returns the profile of the session user from the auth API.
func (h *Handler) Me(c *gin.Context) {
	u, err := h.sessions.CurrentUser(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

// Chat forwards a message to the chat webhook.
func (h *Handler) Chat(c *gin.Context) {
	if h.chat == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "chat is not configured"})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	reply, err := h.chat.Send(c.Request.Context(), req.Message)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// AdminPing is a role-gated probe.
func (h *Handler) AdminPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pong": true, "role": ginmw.GetRole(c)})
}

// writeError maps err onto a status code.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, authsession.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, authsession.ErrNoSession),
		errors.Is(err, authsession.ErrSessionExpired),
		errors.Is(err, authsession.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, authsession.ErrRateLimited),
		errors.Is(err, authsession.ErrRefreshThrottled):
		status = http.StatusTooManyRequests
	}

	h.logger.Warn("dashboard request failed", "path", c.FullPath(), "status", status, "error", err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("dashboard request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
