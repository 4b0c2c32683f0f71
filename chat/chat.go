// Package chat implements authsession.ChatService over a workflow webhook.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/metrics"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/transport"
)

// replyFields are checked in order for the reply text.
var replyFields = []string{"output", "reply", "message", "text"}

// ClaimsSource reports the claims of the current session.
type ClaimsSource interface {
	Claims(ctx context.Context) (*authsession.Claims, bool)
}

// Client posts chat messages to the webhook on behalf of the session user.
type Client struct {
	webhookURL string
	httpClient *http.Client
	claims     ClaimsSource
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	sessionID string
}

// compile-time check
var _ authsession.ChatService = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. It replaces the authenticated client
// built from the token source.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithClaims sets where the user ID and email in each message come from.
func WithClaims(src ClaimsSource) Option {
	return func(cl *Client) { cl.claims = src }
}

// WithSessionID pins the conversation ID instead of generating one.
func WithSessionID(id string) Option {
	return func(cl *Client) { cl.sessionID = id }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// New creates a chat client. Requests are authenticated through src when it
// is non-nil.
func New(webhookURL string, src authsession.TokenSource, opts ...Option) *Client {
	c := &Client{
		webhookURL: webhookURL,
		logger:     slog.Default(),
	}
	if src != nil {
		c.httpClient = transport.NewClient(src)
		c.httpClient.Timeout = authsession.DefaultRequestTimeout
	} else {
		c.httpClient = &http.Client{Timeout: authsession.DefaultRequestTimeout}
	}
	for _, o := range opts {
		o(c)
	}
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	return c
}

// SessionID returns the current conversation ID.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Reset starts a new conversation and returns its ID.
func (c *Client) Reset() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = uuid.NewString()
	return c.sessionID
}

type message struct {
	SessionID string `json:"sessionId"`
	ChatInput string `json:"chatInput"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Send posts input to the webhook and returns the reply text.
func (c *Client) Send(ctx context.Context, input string) (string, error) {
	reply, err := c.send(ctx, input)
	c.metrics.RecordChatMessage(err)
	return reply, err
}

func (c *Client) send(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", &authsession.ValidationError{Fields: map[string]string{"chatInput": "is required"}}
	}

	msg := message{SessionID: c.SessionID(), ChatInput: input}
	if c.claims != nil {
		if cl, ok := c.claims.Claims(ctx); ok {
			msg.UserID = cl.Subject
			msg.Email = cl.Email
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("authsession/chat: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("authsession/chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &authsession.NetworkError{Op: "chat", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &authsession.NetworkError{Op: "chat", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &authsession.HTTPError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	reply := ParseReply(raw)
	c.logger.Debug("chat reply received", "session", msg.SessionID, "bytes", len(raw))
	return reply, nil
}

// ParseReply extracts the reply text from a webhook response. It accepts an
// object carrying one of output, reply, message or text, an array whose first
// element does, or a plain-text body.
func ParseReply(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		return fromObject(obj)
	}

	var arr []map[string]any
	if err := json.Unmarshal(trimmed, &arr); err == nil {
		if len(arr) == 0 {
			return ""
		}
		return fromObject(arr[0])
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

func fromObject(obj map[string]any) string {
	for _, f := range replyFields {
		if s, ok := obj[f].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
