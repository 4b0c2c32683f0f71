// Package authhttp implements authsession.AuthAPI against the REST auth API.
//
// Every endpoint answers with the envelope
//
//	{"success": bool, "data": {...}, "error": {"code": "...", "message": "...", "details": {...}}}
//
// Transport failures surface as *authsession.NetworkError; non-2xx responses
// and success:false envelopes as *authsession.HTTPError.
package authhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

// Endpoint paths relative to the base URL.
const (
	PathRegister       = "/auth/register"
	PathLogin          = "/auth/login"
	PathRefresh        = "/auth/refresh"
	PathLogout         = "/auth/logout"
	PathVerifyEmail    = "/auth/verify-email"
	PathForgotPassword = "/auth/forgot-password"
	PathResetPassword  = "/auth/reset-password"
	PathMe             = "/auth/me"
)

// maxBody caps how much of a response body is read.
const maxBody = 1 << 20

// Client implements authsession.AuthAPI over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// compile-time check
var _ authsession.AuthAPI = (*Client)(nil)

// ErrNoAccessToken is returned when a successful refresh response carries no
// access token. Retrying the same refresh token would not change the answer.
var ErrNoAccessToken = errors.New("authsession/authhttp: refresh response carried no access token")

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a REST auth client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: authsession.DefaultRequestTimeout},
		userAgent:  "authsession-go",
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// envelope is the response wrapper shared by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// authData is the data payload of register, login and verify-email.
// Tokens may come flat or nested under "tokens".
type authData struct {
	User                 *authsession.User      `json:"user"`
	AccessToken          string                 `json:"accessToken"`
	RefreshToken         string                 `json:"refreshToken"`
	Tokens               *authsession.TokenPair `json:"tokens"`
	RequiresVerification bool                   `json:"requiresVerification"`
	Message              string                 `json:"message"`
}

func (d *authData) result() *authsession.AuthResult {
	res := &authsession.AuthResult{
		User:                 d.User,
		RequiresVerification: d.RequiresVerification,
		Message:              d.Message,
	}
	switch {
	case d.Tokens != nil && d.Tokens.AccessToken != "":
		res.Tokens = d.Tokens
	case d.AccessToken != "":
		res.Tokens = &authsession.TokenPair{AccessToken: d.AccessToken, RefreshToken: d.RefreshToken}
	}
	return res
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req authsession.RegisterRequest) (*authsession.AuthResult, error) {
	var data authData
	if err := c.do(ctx, "register", http.MethodPost, PathRegister, "", req, &data); err != nil {
		return nil, err
	}
	return data.result(), nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds authsession.Credentials) (*authsession.AuthResult, error) {
	var data authData
	if err := c.do(ctx, "login", http.MethodPost, PathLogin, "", creds, &data); err != nil {
		return nil, err
	}
	return data.result(), nil
}

// Refresh exchanges a refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*authsession.TokenPair, error) {
	var data authData
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, "refresh", http.MethodPost, PathRefresh, "", body, &data); err != nil {
		return nil, err
	}

	res := data.result()
	if res.Tokens == nil {
		return nil, ErrNoAccessToken
	}
	return res.Tokens, nil
}

// Logout invalidates refreshToken server-side.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	var body any
	if refreshToken != "" {
		body = map[string]string{"refreshToken": refreshToken}
	}
	return c.do(ctx, "logout", http.MethodPost, PathLogout, "", body, nil)
}

// VerifyEmail confirms an email verification token.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*authsession.AuthResult, error) {
	var data authData
	body := map[string]string{"token": token}
	if err := c.do(ctx, "verify-email", http.MethodPost, PathVerifyEmail, "", body, &data); err != nil {
		return nil, err
	}
	return data.result(), nil
}

// ForgotPassword starts the password reset flow.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, "forgot-password", http.MethodPost, PathForgotPassword, "", body, nil)
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	body := map[string]string{"token": token, "newPassword": newPassword}
	return c.do(ctx, "reset-password", http.MethodPost, PathResetPassword, "", body, nil)
}

// Me returns the profile of the user owning accessToken. The user may come
// wrapped as {"user": {...}} or bare.
func (c *Client) Me(ctx context.Context, accessToken string) (*authsession.User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "me", http.MethodGet, PathMe, accessToken, nil, &raw); err != nil {
		return nil, err
	}

	var wrapped struct {
		User *authsession.User `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil {
		return wrapped.User, nil
	}

	var u authsession.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("authsession/authhttp: me: decode user: %w", err)
	}
	return &u, nil
}

// do sends one request and decodes the envelope's data into out (if non-nil).
func (c *Client) do(ctx context.Context, op, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("authsession/authhttp: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("authsession/authhttp: %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("auth request failed", "op", op, "error", err)
		return &authsession.NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &authsession.NetworkError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug("auth request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(resp.StatusCode, env.Error)
	}
	if decodeErr != nil {
		return &authsession.HTTPError{Status: resp.StatusCode, Code: "BAD_ENVELOPE", Message: "response is not a valid envelope"}
	}
	if !env.Success {
		status := resp.StatusCode
		if env.Error == nil {
			return &authsession.HTTPError{Status: status, Message: "request was not successful"}
		}
		return httpError(status, env.Error)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("authsession/authhttp: %s: decode data: %w", op, err)
	}
	return nil
}

func httpError(status int, e *envelopeError) *authsession.HTTPError {
	herr := &authsession.HTTPError{Status: status}
	if e != nil {
		herr.Code = e.Code
		herr.Message = e.Message
		herr.Details = e.Details
	}
	return herr
}
