// Package fake provides an in-memory auth server implementing
// authsession.AuthAPI for testing.
//
// Use fake.NewClient() in unit tests to get a fully wired session stack
// (store, refresh coordinator, session service) without network calls.
package fake

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/refresh"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/session"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/store"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/token"
)

// DefaultAccessTTL is the lifetime of access tokens minted by the Server.
const DefaultAccessTTL = 15 * time.Minute

// Option configures the fake server.
type Option func(*Server)

type account struct {
	user     authsession.User
	password string
}

// Server is an in-memory auth API. Access tokens are real HS256 JWTs, so the
// token package and the refresh coordinator see realistic expiries.
type Server struct {
	mu          sync.Mutex
	key         []byte
	now         func() time.Time
	accessTTL   time.Duration
	verify      bool
	rotate      bool
	accounts    map[string]*account // email → account
	refreshes   map[string]string   // refresh token → email
	verifyCodes map[string]string   // verification token → email
	resetCodes  map[string]string   // reset token → email
	refreshErrs []error
	loginErr    error

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	meCalls      atomic.Int32
}

// compile-time check
var _ authsession.AuthAPI = (*Server)(nil)

// WithUser adds a verified account.
func WithUser(id, tenantID, email, password string, role authsession.Role) Option {
	return func(s *Server) {
		s.accounts[strings.ToLower(email)] = &account{
			user: authsession.User{
				ID:            id,
				TenantID:      tenantID,
				Email:         email,
				Role:          role,
				EmailVerified: true,
			},
			password: password,
		}
	}
}

// WithAccessTTL sets the lifetime of minted access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

// WithEmailVerification makes Register withhold tokens until VerifyEmail.
func WithEmailVerification() Option {
	return func(s *Server) { s.verify = true }
}

// WithoutRotation makes Refresh return only a new access token.
func WithoutRotation() Option {
	return func(s *Server) { s.rotate = false }
}

// WithClock overrides time.Now for minted tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithSigningKey sets the HS256 key. Default: a fixed test key.
func WithSigningKey(key []byte) Option {
	return func(s *Server) { s.key = key }
}

// NewServer creates an in-memory auth server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		key:         []byte("authsession-fake-signing-key"),
		now:         time.Now,
		accessTTL:   DefaultAccessTTL,
		rotate:      true,
		accounts:    make(map[string]*account),
		refreshes:   make(map[string]string),
		verifyCodes: make(map[string]string),
		resetCodes:  make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewClient creates an *authsession.Client with every service wired to the
// in-memory server, a memory store, a refresh coordinator and the session
// service. The server is returned for failure injection.
func NewClient(opts ...Option) (*authsession.Client, *Server) {
	srv := NewServer(opts...)
	st := store.New(store.NewMemory())
	coord := refresh.New(srv, st)
	svc := session.New(srv, st, coord)

	c, _ := authsession.NewClient(
		authsession.Config{BaseURL: "fake://localhost"},
		authsession.WithAuthAPI(srv),
		authsession.WithTokenStore(st),
		authsession.WithTokenSource(coord),
		authsession.WithSessions(svc),
	)
	return c, srv
}

// --- failure injection and inspection ---

// FailRefresh queues errors returned by the next Refresh calls, in order.
func (s *Server) FailRefresh(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshErrs = append(s.refreshErrs, errs...)
}

// FailLogin makes every Login return err until called with nil.
func (s *Server) FailLogin(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginErr = err
}

// LoginCalls returns how many times Login was called.
func (s *Server) LoginCalls() int { return int(s.loginCalls.Load()) }

// RefreshCalls returns how many times Refresh was called.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// LogoutCalls returns how many times Logout was called.
func (s *Server) LogoutCalls() int { return int(s.logoutCalls.Load()) }

// MeCalls returns how many times Me was called.
func (s *Server) MeCalls() int { return int(s.meCalls.Load()) }

// VerificationToken returns the pending verification token for email.
func (s *Server) VerificationToken(email string) string {
	return s.pending(s.verifyCodes, email)
}

// ResetToken returns the pending password reset token for email.
func (s *Server) ResetToken(email string) string {
	return s.pending(s.resetCodes, email)
}

// Mint returns a signed access token for the account with email, expiring
// after ttl. It is empty for unknown accounts.
func (s *Server) Mint(email string, ttl time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return ""
	}
	tok, _ := s.accessLocked(a, ttl)
	return tok
}

// --- AuthAPI ---

func (s *Server) Register(_ context.Context, req authsession.RegisterRequest) (*authsession.AuthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(req.Email)
	if _, ok := s.accounts[email]; ok {
		return nil, httpError(http.StatusConflict, "EMAIL_TAKEN", "email already registered")
	}

	a := &account{
		user: authsession.User{
			ID:            uuid.NewString(),
			TenantID:      uuid.NewString(),
			Email:         req.Email,
			FirstName:     req.FirstName,
			LastName:      req.LastName,
			Role:          authsession.RoleMaster,
			EmailVerified: !s.verify,
		},
		password: req.Password,
	}
	s.accounts[email] = a

	if s.verify {
		s.verifyCodes[uuid.NewString()] = email
		u := a.user
		return &authsession.AuthResult{User: &u, RequiresVerification: true, Message: "verification email sent"}, nil
	}
	return s.openLocked(a)
}

func (s *Server) Login(_ context.Context, creds authsession.Credentials) (*authsession.AuthResult, error) {
	s.loginCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loginErr != nil {
		return nil, s.loginErr
	}
	a, ok := s.accounts[strings.ToLower(creds.Email)]
	if !ok || a.password != creds.Password {
		return nil, httpError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
	}
	if !a.user.EmailVerified {
		return nil, httpError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "verify your email first")
	}
	return s.openLocked(a)
}

func (s *Server) Refresh(_ context.Context, refreshToken string) (*authsession.TokenPair, error) {
	s.refreshCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.refreshErrs) > 0 {
		err := s.refreshErrs[0]
		s.refreshErrs = s.refreshErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	email, ok := s.refreshes[refreshToken]
	if !ok {
		return nil, httpError(http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token is invalid or revoked")
	}
	a := s.accounts[email]

	access, err := s.accessLocked(a, s.accessTTL)
	if err != nil {
		return nil, err
	}
	pair := &authsession.TokenPair{AccessToken: access}
	if s.rotate {
		delete(s.refreshes, refreshToken)
		pair.RefreshToken = s.refreshLocked(email)
	}
	return pair, nil
}

func (s *Server) Logout(_ context.Context, refreshToken string) error {
	s.logoutCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshes, refreshToken)
	return nil
}

func (s *Server) VerifyEmail(_ context.Context, tok string) (*authsession.AuthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.verifyCodes[tok]
	if !ok {
		return nil, httpError(http.StatusBadRequest, "INVALID_TOKEN", "verification token is invalid or expired")
	}
	delete(s.verifyCodes, tok)

	a := s.accounts[email]
	a.user.EmailVerified = true
	return s.openLocked(a)
}

func (s *Server) ForgotPassword(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	// unknown emails succeed silently
	if _, ok := s.accounts[key]; ok {
		s.resetCodes[uuid.NewString()] = key
	}
	return nil
}

func (s *Server) ResetPassword(_ context.Context, tok, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.resetCodes[tok]
	if !ok {
		return httpError(http.StatusBadRequest, "INVALID_TOKEN", "reset token is invalid or expired")
	}
	delete(s.resetCodes, tok)
	s.accounts[email].password = newPassword

	for rt, owner := range s.refreshes {
		if owner == email {
			delete(s.refreshes, rt)
		}
	}
	return nil
}

func (s *Server) Me(_ context.Context, accessToken string) (*authsession.User, error) {
	s.meCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	claims, ok := token.DecodeClaims(accessToken)
	if !ok || token.IsExpired(accessToken, s.now()) {
		return nil, httpError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
	}
	a, ok := s.accounts[strings.ToLower(claims.Email)]
	if !ok {
		return nil, httpError(http.StatusNotFound, "USER_NOT_FOUND", "user not found")
	}
	u := a.user
	return &u, nil
}

// --- internal helpers ---

func (s *Server) openLocked(a *account) (*authsession.AuthResult, error) {
	access, err := s.accessLocked(a, s.accessTTL)
	if err != nil {
		return nil, err
	}
	u := a.user
	return &authsession.AuthResult{
		User: &u,
		Tokens: &authsession.TokenPair{
			AccessToken:  access,
			RefreshToken: s.refreshLocked(strings.ToLower(a.user.Email)),
		},
	}, nil
}

func (s *Server) accessLocked(a *account, ttl time.Duration) (string, error) {
	now := s.now()
	tok, err := token.Encode(authsession.Claims{
		Subject:   a.user.ID,
		TenantID:  a.user.TenantID,
		Email:     a.user.Email,
		Role:      a.user.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Extra:     map[string]any{"jti": uuid.NewString()},
	}, s.key)
	if err != nil {
		return "", fmt.Errorf("authsession/fake: mint access token: %w", err)
	}
	return tok, nil
}

func (s *Server) refreshLocked(email string) string {
	rt := "rt_" + uuid.NewString()
	s.refreshes[rt] = email
	return rt
}

func (s *Server) pending(codes map[string]string, email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	for tok, owner := range codes {
		if owner == key {
			return tok
		}
	}
	return ""
}

func httpError(status int, code, msg string) *authsession.HTTPError {
	return &authsession.HTTPError{Status: status, Code: code, Message: msg}
}
