// Package session provides the SessionService implementation: the
// consumer-facing login, registration and logout API on top of an auth API,
// a token store and the refresh coordinator.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/audit"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/internal/redact"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/metrics"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/token"
)

// Scheduler is the part of the refresh coordinator the session drives.
type Scheduler interface {
	authsession.TokenSource

	// Schedule arms proactive refresh for a newly opened session. It is
	// called before the pair is saved and retires any refresh still running
	// for the previous session.
	Schedule(pair authsession.TokenPair)

	// Stop disarms proactive refresh and retires any refresh in flight.
	Stop()
}

// Service implements authsession.SessionService.
type Service struct {
	api     authsession.AuthAPI
	store   authsession.TokenStore
	sched   Scheduler
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
	now     func() time.Time
	buffer  time.Duration

	me singleflight.Group
}

// compile-time check
var _ authsession.SessionService = (*Service)(nil)

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit sets the audit logger.
func WithAudit(a *audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRefreshBuffer sets the buffer Restore uses to decide whether to refresh
// at startup. It should match the coordinator's. Default: 5 minutes.
func WithRefreshBuffer(d time.Duration) Option {
	return func(s *Service) { s.buffer = d }
}

// New creates a new session Service.
func New(api authsession.AuthAPI, store authsession.TokenStore, sched Scheduler, opts ...Option) *Service {
	s := &Service{
		api:    api,
		store:  store,
		sched:  sched,
		logger: slog.Default(),
		now:    time.Now,
		buffer: authsession.DefaultRefreshBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login exchanges credentials for a session.
func (s *Service) Login(ctx context.Context, creds authsession.Credentials) (*authsession.AuthResult, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if err := check(
		rule{"email", creds.Email, emailRule},
		rule{"password", creds.Password, "required"},
	); err != nil {
		return nil, s.done(audit.ActionLogin, creds.Email, "", err)
	}

	res, err := s.api.Login(ctx, creds)
	if err != nil {
		return nil, s.done(audit.ActionLogin, creds.Email, "", err)
	}
	if res.Tokens == nil || res.Tokens.AccessToken == "" {
		err := fmt.Errorf("login response carried no tokens: %w", authsession.ErrNoSession)
		return nil, s.done(audit.ActionLogin, creds.Email, "", err)
	}

	s.open(ctx, *res.Tokens)
	return res, s.done(audit.ActionLogin, creds.Email, userID(res), nil)
}

// Register creates an account. When the server opens a session right away
// the tokens are stored; otherwise the result asks for email verification.
func (s *Service) Register(ctx context.Context, req authsession.RegisterRequest) (*authsession.AuthResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := check(
		rule{"email", req.Email, emailRule},
		rule{"password", req.Password, passwordRule},
		rule{"firstName", req.FirstName, nameRule},
		rule{"lastName", req.LastName, nameRule},
	); err != nil {
		return nil, s.done(audit.ActionRegister, req.Email, "", err)
	}

	res, err := s.api.Register(ctx, req)
	if err != nil {
		return nil, s.done(audit.ActionRegister, req.Email, "", err)
	}

	if res.Tokens != nil && res.Tokens.AccessToken != "" {
		s.open(ctx, *res.Tokens)
	} else {
		res.RequiresVerification = true
	}
	return res, s.done(audit.ActionRegister, req.Email, userID(res), nil)
}

// VerifyEmail confirms an email verification token, opening a session when
// the server returns tokens.
func (s *Service) VerifyEmail(ctx context.Context, verificationToken string) (*authsession.AuthResult, error) {
	verificationToken = strings.TrimSpace(verificationToken)
	if err := check(rule{"token", verificationToken, "required"}); err != nil {
		return nil, s.done(audit.ActionVerifyEmail, "", "", err)
	}

	res, err := s.api.VerifyEmail(ctx, verificationToken)
	if err != nil {
		return nil, s.done(audit.ActionVerifyEmail, "", "", err)
	}
	if res.Tokens != nil && res.Tokens.AccessToken != "" {
		s.open(ctx, *res.Tokens)
	}

	email := ""
	if res.User != nil {
		email = res.User.Email
	}
	return res, s.done(audit.ActionVerifyEmail, email, userID(res), nil)
}

// Logout invalidates the session. Local state is always cleared, even when
// the remote call fails; the remote failure is only logged.
func (s *Service) Logout(ctx context.Context) error {
	pair := s.store.Load(ctx)
	claims, _ := token.DecodeClaims(pair.AccessToken)

	s.sched.Stop()
	if pair.RefreshToken != "" {
		if err := s.api.Logout(ctx, pair.RefreshToken); err != nil {
			s.logger.Warn("remote logout failed, clearing local session anyway", "error", err)
		}
	}
	s.store.Clear(ctx)

	var email, sub string
	if claims != nil {
		email, sub = claims.Email, claims.Subject
	}
	return s.done(audit.ActionLogout, email, sub, nil)
}

// ForgotPassword starts the password reset flow.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := check(rule{"email", email, emailRule}); err != nil {
		return s.done(audit.ActionPasswordResetRequested, email, "", err)
	}

	err := s.api.ForgotPassword(ctx, email)
	return s.done(audit.ActionPasswordResetRequested, email, "", err)
}

// ResetPassword sets a new password using a reset token.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	resetToken = strings.TrimSpace(resetToken)
	if err := check(
		rule{"token", resetToken, "required"},
		rule{"password", newPassword, passwordRule},
	); err != nil {
		return s.done(audit.ActionPasswordReset, "", "", err)
	}

	err := s.api.ResetPassword(ctx, resetToken, newPassword)
	return s.done(audit.ActionPasswordReset, "", "", err)
}

// Restore resumes a stored session at startup. A token outside the refresh
// buffer only arms the timer; one inside it is refreshed right away.
// It reports whether a usable session exists afterwards.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	pair := s.store.Load(ctx)
	if pair.AccessToken == "" {
		return false, nil
	}

	if !token.ExpiresWithin(pair.AccessToken, s.now(), s.buffer) {
		s.sched.Schedule(pair)
		return true, nil
	}

	tok, err := s.sched.EnsureValidToken(ctx)
	if err != nil {
		return false, fmt.Errorf("authsession/session: restore: %w", err)
	}
	return tok != "", nil
}

// Claims returns the claims of the stored access token while it is unexpired.
func (s *Service) Claims(ctx context.Context) (*authsession.Claims, bool) {
	access := s.store.Load(ctx).AccessToken
	if access == "" || token.IsExpired(access, s.now()) {
		return nil, false
	}
	return token.DecodeClaims(access)
}

// IsAuthenticated reports whether an unexpired access token is stored.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	_, ok := s.Claims(ctx)
	return ok
}

// HasRole reports whether the session role is at least min.
func (s *Service) HasRole(ctx context.Context, min authsession.Role) bool {
	claims, ok := s.Claims(ctx)
	return ok && claims.Role.AtLeast(min)
}

// CurrentUser fetches the profile of the session user. Concurrent calls share
// one request.
func (s *Service) CurrentUser(ctx context.Context) (*authsession.User, error) {
	tok, err := s.sched.EnsureValidToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("authsession/session: %w", err)
	}
	if tok == "" {
		return nil, fmt.Errorf("authsession/session: %w", authsession.ErrNoSession)
	}

	ch := s.me.DoChan(tok, func() (any, error) {
		return s.api.Me(context.WithoutCancel(ctx), tok)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("authsession/session: me: %w", r.Err)
		}
		return r.Val.(*authsession.User), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// open arms proactive refresh for a new pair and persists it. Scheduling
// first retires any refresh still running for the previous session, so its
// outcome cannot overwrite or clear the new pair.
func (s *Service) open(ctx context.Context, pair authsession.TokenPair) {
	s.sched.Schedule(pair)
	s.store.Save(ctx, pair.AccessToken, pair.RefreshToken)
}

// done records the outcome of op and wraps err with the package prefix.
func (s *Service) done(op audit.Action, email, sub string, err error) error {
	s.metrics.RecordSessionOp(string(op), err)

	e := audit.Event{
		Action: op,
		Result: audit.ResultOf(err),
		UserID: sub,
	}
	if email != "" {
		e.Email = redact.Email(email)
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.audit.Log(e)

	if err != nil {
		s.logger.Info("session operation failed", "op", string(op), "email", e.Email, "error", err)
		return fmt.Errorf("authsession/session: %s: %w", op, err)
	}
	s.logger.Debug("session operation succeeded", "op", string(op), "email", e.Email)
	return nil
}

func userID(res *authsession.AuthResult) string {
	if res != nil && res.User != nil {
		return res.User.ID
	}
	return ""
}
