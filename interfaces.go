package authsession

import "context"

// AuthAPI is the remote auth service. Implementations: authhttp/ (REST), fake/ (testing).
type AuthAPI interface {
	// Register creates an account. The result carries tokens only when the
	// server opens a session immediately.
	Register(ctx context.Context, req RegisterRequest) (*AuthResult, error)

	// Login exchanges credentials for a token pair.
	Login(ctx context.Context, creds Credentials) (*AuthResult, error)

	// Refresh exchanges a refresh token for a new pair. RefreshToken may be
	// empty when the server does not rotate refresh tokens.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)

	// Logout invalidates the refresh token server-side.
	Logout(ctx context.Context, refreshToken string) error

	// VerifyEmail confirms an email verification token.
	VerifyEmail(ctx context.Context, token string) (*AuthResult, error)

	// ForgotPassword starts the password reset flow for email.
	ForgotPassword(ctx context.Context, email string) error

	// ResetPassword sets a new password using a reset token.
	ResetPassword(ctx context.Context, token, newPassword string) error

	// Me returns the profile of the user owning accessToken.
	Me(ctx context.Context, accessToken string) (*User, error)
}

// TokenStore persists the token pair. Storage failures are logged by the
// implementation and never surface to callers.
type TokenStore interface {
	// Save writes both tokens together. Saving two empty tokens is a no-op.
	Save(ctx context.Context, accessToken, refreshToken string)

	// Load returns the stored pair; missing fields are empty.
	Load(ctx context.Context) TokenPair

	// Clear removes both tokens.
	Clear(ctx context.Context)
}

// TokenSource hands out access tokens for outbound calls.
// Implementations: refresh/ (Coordinator).
type TokenSource interface {
	// EnsureValidToken returns a token that is not about to expire, refreshing
	// first when needed. It returns "" when there is no session.
	EnsureValidToken(ctx context.Context) (string, error)

	// Refresh forces a refresh, joining one that is already in flight.
	Refresh(ctx context.Context) (string, error)
}

// RefreshObserver is notified about refresh outcomes.
type RefreshObserver interface {
	OnRefreshSuccess(accessToken string)
	OnRefreshFailure(err error)
	OnTokenExpired()
}

// ObserverFuncs adapts plain functions to RefreshObserver. Nil fields are skipped.
type ObserverFuncs struct {
	Success func(accessToken string)
	Failure func(err error)
	Expired func()
}

func (o ObserverFuncs) OnRefreshSuccess(accessToken string) {
	if o.Success != nil {
		o.Success(accessToken)
	}
}

func (o ObserverFuncs) OnRefreshFailure(err error) {
	if o.Failure != nil {
		o.Failure(err)
	}
}

func (o ObserverFuncs) OnTokenExpired() {
	if o.Expired != nil {
		o.Expired()
	}
}

// SessionService is the consumer-facing session API. Implementations: session/.
type SessionService interface {
	Login(ctx context.Context, creds Credentials) (*AuthResult, error)
	Register(ctx context.Context, req RegisterRequest) (*AuthResult, error)
	Logout(ctx context.Context) error
	VerifyEmail(ctx context.Context, token string) (*AuthResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	IsAuthenticated(ctx context.Context) bool
	Claims(ctx context.Context) (*Claims, bool)

	// CurrentUser fetches the profile of the session user from the auth API.
	CurrentUser(ctx context.Context) (*User, error)
}

// ChatService sends messages to the workflow webhook on behalf of the session user.
// Implementations: chat/.
type ChatService interface {
	Send(ctx context.Context, input string) (string, error)
}
