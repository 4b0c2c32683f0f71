package fake_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/authhttp"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/fake"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/token"
)

func setup(t *testing.T, opts ...fake.Option) (*authsession.Client, *fake.Server) {
	t.Helper()
	opts = append([]fake.Option{
		fake.WithUser("u1", "t1", "alice@example.com", "Passw0rd!", authsession.RoleAdmin),
		fake.WithUser("u2", "t1", "bob@example.com", "Passw0rd!", authsession.RoleMember),
	}, opts...)
	c, srv := fake.NewClient(opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func login(t *testing.T, c *authsession.Client, email string) {
	t.Helper()
	_, err := c.Sessions().Login(context.Background(), authsession.Credentials{Email: email, Password: "Passw0rd!"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
}

// --- AuthAPI ---

func TestLogin_IssuesRealTokens(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	login(t, c, "alice@example.com")

	pair := c.Store().Load(ctx)
	claims, ok := token.DecodeClaims(pair.AccessToken)
	if !ok {
		t.Fatalf("access token is not a JWT: %q", pair.AccessToken)
	}
	if claims.Subject != "u1" || claims.TenantID != "t1" || claims.Role != authsession.RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}
	if pair.RefreshToken == "" {
		t.Error("refresh token missing")
	}
	if !c.Sessions().IsAuthenticated(ctx) {
		t.Error("session should be authenticated")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	c, srv := setup(t)

	_, err := c.Sessions().Login(context.Background(), authsession.Credentials{Email: "alice@example.com", Password: "nope"})
	if !errors.Is(err, authsession.ErrUnauthorized) {
		t.Errorf("Login() error = %v, want unauthorized", err)
	}
	if srv.LoginCalls() != 1 {
		t.Errorf("LoginCalls = %d, want 1", srv.LoginCalls())
	}
}

func TestRegister_VerificationFlow(t *testing.T) {
	c, srv := setup(t, fake.WithEmailVerification())
	ctx := context.Background()
	req := authsession.RegisterRequest{Email: "carol@example.com", Password: "Str0ngPass", FirstName: "Carol", LastName: "Kim"}

	res, err := c.Sessions().Register(ctx, req)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if !res.RequiresVerification {
		t.Fatal("expected verification to be required")
	}

	_, err = c.Sessions().Login(ctx, authsession.Credentials{Email: req.Email, Password: req.Password})
	if !errors.Is(err, authsession.ErrEmailUnverified) {
		t.Errorf("Login() before verification error = %v, want email unverified", err)
	}

	if _, err := c.Sessions().Register(ctx, req); !errors.Is(err, authsession.ErrConflict) {
		t.Errorf("second Register() error = %v, want conflict", err)
	}

	tok := srv.VerificationToken(req.Email)
	if tok == "" {
		t.Fatal("no verification token issued")
	}
	res, err = c.Sessions().VerifyEmail(ctx, tok)
	if err != nil {
		t.Fatalf("VerifyEmail() error: %v", err)
	}
	if !res.User.EmailVerified || !c.Sessions().IsAuthenticated(ctx) {
		t.Error("verification should open a session")
	}
}

func TestPasswordReset(t *testing.T) {
	c, srv := setup(t)
	ctx := context.Background()

	if err := c.Sessions().ForgotPassword(ctx, "bob@example.com"); err != nil {
		t.Fatalf("ForgotPassword() error: %v", err)
	}
	if err := c.Sessions().ForgotPassword(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("ForgotPassword() for unknown email error: %v", err)
	}

	tok := srv.ResetToken("bob@example.com")
	if err := c.Sessions().ResetPassword(ctx, tok, "N3wPassword"); err != nil {
		t.Fatalf("ResetPassword() error: %v", err)
	}
	if _, err := c.Sessions().Login(ctx, authsession.Credentials{Email: "bob@example.com", Password: "N3wPassword"}); err != nil {
		t.Errorf("Login() with new password error: %v", err)
	}
	if err := c.Sessions().ResetPassword(ctx, tok, "N3wPassword2"); !errors.Is(err, authsession.ErrInvalidRequest) {
		t.Errorf("reused reset token error = %v, want invalid request", err)
	}
}

// --- end to end through the coordinator ---

func TestEnsureValidToken_RefreshesInsideBuffer(t *testing.T) {
	c, srv := setup(t, fake.WithAccessTTL(2*time.Minute))
	ctx := context.Background()
	login(t, c, "alice@example.com")
	before := c.Store().Load(ctx)

	tok, err := c.Tokens().EnsureValidToken(ctx)
	if err != nil {
		t.Fatalf("EnsureValidToken() error: %v", err)
	}
	if tok == before.AccessToken {
		t.Error("expected a refreshed token")
	}
	if srv.RefreshCalls() != 1 {
		t.Errorf("RefreshCalls = %d, want 1", srv.RefreshCalls())
	}
	after := c.Store().Load(ctx)
	if after.AccessToken != tok || after.RefreshToken == before.RefreshToken {
		t.Errorf("store not updated with rotated pair: %+v", after)
	}
}

func TestEnsureValidToken_FreshTokenSkipsRefresh(t *testing.T) {
	c, srv := setup(t)
	ctx := context.Background()
	login(t, c, "alice@example.com")

	tok, err := c.Tokens().EnsureValidToken(ctx)
	if err != nil || tok != c.Store().Load(ctx).AccessToken {
		t.Fatalf("EnsureValidToken() = %q, %v", tok, err)
	}
	if srv.RefreshCalls() != 0 {
		t.Errorf("RefreshCalls = %d, want 0", srv.RefreshCalls())
	}
}

func TestEnsureValidToken_TerminalFailureEndsSession(t *testing.T) {
	c, srv := setup(t, fake.WithAccessTTL(2*time.Minute))
	ctx := context.Background()
	login(t, c, "alice@example.com")
	srv.FailRefresh(&authsession.HTTPError{Status: 401, Code: "INVALID_REFRESH_TOKEN"})

	_, err := c.Tokens().EnsureValidToken(ctx)
	if !errors.Is(err, authsession.ErrSessionExpired) || !errors.Is(err, authsession.ErrUnauthorized) {
		t.Fatalf("EnsureValidToken() error = %v, want session expired caused by 401", err)
	}
	if !c.Store().Load(ctx).Empty() {
		t.Error("tokens should be cleared")
	}
	if c.Sessions().IsAuthenticated(ctx) {
		t.Error("session should be gone")
	}
}

func TestRefresh_WithoutRotationKeepsRefreshToken(t *testing.T) {
	c, _ := setup(t, fake.WithAccessTTL(2*time.Minute), fake.WithoutRotation())
	ctx := context.Background()
	login(t, c, "alice@example.com")
	before := c.Store().Load(ctx)

	if _, err := c.Tokens().EnsureValidToken(ctx); err != nil {
		t.Fatalf("EnsureValidToken() error: %v", err)
	}
	if got := c.Store().Load(ctx).RefreshToken; got != before.RefreshToken {
		t.Errorf("refresh token = %q, want %q", got, before.RefreshToken)
	}
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	c, srv := setup(t)
	ctx := context.Background()
	login(t, c, "alice@example.com")
	rt := c.Store().Load(ctx).RefreshToken

	if err := c.Sessions().Logout(ctx); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if srv.LogoutCalls() != 1 {
		t.Errorf("LogoutCalls = %d, want 1", srv.LogoutCalls())
	}
	if _, err := srv.Refresh(ctx, rt); !errors.Is(err, authsession.ErrUnauthorized) {
		t.Errorf("Refresh() with revoked token error = %v, want unauthorized", err)
	}
	if !c.Store().Load(ctx).Empty() {
		t.Error("store should be empty after logout")
	}
}

func TestMe(t *testing.T) {
	_, srv := setup(t)
	ctx := context.Background()

	u, err := srv.Me(ctx, srv.Mint("bob@example.com", time.Minute))
	if err != nil {
		t.Fatalf("Me() error: %v", err)
	}
	if u.ID != "u2" {
		t.Errorf("ID = %q, want u2", u.ID)
	}

	if _, err := srv.Me(ctx, srv.Mint("bob@example.com", -time.Minute)); !errors.Is(err, authsession.ErrUnauthorized) {
		t.Errorf("expired token error = %v, want unauthorized", err)
	}
	if srv.Mint("ghost@example.com", time.Minute) != "" {
		t.Error("Mint for unknown account should be empty")
	}
}

func TestHealthCheck(t *testing.T) {
	c, _ := setup(t)
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}
}

// --- HTTP frontend ---

func TestHandler_ServesAuthHTTPClient(t *testing.T) {
	srv := fake.NewServer(
		fake.WithUser("u1", "t1", "alice@example.com", "Passw0rd!", authsession.RoleAdmin),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	api := authhttp.New(ts.URL)
	ctx := context.Background()

	res, err := api.Login(ctx, authsession.Credentials{Email: "alice@example.com", Password: "Passw0rd!"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if res.Tokens == nil || res.User == nil || res.User.ID != "u1" {
		t.Fatalf("Login() = %+v", res)
	}

	pair, err := api.Refresh(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if pair.RefreshToken == res.Tokens.RefreshToken {
		t.Error("refresh token should rotate")
	}

	u, err := api.Me(ctx, pair.AccessToken)
	if err != nil || u.Email != "alice@example.com" {
		t.Fatalf("Me() = %+v, %v", u, err)
	}

	if err := api.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if _, err := api.Refresh(ctx, pair.RefreshToken); !errors.Is(err, authsession.ErrUnauthorized) {
		t.Errorf("Refresh() after logout error = %v, want unauthorized", err)
	}

	_, err = api.Login(ctx, authsession.Credentials{Email: "alice@example.com", Password: "wrong"})
	var herr *authsession.HTTPError
	if !errors.As(err, &herr) || herr.Status != 401 {
		t.Errorf("Login() with bad password error = %v, want http 401", err)
	}
}
