package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

// WhoamiCommand prints the signed-in user.
func WhoamiCommand(opts *options) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Example: color.HiBlackString(`  # Claims from the stored token
  authctl whoami

  # Profile from the auth API
  authctl whoami --remote`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.restore(ctx); err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if remote {
					u, err := a.sessions.CurrentUser(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s %s\n", color.HiBlackString("user:  "), displayName(u, u.Email))
					fmt.Fprintf(out, "%s %s\n", color.HiBlackString("id:    "), u.ID)
					fmt.Fprintf(out, "%s %s\n", color.HiBlackString("tenant:"), u.TenantID)
					fmt.Fprintf(out, "%s %s\n", color.HiBlackString("role:  "), color.HiCyanString(string(u.Role)))
					return nil
				}

				claims, ok := a.sessions.Claims(ctx)
				if !ok {
					return fmt.Errorf("stored token is expired")
				}
				left := time.Until(claims.ExpiresAt).Round(time.Second)
				fmt.Fprintf(out, "%s %s\n", color.HiBlackString("user:   "), claims.Email)
				fmt.Fprintf(out, "%s %s\n", color.HiBlackString("id:     "), claims.Subject)
				fmt.Fprintf(out, "%s %s\n", color.HiBlackString("tenant: "), claims.TenantID)
				fmt.Fprintf(out, "%s %s\n", color.HiBlackString("role:   "), color.HiCyanString(string(claims.Role)))
				fmt.Fprintf(out, "%s %s\n", color.HiBlackString("expires:"), expiry(left, a.cfg.Refresh.Buffer))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "fetch the profile from the auth API")
	return cmd
}

// RefreshCommand forces a token refresh.
func RefreshCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.client.Store().Load(ctx).RefreshToken == "" {
					return authsession.ErrNoSession
				}
				tok, err := a.coord.RefreshNow(ctx)
				if err != nil {
					return err
				}
				if tok == "" {
					return fmt.Errorf("refresh skipped, try again in %s", a.cfg.Refresh.MinInterval)
				}
				success(cmd.OutOrStdout(), "token refreshed")
				return nil
			})
		},
	}
}

func expiry(left, buffer time.Duration) string {
	switch {
	case left <= 0:
		return color.RedString("expired")
	case left <= buffer:
		return color.YellowString("in %s (refresh due)", left)
	default:
		return color.GreenString("in %s", left)
	}
}
