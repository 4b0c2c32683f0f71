package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

// LoginCommand signs in with email and password.
func LoginCommand(opts *options) *cobra.Command {
	var creds authsession.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Example: color.HiBlackString(`  # Sign in, reading the password from stdin
  authctl login --email alice@example.com

  # Sign in to a specific tenant
  authctl login --email alice@example.com --tenant acme`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd, "password", creds.Password)
			if err != nil {
				return err
			}
			creds.Password = pw

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.sessions.Login(ctx, creds)
				if err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "signed in as %s", displayName(res.User, creds.Email))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&creds.Email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "account password (read from stdin when empty)")
	cmd.Flags().StringVarP(&creds.TenantID, "tenant", "t", "", "tenant to sign in to")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// RegisterCommand creates an account.
func RegisterCommand(opts *options) *cobra.Command {
	var req authsession.RegisterRequest

	cmd := &cobra.Command{
		Use:     "register",
		Short:   "Create an account",
		Example: color.HiBlackString(`  authctl register --email carol@example.com --first-name Carol --last-name Kim`),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd, "password", req.Password)
			if err != nil {
				return err
			}
			req.Password = pw

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.sessions.Register(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.RequiresVerification {
					success(out, "account created, check %s for the verification link", req.Email)
					return nil
				}
				success(out, "account created, signed in as %s", displayName(res.User, req.Email))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "account password (read from stdin when empty)")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&req.TenantName, "tenant-name", "", "name of the tenant to create")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// LogoutCommand ends the stored session.
func LogoutCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.sessions.Logout(ctx); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

// VerifyEmailCommand confirms an email verification token.
func VerifyEmailCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email TOKEN",
		Short: "Confirm an email address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.sessions.VerifyEmail(ctx, args[0])
				if err != nil {
					return err
				}
				if res.Tokens != nil {
					success(cmd.OutOrStdout(), "email verified, signed in as %s", displayName(res.User, ""))
					return nil
				}
				success(cmd.OutOrStdout(), "email verified, you can now sign in")
				return nil
			})
		},
	}
}

// ForgotPasswordCommand requests a password reset email.
func ForgotPasswordCommand(opts *options) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.sessions.ForgotPassword(ctx, email); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "if %s has an account, a reset link is on its way", email)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// ResetPasswordCommand sets a new password with a reset token.
func ResetPasswordCommand(opts *options) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "reset-password TOKEN",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd, "new password", password)
			if err != nil {
				return err
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.sessions.ResetPassword(ctx, args[0], pw); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "password updated, sign in again")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "new password (read from stdin when empty)")
	return cmd
}

func displayName(u *authsession.User, fallback string) string {
	if u == nil {
		return fallback
	}
	if u.FirstName != "" {
		return fmt.Sprintf("%s %s <%s>", u.FirstName, u.LastName, u.Email)
	}
	return u.Email
}
