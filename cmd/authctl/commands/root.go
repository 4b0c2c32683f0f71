// Package commands implements the authctl command line.
package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/config"
)

var version = "v0.0.0"

// options are the persistent flags shared by every command.
type options struct {
	configPath string
}

// NewRootCMD command entry
func NewRootCMD() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "authctl",
		Short: "Manage an auth session from the terminal",
		Long: fmt.Sprintf(`
Sign in to the auth API, keep the session fresh and talk to the chat
workflow on behalf of the signed-in user.
Config: %s, %s or AUTHCTL_* environment variables.`,
			color.HiCyanString(config.DefaultFile),
			color.HiCyanString("$"+config.EnvPath)),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the authctl configuration file")

	cmd.AddCommand(
		LoginCommand(opts),
		RegisterCommand(opts),
		LogoutCommand(opts),
		VerifyEmailCommand(opts),
		ForgotPasswordCommand(opts),
		ResetPasswordCommand(opts),
		WhoamiCommand(opts),
		RefreshCommand(opts),
		ChatCommand(opts),
		ServeCommand(opts),
		EnvCommand(),
	)

	return cmd
}

// withApp wires the session stack for one command run and closes it afterwards.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, opts.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(ctx, a)
}

// readSecret returns flagValue or, when empty, the next line of stdin.
func readSecret(cmd *cobra.Command, name, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", name)

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return line, nil
}

func success(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.GreenString("✔ ")+fmt.Sprintf(format, a...))
}

// EnvCommand prints the supported environment variables.
func EnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables read by authctl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.OutOrStdout(), config.Usage())
			return nil
		},
	}
}
