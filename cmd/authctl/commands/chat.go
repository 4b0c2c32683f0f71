package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var errChatDisabled = errors.New("chat is not configured, set chat.webhook_url or AUTHCTL_CHAT_WEBHOOK_URL")

// ChatCommand talks to the chat workflow as the signed-in user.
func ChatCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [MESSAGE]",
		Short: "Send a message to the chat workflow",
		Example: color.HiBlackString(`  # One message
  authctl chat "What changed this week?"

  # Conversation, one message per line, empty line to quit
  authctl chat`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.chat == nil {
					return errChatDisabled
				}
				if err := a.restore(ctx); err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if len(args) == 1 {
					reply, err := a.chat.Send(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(out, reply)
					return nil
				}

				fmt.Fprintln(cmd.ErrOrStderr(), color.HiBlackString("conversation %s", a.chat.SessionID()))
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for {
					fmt.Fprint(out, color.HiCyanString("> "))
					if !scanner.Scan() {
						return scanner.Err()
					}
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						return nil
					}
					reply, err := a.chat.Send(ctx, line)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, reply)
				}
			})
		},
	}
	return cmd
}
