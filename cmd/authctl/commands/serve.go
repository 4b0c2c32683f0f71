package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/internal/bff"
)

const shutdownTimeout = 5 * time.Second

// ServeCommand runs the local dashboard API.
func ServeCommand(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local dashboard API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				if _, err := a.sessions.Restore(ctx); err != nil {
					a.logger.Warn("stored session could not be restored", "error", err)
				}

				if addr == "" {
					addr = a.cfg.Server.Addr()
				}
				srv := &http.Server{
					Addr:              addr,
					Handler:           router(a),
					ReadHeaderTimeout: 10 * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					a.logger.Info("dashboard listening", "addr", addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
					close(errCh)
				}()

				select {
				case err := <-errCh:
					if err != nil {
						return fmt.Errorf("listen on %s: %w", addr, err)
					}
					return nil
				case <-ctx.Done():
				}

				a.logger.Info("shutting down dashboard")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.host and server.port)")
	return cmd
}

func router(a *app) *gin.Engine {
	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	opts := []bff.Option{
		bff.WithGatherer(a.registry),
		bff.WithLogger(a.logger),
	}
	if a.chat != nil {
		opts = append(opts, bff.WithChat(a.chat))
	}
	return bff.NewRouter(a.sessions, opts...)
}
