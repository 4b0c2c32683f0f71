package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/audit"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/authhttp"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/chat"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/config"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/metrics"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/refresh"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/session"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/store"
)

// app is the session stack of one authctl invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	audit    *audit.Logger

	client   *authsession.Client
	coord    *refresh.Coordinator
	sessions *session.Service
	chat     *chat.Client
}

// newApp loads configuration and wires store, auth API, refresh coordinator,
// session service and, when a webhook is configured, the chat client.
func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := cfg.Log.NewLogger(logOut)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	aud := audit.New(0, audit.WithSlogHandler(logger.With("component", "audit")))

	st, err := store.Open(ctx, cfg.Storage, logger, m)
	if err != nil {
		_ = aud.Close()
		return nil, fmt.Errorf("open token store: %w", err)
	}

	api := authhttp.New(cfg.API.BaseURL,
		authhttp.WithTimeout(cfg.API.Timeout),
		authhttp.WithUserAgent(cfg.API.UserAgent),
		authhttp.WithLogger(logger),
	)

	coord := refresh.New(api, st,
		refresh.WithConfig(cfg.Session()),
		refresh.WithBackoff(cfg.Refresh.BaseBackoff, cfg.Refresh.MaxBackoff),
		refresh.WithLogger(logger),
		refresh.WithMetrics(m),
		refresh.WithAudit(aud),
	)

	sessions := session.New(api, st, coord,
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithAudit(aud),
		session.WithRefreshBuffer(cfg.Refresh.Buffer),
	)

	opts := []authsession.Option{
		authsession.WithLogger(logger),
		authsession.WithAuthAPI(api),
		authsession.WithTokenStore(st),
		authsession.WithTokenSource(coord),
		authsession.WithSessions(sessions),
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		audit:    aud,
		coord:    coord,
		sessions: sessions,
	}
	if cfg.Chat.WebhookURL != "" {
		a.chat = chat.New(cfg.Chat.WebhookURL, coord,
			chat.WithClaims(sessions),
			chat.WithLogger(logger),
			chat.WithMetrics(m),
		)
		opts = append(opts, authsession.WithChat(a.chat))
	}

	a.client, err = authsession.NewClient(cfg.Session(), opts...)
	if err != nil {
		_ = coord.Close()
		_ = st.Close()
		_ = aud.Close()
		return nil, err
	}
	return a, nil
}

// restore loads a stored session and arms its refresh timer.
func (a *app) restore(ctx context.Context) error {
	ok, err := a.sessions.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return authsession.ErrNoSession
	}
	return nil
}

func (a *app) Close() error {
	return errors.Join(a.client.Close(), a.audit.Close())
}
