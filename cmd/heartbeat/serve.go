package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gwlsn/heartbeat/internal/api"
	"github.com/gwlsn/heartbeat/internal/auth"
	"github.com/gwlsn/heartbeat/internal/auth/oidc"
	"github.com/gwlsn/heartbeat/internal/config"
	"github.com/gwlsn/heartbeat/internal/logger"
	"github.com/gwlsn/heartbeat/internal/metrics"
	"github.com/gwlsn/heartbeat/internal/session"
	"github.com/gwlsn/heartbeat/internal/toast"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	limit, err := cfg.MemoryLimitBytes()
	if err != nil {
		return err
	}
	if limit > 0 {
		debug.SetMemoryLimit(limit)
	}

	backend, err := selectBackend(ctx, cfg)
	if err != nil {
		return err
	}

	mt := metrics.New()
	if err := mt.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	visitors := session.NewManager(backend,
		session.WithCookieName(cfg.Session.CookieName),
		session.WithIdleTTL(cfg.Session.IdleTTL),
		session.WithToastMode(toast.ParseMode(cfg.Toast.Mode)),
		session.WithMetrics(mt),
	)
	defer visitors.Close()

	handler := api.NewHandler(visitors, backend, cfg.Public, mt)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening",
			"addr", cfg.Server.Addr,
			"provider", cfg.Auth.Provider,
			"toast_mode", toast.ParseMode(cfg.Toast.Mode).String(),
			"memory_limit", cfg.Process.MaxMemoryRestart,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func selectBackend(ctx context.Context, cfg *config.Config) (auth.Backend, error) {
	registry := auth.NewRegistry()
	registry.Register("dev", auth.NewDevBackend())

	if cfg.Auth.Provider == "google" {
		provider, err := oidc.NewProvider(ctx, oidc.Config{
			ClientID:          cfg.Auth.ClientID,
			ClientSecret:      cfg.Auth.ClientSecret,
			RedirectURL:       cfg.Auth.RedirectURL,
			Scopes:            cfg.Auth.Scopes,
			Secret:            cfg.Auth.Secret,
			AuthorizedDomains: cfg.Auth.AuthorizedDomains,
			VisitorCookie:     cfg.Session.CookieName,
		})
		if err != nil {
			return nil, fmt.Errorf("google sign-in: %w", err)
		}
		registry.Register("google", provider)
	}
	return registry.Select(cfg.Auth.Provider)
}
