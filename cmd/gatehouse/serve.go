// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
	"github.com/gatehouse-auth/gatehouse/internal/config"
	"github.com/gatehouse-auth/gatehouse/internal/logging"
	"github.com/gatehouse-auth/gatehouse/internal/observability"
	"github.com/gatehouse-auth/gatehouse/internal/store"
	"github.com/gatehouse-auth/gatehouse/internal/web"
	"github.com/gatehouse-auth/gatehouse/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Gatehouse HTTP server",
		Long: `Start the HTTP server for signup, login, logout and the user
profile, plus the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(configFile), cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the server until ctx is cancelled, a signal arrives
// or a listener fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.BackendOpener == nil {
		deps.BackendOpener = openBackends
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(dsn string) (AutoMigrator, error) {
			return store.NewMigrator(dsn)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}

	logger, err := logging.SetDefault(logging.Options{
		Service: "gatehouse",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return oops.With("operation", "set up logging").Wrap(err)
	}

	logger.Info("starting gatehouse",
		"http_addr", cfg.HTTP.Addr,
		"store_driver", cfg.Store.Driver,
		"sessions_driver", cfg.Sessions.Driver,
	)

	if cfg.Store.Driver == config.DriverPostgres && cfg.Store.AutoMigrate {
		if err := autoMigrate(cfg.Store.DSN, deps.MigratorFactory, logger); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := deps.BackendOpener(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			errutil.LogError(logger, "error closing backends", closeErr)
		}
	}()

	hasher, err := auth.NewPasswordHasher(cfg.Hasher.Algorithm, cfg.Hasher.Cost)
	if err != nil {
		return err
	}
	svc, err := auth.NewAuthServiceWithLogger(b.users, hasher, logger)
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionManager(b.sessions, cfg.Sessions.TTL, logger)
	if err != nil {
		return err
	}

	var ready atomic.Bool
	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	}

	handler, err := web.NewHandler(web.Options{
		Auth:         svc,
		Sessions:     sessions,
		Users:        b.users,
		Metrics:      metrics,
		Logger:       logger,
		LoginPath:    cfg.Web.LoginPath,
		LandingPath:  cfg.Web.LandingPath,
		CookieName:   cfg.Web.CookieName,
		CookieSecure: cfg.Web.CookieSecure,
	})
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	webServer := web.NewServer(cfg.HTTP.Addr, handler, logger)
	webErrCh, err := webServer.Start()
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.With("operation", "start web server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, webErrCh, "web")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runSweeper(ctx, sessions, cfg.Sessions.SweepInterval, metrics, logger)
	}()

	ready.Store(true)
	cmd.Println("Gatehouse started")
	logger.Info("gatehouse ready", "http_addr", webServer.Addr())
	if deps.OnStarted != nil {
		deps.OnStarted(webServer.Addr())
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping web server", "error", err)
	}
	stopObservability(obsServer, logger)
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

func autoMigrate(dsn string, factory func(string) (AutoMigrator, error), logger *slog.Logger) error {
	migrator, err := factory(dsn)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

func stopObservability(s ObservabilityServer, logger *slog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// sessionSweeper is the part of auth.SessionManager the sweeper drives.
type sessionSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// runSweeper removes expired sessions every interval until ctx is done.
func runSweeper(ctx context.Context, s sessionSweeper, interval time.Duration, metrics *observability.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				errutil.LogErrorContext(ctx, logger, "session sweep failed", err)
				continue
			}
			metrics.ObserveSweep(n)
			if n > 0 {
				logger.DebugContext(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
