// Command granter runs the badge job engine and its admin API.
//
// Usage:
//
//	granter --config granter.yaml
//
// Every setting can be overridden with a GRANTER_* environment variable,
// for example GRANTER_STORE_BACKEND=postgres GRANTER_POSTGRES_DSN=....
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/granter"
	"github.com/xraph/granter/api"
	audithook "github.com/xraph/granter/audit_hook"
	"github.com/xraph/granter/badge"
	"github.com/xraph/granter/cron"
	"github.com/xraph/granter/engine"
)

func main() {
	configPath := cli.StringP("config", "c", "", "Path to granter.yaml")
	migrateOnly := cli.Bool("migrate", false, "Run schema migrations and exit")
	cli.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "granter: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, *migrateOnly, logger); err != nil {
		logger.Error("granter exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, configPath string, migrateOnly bool, logger *slog.Logger) error {
	be, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = be.Close() }()

	if err := be.jobs.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if migrateOnly {
		logger.Info("migrations applied", slog.String("backend", cfg.Store.Backend))
		return be.jobs.Close()
	}

	r, err := granter.New(
		granter.WithStore(be.jobs),
		granter.WithConfig(cfg.runnerConfig()),
		granter.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}
	engOpts := []engine.Option{engine.WithQueueConfig(cfg.queueConfigs()...)}
	if cfg.Audit.Enabled {
		var auditOpts []audithook.Option
		if len(cfg.Audit.Actions) > 0 {
			auditOpts = append(auditOpts, audithook.WithActions(cfg.Audit.Actions...))
		}
		auditOpts = append(auditOpts, audithook.WithLogger(logger))
		recorder := audithook.LogRecorder{Logger: logger.With(slog.String("component", "audit"))}
		engOpts = append(engOpts, engine.WithExtension(audithook.New(recorder, auditOpts...)))
	}
	eng, err := engine.Build(r, engOpts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	flag := newFileFlag(configPath, cfg.Badges.Enabled, logger)
	svc := badge.NewService(be.badges, be.badges, eng, eng.Debouncer(),
		badge.WithConfig(cfg.badgeConfig()),
		badge.WithFeatureFlag(flag),
		badge.WithLogger(logger),
	)
	badge.Register(eng, svc)

	if cfg.Badges.Schedule != "" {
		if err := engine.RegisterCron(eng, &cron.Definition[badge.GrantAllPayload]{
			Name:     badge.GrantAllJobName,
			Schedule: cfg.Badges.Schedule,
			JobName:  badge.GrantAllJobName,
			Queue:    svc.Config().Queue,
		}); err != nil {
			return err
		}
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("granter started",
		slog.String("backend", cfg.Store.Backend),
		slog.String("addr", cfg.HTTP.Addr),
		slog.Bool("badges_enabled", cfg.Badges.Enabled),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(eng, svc, api.WithLogger(logger)).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if configPath != "" {
		g.Go(func() error { return flag.watch(gctx) })
	}

	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.runnerConfig().ShutdownTimeout)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop engine: %w", err))
	}
	logger.Info("granter stopped")
	return runErr
}
