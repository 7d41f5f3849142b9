package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"engineroom/internal/config"
	"engineroom/internal/logger"
	"engineroom/internal/service"
	"engineroom/internal/store/gormstore"
	"engineroom/internal/store/snapshot"
	enginehttp "engineroom/internal/transport/http"
	"engineroom/internal/types"
)

// App owns application-level orchestration: build the stores, the rule
// registry and the service, then serve the HTTP API until shutdown.
type App struct {
	cfg       *config.Config
	rules     *config.RuleRegistry
	runs      *gormstore.GormStore
	snapshots *snapshot.Store
	svc       *service.Service
	httpSrv   *enginehttp.Server
}

// NewApp builds the application object without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	rules, err := config.NewRuleRegistry(cfg.Rules.Path, cfg.Rules.Watch)
	if err != nil {
		return nil, fmt.Errorf("init rule registry: %w", err)
	}
	runs, err := gormstore.NewGormStore(cfg.Store.RunDBPath)
	if err != nil {
		return nil, fmt.Errorf("init run store: %w", err)
	}
	snapshots, err := snapshot.NewStore(cfg.Store.SnapshotDBPath)
	if err != nil {
		_ = runs.Close()
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}
	svc, err := service.New(service.Options{
		Workers:   cfg.Engine.Workers,
		Rules:     rules,
		Runs:      runs,
		Snapshots: snapshots,
	})
	if err != nil {
		_ = runs.Close()
		_ = snapshots.Close()
		return nil, fmt.Errorf("init service: %w", err)
	}
	httpSrv, err := enginehttp.NewServer(enginehttp.ServerConfig{
		Addr:        cfg.App.HTTPAddr,
		Service:     svc,
		DefaultMode: types.RuleMode(cfg.Engine.DefaultMode),
		Debug:       !cfg.App.IsProd(),
	})
	if err != nil {
		_ = runs.Close()
		_ = snapshots.Close()
		return nil, fmt.Errorf("init http server: %w", err)
	}
	return &App{
		cfg:       cfg,
		rules:     rules,
		runs:      runs,
		snapshots: snapshots,
		svc:       svc,
		httpSrv:   httpSrv,
	}, nil
}

// Run serves the API until ctx is cancelled, then closes the stores.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	logger.Infof("engine room listening on %s (env=%s mode=%s rules=%s)",
		a.httpSrv.Addr(), a.cfg.App.Env, a.cfg.Engine.DefaultMode, a.rules.Current().Version)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()
	a.Close()
	return err
}

// Close releases the stores. Safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.snapshots != nil {
		_ = a.snapshots.Close()
		a.snapshots = nil
	}
	if a.runs != nil {
		_ = a.runs.Close()
		a.runs = nil
	}
}

// Service exposes the underlying service instance for test harnesses.
func (a *App) Service() *service.Service {
	if a == nil {
		return nil
	}
	return a.svc
}
