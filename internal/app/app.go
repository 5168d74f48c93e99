// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the harvester.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jobmarket-tools/harvester/internal/api"
	"github.com/jobmarket-tools/harvester/internal/clock/system"
	"github.com/jobmarket-tools/harvester/internal/config"
	"github.com/jobmarket-tools/harvester/internal/harvest"
	"github.com/jobmarket-tools/harvester/internal/identity"
	"github.com/jobmarket-tools/harvester/internal/ingest"
	"github.com/jobmarket-tools/harvester/internal/source/justjoin"
	"github.com/jobmarket-tools/harvester/internal/storage/postgres"
)

// App holds all shared, long-lived services. Initialized once at startup and
// torn down by Close.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Manager *harvest.Manager
	Server  *api.Server

	pool *pgxpool.Pool
}

// New wires the full service graph from configuration: connection pool,
// stores, resolver, ingestion pipeline, one engine per configured source, the
// lifecycle manager and the HTTP control surface. Fails fast if any critical
// dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}

	entities := postgres.NewEntityStore(pool)
	lookups := postgres.NewLookupStore(pool)
	offers := postgres.NewOfferStore(pool)
	states := postgres.NewStateStore(pool, logger)

	resolver := identity.NewResolver(entities, logger)
	pipeline := ingest.NewPipeline(resolver, lookups, offers, logger)
	clk := system.Clock{}

	manager := harvest.NewManager(logger)
	intervals := make(map[string]time.Duration, len(cfg.Sources))
	for name, src := range cfg.Sources {
		adapter, err := newAdapter(name, src)
		if err != nil {
			pool.Close()
			return nil, err
		}
		engine := harvest.NewEngine(adapter, offers, states, pipeline, clk, logger)
		if err := manager.Register(name, engine); err != nil {
			pool.Close()
			return nil, fmt.Errorf("register source %q: %w", name, err)
		}
		intervals[name] = src.Interval()
	}

	server := api.NewServer(manager, intervals, logger)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Manager: manager,
		Server:  server,
		pool:    pool,
	}, nil
}

// newAdapter maps a configured source kind onto its concrete adapter. Kinds
// are a closed set; an unknown kind is a configuration error.
func newAdapter(name string, src config.SourceConfig) (harvest.Adapter, error) {
	switch src.Kind {
	case "justjoin":
		return justjoin.New(justjoin.Config{
			Name:    name,
			BaseURL: src.BaseURL,
			Timeout: src.Timeout(),
			PerPage: src.PerPage,
			Params:  src.Params,
		}), nil
	default:
		return nil, fmt.Errorf("source %q has unknown kind %q", name, src.Kind)
	}
}

// StartConfigured launches every source marked autostart.
func (a *App) StartConfigured() error {
	for name, src := range a.Config.Sources {
		if !src.Autostart {
			continue
		}
		if err := a.Manager.Start(name, src.Interval()); err != nil {
			return fmt.Errorf("autostart %q: %w", name, err)
		}
	}
	return nil
}

// Close stops every worker and releases shared resources. Blocks until all
// in-flight cycles finish.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	a.Manager.StopAll()
	a.pool.Close()
	// Best effort; syncing stderr fails on some platforms.
	_ = a.Logger.Sync()
}
