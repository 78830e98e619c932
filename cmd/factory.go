package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Jasonzhangf/webauto-sub011/internal/config"
	"github.com/Jasonzhangf/webauto-sub011/internal/dom"
	"github.com/Jasonzhangf/webauto-sub011/internal/engine"
	"github.com/Jasonzhangf/webauto-sub011/internal/library"
	"github.com/Jasonzhangf/webauto-sub011/internal/matcher"
	"github.com/Jasonzhangf/webauto-sub011/internal/observability"
	"github.com/Jasonzhangf/webauto-sub011/internal/snapcache"
	"github.com/Jasonzhangf/webauto-sub011/internal/store"
	"github.com/Jasonzhangf/webauto-sub011/internal/tagger"
)

// Components holds the initialized services behind a command. It centralizes
// lifecycle management so shutdown releases resources in the right order.
type Components struct {
	Libraries *library.Store
	Engine    *engine.Engine

	dbPool *pgxpool.Pool
	logger *zap.Logger
}

// buildComponents wires the engine from configuration.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	libraries := library.NewStore(cfg.Library.Path, logger)
	tg := tagger.New(logger)
	m := matcher.New(logger, tg, libraries, cfg.Matcher.PollInterval)
	cache := snapcache.New(logger)

	var source dom.Source
	if cfg.Browser.DebugURL != "" {
		source = dom.NewLiveSource(cfg.Browser.DebugURL, logger)
	} else {
		source = dom.NewFetchSource(cfg.Fetch.Timeout, cfg.Fetch.Headers, logger)
	}

	var (
		recorder store.Recorder = store.NopRecorder{}
		dbPool   *pgxpool.Pool
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		auditStore, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := auditStore.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		recorder = auditStore
		dbPool = pool
	}

	eng := engine.New(cfg, logger, libraries, m, tg, cache, source, recorder)

	return &Components{
		Libraries: libraries,
		Engine:    eng,
		dbPool:    dbPool,
		logger:    logger,
	}, nil
}

// Shutdown gracefully closes all components.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Engine != nil {
		c.Engine.Close()
	}
	if err := c.Libraries.Save(); err != nil {
		logger.Warn("Failed to flush library usage stats.", zap.Error(err))
	}
	if c.dbPool != nil {
		c.dbPool.Close()
	}
	logger.Debug("Components shutdown complete.")
}
