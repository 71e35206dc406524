package factory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stokerhq/stoker"
	"github.com/stokerhq/stoker/internal"
)

// NewEngineWithConfig creates an Engine over the Postgres-backed document
// store. This is the primary way for external projects to build an engine.
//
// Usage:
//
//	config := stoker.DefaultConfig()
//	engine, err := factory.NewEngineWithConfig(ctx, schema, pool, config, hooks)
func NewEngineWithConfig(ctx context.Context, schema *stoker.CollectionsSchema, pool *pgxpool.Pool, config *stoker.Config, hooks stoker.HookSet) (stoker.Engine, error) {
	if schema == nil || len(schema.Collections) == 0 {
		return nil, fmt.Errorf("a resolved schema with at least one collection is required")
	}
	if config == nil {
		config = stoker.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("verify database connection: %w", err)
	}

	store := internal.NewPostgresStore(pool, config.Database.TableNames, config.Store)
	return internal.NewEngine(schema, store, nil, hooks, config), nil
}

// NewEngineWithStore creates an Engine over a caller-provided document store.
// Useful for tests (the in-memory store) and alternative backends.
func NewEngineWithStore(schema *stoker.CollectionsSchema, store stoker.DocumentStore, config *stoker.Config, hooks stoker.HookSet) (stoker.Engine, error) {
	if schema == nil || len(schema.Collections) == 0 {
		return nil, fmt.Errorf("a resolved schema with at least one collection is required")
	}
	if config == nil {
		config = stoker.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return internal.NewEngine(schema, store, nil, hooks, config), nil
}

// NewMemoryEngine creates an Engine over the in-memory store with default
// configuration. Intended for tests and local development.
func NewMemoryEngine(schema *stoker.CollectionsSchema, hooks stoker.HookSet) (stoker.Engine, error) {
	return NewEngineWithStore(schema, internal.NewMemoryStore(), nil, hooks)
}

// NewPool builds a pgx pool from the database configuration.
func NewPool(ctx context.Context, cfg stoker.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, cfg.SSLMode,
	)
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return pool, nil
}
