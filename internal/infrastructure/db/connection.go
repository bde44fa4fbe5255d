// Package db owns the Postgres connection pool and wires the
// repository bundle on top of it.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/persistence"
	"github.com/sawpanic/copyrun/internal/persistence/postgres"
)

// Manager holds the pool and the repositories built on it.
type Manager struct {
	db    *sqlx.DB
	cfg   config.DatabaseConfig
	repos *persistence.Repository
}

// NewManager opens the pool, verifies connectivity, applies the schema
// and builds every repository.
func NewManager(ctx context.Context, cfg config.DatabaseConfig) (*Manager, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime))

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := postgres.Bootstrap(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	timeout := time.Duration(cfg.QueryTimeout)
	repos := &persistence.Repository{
		Markets:  postgres.NewMarketsRepo(db, timeout),
		Wallets:  postgres.NewWalletsRepo(db, timeout),
		Trades:   postgres.NewTradesRepo(db, timeout),
		Features: postgres.NewFeaturesRepo(db, timeout),
		Classify: postgres.NewClassifyRepo(db, timeout),
		Paper:    postgres.NewPaperRepo(db, timeout),
		Scores:   postgres.NewScoresRepo(db, timeout),
		Anomaly:  postgres.NewAnomalyRepo(db, timeout),
		Jobs:     postgres.NewJobsRepo(db, timeout),
	}

	return &Manager{db: db, cfg: cfg, repos: repos}, nil
}

// Repository returns the wired repository bundle.
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// DB exposes the pool for health checks and ad hoc queries.
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Stats reports connection pool counters for the health endpoint.
func (m *Manager) Stats() map[string]any {
	stats := m.db.Stats()
	return map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// Close releases the pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
