// Package postgres persists the move journal in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/simverse/internal/config"
)

// DefaultHealthTimeout bounds a single journal health probe.
const DefaultHealthTimeout = 2 * time.Second

// Pool is the journal's connection pool. Its Health method backs the
// server's readiness check while the journal is enabled.
type Pool struct {
	pool          *pgxpool.Pool
	healthTimeout time.Duration
	logger        *zap.Logger
}

// NewPool connects to the journal database described by cfg.
//
// Precondition: cfg must pass DatabaseConfig validation; logger must be non-nil.
// Postcondition: Returns a pinged Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing journal database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	start := time.Now()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating journal pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging journal database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	logger.Info("journal database connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name),
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Pool{pool: pool, healthTimeout: DefaultHealthTimeout, logger: logger}, nil
}

// Health pings the database, giving up after the pool's health timeout.
//
// Postcondition: Returns nil if the database answered in time.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		p.logger.Warn("journal database health check failed", zap.Error(err))
		return fmt.Errorf("journal database unreachable: %w", err)
	}
	return nil
}

// Close releases every connection.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool for repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
