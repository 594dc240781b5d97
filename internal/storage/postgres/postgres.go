// Package postgres provides PostgreSQL persistence for concluded games
// using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/config"
)

// applicationName tags archive connections in pg_stat_activity.
const applicationName = "duel-archive"

const (
	defaultCheckInterval = 30 * time.Second
	defaultCheckTimeout  = 5 * time.Second
)

// Option configures a Pool.
type Option func(*Pool)

// WithCheckInterval sets how often a running Pool pings the database.
func WithCheckInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithCheckTimeout bounds each health ping.
func WithCheckTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Pool is the archive's connection pool. Repositories query through DB.
// As a lifecycle service it checks the database on an interval, logging
// when it becomes unreachable and when it recovers; Stop closes the pool.
type Pool struct {
	db       *pgxpool.Pool
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	healthy  atomic.Bool
	failures atomic.Int64

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewPool connects to the database described by cfg.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a pinged Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger, opts ...Option) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}

	p := &Pool{
		db:       db,
		logger:   logger,
		interval: defaultCheckInterval,
		timeout:  defaultCheckTimeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.healthy.Store(true)
	return p, nil
}

// Health pings the database within the check timeout.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.db.Ping(ctx)
}

// Healthy reports the result of the most recent check.
func (p *Pool) Healthy() bool { return p.healthy.Load() }

// Failures returns the number of failed checks.
func (p *Pool) Failures() int64 { return p.failures.Load() }

// Start checks the database every interval until Stop.
func (p *Pool) Start() error {
	p.started.Store(true)
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return nil
		case <-ticker.C:
			p.check()
		}
	}
}

func (p *Pool) check() {
	if err := p.Health(context.Background()); err != nil {
		p.failures.Add(1)
		if p.healthy.Swap(false) {
			p.logger.Warn("database unreachable", zap.Error(err))
		}
		return
	}
	if !p.healthy.Swap(true) {
		p.logger.Info("database reachable again", zap.Int64("failed_checks", p.failures.Load()))
	}
	s := p.db.Stat()
	p.logger.Debug("database healthy",
		zap.Int32("conns", s.TotalConns()),
		zap.Int32("idle", s.IdleConns()),
		zap.Int32("acquired", s.AcquiredConns()),
	)
}

// Stop ends the check loop, waits for it, and closes the pool. Safe to call
// more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
	p.db.Close()
}

// Close releases the pool without touching the check loop. Used by callers
// that never start the Pool as a service.
func (p *Pool) Close() {
	p.db.Close()
}

// DB returns the underlying pgxpool.Pool for use by repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.db
}
