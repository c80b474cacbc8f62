package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultApplicationName = "brandlift-api"
	// Structural writes hold the study row lock; a waiter gives up after this.
	defaultLockTimeout    = 5 * time.Second
	defaultConnectTimeout = 5 * time.Second
)

// PoolConfig mirrors the BRANDLIFT_DB_* settings. Zero durations take the
// package defaults.
type PoolConfig struct {
	ConnString      string
	MaxConns        int32
	MinConns        int32
	ApplicationName string
	LockTimeout     time.Duration
	ConnectTimeout  time.Duration
}

func (c PoolConfig) validate() error {
	switch {
	case c.ConnString == "":
		return errors.New("DATABASE_URL is empty")
	case c.MaxConns <= 0:
		return fmt.Errorf("max conns must be positive, got %d", c.MaxConns)
	case c.MinConns < 0 || c.MinConns > c.MaxConns:
		return fmt.Errorf("min conns %d outside 0..%d", c.MinConns, c.MaxConns)
	case c.LockTimeout < 0 || c.ConnectTimeout < 0:
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// buildPoolConfig turns c into a pgxpool config without connecting.
func buildPoolConfig(c PoolConfig) (*pgxpool.Config, error) {
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	cfg, err := pgxpool.ParseConfig(c.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = c.MaxConns
	cfg.MinConns = c.MinConns
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	connectTimeout := c.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	name := c.ApplicationName
	if name == "" {
		name = defaultApplicationName
	}
	lockTimeout := c.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = defaultLockTimeout
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = name
	cfg.ConnConfig.RuntimeParams["lock_timeout"] = strconv.FormatInt(lockTimeout.Milliseconds(), 10)
	return cfg, nil
}

// NewPool connects and pings.
func NewPool(ctx context.Context, c PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := buildPoolConfig(c)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
