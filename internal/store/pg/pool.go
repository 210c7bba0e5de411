package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"notifgw/internal/config"
)

type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   string
	MaxConnIdleTime   string
	HealthCheckPeriod string
}

func OptionsFrom(c config.DBConfig) PoolOptions {
	return PoolOptions{
		MaxConns:          c.DBPoolMaxConns,
		MinConns:          c.DBPoolMinConns,
		MaxConnLifetime:   c.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   c.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: c.DBPoolHealthCheckPeriod,
	}
}

// NewPool builds a pool and verifies connectivity before returning it.
func NewPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns >= 0 {
		cfg.MinConns = opts.MinConns
	}

	durations := []struct {
		env string
		raw string
		dst *time.Duration
	}{
		{"DB_POOL_MAX_CONN_LIFETIME", opts.MaxConnLifetime, &cfg.MaxConnLifetime},
		{"DB_POOL_MAX_CONN_IDLE_TIME", opts.MaxConnIdleTime, &cfg.MaxConnIdleTime},
		{"DB_POOL_HEALTH_CHECK_PERIOD", opts.HealthCheckPeriod, &cfg.HealthCheckPeriod},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.env, err)
		}
		*d.dst = v
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
