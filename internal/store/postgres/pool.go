// Package postgres implements the durable chat store on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// poolDefaults replace the pgxpool defaults unless the DSN sets the
// matching pool_* parameter.
var poolDefaults = []struct {
	param string
	apply func(*pgxpool.Config)
}{
	{"pool_max_conns", func(c *pgxpool.Config) { c.MaxConns = 8 }},
	{"pool_max_conn_idle_time", func(c *pgxpool.Config) { c.MaxConnIdleTime = 5 * time.Minute }},
	{"pool_max_conn_lifetime", func(c *pgxpool.Config) { c.MaxConnLifetime = 60 * time.Minute }},
	{"pool_health_check_period", func(c *pgxpool.Config) { c.HealthCheckPeriod = time.Minute }},
}

// Connect creates a pgx connection pool for dsn and verifies it with a ping.
// SQLAlchemy-style driver suffixes such as "postgresql+asyncpg://" are accepted.
// opts run last and override both the DSN and the defaults.
func Connect(ctx context.Context, dsn string, opts ...func(*pgxpool.Config)) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(dsn, opts...)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func poolConfig(dsn string, opts ...func(*pgxpool.Config)) (*pgxpool.Config, error) {
	dsn = normalizeDSN(dsn)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	for _, d := range poolDefaults {
		if !strings.Contains(dsn, d.param+"=") {
			d.apply(cfg)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg, nil
}

// Migrate creates the tables the store needs if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, suffix := range []string{"+asyncpg", "+pgx"} {
		s = strings.Replace(s, "postgresql"+suffix+"://", "postgresql://", 1)
		s = strings.Replace(s, "postgres"+suffix+"://", "postgres://", 1)
	}
	return s
}
