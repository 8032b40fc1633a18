package postgres

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pagewise/pagewise/pkg/logger"
)

const (
	defaultMaxConns          = 10
	defaultMinConns          = 0
	defaultHealthCheckPeriod = 30 * time.Second
	defaultConnectTimeout    = 5 * time.Second
	defaultPingTimeout       = 3 * time.Second
)

// DB is the subset of pgxpool.Pool used by repositories. pgxmock.PgxPoolIface
// satisfies it as well.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool wraps pgxpool.Pool with the metrics registration that must be undone
// on close.
type Pool struct {
	*pgxpool.Pool
	metrics *poolMetrics
}

// NewPool opens a pool for cfg.DSN and verifies it with a ping.
func NewPool(ctx context.Context, cfg *Config) (*Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	poolCfg, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	pingTimeout := defaultPingTimeout
	if cfg.PingTimeout > 0 {
		pingTimeout = cfg.PingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	label := poolLabel(cfg, poolCfg)
	tracker, mErr := trackPool(label, pool)
	if mErr != nil {
		logger.FromContext(ctx).Warn("Postgres metrics not initialized; continuing without metrics", "error", mErr)
	}
	logger.FromContext(ctx).With(
		"pool", label,
		"host", poolCfg.ConnConfig.Host,
		"db_name", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
		"min_conns", poolCfg.MinConns,
	).Info("Postgres pool initialized")
	return &Pool{Pool: pool, metrics: tracker}, nil
}

// Close releases every connection and stops metric observation.
func (p *Pool) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.metrics.unregister()
	p.Pool.Close()
}

func buildPoolConfig(cfg *Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns, poolCfg.MinConns = deriveConnectionBounds(cfg)
	poolCfg.HealthCheckPeriod = defaultHealthCheckPeriod
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	return poolCfg, nil
}

func deriveConnectionBounds(cfg *Config) (int32, int32) {
	maxConns := int32(defaultMaxConns)
	if cfg.MaxConns > 0 {
		maxConns = clampInt32(cfg.MaxConns)
	}
	minConns := int32(defaultMinConns)
	if cfg.MinConns > 0 {
		minConns = clampInt32(cfg.MinConns)
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	return maxConns, minConns
}

func clampInt32(value int) int32 {
	if value > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(value)
}
