package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	directoryAppName       = "gymchat-directory"
	directoryStmtTimeoutMS = "5000"
	directoryPingTimeout   = 3 * time.Second
)

// NewDBPool builds the pgxpool backing the room directory and validates connectivity.
// The directory tables are owned by the gym backend; nothing here migrates them.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := directoryPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, directoryPingTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// directoryPoolConfig sizes the pool for room listings: a few short read-only queries
// per request, never a write. Sessions are read-only on the server side too.
func directoryPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.HealthCheckPeriod = time.Minute

	rp := pcfg.ConnConfig.RuntimeParams
	if rp["application_name"] == "" {
		rp["application_name"] = directoryAppName
	}
	rp["default_transaction_read_only"] = "on"
	if rp["statement_timeout"] == "" {
		rp["statement_timeout"] = directoryStmtTimeoutMS
	}
	return pcfg, nil
}

// PingDB acquires a connection and pings it within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Ping(ctx)
}
