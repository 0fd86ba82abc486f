// Package dbx opens the Postgres pool the collector stores events in.
package dbx

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tapistry/shared/config"
)

var ErrNoDatabase = errors.New("DATABASE_URL is required")

// PoolConfig applies the pool limits from cfg. Statements are capped at the
// HTTP request budget so a slow insert cannot outlive the ingest request.
func PoolConfig(cfg config.Config) (*pgxpool.Config, error) {
	if cfg.DatabaseURL == "" {
		return nil, ErrNoDatabase
	}
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns > 0 {
		pc.MaxConns = int32(cfg.DBMaxConns)
	}
	if cfg.DBMinConns > 0 {
		pc.MinConns = int32(min(cfg.DBMinConns, int(pc.MaxConns)))
	}
	pc.MaxConnIdleTime = time.Duration(cfg.DBConnMaxIdleSec) * time.Second
	pc.MaxConnLifetime = time.Duration(cfg.DBConnMaxLifeSec) * time.Second

	params := pc.ConnConfig.RuntimeParams
	if cfg.ServiceName != "" {
		params["application_name"] = cfg.ServiceName
	}
	if cfg.RequestTimeoutMS > 0 {
		params["statement_timeout"] = strconv.Itoa(cfg.RequestTimeoutMS)
	}
	return pc, nil
}

func NewPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pc, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, pc)
}

func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return ErrNoDatabase
	}
	return pool.Ping(ctx)
}
