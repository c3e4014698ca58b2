// Package pgstac provides the pgSTAC catalog queries this service needs,
// on top of a pgx connection pool.
package pgstac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hrodmn/eoapi-subdataset-params/internal/observability"
)

var ErrItemNotFound = errors.New("item not found")

type Pool struct {
	logger *slog.Logger
	db     *pgxpool.Pool
}

func Connect(ctx context.Context, logger *slog.Logger, dsn string, maxConns int) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to pgstac", "max_conns", cfg.MaxConns)
	return &Pool{logger: logger, db: db}, nil
}

func (p *Pool) Close() {
	p.db.Close()
}

// GetItemRaw returns the item JSON from pgstac.get_item, or
// ErrItemNotFound when the catalog has no such item.
func (p *Pool) GetItemRaw(ctx context.Context, collection, item string) ([]byte, error) {
	start := time.Now()
	var raw []byte
	err := p.db.QueryRow(ctx,
		"SELECT pgstac.get_item($1, $2);", item, collection).Scan(&raw)
	observability.ObserveUpstreamLatency("pgstac", time.Since(start).Seconds())

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, item, ErrItemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pgstac.get_item %s/%s: %w", collection, item, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", collection, item, ErrItemNotFound)
	}
	return raw, nil
}

// Collections returns the pgstac.all_collections JSON array.
func (p *Pool) Collections(ctx context.Context) ([]byte, error) {
	start := time.Now()
	var raw []byte
	err := p.db.QueryRow(ctx, "SELECT * FROM pgstac.all_collections();").Scan(&raw)
	observability.ObserveUpstreamLatency("pgstac", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("pgstac.all_collections: %w", err)
	}
	if len(raw) == 0 {
		raw = []byte("[]")
	}
	return raw, nil
}

// MigrationsVersion reports the installed pgstac version, bounding pool
// acquisition by timeout. Used by the health check.
func (p *Pool) MigrationsVersion(ctx context.Context, timeout time.Duration) (string, error) {
	acqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := p.db.Acquire(acqCtx)
	observability.ObservePoolAcquire(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var version string
	if err := conn.QueryRow(ctx, "SELECT version FROM pgstac.migrations;").Scan(&version); err != nil {
		return "", fmt.Errorf("pgstac.migrations: %w", err)
	}
	return version, nil
}
