package database

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxRetries = 10
	retryDelay = 2 * time.Second
	pingTTL    = 5 * time.Second
)

// Connect opens a pgx pool and pings it, retrying while the database
// container is still starting.
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		// the parse error quotes the DSN, password included
		return nil, errors.New("parse database url")
	}
	if maxConns > 0 {
		pcfg.MaxConns = maxConns
	}
	pcfg.HealthCheckPeriod = 30 * time.Second

	for i := 1; i <= maxRetries; i++ {
		var pool *pgxpool.Pool
		pool, err = pgxpool.NewWithConfig(ctx, pcfg)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, pingTTL)
			err = pool.Ping(pctx)
			cancel()
			if err == nil {
				return pool, nil
			}
			pool.Close()
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "db connect canceled")
		}
	}

	return nil, errors.Wrapf(err, "database unreachable after %d attempts", maxRetries)
}
