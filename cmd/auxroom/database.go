package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// openDatabase connects to Postgres and waits for it to respond, since
// the room server usually races the database container on startup.
// Retries back off exponentially until cfg.DBWaitTimeout elapses.
func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	waitCtx, cancel := context.WithTimeout(ctx, cfg.DBWaitTimeout)
	defer cancel()

	backoff := 500 * time.Millisecond
	for {
		pingCtx, cancelPing := context.WithTimeout(waitCtx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancelPing()
		if err == nil {
			return db, nil
		}

		select {
		case <-waitCtx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		case <-time.After(backoff):
		}
		if backoff < 4*time.Second {
			backoff *= 2
		}
	}
}
