// Package database provides connection setup for MariaDB and Redis plus the
// small transaction and error helpers the repositories share. Connections
// are created once at startup and handed to plugins via dependency injection.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/asascience/matos/internal/config"
)

// mysqlDuplicateEntry is the server error number for unique key violations.
const mysqlDuplicateEntry = 1062

// NewMariaDB opens a pool with the configured limits and pings it with
// exponential backoff, since the database container may still be starting.
func NewMariaDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pingWithBackoff("mariadb", db.PingContext, 10); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// pingWithBackoff calls ping up to maxRetries times, doubling the wait
// between attempts up to 30s. name labels the log lines.
func pingWithBackoff(name string, ping func(context.Context) error, maxRetries int) error {
	backoff := time.Second
	var pingErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = ping(ctx)
		cancel()

		if pingErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}

		slog.Warn(name+" not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.Duration("backoff", backoff),
			slog.Any("error", pingErr),
		)
		time.Sleep(backoff)
		backoff = min(backoff*2, 30*time.Second)
	}

	return fmt.Errorf("pinging %s after %d attempts: %w", name, maxRetries, pingErr)
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("rollback failed", slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// IsDuplicateKey reports whether err is a MariaDB unique constraint violation.
func IsDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
