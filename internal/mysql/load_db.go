package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	driver "github.com/go-sql-driver/mysql"
)

//go:embed sessions.sql
var sessionsSchema string

// PrepareDSN forces clientFoundRows so an UPDATE that rewrites identical
// values still reports the matched row to the session store.
func PrepareDSN(dsn string) (string, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql: parse dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func LoadDB(ctx context.Context, dsn string) (*sql.DB, error) {
	prepared, err := PrepareDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", prepared)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: cannot connect: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sessionsSchema); err != nil {
		return fmt.Errorf("mysql: create bff_sessions: %w", err)
	}
	return nil
}
