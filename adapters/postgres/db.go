// Package postgres stores learned models and training runs with sqlx. The
// same queries run on PostgreSQL (lib/pq) and on SQLite (go-sqlite3) for a
// single-device deployment; placeholders are rebound per driver.
package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"sleepstage/internal/errors"
)

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, url string) (*sqlx.DB, error) {
	switch driver {
	case "postgres", "sqlite3":
	default:
		return nil, errors.ConfigInvalid("unsupported database driver " + driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, url)
	if err != nil {
		return nil, errors.DatabaseError("connecting to "+driver, err)
	}
	if driver == "sqlite3" {
		// one writer at a time
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return db, nil
}
