package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Connect opens the database and applies the schema.
func Connect(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "sqlite3" {
		// in-memory databases are per connection
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == "sqlite3" {
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Schema is written in the sqlite dialect and rewritten for postgres.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        display_name TEXT NOT NULL,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'offline',
        verified BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`,
	`CREATE TABLE IF NOT EXISTS buddies (
        user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        buddy_user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (user_id, buddy_user_id)
    );`,
	`CREATE TABLE IF NOT EXISTS buddy_requests (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        from_user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        to_user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        status TEXT NOT NULL DEFAULT 'pending',
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`,
	`CREATE TABLE IF NOT EXISTS blocks (
        blocker_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        blocked_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (blocker_id, blocked_id)
    );`,
	`CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        from_user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        to_user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        body TEXT NOT NULL,
        is_read BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`,
	`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (from_user_id, to_user_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_buddy_requests_to ON buddy_requests (to_user_id, status);`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if db.DriverName() == "postgres" {
			m = strings.ReplaceAll(m, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
			m = strings.ReplaceAll(m, "TIMESTAMP NOT NULL", "TIMESTAMPTZ NOT NULL")
		}
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	zap.L().Info("database migrations applied", zap.String("driver", db.DriverName()))
	return nil
}
