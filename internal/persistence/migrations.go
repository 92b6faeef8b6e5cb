package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[i] upgrades the schema from user_version i to i+1.
var migrations = []string{
	`
	CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		transport TEXT NOT NULL,
		target TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL DEFAULT 0,
		last_state TEXT NOT NULL DEFAULT 'idle',
		phone INTEGER,
		wifi INTEGER,
		stream_json TEXT,
		end_reason TEXT,
		end_error TEXT
	);
	CREATE INDEX idx_sessions_started_at ON sessions(started_at);

	CREATE TABLE dongle_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		session_id TEXT,
		updated_at INTEGER NOT NULL
	);
	`,
	`
	CREATE TABLE anomalies (
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		type_id INTEGER NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		last_detail TEXT,
		last_seen_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, kind, type_id)
	);
	`,
}

// SchemaVersion is the user_version after all migrations ran.
var SchemaVersion = len(migrations)

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, len(migrations))
	}

	for v := version; v < len(migrations); v++ {
		if err := applyMigration(ctx, db, v); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, from int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d tx: %w", from+1, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, migrations[from]); err != nil {
		return fmt.Errorf("apply migration %d: %w", from+1, err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, from+1)); err != nil {
		return fmt.Errorf("set schema version %d: %w", from+1, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", from+1, err)
	}

	return nil
}
