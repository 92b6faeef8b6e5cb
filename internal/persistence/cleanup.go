package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

//goland:noinspection SqlWithoutWhere
var clearDatabaseStatements = []string{
	`DELETE FROM anomalies;`,
	`DELETE FROM dongle_info;`,
	`DELETE FROM sessions;`,
}

func ClearDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	return inTx(ctx, db, "clear database", func(tx *sql.Tx) error {
		for _, stmt := range clearDatabaseStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("clear database tables: %w", err)
			}
		}
		return nil
	})
}

// PruneSessions deletes finished sessions that ended before cutoff, together
// with their anomaly counters. It returns the number of sessions removed.
func PruneSessions(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database is not initialized")
	}

	var removed int64
	err := inTx(ctx, db, "prune sessions", func(tx *sql.Tx) error {
		ms := timeToUnixMillis(cutoff)
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM anomalies
			WHERE session_id IN (SELECT id FROM sessions WHERE ended_at > 0 AND ended_at < ?)
		`, ms); err != nil {
			return fmt.Errorf("prune anomalies: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE ended_at > 0 AND ended_at < ?`, ms)
		if err != nil {
			return fmt.Errorf("prune sessions: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})

	return removed, err
}

func inTx(ctx context.Context, db *sql.DB, what string, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", what, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s tx: %w", what, err)
	}

	return nil
}
