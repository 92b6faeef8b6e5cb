package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skobkin/carlinkgo/internal/journal"
)

type InfoRepo struct {
	db *sql.DB
}

func NewInfoRepo(db *sql.DB) *InfoRepo {
	return &InfoRepo{db: db}
}

func (r *InfoRepo) Upsert(ctx context.Context, e journal.InfoEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dongle_info(key, value, session_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`, e.Key, e.Value, nullableString(e.SessionID), timeToUnixMillis(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert dongle info %s: %w", e.Key, err)
	}
	return nil
}

func (r *InfoRepo) List(ctx context.Context) ([]journal.InfoEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, value, session_id, updated_at
		FROM dongle_info
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("list dongle info: %w", err)
	}
	defer rows.Close()

	var out []journal.InfoEntry
	for rows.Next() {
		var (
			e         journal.InfoEntry
			sessionID sql.NullString
			updatedMs int64
		)
		if err := rows.Scan(&e.Key, &e.Value, &sessionID, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan dongle info: %w", err)
		}
		e.SessionID = sessionID.String
		e.UpdatedAt = unixMillisToTime(updatedMs)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dongle info: %w", err)
	}
	return out, nil
}
