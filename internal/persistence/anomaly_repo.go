package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skobkin/carlinkgo/internal/journal"
	"github.com/skobkin/carlinkgo/internal/protocol"
)

type AnomalyRepo struct {
	db *sql.DB
}

func NewAnomalyRepo(db *sql.DB) *AnomalyRepo {
	return &AnomalyRepo{db: db}
}

func (r *AnomalyRepo) Increment(ctx context.Context, c journal.AnomalyCount) error {
	count := c.Count
	if count <= 0 {
		count = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO anomalies(session_id, kind, type_id, count, last_detail, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, kind, type_id) DO UPDATE SET
			count = anomalies.count + excluded.count,
			last_detail = excluded.last_detail,
			last_seen_at = excluded.last_seen_at
	`, c.SessionID, string(c.Kind), int64(c.TypeID), count, nullableString(c.LastDetail), timeToUnixMillis(c.LastSeenAt))
	if err != nil {
		return fmt.Errorf("increment anomaly %s: %w", c.Kind, err)
	}
	return nil
}

func (r *AnomalyRepo) ListBySession(ctx context.Context, sessionID string) ([]journal.AnomalyCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, kind, type_id, count, last_detail, last_seen_at
		FROM anomalies
		WHERE session_id = ?
		ORDER BY count DESC, kind, type_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []journal.AnomalyCount
	for rows.Next() {
		var (
			c      journal.AnomalyCount
			kind   string
			typeID int64
			detail sql.NullString
			seenMs int64
		)
		if err := rows.Scan(&c.SessionID, &kind, &typeID, &c.Count, &detail, &seenMs); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		c.Kind = protocol.AnomalyKind(kind)
		c.TypeID = uint32(typeID)
		c.LastDetail = detail.String
		c.LastSeenAt = unixMillisToTime(seenMs)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomalies: %w", err)
	}
	return out, nil
}
