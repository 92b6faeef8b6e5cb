package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/skobkin/carlinkgo/internal/journal"
	"github.com/skobkin/carlinkgo/internal/protocol"
)

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Insert(ctx context.Context, s journal.Session) error {
	stream, err := marshalStream(s.Stream)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions(id, transport, target, started_at, ended_at, last_state, phone, wifi, stream_json, end_reason, end_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Transport, nullableString(s.Target), timeToUnixMillis(s.StartedAt), timeToUnixMillis(s.EndedAt),
		stateOrIdle(s.LastState), nullablePhone(s.Phone), nullableUint32(s.Wifi), stream,
		nullableString(s.EndReason), nullableString(s.EndError))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Update overwrites every mutable column of an existing session.
func (r *SessionRepo) Update(ctx context.Context, s journal.Session) error {
	stream, err := marshalStream(s.Stream)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			ended_at = ?,
			last_state = ?,
			phone = ?,
			wifi = ?,
			stream_json = ?,
			end_reason = ?,
			end_error = ?
		WHERE id = ?
	`, timeToUnixMillis(s.EndedAt), stateOrIdle(s.LastState), nullablePhone(s.Phone), nullableUint32(s.Wifi), stream,
		nullableString(s.EndReason), nullableString(s.EndError), s.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update session %s: %w", s.ID, sql.ErrNoRows)
	}
	return nil
}

func (r *SessionRepo) ListRecent(ctx context.Context, limit int) ([]journal.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transport, target, started_at, ended_at, last_state, phone, wifi, stream_json, end_reason, end_error
		FROM sessions
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []journal.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(scanner interface {
	Scan(dest ...any) error
}) (journal.Session, error) {
	var (
		s         journal.Session
		startedMs int64
		endedMs   int64
		target    sql.NullString
		phone     sql.NullInt64
		wifi      sql.NullInt64
		stream    sql.NullString
		reason    sql.NullString
		endErr    sql.NullString
	)
	if err := scanner.Scan(&s.ID, &s.Transport, &target, &startedMs, &endedMs, &s.LastState, &phone, &wifi, &stream, &reason, &endErr); err != nil {
		return journal.Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.Target = target.String
	s.StartedAt = unixMillisToTime(startedMs)
	s.EndedAt = unixMillisToTime(endedMs)
	if phone.Valid {
		kind := protocol.PhoneKind(phone.Int64)
		s.Phone = &kind
	}
	s.Wifi = uint32FromNull(wifi)
	if stream.Valid {
		var params protocol.StreamParams
		if err := json.Unmarshal([]byte(stream.String), &params); err != nil {
			return journal.Session{}, fmt.Errorf("decode stream params of session %s: %w", s.ID, err)
		}
		s.Stream = &params
	}
	s.EndReason = reason.String
	s.EndError = endErr.String

	return s, nil
}

func marshalStream(p *protocol.StreamParams) (any, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode stream params: %w", err)
	}
	return string(raw), nil
}

func nullablePhone(p *protocol.PhoneKind) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func stateOrIdle(s string) string {
	if s == "" {
		return "idle"
	}
	return s
}
