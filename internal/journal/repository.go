package journal

import "context"

type SessionRepository interface {
	Insert(ctx context.Context, s Session) error
	Update(ctx context.Context, s Session) error
	ListRecent(ctx context.Context, limit int) ([]Session, error)
}

type InfoRepository interface {
	Upsert(ctx context.Context, e InfoEntry) error
	List(ctx context.Context) ([]InfoEntry, error)
}

type AnomalyRepository interface {
	// Increment adds c.Count to the stored counter, creating it when missing.
	Increment(ctx context.Context, c AnomalyCount) error
	ListBySession(ctx context.Context, sessionID string) ([]AnomalyCount, error)
}
