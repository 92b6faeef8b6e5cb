package journal

import (
	"time"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

// End reasons recorded when a session row is closed.
const (
	EndReasonClosed   = "closed"
	EndReasonFailed   = "failed"
	EndReasonReplaced = "replaced"
)

// Session is one dongle connection, from claim to disconnect.
type Session struct {
	ID        string
	Transport string
	Target    string
	StartedAt time.Time
	EndedAt   time.Time
	LastState string
	Phone     *protocol.PhoneKind
	Wifi      *uint32
	Stream    *protocol.StreamParams
	EndReason string
	EndError  string
}

// InfoEntry is the latest value of one piece of dongle metadata.
type InfoEntry struct {
	Key       string
	Value     string
	SessionID string
	UpdatedAt time.Time
}

// AnomalyCount aggregates anomalies of one kind and message type within a session.
type AnomalyCount struct {
	SessionID  string
	Kind       protocol.AnomalyKind
	TypeID     uint32
	Count      int64
	LastDetail string
	LastSeenAt time.Time
}
