package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/skobkin/carlinkgo/internal/connectors"
	"github.com/skobkin/carlinkgo/internal/protocol"
)

type syncQueue struct {
	names []string
}

func (q *syncQueue) Enqueue(name string, fn func(context.Context) error) {
	q.names = append(q.names, name)
	_ = fn(context.Background())
}

type memSessions struct {
	rows map[string]Session
}

func (m *memSessions) Insert(_ context.Context, s Session) error {
	if _, ok := m.rows[s.ID]; ok {
		return errors.New("duplicate")
	}
	m.rows[s.ID] = s
	return nil
}

func (m *memSessions) Update(_ context.Context, s Session) error {
	if _, ok := m.rows[s.ID]; !ok {
		return errors.New("missing")
	}
	m.rows[s.ID] = s
	return nil
}

func (m *memSessions) ListRecent(context.Context, int) ([]Session, error) { return nil, nil }

type memInfo struct {
	rows map[string]InfoEntry
}

func (m *memInfo) Upsert(_ context.Context, e InfoEntry) error {
	m.rows[e.Key] = e
	return nil
}

func (m *memInfo) List(context.Context) ([]InfoEntry, error) { return nil, nil }

type memAnomalies struct {
	counts map[string]int64
}

func (m *memAnomalies) Increment(_ context.Context, c AnomalyCount) error {
	m.counts[fmt.Sprintf("%s/%s/%d", c.SessionID, c.Kind, c.TypeID)] += c.Count
	return nil
}

func (m *memAnomalies) ListBySession(context.Context, string) ([]AnomalyCount, error) {
	return nil, nil
}

type fixture struct {
	queue     *syncQueue
	sessions  *memSessions
	info      *memInfo
	anomalies *memAnomalies
	journal   *Journal
}

func newFixture() *fixture {
	f := &fixture{
		queue:     &syncQueue{},
		sessions:  &memSessions{rows: map[string]Session{}},
		info:      &memInfo{rows: map[string]InfoEntry{}},
		anomalies: &memAnomalies{counts: map[string]int64{}},
	}
	n := 0
	f.journal = New(nil, f.queue, Repositories{Sessions: f.sessions, Info: f.info, Anomalies: f.anomalies},
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("s%d", n)
		}))
	return f
}

func TestJournalSessionLifecycle(t *testing.T) {
	f := newFixture()
	t0 := time.Unix(1000, 0)
	phone := protocol.PhoneKind(3)
	stream := protocol.StreamParams{Width: 800, Height: 480}

	f.journal.Handle(connectors.ConnectionStatus{State: connectors.ConnectionStateConnecting, TransportName: "usb", Timestamp: t0})
	if _, ok := f.journal.Current(); ok {
		t.Fatalf("connecting should not open a session")
	}

	f.journal.Handle(connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, TransportName: "usb", Target: "001/004", Timestamp: t0})
	f.journal.Handle(connectors.SessionChange{State: "plugged", Phone: &phone, Timestamp: t0.Add(time.Second)})
	f.journal.Handle(connectors.SessionChange{State: "opened", Phone: &phone, Stream: &stream, Timestamp: t0.Add(2 * time.Second)})
	f.journal.Handle(connectors.SessionChange{State: "idle", Timestamp: t0.Add(3 * time.Second)})
	f.journal.Handle(connectors.ConnectionStatus{State: connectors.ConnectionStateFailed, Err: "EOF", Timestamp: t0.Add(4 * time.Second)})

	s, ok := f.sessions.rows["s1"]
	if !ok {
		t.Fatalf("session not stored: %v", f.sessions.rows)
	}
	if s.Transport != "usb" || s.Target != "001/004" || !s.StartedAt.Equal(t0) {
		t.Fatalf("unexpected session identity %+v", s)
	}
	if s.LastState != "idle" || s.Phone == nil || *s.Phone != phone || s.Stream == nil || s.Stream.Width != 800 {
		t.Fatalf("session data lost: %+v", s)
	}
	if s.EndReason != EndReasonFailed || s.EndError != "EOF" || !s.EndedAt.Equal(t0.Add(4*time.Second)) {
		t.Fatalf("unexpected end %+v", s)
	}
	if _, ok := f.journal.Current(); ok {
		t.Fatalf("session still open after failure")
	}
}

func TestJournalReconnectReplacesSession(t *testing.T) {
	f := newFixture()
	t0 := time.Unix(1000, 0)

	f.journal.Handle(connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, TransportName: "usb", Timestamp: t0})
	f.journal.Handle(connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, TransportName: "usb", Timestamp: t0.Add(time.Minute)})

	if s := f.sessions.rows["s1"]; s.EndReason != EndReasonReplaced {
		t.Fatalf("first session not closed as replaced: %+v", s)
	}
	cur, ok := f.journal.Current()
	if !ok || cur.ID != "s2" {
		t.Fatalf("expected s2 to be current, got %+v", cur)
	}

	f.journal.Handle(connectors.ConnectionStatus{State: connectors.ConnectionStateDisconnected, Timestamp: t0.Add(2 * time.Minute)})
	if s := f.sessions.rows["s2"]; s.EndReason != EndReasonClosed {
		t.Fatalf("second session not closed: %+v", s)
	}
	// A second disconnect has nothing to close.
	before := len(f.queue.names)
	f.journal.Handle(connectors.ConnectionStatus{State: connectors.ConnectionStateDisconnected, Timestamp: t0.Add(3 * time.Minute)})
	if len(f.queue.names) != before {
		t.Fatalf("unexpected writes after second disconnect: %v", f.queue.names[before:])
	}
}

func TestJournalInfoAndAnomalies(t *testing.T) {
	f := newFixture()
	t0 := time.Unix(1000, 0)

	f.journal.Handle(connectors.AnomalyEvent{Anomaly: protocol.Anomaly{Kind: protocol.AnomalyFramingError}, Timestamp: t0})
	f.journal.Handle(connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, TransportName: "tcp", Timestamp: t0})
	f.journal.Handle(connectors.DongleInfo{Key: "software_version", Value: "2021.03.06", Timestamp: t0})
	for i := 0; i < 2; i++ {
		f.journal.Handle(connectors.AnomalyEvent{Anomaly: protocol.Anomaly{Kind: protocol.AnomalyUnknownType, Type: protocol.MessageType(0x42), Raw: 0x42}, Timestamp: t0})
	}
	f.journal.Handle("not an event")

	if e := f.info.rows["software_version"]; e.Value != "2021.03.06" || e.SessionID != "s1" {
		t.Fatalf("unexpected info entry %+v", e)
	}
	if n := f.anomalies.counts["/framing_error/0"]; n != 1 {
		t.Fatalf("expected pre-session anomaly without session id, got %v", f.anomalies.counts)
	}
	if n := f.anomalies.counts["s1/unknown_type/66"]; n != 2 {
		t.Fatalf("expected two unknown_type anomalies in s1, got %v", f.anomalies.counts)
	}
}

func TestJournalIgnoresStateWithoutSession(t *testing.T) {
	f := newFixture()
	f.journal.Handle(connectors.SessionChange{State: "plugged"})
	if len(f.queue.names) != 0 {
		t.Fatalf("unexpected writes %v", f.queue.names)
	}
}

type deferredQueue struct {
	pending []func(context.Context) error
}

func (q *deferredQueue) Enqueue(_ string, fn func(context.Context) error) {
	q.pending = append(q.pending, fn)
}

func (q *deferredQueue) run(t *testing.T) {
	t.Helper()
	for _, fn := range q.pending {
		if err := fn(context.Background()); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	q.pending = nil
}

type recordingSessions struct {
	memSessions
	inserted []Session
}

func (r *recordingSessions) Insert(ctx context.Context, s Session) error {
	r.inserted = append(r.inserted, s)
	return r.memSessions.Insert(ctx, s)
}

func TestJournalInsertKeepsSessionAsOpened(t *testing.T) {
	queue := &deferredQueue{}
	sessions := &recordingSessions{memSessions: memSessions{rows: map[string]Session{}}}
	j := New(nil, queue, Repositories{
		Sessions:  sessions,
		Info:      &memInfo{rows: map[string]InfoEntry{}},
		Anomalies: &memAnomalies{counts: map[string]int64{}},
	}, WithIDGenerator(func() string { return "s1" }))

	t0 := time.Unix(1000, 0)
	phone := protocol.PhoneKind(3)
	j.Handle(connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, TransportName: "tcp", Timestamp: t0})
	// Updates land before the writer gets to the queued insert.
	j.Handle(connectors.SessionChange{State: "plugged", Phone: &phone, Timestamp: t0.Add(time.Second)})
	queue.run(t)

	if len(sessions.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(sessions.inserted))
	}
	if got := sessions.inserted[0]; got.LastState != "idle" || got.Phone != nil {
		t.Fatalf("insert saw a later update: %+v", got)
	}
	if got := sessions.rows["s1"]; got.LastState != "plugged" || got.Phone == nil || *got.Phone != phone {
		t.Fatalf("update not applied after insert: %+v", got)
	}
	if cur, ok := j.Current(); !ok || cur.LastState != "plugged" {
		t.Fatalf("current session not updated: %+v", cur)
	}
}
