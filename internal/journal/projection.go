// Package journal records connection sessions, dongle metadata and anomaly
// counters from bus events.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/carlinkgo/internal/bus"
	"github.com/skobkin/carlinkgo/internal/connectors"
)

// WriteQueue serializes persistence writes from async bus events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

type Repositories struct {
	Sessions  SessionRepository
	Info      InfoRepository
	Anomalies AnomalyRepository
}

// Journal projects bus events into the repositories. One connection between a
// "connected" and the next "disconnected" or "failed" status is one session.
type Journal struct {
	logger *slog.Logger
	queue  WriteQueue
	repos  Repositories
	newID  func() string

	mu      sync.Mutex
	current *Session
}

type Option func(*Journal)

// WithIDGenerator replaces uuid.NewString, mainly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(j *Journal) { j.newID = fn }
}

func New(logger *slog.Logger, queue WriteQueue, repos Repositories, opts ...Option) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{logger: logger, queue: queue, repos: repos, newID: uuid.NewString}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Current returns a copy of the open session, if any.
func (j *Journal) Current() (Session, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == nil {
		return Session{}, false
	}
	return *j.current, true
}

// Start subscribes to the bus and projects events until ctx is cancelled. A
// single subscription keeps events of different topics in publish order, so an
// anomaly is always attributed to the session that was open when it happened.
// Events already buffered when ctx is cancelled are still projected. The
// returned channel is closed once the projection has stopped.
func (j *Journal) Start(ctx context.Context, b bus.MessageBus) <-chan struct{} {
	topics := []string{
		connectors.TopicConnStatus,
		connectors.TopicSessionState,
		connectors.TopicDongleInfo,
		connectors.TopicAnomaly,
	}
	sub := b.Subscribe(topics...)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				if j.drain(sub) {
					b.Unsubscribe(sub, topics...)
				}
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				j.Handle(raw)
			}
		}
	}()

	return done
}

// drain reports false when the bus has already been shut down.
func (j *Journal) drain(sub bus.Subscription) bool {
	for {
		select {
		case raw, ok := <-sub:
			if !ok {
				return false
			}
			j.Handle(raw)
		default:
			return true
		}
	}
}

// Handle projects one bus event. Unknown payload types are ignored.
func (j *Journal) Handle(raw any) {
	switch ev := raw.(type) {
	case connectors.ConnectionStatus:
		j.onConnection(ev)
	case connectors.SessionChange:
		j.onSessionChange(ev)
	case connectors.DongleInfo:
		j.onInfo(ev)
	case connectors.AnomalyEvent:
		j.onAnomaly(ev)
	}
}

func (j *Journal) onConnection(ev connectors.ConnectionStatus) {
	switch ev.State {
	case connectors.ConnectionStateConnected:
		j.mu.Lock()
		prev := j.endLocked(ev.Timestamp, EndReasonReplaced, "")
		s := Session{
			ID:        j.newID(),
			Transport: ev.TransportName,
			Target:    ev.Target,
			StartedAt: ev.Timestamp,
			LastState: "idle",
		}
		// The insert below runs later on the writer goroutine and must not
		// see updates made through j.current.
		current := s
		j.current = &current
		j.mu.Unlock()

		if prev != nil {
			j.enqueueUpdate("end_session", *prev)
		}
		j.logger.Info("journal session started", "session_id", s.ID, "transport", s.Transport, "target", s.Target)
		j.queue.Enqueue("insert_session", func(ctx context.Context) error {
			return j.repos.Sessions.Insert(ctx, s)
		})
	case connectors.ConnectionStateDisconnected, connectors.ConnectionStateFailed:
		reason := EndReasonClosed
		if ev.State == connectors.ConnectionStateFailed {
			reason = EndReasonFailed
		}
		j.mu.Lock()
		ended := j.endLocked(ev.Timestamp, reason, ev.Err)
		j.mu.Unlock()

		if ended != nil {
			j.logger.Info("journal session ended", "session_id", ended.ID, "reason", reason)
			j.enqueueUpdate("end_session", *ended)
		}
	}
}

// endLocked closes the current session and returns it, or nil when none is open.
func (j *Journal) endLocked(at time.Time, reason, errText string) *Session {
	if j.current == nil {
		return nil
	}
	s := *j.current
	s.EndedAt = at
	s.EndReason = reason
	s.EndError = errText
	j.current = nil
	return &s
}

func (j *Journal) onSessionChange(ev connectors.SessionChange) {
	j.mu.Lock()
	if j.current == nil {
		j.mu.Unlock()
		return
	}
	j.current.LastState = ev.State
	// Idle clears the driver's view, but the journal keeps what the phone reported.
	if ev.Phone != nil {
		j.current.Phone = ev.Phone
	}
	if ev.Wifi != nil {
		j.current.Wifi = ev.Wifi
	}
	if ev.Stream != nil {
		j.current.Stream = ev.Stream
	}
	s := *j.current
	j.mu.Unlock()

	j.enqueueUpdate("update_session", s)
}

func (j *Journal) onInfo(ev connectors.DongleInfo) {
	e := InfoEntry{Key: ev.Key, Value: ev.Value, UpdatedAt: ev.Timestamp}
	if s, ok := j.Current(); ok {
		e.SessionID = s.ID
	}
	j.queue.Enqueue("upsert_dongle_info", func(ctx context.Context) error {
		return j.repos.Info.Upsert(ctx, e)
	})
}

func (j *Journal) onAnomaly(ev connectors.AnomalyEvent) {
	c := AnomalyCount{
		Kind:       ev.Anomaly.Kind,
		TypeID:     uint32(ev.Anomaly.Type),
		Count:      1,
		LastDetail: ev.Anomaly.Detail,
		LastSeenAt: ev.Timestamp,
	}
	if s, ok := j.Current(); ok {
		c.SessionID = s.ID
	}
	j.queue.Enqueue("increment_anomaly", func(ctx context.Context) error {
		return j.repos.Anomalies.Increment(ctx, c)
	})
}

func (j *Journal) enqueueUpdate(name string, s Session) {
	j.queue.Enqueue(name, func(ctx context.Context) error {
		return j.repos.Sessions.Update(ctx, s)
	})
}
