package dongle

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

// EventKind selects which events a handler receives.
type EventKind string

const (
	// EventMessage fires for every successfully decoded inbound message.
	EventMessage EventKind = "message"
	// EventFailure fires once when the transport fails and the read loop stops.
	EventFailure EventKind = "failure"
	// EventState fires on every session state change.
	EventState EventKind = "state"
	// EventAnomaly fires for unknown values and dropped frames.
	EventAnomaly EventKind = "anomaly"
)

type Event struct {
	Kind    EventKind
	Time    time.Time
	Message protocol.Message
	Err     error
	State   SessionState
	Anomaly protocol.Anomaly
}

type Handler func(Event)

// handlers delivers events in registration order on the emitting goroutine.
type handlers struct {
	logger *slog.Logger

	mu    sync.RWMutex
	byKey map[EventKind][]Handler
}

func newHandlers(logger *slog.Logger) *handlers {
	return &handlers{logger: logger, byKey: make(map[EventKind][]Handler)}
}

func (h *handlers) add(kind EventKind, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byKey[kind] = append(h.byKey[kind], fn)
}

func (h *handlers) emit(ev Event) {
	h.mu.RLock()
	list := h.byKey[ev.Kind]
	h.mu.RUnlock()

	for _, fn := range list {
		h.call(fn, ev)
	}
}

func (h *handlers) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked", "kind", ev.Kind, "panic", fmt.Sprint(r))
		}
	}()

	fn(ev)
}

// Subscription is a channel view of one event kind.
type Subscription struct {
	C <-chan Event

	dropped atomic.Uint64
	closed  atomic.Bool
}

// Dropped is the number of events discarded because the channel was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Cancel stops delivery. The channel is left open and simply stops receiving.
func (s *Subscription) Cancel() {
	s.closed.Store(true)
}
