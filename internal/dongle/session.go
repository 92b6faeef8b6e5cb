package dongle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

// State is the coarse session phase.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StatePlugged
	StateOpened
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePlugged:
		return "plugged"
	case StateOpened:
		return "opened"
	default:
		return "unknown"
	}
}

// SessionState is an immutable snapshot. Pointer fields are nil when the dongle
// has not reported the value in the current session.
type SessionState struct {
	State     State
	Connected bool
	Phone     *protocol.PhoneKind
	Wifi      *uint32
	LastPhase *uint32
	Stream    *protocol.StreamParams
	Since     time.Time
}

// session publishes snapshots through an atomic pointer so subscribers on any
// goroutine never observe a half-updated state.
type session struct {
	mu  sync.Mutex
	cur atomic.Pointer[SessionState]
}

func newSession(now time.Time) *session {
	s := &session{}
	s.cur.Store(&SessionState{State: StateIdle, Since: now})
	return s
}

func (s *session) Load() SessionState {
	return *s.cur.Load()
}

// apply folds msg into the state and reports whether anything changed.
func (s *session) apply(msg protocol.Message, now time.Time) (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, changed := transition(*s.cur.Load(), msg, now)
	if changed {
		s.cur.Store(&next)
	}
	return next, changed
}

// set forces a coarse state, clearing session data when moving to Idle.
func (s *session) set(state State, now time.Time) (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.cur.Load()
	if cur.State == state {
		return cur, false
	}
	next := SessionState{State: state, Since: now}
	if state != StateIdle {
		next.Phone, next.Wifi, next.LastPhase, next.Stream = cur.Phone, cur.Wifi, cur.LastPhase, cur.Stream
	}
	next.Connected = connected(next.State)
	s.cur.Store(&next)

	return next, true
}

func connected(st State) bool {
	return st == StatePlugged || st == StateOpened
}

func transition(cur SessionState, msg protocol.Message, now time.Time) (SessionState, bool) {
	next := cur

	switch m := msg.(type) {
	case *protocol.Plugged:
		phone := m.Phone
		next.Phone = &phone
		next.Wifi = nil
		if m.Wifi != nil {
			wifi := *m.Wifi
			next.Wifi = &wifi
		}
		// A re-announce while a stream is open keeps the stream.
		if cur.State != StateOpened {
			next.State = StatePlugged
		}
	case *protocol.Unplugged:
		if cur.State == StateIdle && cur.Phone == nil && cur.Stream == nil {
			return cur, false
		}
		next = SessionState{State: StateIdle, Since: now}
	case *protocol.Opened:
		params := m.StreamParams
		next.Stream = &params
		if cur.State == StatePlugged || cur.State == StateOpened {
			next.State = StateOpened
		}
	case *protocol.Phase:
		if cur.LastPhase != nil && *cur.LastPhase == m.Value {
			return cur, false
		}
		phase := m.Value
		next.LastPhase = &phase
	default:
		return cur, false
	}

	next.Connected = connected(next.State)
	if next.State != cur.State {
		next.Since = now
	}

	return next, true
}
