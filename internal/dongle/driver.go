package dongle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/carlinkgo/internal/bus"
	"github.com/skobkin/carlinkgo/internal/config"
	"github.com/skobkin/carlinkgo/internal/connectors"
	"github.com/skobkin/carlinkgo/internal/protocol"
	"github.com/skobkin/carlinkgo/internal/transport"
)

var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrTransport         = errors.New("transport error")
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyStarted    = errors.New("driver already started")
	ErrNotInitialized    = errors.New("driver not initialized")
	ErrClosed            = errors.New("driver closed")
	ErrOutboxFull        = errors.New("outbox full")
)

const (
	defaultOutboxSize        = 512
	defaultHeartbeatInterval = 2 * time.Second
	defaultWifiConnectDelay  = time.Second
	defaultWriteTimeout      = 5 * time.Second
)

// Recorder receives per-frame counters. *stats.Tracker implements it.
type Recorder interface {
	RecordBytes(n int)
	RecordMessage(msg protocol.Message)
	RecordAnomaly(a protocol.Anomaly)
}

// Driver owns one dongle connection: the read loop, the single writer and the
// keep-alive timer. Handlers run on the read loop goroutine.
type Driver struct {
	logger            *slog.Logger
	bus               bus.MessageBus
	recorder          Recorder
	now               func() time.Time
	heartbeatInterval time.Duration
	wifiConnectDelay  time.Duration
	writeTimeout      time.Duration
	outboxSize        int
	rawFrames         bool

	session  *session
	handlers *handlers
	failed   atomic.Bool

	mu        sync.Mutex
	transport transport.Transport
	started   bool
	stopped   bool
	closed    bool
	cancel    context.CancelFunc
	outbox    chan []byte
	wg        sync.WaitGroup
}

type Option func(*Driver)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithBus publishes low-rate session events. Media payloads never go to the bus.
func WithBus(b bus.MessageBus) Option {
	return func(d *Driver) { d.bus = b }
}

func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(d *Driver) { d.heartbeatInterval = interval }
}

func WithWifiConnectDelay(delay time.Duration) Option {
	return func(d *Driver) { d.wifiConnectDelay = delay }
}

func WithOutboxSize(size int) Option {
	return func(d *Driver) { d.outboxSize = size }
}

// WithRawFrames publishes a short preview of every non-media frame read or
// written to the raw frame topics. Meant for protocol debugging.
func WithRawFrames() Option {
	return func(d *Driver) { d.rawFrames = true }
}

func New(opts ...Option) *Driver {
	d := &Driver{
		logger:            slog.Default().With("component", "dongle"),
		now:               time.Now,
		heartbeatInterval: defaultHeartbeatInterval,
		wifiConnectDelay:  defaultWifiConnectDelay,
		writeTimeout:      defaultWriteTimeout,
		outboxSize:        defaultOutboxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.outboxSize <= 0 {
		d.outboxSize = defaultOutboxSize
	}
	d.session = newSession(d.now())
	d.handlers = newHandlers(d.logger)

	return d
}

// Initialize binds the driver to a transport and claims the device.
func (d *Driver) Initialize(ctx context.Context, tr transport.Transport) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.closed:
		return ErrClosed
	case d.started:
		return ErrAlreadyStarted
	case tr == nil:
		return fmt.Errorf("%w: no transport", ErrDeviceUnavailable)
	}

	d.publishConn(tr, connectors.ConnectionStateConnecting, nil)
	if err := tr.Connect(ctx); err != nil {
		d.logger.Warn("device unavailable", "transport", tr.Name(), "error", err)
		d.publishConn(tr, connectors.ConnectionStateFailed, err)
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	d.transport = tr
	d.logger.Info("device claimed", "transport", tr.Name())
	d.publishConn(tr, connectors.ConnectionStateConnected, nil)

	return nil
}

// Start sends the handshake and starts the read, write and keep-alive loops.
// The loops stop when ctx is cancelled, on transport failure, or on Close.
func (d *Driver) Start(ctx context.Context, cfg config.DongleConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid dongle config: %w", err)
	}

	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return ErrClosed
	case d.started:
		d.mu.Unlock()
		return ErrAlreadyStarted
	case d.transport == nil:
		d.mu.Unlock()
		return ErrNotInitialized
	}
	tr := d.transport
	d.started = true
	d.outbox = make(chan []byte, d.outboxSize)
	d.mu.Unlock()

	for _, msg := range handshake(cfg, d.now()) {
		if err := d.writeNow(ctx, tr, msg); err != nil {
			d.mu.Lock()
			d.started = false
			d.mu.Unlock()
			d.logger.Error("handshake failed", "message", protocol.Describe(msg), "error", err)
			return fmt.Errorf("%w: handshake %s: %w", ErrTransport, protocol.Describe(msg), err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.closed || d.stopped {
		d.mu.Unlock()
		cancel()
		return ErrClosed
	}
	d.cancel = cancel
	outbox := d.outbox
	d.failed.Store(false)
	d.wg.Add(3)
	d.mu.Unlock()

	if st, changed := d.session.set(StateConnecting, d.now()); changed {
		d.emitState(st, true)
	}

	go d.runReader(runCtx, tr)
	go d.runWriter(runCtx, tr, outbox)
	go d.runKeepAlive(runCtx, outbox)
	d.logger.Info("driver started", "width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS)

	return nil
}

func (d *Driver) writeNow(ctx context.Context, tr transport.Transport, msg protocol.SendableMessage) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, d.writeTimeout)
	defer cancel()

	return tr.WriteFrame(writeCtx, frame)
}

// Send encodes msg and queues it for the writer. It never blocks.
func (d *Driver) Send(msg protocol.SendableMessage) error {
	if d.session.Load().State == StateIdle {
		return ErrNotConnected
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	d.mu.Lock()
	outbox := d.outbox
	closed := d.closed || d.stopped
	d.mu.Unlock()
	if closed || outbox == nil {
		return ErrNotConnected
	}

	select {
	case outbox <- frame:
		return nil
	default:
		return ErrOutboxFull
	}
}

// On registers a handler. Handlers of one kind run in registration order.
func (d *Driver) On(kind EventKind, fn Handler) {
	d.handlers.add(kind, fn)
}

// Subscribe returns a buffered channel of events of one kind. Events that do
// not fit in the buffer are dropped and counted.
func (d *Driver) Subscribe(kind EventKind, buffer int) *Subscription {
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch}
	d.On(kind, func(ev Event) {
		if sub.closed.Load() {
			return
		}
		select {
		case ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	})

	return sub
}

// State returns a snapshot of the current session.
func (d *Driver) State() SessionState {
	return d.session.Load()
}

// Stop cancels the loops without waiting for them, so a handler may call it.
// Later sends fail with ErrNotConnected. Close still releases the transport.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close stops the loops, waits for them to exit, drops queued writes and
// releases the transport. No handler runs on a loop goroutine after it
// returns. Calling it again is a no-op. It must not be called from a handler,
// which would wait for itself; handlers call Stop.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cancel := d.cancel
	tr := d.transport
	outbox := d.outbox
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	dropped := drain(outbox)
	var err error
	if tr != nil {
		err = tr.Close()
	}
	if st, changed := d.session.set(StateIdle, d.now()); changed {
		d.emitState(st, true)
	}
	d.publishConn(tr, connectors.ConnectionStateDisconnected, err)
	d.logger.Info("driver closed", "dropped_writes", dropped)

	return err
}

func drain(outbox chan []byte) int {
	if outbox == nil {
		return 0
	}
	n := 0
	for {
		select {
		case <-outbox:
			n++
		default:
			return n
		}
	}
}

func (d *Driver) runReader(ctx context.Context, tr transport.Transport) {
	defer d.wg.Done()

	for {
		frame, err := tr.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if protocol.IsFramingError(err) {
				d.dropFrame(nil, err)
				continue
			}
			d.fail(err)
			return
		}

		if d.recorder != nil {
			d.recorder.RecordBytes(protocol.HeaderSize + len(frame.Payload))
		}
		d.publishRaw(connectors.TopicRawFrameIn, frame.Header.Type, frame.Payload)
		msg, err := protocol.Decode(frame)
		if err != nil {
			d.dropFrame(&frame.Header, err)
			continue
		}
		d.dispatch(msg)
	}
}

func (d *Driver) runWriter(ctx context.Context, tr transport.Transport, outbox <-chan []byte) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-outbox:
			writeCtx, cancel := context.WithTimeout(ctx, d.writeTimeout)
			err := tr.WriteFrame(writeCtx, frame)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.fail(err)
				return
			}
			if d.rawFrames && len(frame) >= protocol.HeaderSize {
				if h, err := protocol.DecodeHeader(frame[:protocol.HeaderSize]); err == nil {
					d.publishRaw(connectors.TopicRawFrameOut, h.Type, frame[protocol.HeaderSize:])
				}
			}
		}
	}
}

func (d *Driver) runKeepAlive(ctx context.Context, outbox chan<- []byte) {
	defer d.wg.Done()

	heartbeat, _ := protocol.Encode(protocol.SendHeartbeat{})
	wifi := time.NewTimer(d.wifiConnectDelay)
	defer wifi.Stop()
	ticker := time.NewTicker(d.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wifi.C:
			d.enqueueInternal(outbox, protocol.EncodeCommand(protocol.CommandWifiConnect), "wifiConnect")
		case <-ticker.C:
			d.enqueueInternal(outbox, heartbeat, "heartbeat")
		}
	}
}

func (d *Driver) enqueueInternal(outbox chan<- []byte, frame []byte, what string) {
	select {
	case outbox <- frame:
	default:
		d.logger.Debug("outbox full, dropping keep-alive write", "message", what)
	}
}

func (d *Driver) dispatch(msg protocol.Message) {
	now := d.now()
	if d.recorder != nil {
		d.recorder.RecordMessage(msg)
	}
	for _, a := range protocol.Inspect(msg) {
		d.logger.Debug("protocol anomaly", "kind", a.Kind, "type_id", uint32(a.Type), "raw", a.Raw, "detail", a.Detail)
		d.recordAnomaly(a, now)
	}
	prev := d.session.Load().State
	if st, changed := d.session.apply(msg, now); changed {
		d.emitState(st, st.State != prev)
	}

	d.handlers.emit(Event{Kind: EventMessage, Time: now, Message: msg})
	d.publishMessage(msg, now)
}

func (d *Driver) dropFrame(h *protocol.Header, err error) {
	kind, ok := protocol.AnomalyForError(err)
	if !ok {
		kind = protocol.AnomalyMalformedPayload
	}
	a := protocol.Anomaly{Kind: kind, Detail: err.Error()}
	if h != nil {
		a.Type = h.Type
		a.Raw = int64(h.Length)
	}
	d.logger.Warn("dropped frame", "kind", kind, "type_id", uint32(a.Type), "len", a.Raw, "error", err)
	d.recordAnomaly(a, d.now())
}

func (d *Driver) recordAnomaly(a protocol.Anomaly, now time.Time) {
	if d.recorder != nil {
		d.recorder.RecordAnomaly(a)
	}
	d.handlers.emit(Event{Kind: EventAnomaly, Time: now, Anomaly: a})
	if d.bus != nil {
		d.bus.Publish(connectors.TopicAnomaly, connectors.AnomalyEvent{Anomaly: a, Timestamp: now})
	}
}

// fail handles a transport error from either loop. Only the first call acts.
func (d *Driver) fail(err error) {
	if !d.failed.CompareAndSwap(false, true) {
		return
	}

	d.mu.Lock()
	closing := d.closed
	cancel := d.cancel
	tr := d.transport
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if closing {
		return
	}

	now := d.now()
	wrapped := fmt.Errorf("%w: %w", ErrTransport, err)
	d.logger.Error("transport failed", "error", err)
	if st, changed := d.session.set(StateIdle, now); changed {
		d.emitState(st, true)
	}
	d.handlers.emit(Event{Kind: EventFailure, Time: now, Err: wrapped})
	d.publishConn(tr, connectors.ConnectionStateFailed, err)
}

// emitState publishes a session update. moved is set when the coarse state
// changed; other updates only touch phone, wifi, phase or stream fields.
func (d *Driver) emitState(st SessionState, moved bool) {
	if moved {
		d.logger.Info("session state changed", "state", st.State.String())
	} else {
		d.logger.Debug("session updated", "state", st.State.String())
	}
	d.handlers.emit(Event{Kind: EventState, Time: st.Since, State: st})
	if d.bus != nil {
		d.bus.Publish(connectors.TopicSessionState, connectors.SessionChange{
			State:     st.State.String(),
			Phone:     st.Phone,
			Wifi:      st.Wifi,
			LastPhase: st.LastPhase,
			Stream:    st.Stream,
			Timestamp: d.now(),
		})
	}
}

func (d *Driver) publishConn(tr transport.Transport, state connectors.ConnectionState, err error) {
	if d.bus == nil {
		return
	}
	status := connectors.ConnectionStatus{State: state, Timestamp: d.now()}
	if tr != nil {
		status.TransportName = tr.Name()
		if resolver, ok := tr.(transport.StatusTargetResolver); ok {
			status.Target = resolver.StatusTarget()
		}
	}
	if err != nil {
		status.Err = err.Error()
	}
	d.bus.Publish(connectors.TopicConnStatus, status)
}
