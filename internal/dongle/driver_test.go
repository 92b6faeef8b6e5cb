package dongle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skobkin/carlinkgo/internal/bus"
	"github.com/skobkin/carlinkgo/internal/config"
	"github.com/skobkin/carlinkgo/internal/connectors"
	"github.com/skobkin/carlinkgo/internal/protocol"
	"github.com/skobkin/carlinkgo/internal/stats"
	"github.com/skobkin/carlinkgo/internal/transport"
)

const waitTimeout = 2 * time.Second

type fakeTransport struct {
	connectErr error

	in      chan []byte
	readErr chan error
	reader  *transport.FrameReader

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	gate     chan struct{}
	closes   int
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{
		in:      make(chan []byte, 64),
		readErr: make(chan error, 1),
	}
	f.reader = transport.NewFrameReader(f.raw)
	return f
}

func (f *fakeTransport) raw(ctx context.Context, p []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-f.readErr:
		return 0, err
	case b := <-f.in:
		return copy(p, b), nil
	}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Connect(context.Context) error { return f.connectErr }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	return f.reader.Next(ctx)
}

func (f *fakeTransport) WriteFrame(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	gate := f.gate
	err := f.writeErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), frame...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func rawFrame(typ protocol.MessageType, payload []byte) []byte {
	return append(protocol.EncodeHeader(typ, uint32(len(payload))), payload...)
}

func quietDriver(opts ...Option) *Driver {
	base := []Option{WithHeartbeatInterval(time.Hour), WithWifiConnectDelay(time.Hour)}
	return New(append(base, opts...)...)
}

func startDriver(t *testing.T, d *Driver, tr *fakeTransport) {
	t.Helper()
	if err := d.Initialize(context.Background(), tr); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := d.Start(context.Background(), config.DefaultDongle()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
}

func waitEvent(t *testing.T, sub *Subscription, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-sub.C:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in %s", waitTimeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDriverWritesHandshake(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()
	startDriver(t, d, tr)

	writes := tr.written()
	want := []protocol.MessageType{
		protocol.TypeSendFile, protocol.TypeOpen, protocol.TypeSendFile, protocol.TypeSendFile,
		protocol.TypeSendFile, protocol.TypeSendFile, protocol.TypeBoxSettings,
		protocol.TypeCommand, protocol.TypeCommand, protocol.TypeCommand, protocol.TypeCommand,
	}
	if len(writes) != len(want) {
		t.Fatalf("expected %d handshake writes, got %d", len(want), len(writes))
	}
	for i, w := range writes {
		h, err := protocol.DecodeHeader(w[:protocol.HeaderSize])
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if h.Type != want[i] {
			t.Fatalf("write %d type %s, want %s", i, h.Type, want[i])
		}
	}

	if st := d.State(); st.State != StateConnecting || st.Connected {
		t.Fatalf("expected connecting after start, got %+v", st)
	}
}

func TestDriverResyncsAndReachesPlugged(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()
	states := d.Subscribe(EventState, 8)
	anomalies := d.Subscribe(EventAnomaly, 8)
	startDriver(t, d, tr)

	stream := append([]byte{0x01, 0x02, 0x03, 0x04, 0x05}, rawFrame(protocol.TypePlugged, le32(3, 1))...)
	tr.in <- stream

	ev := waitEvent(t, states, func(ev Event) bool { return ev.State.State == StatePlugged })
	if !ev.State.Connected || ev.State.Phone == nil || *ev.State.Phone != protocol.PhoneKind(3) {
		t.Fatalf("unexpected plugged state %+v", ev.State)
	}

	a := waitEvent(t, anomalies, func(Event) bool { return true })
	if a.Anomaly.Kind != protocol.AnomalyFramingError {
		t.Fatalf("expected framing error anomaly, got %s", a.Anomaly.Kind)
	}
	select {
	case extra := <-anomalies.C:
		t.Fatalf("expected one anomaly for the noise, got another %+v", extra.Anomaly)
	default:
	}
}

func TestDriverDropsTruncatedVideoAndContinues(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()
	anomalies := d.Subscribe(EventAnomaly, 8)
	messages := d.Subscribe(EventMessage, 8)
	startDriver(t, d, tr)

	// Inner length claims 100 bytes but only 2 follow the prefix.
	video := append(le32(800, 480, 0, 100, 0), 0xaa, 0xbb)
	tr.in <- rawFrame(protocol.TypeVideoData, video)
	tr.in <- rawFrame(protocol.TypePhase, le32(7))

	a := waitEvent(t, anomalies, func(Event) bool { return true })
	if a.Anomaly.Kind != protocol.AnomalyTruncatedPayload || a.Anomaly.Type != protocol.TypeVideoData {
		t.Fatalf("unexpected anomaly %+v", a.Anomaly)
	}

	ev := waitEvent(t, messages, func(Event) bool { return true })
	phase, ok := ev.Message.(*protocol.Phase)
	if !ok || phase.Value != 7 {
		t.Fatalf("expected phase 7 after dropped frame, got %T", ev.Message)
	}
}

func TestDriverSendAfterClose(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()
	startDriver(t, d, tr)

	if err := d.Send(protocol.SendTouch{X: 0.5, Y: 0.5, Action: protocol.TouchDown}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, func() bool { return len(tr.written()) == 12 })

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if n := tr.closeCount(); n != 1 {
		t.Fatalf("transport closed %d times", n)
	}
	if err := d.Send(protocol.SendTouch{X: 0.5, Y: 0.5, Action: protocol.TouchUp}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if st := d.State(); st.State != StateIdle {
		t.Fatalf("expected idle after close, got %s", st.State)
	}
}

func TestDriverSendRejectsInvalidTouch(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()
	startDriver(t, d, tr)

	err := d.Send(protocol.SendTouch{Action: protocol.TouchAction(99)})
	if !errors.Is(err, protocol.ErrInvalidTouchAction) {
		t.Fatalf("expected invalid touch action, got %v", err)
	}
}

func TestDriverSendBeforeStart(t *testing.T) {
	d := quietDriver()
	if err := d.Send(protocol.SendHeartbeat{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDriverTransportFailure(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()
	failures := d.Subscribe(EventFailure, 1)
	states := d.Subscribe(EventState, 8)
	startDriver(t, d, tr)

	tr.readErr <- io.EOF

	ev := waitEvent(t, failures, func(Event) bool { return true })
	if !errors.Is(ev.Err, ErrTransport) || !errors.Is(ev.Err, io.EOF) {
		t.Fatalf("unexpected failure error %v", ev.Err)
	}
	waitEvent(t, states, func(ev Event) bool { return ev.State.State == StateIdle })

	if err := d.Send(protocol.SendHeartbeat{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after failure, got %v", err)
	}
	if err := d.Start(context.Background(), config.DefaultDongle()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	// The transport is released by Close, not by the failure path.
	if got := tr.closeCount(); got != 0 {
		t.Fatalf("transport closed %d times before Close", got)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := tr.closeCount(); got != 1 {
		t.Fatalf("expected one transport close, got %d", got)
	}
}

func TestDriverWriteFailure(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()
	failures := d.Subscribe(EventFailure, 1)
	startDriver(t, d, tr)

	tr.mu.Lock()
	tr.writeErr = errors.New("broken pipe")
	tr.mu.Unlock()

	if err := d.Send(protocol.SendHeartbeat{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev := waitEvent(t, failures, func(Event) bool { return true })
	if !errors.Is(ev.Err, ErrTransport) {
		t.Fatalf("unexpected failure %v", ev.Err)
	}
}

func TestDriverLifecycleErrors(t *testing.T) {
	d := quietDriver()
	if err := d.Start(context.Background(), config.DefaultDongle()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	bad := newFakeTransport()
	bad.connectErr = errors.New("no device")
	if err := d.Initialize(context.Background(), bad); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}

	tr := newFakeTransport()
	startDriver(t, d, tr)
	if err := d.Start(context.Background(), config.DefaultDongle()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := d.Initialize(context.Background(), newFakeTransport()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted on re-initialize, got %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Initialize(context.Background(), newFakeTransport()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDriverHandshakeWriteFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.writeErr = errors.New("stalled")
	d := quietDriver()
	if err := d.Initialize(context.Background(), tr); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer d.Close()

	if err := d.Start(context.Background(), config.DefaultDongle()); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if st := d.State(); st.State != StateIdle {
		t.Fatalf("expected idle after failed handshake, got %s", st.State)
	}
}

func TestDriverHandlersRunInOrder(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()

	var mu sync.Mutex
	var order []int
	record := func(n int) Handler {
		return func(Event) {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}
	d.On(EventMessage, record(1))
	d.On(EventMessage, func(Event) { panic("boom") })
	d.On(EventMessage, record(2))
	startDriver(t, d, tr)

	tr.in <- rawFrame(protocol.TypePhase, le32(1))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected handler order %v", order)
	}
}

func TestDriverStopFromHandler(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()
	stopped := make(chan struct{})
	var once sync.Once
	d.On(EventMessage, func(Event) {
		d.Stop()
		once.Do(func() { close(stopped) })
	})
	startDriver(t, d, tr)

	tr.in <- rawFrame(protocol.TypePhase, le32(1))
	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatalf("handler did not run")
	}
	if err := d.Send(protocol.SendHeartbeat{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after Stop, got %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("close after stop did not return")
	}
	if got := tr.closeCount(); got != 1 {
		t.Fatalf("expected one transport close, got %d", got)
	}
}

func TestDriverCloseWaitsForRunningHandler(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver()

	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce sync.Once
	var closeReturned atomic.Bool
	var late atomic.Int32
	d.On(EventMessage, func(Event) {
		enterOnce.Do(func() {
			close(entered)
			<-release
		})
	})
	d.On(EventMessage, func(Event) {
		if closeReturned.Load() {
			late.Add(1)
		}
	})
	startDriver(t, d, tr)

	tr.in <- rawFrame(protocol.TypePhase, le32(1))
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatalf("handler did not run")
	}

	closed := make(chan error, 1)
	go func() {
		err := d.Close()
		closeReturned.Store(true)
		closed <- err
	}()

	select {
	case <-closed:
		t.Fatalf("Close returned while a handler was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("close did not return after the handler finished")
	}

	tr.in <- rawFrame(protocol.TypePhase, le32(2))
	time.Sleep(50 * time.Millisecond)
	if n := late.Load(); n != 0 {
		t.Fatalf("handlers ran %d times after Close returned", n)
	}
	if got := tr.closeCount(); got != 1 {
		t.Fatalf("expected one transport close, got %d", got)
	}
	if st := d.State().State; st != StateIdle {
		t.Fatalf("expected idle after close, got %s", st)
	}
}

func TestDriverUnknownTypeCounted(t *testing.T) {
	tr := newFakeTransport()
	tracker := stats.NewTracker()
	d := quietDriver(WithRecorder(tracker))
	anomalies := d.Subscribe(EventAnomaly, 4)
	startDriver(t, d, tr)

	tr.in <- rawFrame(protocol.MessageType(0x42), []byte{1, 2, 3})

	ev := waitEvent(t, anomalies, func(Event) bool { return true })
	if ev.Anomaly.Kind != protocol.AnomalyUnknownType || ev.Anomaly.Raw != 0x42 {
		t.Fatalf("unexpected anomaly %+v", ev.Anomaly)
	}
	waitFor(t, func() bool { return tracker.Snapshot().UnknownMessages == 1 })
	if s := tracker.Snapshot(); s.BytesIn != uint64(protocol.HeaderSize+3) {
		t.Fatalf("unexpected byte count %d", s.BytesIn)
	}
}

func TestDriverOutboxFull(t *testing.T) {
	tr := newFakeTransport()
	d := quietDriver(WithOutboxSize(1))
	startDriver(t, d, tr)

	tr.mu.Lock()
	tr.gate = make(chan struct{})
	tr.mu.Unlock()

	var full bool
	for i := 0; i < 10 && !full; i++ {
		err := d.Send(protocol.SendHeartbeat{})
		if errors.Is(err, ErrOutboxFull) {
			full = true
		} else if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if !full {
		t.Fatalf("expected ErrOutboxFull with a stalled writer")
	}
}

func TestDriverKeepAlive(t *testing.T) {
	tr := newFakeTransport()
	d := New(WithHeartbeatInterval(10*time.Millisecond), WithWifiConnectDelay(5*time.Millisecond))
	startDriver(t, d, tr)

	wifiConnect := string(protocol.EncodeCommand(protocol.CommandWifiConnect))
	waitFor(t, func() bool {
		var heartbeat, wifi bool
		for _, w := range tr.written() {
			h, err := protocol.DecodeHeader(w[:protocol.HeaderSize])
			if err != nil {
				continue
			}
			if h.Type == protocol.TypeHeartBeat {
				heartbeat = true
			}
			if string(w) == wifiConnect {
				wifi = true
			}
		}
		return heartbeat && wifi
	})
}

func TestDriverPublishesToBus(t *testing.T) {
	b := bus.New(nil)
	// Registered first so it runs after the driver is closed.
	t.Cleanup(b.Close)
	info := b.Subscribe(connectors.TopicDongleInfo)
	session := b.Subscribe(connectors.TopicSessionState)

	tr := newFakeTransport()
	d := quietDriver(WithBus(b))
	startDriver(t, d, tr)

	tr.in <- rawFrame(protocol.TypeSoftwareVersion, append([]byte("2021.03.06"), 0, 0))
	tr.in <- rawFrame(protocol.TypePlugged, le32(3))

	select {
	case v := <-info:
		ev, ok := v.(connectors.DongleInfo)
		if !ok || ev.Key != InfoSoftwareVersion || ev.Value != "2021.03.06" {
			t.Fatalf("unexpected dongle info %#v", v)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no dongle info published")
	}

	deadline := time.After(waitTimeout)
	for {
		select {
		case v := <-session:
			if ev, ok := v.(connectors.SessionChange); ok && ev.State == "plugged" {
				return
			}
		case <-deadline:
			t.Fatalf("no plugged session change published")
		}
	}
}

func TestDriverPublishesRawFrames(t *testing.T) {
	b := bus.New(nil)
	t.Cleanup(b.Close)
	rawIn := b.Subscribe(connectors.TopicRawFrameIn)
	rawOut := b.Subscribe(connectors.TopicRawFrameOut)

	tr := newFakeTransport()
	d := quietDriver(WithBus(b), WithRawFrames())
	startDriver(t, d, tr)

	tr.in <- rawFrame(protocol.TypeVideoData, make([]byte, 24))
	tr.in <- rawFrame(protocol.TypePlugged, le32(3))

	select {
	case v := <-rawIn:
		ev, ok := v.(connectors.RawFrame)
		if !ok || ev.Type != protocol.TypePlugged || ev.Outbound || ev.Len != 4 || ev.Preview != "03000000" {
			t.Fatalf("unexpected raw frame %#v", v)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no inbound raw frame published")
	}

	if err := d.Send(protocol.SendHeartbeat{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case v := <-rawOut:
		ev, ok := v.(connectors.RawFrame)
		if !ok || ev.Type != protocol.TypeHeartBeat || !ev.Outbound || ev.Len != 0 {
			t.Fatalf("unexpected raw frame %#v", v)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no outbound raw frame published")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDriverLogsOnlyCoarseStateChanges(t *testing.T) {
	var logs lockedBuffer
	tr := newFakeTransport()
	d := quietDriver(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	states := d.Subscribe(EventState, 16)
	startDriver(t, d, tr)
	waitEvent(t, states, func(ev Event) bool { return ev.State.State == StateConnecting })

	tr.in <- rawFrame(protocol.TypePhase, le32(1))
	tr.in <- rawFrame(protocol.TypePhase, le32(1))
	tr.in <- rawFrame(protocol.TypePlugged, le32(3))
	waitEvent(t, states, func(ev Event) bool { return ev.State.State == StatePlugged })

	out := logs.String()
	if n := strings.Count(out, "session state changed"); n != 2 {
		t.Fatalf("expected 2 state change logs, got %d:\n%s", n, out)
	}
	if n := strings.Count(out, "state=connecting"); n != 1 {
		t.Fatalf("connecting logged %d times:\n%s", n, out)
	}
	if n := len(states.C); n != 0 {
		t.Fatalf("unexpected extra state events: %d", n)
	}
}
