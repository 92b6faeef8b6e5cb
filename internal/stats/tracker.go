package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

const fpsWindow = time.Second

// Snapshot is a point-in-time copy of the tracker counters.
type Snapshot struct {
	Uptime            time.Duration     `json:"-"`
	UptimeSeconds     float64           `json:"uptime_seconds"`
	BytesIn           uint64            `json:"bytes_in"`
	MessagesTotal     uint64            `json:"messages_total"`
	Messages          map[string]uint64 `json:"messages"`
	UnknownMessages   uint64            `json:"unknown_messages"`
	Anomalies         map[string]uint64 `json:"anomalies"`
	LastAnomaly       *protocol.Anomaly `json:"last_anomaly,omitempty"`
	VideoFrames       uint64            `json:"video_frames"`
	VideoBytes        uint64            `json:"video_bytes"`
	DecodeAttempts    uint64            `json:"decode_attempts"`
	DecodeFailures    uint64            `json:"decode_failures"`
	DecodeSuccessRate float64           `json:"decode_success_rate"`
	Width             uint32            `json:"width"`
	Height            uint32            `json:"height"`
	FPS               float64           `json:"fps"`
	AudioFormats      map[string]uint64 `json:"audio_formats,omitempty"`
}

// Tracker keeps rolling counters fed by the driver read loop and the media
// router. All methods are safe for concurrent use.
type Tracker struct {
	now     func() time.Time
	metrics *metrics

	mu             sync.Mutex
	started        time.Time
	bytesIn        uint64
	messagesTotal  uint64
	messages       map[protocol.MessageType]uint64
	unknown        uint64
	anomalies      map[protocol.AnomalyKind]uint64
	lastAnomaly    *protocol.Anomaly
	videoFrames    uint64
	videoBytes     uint64
	decodeAttempts uint64
	decodeFailures uint64
	width, height  uint32
	frameTimes     []time.Time
	audioFormats   map[string]uint64
}

type Option func(*Tracker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithRegistry exports the counters as Prometheus metrics on reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(t *Tracker) {
		t.metrics = newMetrics(reg, t)
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		now:          time.Now,
		messages:     make(map[protocol.MessageType]uint64),
		anomalies:    make(map[protocol.AnomalyKind]uint64),
		audioFormats: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.started = t.now()

	return t
}

func (t *Tracker) RecordBytes(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.bytesIn += uint64(n)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.bytesIn.Add(float64(n))
	}
}

// RecordMessage counts one decoded inbound message.
func (t *Tracker) RecordMessage(msg protocol.Message) {
	typ := msg.Header().Type

	t.mu.Lock()
	t.messagesTotal++
	t.messages[typ]++
	if _, ok := msg.(*protocol.Unknown); ok {
		t.unknown++
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.messages.WithLabelValues(typ.String()).Inc()
	}

	switch m := msg.(type) {
	case *protocol.VideoData:
		t.RecordVideoFrame(m.Width, m.Height, len(m.Data))
	case *protocol.AudioData:
		if _, ok := m.Payload.(protocol.AudioSamples); ok {
			if f, ok := protocol.LookupAudioFormat(m.DecodeType); ok {
				t.mu.Lock()
				t.audioFormats[f.MimeType]++
				t.mu.Unlock()
			}
		}
	}
}

// RecordVideoFrame notes one received video frame and updates resolution and FPS.
func (t *Tracker) RecordVideoFrame(width, height uint32, size int) {
	now := t.now()

	t.mu.Lock()
	t.videoFrames++
	if size > 0 {
		t.videoBytes += uint64(size)
	}
	if width > 0 && height > 0 {
		t.width, t.height = width, height
	}
	t.frameTimes = append(t.frameTimes, now)
	t.pruneLocked(now)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.videoFrames.Inc()
	}
}

// RecordDecode counts the outcome of an external video decode attempt.
func (t *Tracker) RecordDecode(ok bool) {
	t.mu.Lock()
	t.decodeAttempts++
	if !ok {
		t.decodeFailures++
	}
	t.mu.Unlock()

	if t.metrics != nil && !ok {
		t.metrics.decodeFailures.Inc()
	}
}

func (t *Tracker) RecordAnomaly(a protocol.Anomaly) {
	t.mu.Lock()
	t.anomalies[a.Kind]++
	last := a
	t.lastAnomaly = &last
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.anomalies.WithLabelValues(string(a.Kind)).Inc()
	}
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-fpsWindow)
	i := 0
	for i < len(t.frameTimes) && !t.frameTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.frameTimes = append(t.frameTimes[:0], t.frameTimes[i:]...)
	}
}

// FPS is the number of frames received during the last second.
func (t *Tracker) FPS() float64 {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)

	return float64(len(t.frameTimes)) / fpsWindow.Seconds()
}

func (t *Tracker) Snapshot() Snapshot {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)

	s := Snapshot{
		Uptime:          now.Sub(t.started),
		BytesIn:         t.bytesIn,
		MessagesTotal:   t.messagesTotal,
		Messages:        make(map[string]uint64, len(t.messages)),
		UnknownMessages: t.unknown,
		Anomalies:       make(map[string]uint64, len(t.anomalies)),
		VideoFrames:     t.videoFrames,
		VideoBytes:      t.videoBytes,
		DecodeAttempts:  t.decodeAttempts,
		DecodeFailures:  t.decodeFailures,
		Width:           t.width,
		Height:          t.height,
		FPS:             float64(len(t.frameTimes)) / fpsWindow.Seconds(),
		AudioFormats:    make(map[string]uint64, len(t.audioFormats)),
	}
	s.UptimeSeconds = s.Uptime.Seconds()
	for typ, n := range t.messages {
		s.Messages[typ.String()] = n
	}
	for kind, n := range t.anomalies {
		s.Anomalies[string(kind)] = n
	}
	for mime, n := range t.audioFormats {
		s.AudioFormats[mime] = n
	}
	if t.lastAnomaly != nil {
		last := *t.lastAnomaly
		s.LastAnomaly = &last
	}
	if t.decodeAttempts > 0 {
		s.DecodeSuccessRate = float64(t.decodeAttempts-t.decodeFailures) / float64(t.decodeAttempts)
	}

	return s
}
