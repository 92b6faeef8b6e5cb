package media

import (
	"log/slog"

	"github.com/skobkin/carlinkgo/internal/dongle"
	"github.com/skobkin/carlinkgo/internal/protocol"
)

// VideoFrame is one H.264 access unit as delivered by the dongle.
type VideoFrame struct {
	Width  uint32
	Height uint32
	Flags  uint32
	Data   []byte
}

// VideoDecoder consumes encoded frames. Decoding itself happens outside this module.
type VideoDecoder interface {
	DecodeVideo(frame VideoFrame) error
}

// AudioSink plays PCM from the dongle. audioType is the dongle's stream id
// (media, navigation, call...).
type AudioSink interface {
	WriteSamples(format protocol.AudioFormatSpec, audioType uint32, samples []int16) error
	Control(cmd protocol.AudioCommand, audioType uint32)
}

// VolumeDucker is implemented by sinks that can lower media volume for a while.
type VolumeDucker interface {
	Duck(seconds float32, audioType uint32)
}

// DecodeRecorder receives decode outcomes. *stats.Tracker implements it.
type DecodeRecorder interface {
	RecordDecode(ok bool)
}

// Router fans decoded media messages out to the configured sinks. It is meant to
// be registered as a dongle message handler and runs on the read loop.
type Router struct {
	logger   *slog.Logger
	video    VideoDecoder
	audio    AudioSink
	mic      *MicForwarder
	recorder DecodeRecorder
}

type RouterOption func(*Router)

func WithVideo(v VideoDecoder) RouterOption {
	return func(r *Router) { r.video = v }
}

func WithAudio(a AudioSink) RouterOption {
	return func(r *Router) { r.audio = a }
}

// WithMic lets the dongle's record commands switch the forwarder on and off.
func WithMic(m *MicForwarder) RouterOption {
	return func(r *Router) { r.mic = m }
}

func WithDecodeRecorder(rec DecodeRecorder) RouterOption {
	return func(r *Router) { r.recorder = rec }
}

func NewRouter(logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent is a dongle.Handler.
func (r *Router) HandleEvent(ev dongle.Event) {
	if ev.Kind != dongle.EventMessage || ev.Message == nil {
		return
	}
	r.HandleMessage(ev.Message)
}

func (r *Router) HandleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.VideoData:
		r.handleVideo(m)
	case *protocol.AudioData:
		r.handleAudio(m)
	case *protocol.Command:
		r.handleCommand(m)
	}
}

func (r *Router) handleVideo(m *protocol.VideoData) {
	if r.video == nil {
		return
	}
	err := r.video.DecodeVideo(VideoFrame{Width: m.Width, Height: m.Height, Flags: m.Flags, Data: m.Data})
	if r.recorder != nil {
		r.recorder.RecordDecode(err == nil)
	}
	if err != nil {
		r.logger.Debug("video decode failed", "width", m.Width, "height", m.Height, "len", len(m.Data), "error", err)
	}
}

func (r *Router) handleAudio(m *protocol.AudioData) {
	if r.audio == nil {
		return
	}

	switch p := m.Payload.(type) {
	case protocol.AudioSamples:
		format, ok := protocol.LookupAudioFormat(m.DecodeType)
		if !ok {
			// Already reported as an anomaly by the driver.
			return
		}
		if err := r.audio.WriteSamples(format, m.AudioType, p.Samples); err != nil {
			r.logger.Debug("audio write failed", "decode_type", m.DecodeType, "error", err)
		}
	case protocol.AudioControl:
		r.audio.Control(p.Command, m.AudioType)
	case protocol.AudioVolumeDuration:
		if d, ok := r.audio.(VolumeDucker); ok {
			d.Duck(p.Seconds, m.AudioType)
		}
	}
}

func (r *Router) handleCommand(m *protocol.Command) {
	if r.mic == nil {
		return
	}
	switch m.Value {
	case protocol.CommandStartRecordAudio:
		r.mic.Start()
	case protocol.CommandStopRecordAudio:
		if err := r.mic.Stop(); err != nil {
			r.logger.Debug("mic flush failed", "error", err)
		}
	}
}
