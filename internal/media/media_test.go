package media

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/skobkin/carlinkgo/internal/dongle"
	"github.com/skobkin/carlinkgo/internal/protocol"
)

func le32(vals ...uint32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

func decode(t *testing.T, typ protocol.MessageType, payload []byte) protocol.Message {
	t.Helper()
	h := protocol.Header{Magic: protocol.Magic, Length: uint32(len(payload)), Type: typ, TypeCheck: ^uint32(typ)}
	msg, err := protocol.DecodePayload(h, payload)
	if err != nil {
		t.Fatalf("decode %s: %v", typ, err)
	}
	return msg
}

type fakeDecoder struct {
	frames []VideoFrame
	err    error
}

func (d *fakeDecoder) DecodeVideo(f VideoFrame) error {
	d.frames = append(d.frames, f)
	return d.err
}

type fakeRecorder struct {
	ok, failed int
}

func (r *fakeRecorder) RecordDecode(ok bool) {
	if ok {
		r.ok++
	} else {
		r.failed++
	}
}

type fakeAudio struct {
	formats  []protocol.AudioFormatSpec
	samples  [][]int16
	controls []protocol.AudioCommand
	ducked   []float32
}

func (a *fakeAudio) WriteSamples(f protocol.AudioFormatSpec, _ uint32, s []int16) error {
	a.formats = append(a.formats, f)
	a.samples = append(a.samples, s)
	return nil
}

func (a *fakeAudio) Control(cmd protocol.AudioCommand, _ uint32) {
	a.controls = append(a.controls, cmd)
}

func (a *fakeAudio) Duck(seconds float32, _ uint32) {
	a.ducked = append(a.ducked, seconds)
}

type fakeSender struct {
	sent []protocol.SendAudio
	err  error
}

func (s *fakeSender) Send(msg protocol.SendableMessage) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg.(protocol.SendAudio))
	return nil
}

func TestRouterVideo(t *testing.T) {
	dec := &fakeDecoder{}
	rec := &fakeRecorder{}
	r := NewRouter(nil, WithVideo(dec), WithDecodeRecorder(rec))

	payload := append(le32(800, 480, 1, 3, 0), 0, 0, 1)
	r.HandleEvent(dongle.Event{Kind: dongle.EventMessage, Message: decode(t, protocol.TypeVideoData, payload)})

	if len(dec.frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(dec.frames))
	}
	if f := dec.frames[0]; f.Width != 800 || f.Height != 480 || len(f.Data) != 3 {
		t.Fatalf("unexpected frame %+v", f)
	}

	dec.err = errors.New("corrupt")
	r.HandleMessage(decode(t, protocol.TypeVideoData, payload))
	if rec.ok != 1 || rec.failed != 1 {
		t.Fatalf("unexpected decode counts ok=%d failed=%d", rec.ok, rec.failed)
	}
}

func TestRouterIgnoresOtherEvents(t *testing.T) {
	dec := &fakeDecoder{}
	r := NewRouter(nil, WithVideo(dec))
	r.HandleEvent(dongle.Event{Kind: dongle.EventState})
	r.HandleEvent(dongle.Event{Kind: dongle.EventAnomaly})
	if len(dec.frames) != 0 {
		t.Fatalf("unexpected frames %v", dec.frames)
	}
}

func TestRouterAudio(t *testing.T) {
	audio := &fakeAudio{}
	r := NewRouter(nil, WithAudio(audio))

	r.HandleMessage(decode(t, protocol.TypeAudioData, append(le32(4, 0, 1), 1, 0, 2, 0, 3, 0)))
	r.HandleMessage(decode(t, protocol.TypeAudioData, append(le32(4, 0, 1), byte(protocol.AudioMediaStart))))
	r.HandleMessage(decode(t, protocol.TypeAudioData, append(le32(4, 0, 1), le32(0x3f800000)...)))
	// Decode type 99 has no format and is skipped.
	r.HandleMessage(decode(t, protocol.TypeAudioData, append(le32(99, 0, 1), 1, 0, 2, 0, 3, 0)))

	if len(audio.samples) != 1 || len(audio.samples[0]) != 3 || audio.samples[0][1] != 2 {
		t.Fatalf("unexpected samples %v", audio.samples)
	}
	if audio.formats[0].Frequency != 48000 || audio.formats[0].Channels != 2 {
		t.Fatalf("unexpected format %+v", audio.formats[0])
	}
	if len(audio.controls) != 1 || audio.controls[0] != protocol.AudioMediaStart {
		t.Fatalf("unexpected controls %v", audio.controls)
	}
	if len(audio.ducked) != 1 || audio.ducked[0] != 1 {
		t.Fatalf("unexpected duck calls %v", audio.ducked)
	}
}

func TestRouterRecordCommandsToggleMic(t *testing.T) {
	sender := &fakeSender{}
	mic := NewMicForwarder(sender, 4)
	r := NewRouter(nil, WithMic(mic))

	r.HandleMessage(decode(t, protocol.TypeCommand, le32(uint32(protocol.CommandStartRecordAudio))))
	if !mic.Active() {
		t.Fatalf("mic should be active after startRecordAudio")
	}
	if err := mic.Write([]int16{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}

	r.HandleMessage(decode(t, protocol.TypeCommand, le32(uint32(protocol.CommandStopRecordAudio))))
	if mic.Active() {
		t.Fatalf("mic should stop after stopRecordAudio")
	}
	if len(sender.sent) != 1 || len(sender.sent[0].Samples) != 2 {
		t.Fatalf("partial chunk not flushed on stop: %v", sender.sent)
	}
}

func TestMicForwarderChunks(t *testing.T) {
	sender := &fakeSender{}
	mic := NewMicForwarder(sender, 3)

	if err := mic.Write([]int16{1, 2, 3}); err != nil {
		t.Fatalf("write while stopped: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("stopped forwarder sent audio")
	}

	mic.Start()
	if err := mic.Write([]int16{1, 2, 3, 4, 5, 6, 7}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(sender.sent) != 2 || mic.Frames() != 2 {
		t.Fatalf("expected two chunks, got %d", len(sender.sent))
	}
	if got := sender.sent[1].Samples; got[0] != 4 || got[2] != 6 {
		t.Fatalf("unexpected second chunk %v", got)
	}

	if err := mic.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(sender.sent) != 3 || sender.sent[2].Samples[0] != 7 {
		t.Fatalf("remainder not flushed: %v", sender.sent)
	}
}

func TestMicForwarderSendError(t *testing.T) {
	sender := &fakeSender{err: dongle.ErrNotConnected}
	mic := NewMicForwarder(sender, 2)
	mic.Start()

	if err := mic.Write([]int16{1, 2}); !errors.Is(err, dongle.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestVideoFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.h264")
	sink, err := NewVideoFileSink(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := sink.DecodeVideo(VideoFrame{Data: []byte{0, 0, 0, 1, 0x67}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.DecodeVideo(VideoFrame{}); err == nil {
		t.Fatalf("expected error for empty frame")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sink.DecodeVideo(VideoFrame{Data: []byte{1}}); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 5 || data[4] != 0x67 || sink.Frames() != 1 {
		t.Fatalf("unexpected dump %v", data)
	}
}

func TestPCMFileSinkKeepsFirstFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.pcm")
	sink, err := NewPCMFileSink(path, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	music, _ := protocol.LookupAudioFormat(1)
	call, _ := protocol.LookupAudioFormat(5)
	if err := sink.WriteSamples(music, 1, []int16{1, -1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.WriteSamples(call, 2, []int16{5, 5, 5}); err != nil {
		t.Fatalf("write other format: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 4 || data[0] != 1 || data[2] != 0xff || data[3] != 0xff {
		t.Fatalf("unexpected pcm dump %v", data)
	}
	if f := sink.Format(); f == nil || f.Frequency != 44100 {
		t.Fatalf("unexpected dump format %+v", f)
	}
	if sink.Samples() != 2 {
		t.Fatalf("unexpected sample count %d", sink.Samples())
	}
}
