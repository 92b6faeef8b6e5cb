package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/lunixbochs/struc"
)

var ErrInvalidTouchAction = errors.New("invalid touch action")

// SendableMessage is an outbound message. Encode frames it for the wire.
type SendableMessage interface {
	Type() MessageType
	Payload() ([]byte, error)
}

// Encode returns the fully framed bytes for m: header followed by payload.
func Encode(m SendableMessage) ([]byte, error) {
	payload, err := m.Payload()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}

	return frame(m.Type(), payload), nil
}

func frame(t MessageType, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	putHeader(out, t, uint32(len(payload)))
	copy(out[HeaderSize:], payload)

	return out
}

func pack(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.Pack(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clampUnit(v float32) float32 {
	// NaN fails both comparisons and ends up at 0.
	if !(v >= 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SendTouch is a single-point touch with coordinates normalized to [0,1].
type SendTouch struct {
	X      float32
	Y      float32
	Action TouchAction
}

type touchPayload struct {
	Action uint32 `struc:"uint32,little"`
	X      uint32 `struc:"uint32,little"`
	Y      uint32 `struc:"uint32,little"`
	Flags  uint32 `struc:"uint32,little"`
}

func (SendTouch) Type() MessageType { return TypeTouch }

func (m SendTouch) Payload() ([]byte, error) {
	if !m.Action.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTouchAction, uint32(m.Action))
	}
	return pack(&touchPayload{
		Action: uint32(m.Action),
		X:      uint32(clampUnit(m.X) * 10000),
		Y:      uint32(clampUnit(m.Y) * 10000),
	})
}

// SendAudio carries captured microphone samples.
type SendAudio struct {
	Samples []int16
}

func (SendAudio) Type() MessageType { return TypeAudioData }

func (m SendAudio) Payload() ([]byte, error) {
	return audioPayload(m.Samples), nil
}

// audioPayload lays out the 12-byte prefix (decode type, zero volume, audio
// type) followed by the samples.
func audioPayload(samples []int16) []byte {
	out := make([]byte, audioPrefixSize, audioPrefixSize+2*len(samples))
	binary.LittleEndian.PutUint32(out[0:4], MicDecodeType)
	binary.LittleEndian.PutUint32(out[8:12], MicAudioType)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

type SendCommand struct {
	Value CommandID
}

func (SendCommand) Type() MessageType { return TypeCommand }

func (m SendCommand) Payload() ([]byte, error) {
	return commandPayload(m.Value), nil
}

func commandPayload(value CommandID) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(value))
}

// TouchPoint is one contact of a multi-touch frame.
type TouchPoint struct {
	X      float32          `struc:"float32,little"`
	Y      float32          `struc:"float32,little"`
	Action MultiTouchAction `struc:"uint32,little"`
	ID     uint32           `struc:"uint32,little"`
}

type SendMultiTouch struct {
	Points []TouchPoint
}

func (SendMultiTouch) Type() MessageType { return TypeMultiTouch }

func (m SendMultiTouch) Payload() ([]byte, error) {
	var buf bytes.Buffer
	for _, p := range m.Points {
		p.X = clampUnit(p.X)
		p.Y = clampUnit(p.Y)
		if err := struc.Pack(&buf, &p); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// SendOpen asks the dongle to start a session with the given stream parameters.
type SendOpen struct {
	StreamParams
}

func (SendOpen) Type() MessageType { return TypeOpen }

func (m SendOpen) Payload() ([]byte, error) {
	return pack(&m.StreamParams)
}

// SendFile writes Content to Name on the dongle's filesystem.
type SendFile struct {
	Name    string
	Content []byte
}

func (SendFile) Type() MessageType { return TypeSendFile }

func (m SendFile) Payload() ([]byte, error) {
	name := append([]byte(m.Name), 0)
	out := make([]byte, 0, 8+len(name)+len(m.Content))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(name)))
	out = append(out, name...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(m.Content)))
	out = append(out, m.Content...)
	return out, nil
}

// FileNumber builds a SendFile holding a little-endian u32.
func FileNumber(name string, v uint32) SendFile {
	return SendFile{Name: name, Content: binary.LittleEndian.AppendUint32(nil, v)}
}

func FileBool(name string, v bool) SendFile {
	if v {
		return FileNumber(name, 1)
	}
	return FileNumber(name, 0)
}

func FileString(name, v string) SendFile {
	return SendFile{Name: name, Content: []byte(v)}
}

// SendBoxSettings pushes host-side settings as JSON.
type SendBoxSettings struct {
	MediaDelay       int   `json:"mediaDelay"`
	SyncTime         int64 `json:"syncTime"`
	AndroidAutoSizeW int   `json:"androidAutoSizeW"`
	AndroidAutoSizeH int   `json:"androidAutoSizeH"`
}

func (SendBoxSettings) Type() MessageType { return TypeBoxSettings }

func (m SendBoxSettings) Payload() ([]byte, error) {
	return json.Marshal(m)
}

type SendHeartbeat struct{}

func (SendHeartbeat) Type() MessageType        { return TypeHeartBeat }
func (SendHeartbeat) Payload() ([]byte, error) { return nil, nil }

type SendDisconnectPhone struct{}

func (SendDisconnectPhone) Type() MessageType        { return TypeDisconnectPhone }
func (SendDisconnectPhone) Payload() ([]byte, error) { return nil, nil }

type SendCloseDongle struct{}

func (SendCloseDongle) Type() MessageType        { return TypeCloseDongle }
func (SendCloseDongle) Payload() ([]byte, error) { return nil, nil }

// EncodeTouch returns a framed Touch message.
func EncodeTouch(x, y float32, action TouchAction) ([]byte, error) {
	return Encode(SendTouch{X: x, Y: y, Action: action})
}

// EncodeAudio returns a framed AudioData message carrying microphone samples.
func EncodeAudio(samples []int16) []byte {
	return frame(TypeAudioData, audioPayload(samples))
}

// EncodeCommand returns a framed Command message.
func EncodeCommand(value CommandID) []byte {
	return frame(TypeCommand, commandPayload(value))
}

// Describe renders a short human-readable label for an outbound message.
func Describe(m SendableMessage) string {
	switch v := m.(type) {
	case SendCommand:
		return "Command(" + v.Value.String() + ")"
	case SendTouch:
		return "Touch(" + v.Action.String() + ")"
	case SendFile:
		return "SendFile(" + v.Name + ")"
	case SendAudio:
		return "Audio(" + strconv.Itoa(len(v.Samples)) + " samples)"
	default:
		return m.Type().String()
	}
}
