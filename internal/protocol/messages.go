package protocol

import (
	"encoding/base64"
	"encoding/json"
)

// Message is a decoded inbound frame. The set of implementations is closed:
// consumers switch on the concrete type.
type Message interface {
	Header() Header
	// PayloadLen is the number of payload bytes actually handed to the decoder.
	PayloadLen() int
	isMessage()
}

type envelope struct {
	header Header
	actual int
}

func (e envelope) Header() Header  { return e.header }
func (e envelope) PayloadLen() int { return e.actual }
func (envelope) isMessage()        {}

func newEnvelope(h Header, payload []byte) envelope {
	return envelope{header: h, actual: len(payload)}
}

// LengthMismatch reports whether the declared header length differs from the bytes decoded.
func LengthMismatch(m Message) bool {
	return int64(m.Header().Length) != int64(m.PayloadLen())
}

type Command struct {
	envelope
	Value CommandID
}

type Plugged struct {
	envelope
	Phone PhoneKind
	// Wifi is nil when the dongle sent the short four-byte form.
	Wifi *uint32
}

type Unplugged struct {
	envelope
}

// StreamParams are the session parameters reported by Opened.
type StreamParams struct {
	Width     uint32 `struc:"uint32,little" json:"width"`
	Height    uint32 `struc:"uint32,little" json:"height"`
	FPS       uint32 `struc:"uint32,little" json:"fps"`
	Format    uint32 `struc:"uint32,little" json:"format"`
	PacketMax uint32 `struc:"uint32,little" json:"packet_max"`
	IBox      uint32 `struc:"uint32,little" json:"i_box"`
	PhoneMode uint32 `struc:"uint32,little" json:"phone_mode"`
}

type Opened struct {
	envelope
	StreamParams
}

type Phase struct {
	envelope
	Value uint32
}

// VideoData is one encoded frame. Data aliases the frame payload buffer.
type VideoData struct {
	envelope
	Width    uint32
	Height   uint32
	Flags    uint32
	Length   uint32
	Reserved uint32
	Data     []byte
}

// AudioPayload is one of AudioControl, AudioVolumeDuration or AudioSamples.
type AudioPayload interface {
	isAudioPayload()
}

type AudioControl struct {
	Command AudioCommand
}

type AudioVolumeDuration struct {
	Seconds float32
}

type AudioSamples struct {
	Samples []int16
}

func (AudioControl) isAudioPayload()        {}
func (AudioVolumeDuration) isAudioPayload() {}
func (AudioSamples) isAudioPayload()        {}

type AudioData struct {
	envelope
	DecodeType uint32
	Volume     float32
	AudioType  uint32
	Payload    AudioPayload
}

// MediaPayload is one of AlbumCover or TrackInfo.
type MediaPayload interface {
	isMediaPayload()
}

type AlbumCover struct {
	Image []byte
}

func (c AlbumCover) Base64() string {
	return base64.StdEncoding.EncodeToString(c.Image)
}

type TrackInfo struct {
	Raw    json.RawMessage
	Fields map[string]any
}

func (AlbumCover) isMediaPayload() {}
func (TrackInfo) isMediaPayload()  {}

// MediaData carries now-playing metadata. Payload is nil for unrecognized kinds.
type MediaData struct {
	envelope
	Kind    MediaKind
	Payload MediaPayload
}

type SoftwareVersion struct {
	envelope
	Version string
}

type BluetoothAddress struct {
	envelope
	Address string
}

type BluetoothPIN struct {
	envelope
	PIN string
}

type BluetoothDeviceName struct {
	envelope
	Name string
}

type WifiDeviceName struct {
	envelope
	Name string
}

type HiCarLink struct {
	envelope
	Link string
}

type BluetoothPairedList struct {
	envelope
	List string
}

type ManufacturerInfo struct {
	envelope
	A uint32
	B uint32
}

type BoxInfo struct {
	envelope
	Raw      json.RawMessage
	Settings map[string]any
}

// Unknown stands in for any type without a decoder. Data aliases the payload.
type Unknown struct {
	envelope
	TypeID uint32
	Length uint32
	Data   []byte
}
