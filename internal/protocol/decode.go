package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/lunixbochs/struc"
)

type decodeFunc func(h Header, payload []byte) (Message, error)

// decoders is the inbound dispatch table. It is never mutated after package init.
var decoders = map[MessageType]decodeFunc{
	TypeOpen:                decodeOpened,
	TypePlugged:             decodePlugged,
	TypePhase:               decodePhase,
	TypeUnplugged:           decodeUnplugged,
	TypeVideoData:           decodeVideoData,
	TypeAudioData:           decodeAudioData,
	TypeCommand:             decodeCommand,
	TypeBluetoothAddress:    decodeBluetoothAddress,
	TypeBluetoothPIN:        decodeBluetoothPIN,
	TypeBluetoothDeviceName: decodeBluetoothDeviceName,
	TypeWifiDeviceName:      decodeWifiDeviceName,
	TypeBluetoothPairedList: decodeBluetoothPairedList,
	TypeManufacturerInfo:    decodeManufacturerInfo,
	TypeHiCarLink:           decodeHiCarLink,
	TypeBoxSettings:         decodeBoxInfo,
	TypeMediaData:           decodeMediaData,
	TypeSoftwareVersion:     decodeSoftwareVersion,
}

// HasDecoder reports whether t has a typed inbound decoder.
func HasDecoder(t MessageType) bool {
	_, ok := decoders[t]
	return ok
}

// DecodePayload turns a validated header and its payload into a typed Message.
// Types without a decoder become *Unknown. Errors are limited to
// ErrTruncatedPayload and ErrMalformedPayload.
func DecodePayload(h Header, payload []byte) (Message, error) {
	if uint64(len(payload)) < uint64(h.Length) {
		return nil, fmt.Errorf("%w: %s declares %d bytes, got %d", ErrTruncatedPayload, h.Type, h.Length, len(payload))
	}

	dec, ok := decoders[h.Type]
	if !ok {
		return &Unknown{
			envelope: newEnvelope(h, payload),
			TypeID:   uint32(h.Type),
			Length:   h.Length,
			Data:     payload,
		}, nil
	}

	return dec(h, payload)
}

// Decode is DecodePayload for a complete frame.
func Decode(f Frame) (Message, error) {
	return DecodePayload(f.Header, f.Payload)
}

func need(h Header, payload []byte, n int) error {
	if len(payload) < n {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrTruncatedPayload, h.Type, n, len(payload))
	}
	return nil
}

func unpack(payload []byte, v any) error {
	if err := struc.Unpack(bytes.NewReader(payload), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func u32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func text(payload []byte) string {
	return strings.TrimRight(string(payload), "\x00")
}

func decodeCommand(h Header, payload []byte) (Message, error) {
	if err := need(h, payload, 4); err != nil {
		return nil, err
	}
	return &Command{envelope: newEnvelope(h, payload), Value: CommandID(u32(payload[0:4]))}, nil
}

func decodePlugged(h Header, payload []byte) (Message, error) {
	if err := need(h, payload, 4); err != nil {
		return nil, err
	}
	msg := &Plugged{envelope: newEnvelope(h, payload), Phone: PhoneKind(u32(payload[0:4]))}
	if len(payload) == 8 {
		wifi := u32(payload[4:8])
		msg.Wifi = &wifi
	}
	return msg, nil
}

func decodeUnplugged(h Header, payload []byte) (Message, error) {
	return &Unplugged{envelope: newEnvelope(h, payload)}, nil
}

func decodeOpened(h Header, payload []byte) (Message, error) {
	if err := need(h, payload, 28); err != nil {
		return nil, err
	}
	msg := &Opened{envelope: newEnvelope(h, payload)}
	if err := unpack(payload, &msg.StreamParams); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodePhase(h Header, payload []byte) (Message, error) {
	if err := need(h, payload, 4); err != nil {
		return nil, err
	}
	return &Phase{envelope: newEnvelope(h, payload), Value: u32(payload[0:4])}, nil
}

type videoPrefix struct {
	Width    uint32 `struc:"uint32,little"`
	Height   uint32 `struc:"uint32,little"`
	Flags    uint32 `struc:"uint32,little"`
	Length   uint32 `struc:"uint32,little"`
	Reserved uint32 `struc:"uint32,little"`
}

const videoPrefixSize = 20

func decodeVideoData(h Header, payload []byte) (Message, error) {
	if err := need(h, payload, videoPrefixSize); err != nil {
		return nil, err
	}
	var p videoPrefix
	if err := unpack(payload[:videoPrefixSize], &p); err != nil {
		return nil, err
	}
	data := payload[videoPrefixSize:]
	if uint64(p.Length) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: video frame declares %d bytes, got %d", ErrTruncatedPayload, p.Length, len(data))
	}

	return &VideoData{
		envelope: newEnvelope(h, payload),
		Width:    p.Width,
		Height:   p.Height,
		Flags:    p.Flags,
		Length:   p.Length,
		Reserved: p.Reserved,
		Data:     data,
	}, nil
}

type audioPrefix struct {
	DecodeType uint32  `struc:"uint32,little"`
	Volume     float32 `struc:"float32,little"`
	AudioType  uint32  `struc:"uint32,little"`
}

const audioPrefixSize = 12

func decodeAudioData(h Header, payload []byte) (Message, error) {
	if err := need(h, payload, audioPrefixSize); err != nil {
		return nil, err
	}
	var p audioPrefix
	if err := unpack(payload[:audioPrefixSize], &p); err != nil {
		return nil, err
	}

	msg := &AudioData{
		envelope:   newEnvelope(h, payload),
		DecodeType: p.DecodeType,
		Volume:     p.Volume,
		AudioType:  p.AudioType,
	}

	// No tag distinguishes the variants; the remaining length does.
	rest := payload[audioPrefixSize:]
	switch len(rest) {
	case 1:
		msg.Payload = AudioControl{Command: AudioCommand(int8(rest[0]))}
	case 4:
		msg.Payload = AudioVolumeDuration{Seconds: math.Float32frombits(u32(rest))}
	default:
		msg.Payload = AudioSamples{Samples: decodeSamples(rest)}
	}

	return msg, nil
}

// decodeSamples reads little-endian int16 PCM. A trailing odd byte is ignored.
func decodeSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func decodeMediaData(h Header, payload []byte) (Message, error) {
	if err := need(h, payload, 4); err != nil {
		return nil, err
	}
	msg := &MediaData{envelope: newEnvelope(h, payload), Kind: MediaKind(u32(payload[0:4]))}

	switch msg.Kind {
	case MediaKindAlbumCover:
		msg.Payload = AlbumCover{Image: payload[4:]}
	case MediaKindData:
		if err := need(h, payload, 5); err != nil {
			return nil, err
		}
		// The JSON text is followed by a single pad byte.
		raw := payload[4 : len(payload)-1]
		fields, err := decodeJSONObject(raw)
		if err != nil {
			return nil, err
		}
		msg.Payload = TrackInfo{Raw: json.RawMessage(raw), Fields: fields}
	}

	return msg, nil
}

func decodeJSONObject(raw []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrMalformedPayload, err)
	}
	return fields, nil
}

func decodeManufacturerInfo(h Header, payload []byte) (Message, error) {
	if err := need(h, payload, 8); err != nil {
		return nil, err
	}
	return &ManufacturerInfo{envelope: newEnvelope(h, payload), A: u32(payload[0:4]), B: u32(payload[4:8])}, nil
}

func decodeBoxInfo(h Header, payload []byte) (Message, error) {
	raw := bytes.TrimRight(payload, "\x00")
	fields, err := decodeJSONObject(raw)
	if err != nil {
		return nil, err
	}
	return &BoxInfo{envelope: newEnvelope(h, payload), Raw: json.RawMessage(raw), Settings: fields}, nil
}

func decodeSoftwareVersion(h Header, payload []byte) (Message, error) {
	return &SoftwareVersion{envelope: newEnvelope(h, payload), Version: text(payload)}, nil
}

func decodeBluetoothAddress(h Header, payload []byte) (Message, error) {
	return &BluetoothAddress{envelope: newEnvelope(h, payload), Address: text(payload)}, nil
}

func decodeBluetoothPIN(h Header, payload []byte) (Message, error) {
	return &BluetoothPIN{envelope: newEnvelope(h, payload), PIN: text(payload)}, nil
}

func decodeBluetoothDeviceName(h Header, payload []byte) (Message, error) {
	return &BluetoothDeviceName{envelope: newEnvelope(h, payload), Name: text(payload)}, nil
}

func decodeWifiDeviceName(h Header, payload []byte) (Message, error) {
	return &WifiDeviceName{envelope: newEnvelope(h, payload), Name: text(payload)}, nil
}

func decodeHiCarLink(h Header, payload []byte) (Message, error) {
	return &HiCarLink{envelope: newEnvelope(h, payload), Link: text(payload)}, nil
}

func decodeBluetoothPairedList(h Header, payload []byte) (Message, error) {
	return &BluetoothPairedList{envelope: newEnvelope(h, payload), List: text(payload)}, nil
}
