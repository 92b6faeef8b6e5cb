package protocol

import (
	"errors"
	"fmt"
)

// AnomalyKind classifies traffic that decoded but was not fully understood,
// or frames the read loop had to drop.
type AnomalyKind string

const (
	AnomalyUnknownType         AnomalyKind = "unknown_type"
	AnomalyUnhandledType       AnomalyKind = "unhandled_type"
	AnomalyUnknownCommand      AnomalyKind = "unknown_command"
	AnomalyUnknownAudioCommand AnomalyKind = "unknown_audio_command"
	AnomalyUnknownAudioFormat  AnomalyKind = "unknown_audio_format"
	AnomalyUnknownMediaKind    AnomalyKind = "unknown_media_kind"
	AnomalyUnknownPhone        AnomalyKind = "unknown_phone"
	AnomalyLengthMismatch      AnomalyKind = "length_mismatch"

	// Emitted by the read loop, never by Inspect.
	AnomalyFramingError     AnomalyKind = "framing_error"
	AnomalyTruncatedPayload AnomalyKind = "truncated_payload"
	AnomalyMalformedPayload AnomalyKind = "malformed_payload"
)

// Anomaly records one forward-compatibility case with the raw value that triggered it.
type Anomaly struct {
	Kind   AnomalyKind
	Type   MessageType
	Raw    int64
	Detail string
}

func (a Anomaly) String() string {
	if a.Detail != "" {
		return fmt.Sprintf("%s %s raw=%d: %s", a.Kind, a.Type, a.Raw, a.Detail)
	}
	return fmt.Sprintf("%s %s raw=%d", a.Kind, a.Type, a.Raw)
}

// AnomalyForError maps a per-frame decode error to its anomaly kind.
func AnomalyForError(err error) (AnomalyKind, bool) {
	switch {
	case err == nil:
		return "", false
	case IsFramingError(err):
		return AnomalyFramingError, true
	case errors.Is(err, ErrTruncatedPayload):
		return AnomalyTruncatedPayload, true
	case errors.Is(err, ErrMalformedPayload):
		return AnomalyMalformedPayload, true
	default:
		return "", false
	}
}

// Inspect lists the anomalies carried by a decoded message. An empty result means
// every value in the message is known.
func Inspect(m Message) []Anomaly {
	var out []Anomaly
	h := m.Header()

	if LengthMismatch(m) {
		out = append(out, Anomaly{
			Kind:   AnomalyLengthMismatch,
			Type:   h.Type,
			Raw:    int64(h.Length),
			Detail: fmt.Sprintf("declared %d, got %d", h.Length, m.PayloadLen()),
		})
	}

	switch msg := m.(type) {
	case *Unknown:
		kind := AnomalyUnknownType
		if h.Type.Known() {
			kind = AnomalyUnhandledType
		}
		out = append(out, Anomaly{Kind: kind, Type: h.Type, Raw: int64(msg.TypeID)})
	case *Command:
		if !msg.Value.Known() {
			out = append(out, Anomaly{Kind: AnomalyUnknownCommand, Type: h.Type, Raw: int64(msg.Value)})
		}
	case *Plugged:
		if !msg.Phone.Known() {
			out = append(out, Anomaly{Kind: AnomalyUnknownPhone, Type: h.Type, Raw: int64(msg.Phone)})
		}
		if n := msg.PayloadLen(); n != 4 && n != 8 {
			out = append(out, Anomaly{
				Kind:   AnomalyLengthMismatch,
				Type:   h.Type,
				Raw:    int64(n),
				Detail: fmt.Sprintf("plugged body of %d bytes, expected 4 or 8", n),
			})
		}
	case *AudioData:
		switch p := msg.Payload.(type) {
		case AudioControl:
			if !p.Command.Known() {
				out = append(out, Anomaly{Kind: AnomalyUnknownAudioCommand, Type: h.Type, Raw: int64(p.Command)})
			}
		case AudioSamples:
			if _, ok := LookupAudioFormat(msg.DecodeType); !ok {
				out = append(out, Anomaly{Kind: AnomalyUnknownAudioFormat, Type: h.Type, Raw: int64(msg.DecodeType)})
			}
		}
	case *MediaData:
		if msg.Payload == nil {
			out = append(out, Anomaly{Kind: AnomalyUnknownMediaKind, Type: h.Type, Raw: int64(msg.Kind)})
		}
	}

	return out
}
