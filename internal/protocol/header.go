package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic opens every frame exchanged with the dongle.
	Magic uint32 = 0x55aa55aa
	// HeaderSize is the fixed length of a frame header in bytes.
	HeaderSize = 16
	// MaxPayloadLength bounds the declared payload length accepted from the wire.
	MaxPayloadLength = 8 << 20
)

var (
	ErrInvalidSize      = errors.New("invalid header size")
	ErrInvalidMagic     = errors.New("invalid header magic")
	ErrInvalidTypeCheck = errors.New("invalid header type check")
	ErrPayloadTooLarge  = errors.New("declared payload length too large")
	ErrTruncatedPayload = errors.New("truncated payload")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Header is the fixed 16-byte little-endian frame header.
//
// TypeCheck only guards against a desynchronized stream. It says nothing about the
// integrity of the payload bytes.
type Header struct {
	Magic     uint32
	Length    uint32
	Type      MessageType
	TypeCheck uint32
}

// Frame is a header plus exactly Header.Length payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

func typeCheck(t uint32) uint32 {
	return ^t
}

// DecodeHeader validates and parses a frame header. It never returns a partially
// filled header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSize, HeaderSize, len(b))
	}

	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != Magic {
		return Header{}, fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, magic)
	}

	rawType := binary.LittleEndian.Uint32(b[8:12])
	check := binary.LittleEndian.Uint32(b[12:16])
	if check != typeCheck(rawType) {
		return Header{}, fmt.Errorf("%w: type 0x%x check 0x%08x", ErrInvalidTypeCheck, rawType, check)
	}

	return Header{
		Magic:     magic,
		Length:    binary.LittleEndian.Uint32(b[4:8]),
		Type:      MessageType(rawType),
		TypeCheck: check,
	}, nil
}

// EncodeHeader builds a header for a payload of payloadLen bytes.
func EncodeHeader(t MessageType, payloadLen uint32) []byte {
	b := make([]byte, HeaderSize)
	putHeader(b, t, payloadLen)

	return b
}

func putHeader(b []byte, t MessageType, payloadLen uint32) {
	binary.LittleEndian.PutUint32(b[0:4], Magic)
	binary.LittleEndian.PutUint32(b[4:8], payloadLen)
	binary.LittleEndian.PutUint32(b[8:12], uint32(t))
	binary.LittleEndian.PutUint32(b[12:16], typeCheck(uint32(t)))
}

// IsFramingError reports whether err means the byte stream lost frame alignment.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrInvalidSize) ||
		errors.Is(err, ErrInvalidMagic) ||
		errors.Is(err, ErrInvalidTypeCheck) ||
		errors.Is(err, ErrPayloadTooLarge)
}
