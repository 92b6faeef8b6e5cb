package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

const defaultFrameBufferSize = 64 * 1024

var magicBytes = binary.LittleEndian.AppendUint32(nil, protocol.Magic)

// rawReadFunc reads whatever is available. (0, nil) means nothing arrived before
// the poll timeout and the caller should check for cancellation and retry.
type rawReadFunc func(ctx context.Context, p []byte) (int, error)

// FrameReader assembles frames from a byte stream that may deliver headers and
// payloads split across reads. After a bad header it drops bytes until the next
// magic and reports a single framing error for the skipped span.
type FrameReader struct {
	read rawReadFunc

	buf        []byte
	start, end int
	resyncing  bool
}

func NewFrameReader(read func(ctx context.Context, p []byte) (int, error)) *FrameReader {
	return &FrameReader{
		read: read,
		buf:  make([]byte, defaultFrameBufferSize),
	}
}

// ioRawRead adapts a plain reader. Mostly useful in tests.
func ioRawRead(r io.Reader) rawReadFunc {
	return func(_ context.Context, p []byte) (int, error) {
		return r.Read(p)
	}
}

func (r *FrameReader) buffered() []byte {
	return r.buf[r.start:r.end]
}

func (r *FrameReader) consume(n int) {
	r.start += n
	if r.start == r.end {
		r.start, r.end = 0, 0
	}
}

// Next returns the next complete frame. Errors satisfying protocol.IsFramingError
// are per-frame and the caller may keep reading; any other error comes from the
// underlying stream.
func (r *FrameReader) Next(ctx context.Context) (protocol.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Frame{}, err
		}

		if frame, ok, err := r.parse(); err != nil || ok {
			return frame, err
		}

		if err := r.fill(ctx); err != nil {
			return protocol.Frame{}, err
		}
	}
}

func (r *FrameReader) parse() (protocol.Frame, bool, error) {
	data := r.buffered()
	if len(data) < len(magicBytes) {
		return protocol.Frame{}, false, nil
	}

	if !bytes.HasPrefix(data, magicBytes) {
		skipped := r.skipToMagic()
		if r.resyncing {
			return protocol.Frame{}, false, nil
		}
		r.resyncing = true
		return protocol.Frame{}, false, fmt.Errorf("%w: skipped %d bytes", protocol.ErrInvalidMagic, skipped)
	}

	if len(data) < protocol.HeaderSize {
		return protocol.Frame{}, false, nil
	}

	h, err := protocol.DecodeHeader(data[:protocol.HeaderSize])
	if err == nil && h.Length > protocol.MaxPayloadLength {
		err = fmt.Errorf("%w: %d", protocol.ErrPayloadTooLarge, h.Length)
	}
	if err != nil {
		// Drop one byte so the scan restarts inside the rejected header.
		r.consume(1)
		r.resyncing = true
		return protocol.Frame{}, false, err
	}

	total := protocol.HeaderSize + int(h.Length)
	if len(data) < total {
		r.reserve(total)
		return protocol.Frame{}, false, nil
	}

	payload := make([]byte, h.Length)
	copy(payload, data[protocol.HeaderSize:total])
	r.consume(total)
	r.resyncing = false

	return protocol.Frame{Header: h, Payload: payload}, true, nil
}

// skipToMagic discards bytes up to the next magic candidate and returns the count.
func (r *FrameReader) skipToMagic() int {
	data := r.buffered()
	if idx := bytes.Index(data[1:], magicBytes); idx >= 0 {
		r.consume(idx + 1)
		return idx + 1
	}

	// Keep a tail that may hold the start of a magic split across reads.
	keep := len(magicBytes) - 1
	drop := len(data) - keep
	r.consume(drop)
	return drop
}

// reserve makes room for a frame of n bytes starting at the read offset.
func (r *FrameReader) reserve(n int) {
	if n <= len(r.buf) {
		return
	}
	grown := make([]byte, n)
	r.end = copy(grown, r.buffered())
	r.start = 0
	r.buf = grown
}

func (r *FrameReader) fill(ctx context.Context) error {
	if r.start > 0 && r.end == len(r.buf) {
		r.end = copy(r.buf, r.buffered())
		r.start = 0
	}

	n, err := r.read(ctx, r.buf[r.end:])
	if n > 0 {
		r.end += n
	}
	if err != nil {
		return err
	}

	return nil
}
