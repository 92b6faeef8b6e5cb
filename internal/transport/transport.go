package transport

import (
	"context"
	"errors"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

var ErrNotConnected = errors.New("transport is not connected")

// Transport is the duplex byte channel to a dongle. ReadFrame blocks until a whole
// frame has been assembled; it must return promptly once ctx is cancelled.
// WriteFrame takes an already framed message and writes it in one exclusive call.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) (protocol.Frame, error)
	WriteFrame(ctx context.Context, frame []byte) error
}

type StatusTargetResolver interface {
	StatusTarget() string
}
