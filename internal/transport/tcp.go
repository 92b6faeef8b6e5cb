package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

const (
	defaultTCPPort        = 5555
	defaultTCPPollTimeout = 300 * time.Millisecond
)

// TCPTransport reaches a dongle relayed over TCP, e.g. by a USB-to-network bridge
// running on another machine.
type TCPTransport struct {
	host string
	port int

	mu      sync.Mutex
	conn    net.Conn
	frames  *FrameReader
	writeMu sync.Mutex
}

func NewTCPTransport(host string, port int) *TCPTransport {
	if port == 0 {
		port = defaultTCPPort
	}

	return &TCPTransport{host: host, port: port}
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.host == "" {
		return ""
	}

	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *TCPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := ""
	if t.host != "" {
		target = net.JoinHostPort(t.host, strconv.Itoa(t.port))
	}
	logger := transportLogger("tcp", "target", target)

	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}

	if t.host == "" {
		logger.Warn("connect failed: host is empty")

		return errors.New("tcp host is empty")
	}

	dialer := net.Dialer{Timeout: 6 * time.Second}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial tcp: %w", err)
	}
	t.conn = conn
	t.frames = NewFrameReader(func(ctx context.Context, p []byte) (int, error) {
		return pollRead(conn, p)
	})
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

// pollRead reads with a short deadline so cancellation is noticed between reads.
func pollRead(conn net.Conn, p []byte) (int, error) {
	_ = conn.SetReadDeadline(time.Now().Add(defaultTCPPollTimeout))
	n, err := conn.Read(p)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}

	return n, err
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("tcp", "target", t.host)

	if t.conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.frames = nil
	if err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

func (t *TCPTransport) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	t.mu.Lock()
	frames := t.frames
	t.mu.Unlock()
	if frames == nil {
		return protocol.Frame{}, ErrNotConnected
	}

	frame, err := frames.Next(ctx)
	if err != nil {
		return protocol.Frame{}, err
	}
	logFrame(transportLogger("tcp"), "read frame", frame.Payload)

	return frame, nil
}

func (t *TCPTransport) WriteFrame(ctx context.Context, frame []byte) error {
	logger := transportLogger("tcp")
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := conn.Write(frame); err != nil {
		logger.Warn("write frame failed", "frame_len", len(frame), "error", err)

		return fmt.Errorf("write frame: %w", err)
	}
	logFrame(logger, "write frame", frame)

	return nil
}
