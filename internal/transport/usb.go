package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

const (
	defaultUSBPollTimeout = 300 * time.Millisecond
	usbStagingSize        = 64 * 1024
)

// USBID is a vendor/product pair.
type USBID struct {
	Vendor  uint16
	Product uint16
}

// USBTarget selects which dongle to claim. A non-zero Bus/Address pins one
// physical device when several match.
type USBTarget struct {
	IDs     []USBID
	Bus     int
	Address int
}

func (t USBTarget) matches(desc *gousb.DeviceDesc) bool {
	if t.Bus != 0 && desc.Bus != t.Bus {
		return false
	}
	if t.Address != 0 && desc.Address != t.Address {
		return false
	}
	for _, id := range t.IDs {
		if uint16(desc.Vendor) == id.Vendor && uint16(desc.Product) == id.Product {
			return true
		}
	}
	return false
}

// USBTransport claims the dongle's first interface and uses its bulk endpoints.
type USBTransport struct {
	target USBTarget

	mu      sync.Mutex
	usb     *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	frames  *FrameReader
	writeMu sync.Mutex

	// Only the frame reader touches these.
	staging []byte
	pending []byte
}

func NewUSBTransport(target USBTarget) *USBTransport {
	return &USBTransport{target: target}
}

func (t *USBTransport) Name() string {
	return "usb"
}

func (t *USBTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return ""
	}

	return fmt.Sprintf("%03d/%03d", t.dev.Desc.Bus, t.dev.Desc.Address)
}

func (t *USBTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.dev != nil
}

func (t *USBTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	logger := transportLogger("usb")
	if t.dev != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	usbCtx := gousb.NewContext()
	devs, err := usbCtx.OpenDevices(t.target.matches)
	if err != nil && len(devs) == 0 {
		_ = usbCtx.Close()
		return fmt.Errorf("open usb devices: %w", err)
	}
	if len(devs) == 0 {
		_ = usbCtx.Close()
		return errors.New("no matching usb device")
	}
	dev := devs[0]
	for _, extra := range devs[1:] {
		_ = extra.Close()
	}
	logger = logger.With("bus", dev.Desc.Bus, "address", dev.Desc.Address, "vid", dev.Desc.Vendor.String(), "pid", dev.Desc.Product.String())

	if err := t.claim(usbCtx, dev); err != nil {
		logger.Warn("claim failed", "error", err)
		return err
	}
	t.staging = make([]byte, usbStagingSize)
	t.pending = nil
	t.frames = NewFrameReader(t.read)
	logger.Info("connected", "in", t.in.Desc.Address.String(), "out", t.out.Desc.Address.String())

	return nil
}

func (t *USBTransport) claim(usbCtx *gousb.Context, dev *gousb.Device) (err error) {
	var cfg *gousb.Config
	var intf *gousb.Interface
	defer func() {
		if err == nil {
			return
		}
		if intf != nil {
			intf.Close()
		}
		err = errors.Join(err, closeIf(cfg), dev.Close(), usbCtx.Close())
	}()

	if err = dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("set auto detach: %w", err)
	}
	if cfg, err = dev.Config(1); err != nil {
		return fmt.Errorf("select config: %w", err)
	}
	if intf, err = cfg.Interface(0, 0); err != nil {
		return fmt.Errorf("claim interface: %w", err)
	}

	inNum, outNum, err := bulkEndpoints(intf.Setting)
	if err != nil {
		return err
	}
	in, err := intf.InEndpoint(inNum)
	if err != nil {
		return fmt.Errorf("open in endpoint: %w", err)
	}
	out, err := intf.OutEndpoint(outNum)
	if err != nil {
		return fmt.Errorf("open out endpoint: %w", err)
	}

	t.usb, t.dev, t.cfg, t.intf, t.in, t.out = usbCtx, dev, cfg, intf, in, out
	return nil
}

func closeIf(cfg *gousb.Config) error {
	if cfg == nil {
		return nil
	}
	return cfg.Close()
}

func bulkEndpoints(setting gousb.InterfaceSetting) (in, out int, err error) {
	in, out = -1, -1
	for _, ep := range setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && in < 0 {
			in = ep.Number
		}
		if ep.Direction == gousb.EndpointDirectionOut && out < 0 {
			out = ep.Number
		}
	}
	if in < 0 || out < 0 {
		return 0, 0, errors.New("interface has no bulk in/out endpoint pair")
	}

	return in, out, nil
}

func (t *USBTransport) read(ctx context.Context, p []byte) (int, error) {
	if len(t.pending) == 0 {
		t.mu.Lock()
		in := t.in
		t.mu.Unlock()
		if in == nil {
			return 0, ErrNotConnected
		}

		pollCtx, cancel := context.WithTimeout(ctx, defaultUSBPollTimeout)
		n, err := in.ReadContext(pollCtx, t.staging)
		cancel()
		if err != nil && ctx.Err() == nil && pollCtx.Err() != nil {
			err = nil
		}
		t.pending = t.staging[:n]
		if err != nil {
			return 0, fmt.Errorf("bulk read: %w", err)
		}
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]

	return n, nil
}

func (t *USBTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return nil
	}

	t.intf.Close()
	err := errors.Join(t.cfg.Close(), t.dev.Close(), t.usb.Close())
	t.usb, t.dev, t.cfg, t.intf, t.in, t.out, t.frames = nil, nil, nil, nil, nil, nil, nil
	if err != nil {
		transportLogger("usb").Warn("close failed", "error", err)
	}

	return err
}

func (t *USBTransport) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	t.mu.Lock()
	frames := t.frames
	t.mu.Unlock()
	if frames == nil {
		return protocol.Frame{}, ErrNotConnected
	}

	return frames.Next(ctx)
}

func (t *USBTransport) WriteFrame(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	out := t.out
	t.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := out.WriteContext(ctx, frame); err != nil {
		return fmt.Errorf("bulk write: %w", err)
	}

	return nil
}
