package app

import (
	"context"
	"fmt"

	"github.com/skobkin/carlinkgo/internal/config"
	"github.com/skobkin/carlinkgo/internal/discovery"
	"github.com/skobkin/carlinkgo/internal/transport"
)

// DefaultFinders asks libusb first and falls back to a sysfs scan.
func DefaultFinders() []discovery.Finder {
	return []discovery.Finder{discovery.USBFinder{}, discovery.SysfsFinder{}}
}

// NewTransportForConnection builds the transport cfg describes. An unpinned
// USB connector claims the first dongle the finders report.
func NewTransportForConnection(ctx context.Context, cfg config.ConnectionConfig, finders ...discovery.Finder) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorUSB:
		target, err := usbTarget(ctx, cfg, finders)
		if err != nil {
			return nil, err
		}
		return transport.NewUSBTransport(target), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud), nil
	case config.ConnectorTCP:
		return transport.NewTCPTransport(cfg.Host, cfg.Port), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}

func usbTarget(ctx context.Context, cfg config.ConnectionConfig, finders []discovery.Finder) (transport.USBTarget, error) {
	if cfg.USBBus != 0 || cfg.USBAddress != 0 {
		return transport.USBTarget{IDs: discovery.KnownIDs, Bus: cfg.USBBus, Address: cfg.USBAddress}, nil
	}
	if len(finders) == 0 {
		finders = DefaultFinders()
	}
	dev, err := discovery.FindFirst(ctx, discovery.KnownIDs, finders...)
	if err != nil {
		return transport.USBTarget{}, err
	}

	return dev.Target(), nil
}
