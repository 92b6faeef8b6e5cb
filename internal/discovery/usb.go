package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"

	"github.com/skobkin/carlinkgo/internal/transport"
)

// USBFinder enumerates devices through libusb and reads their string descriptors.
type USBFinder struct{}

func (USBFinder) Find(ctx context.Context, ids []transport.USBID) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return known(ids, uint16(desc.Vendor), uint16(desc.Product))
	})
	defer func() {
		for _, dev := range devs {
			_ = dev.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		if errors.Is(err, gousb.ErrorAccess) {
			return nil, fmt.Errorf("usb access denied, check udev rules: %w", err)
		}
		return nil, fmt.Errorf("enumerate usb devices: %w", err)
	}

	out := make([]Device, 0, len(devs))
	for _, dev := range devs {
		d := Device{
			Vendor:  uint16(dev.Desc.Vendor),
			Product: uint16(dev.Desc.Product),
			Bus:     dev.Desc.Bus,
			Address: dev.Desc.Address,
		}
		// String descriptors are optional; missing ones stay empty.
		d.Manufacturer, _ = dev.Manufacturer()
		d.ProductName, _ = dev.Product()
		d.Serial, _ = dev.SerialNumber()
		out = append(out, d)
	}
	sortDevices(out)

	return out, nil
}
