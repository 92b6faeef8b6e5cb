// Package discovery finds connected dongles by USB vendor and product id.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/skobkin/carlinkgo/internal/transport"
)

var ErrNotFound = errors.New("no matching dongle found")

// KnownIDs are the vendor/product pairs of supported adapters.
var KnownIDs = []transport.USBID{
	{Vendor: 0x1314, Product: 0x1520},
	{Vendor: 0x1314, Product: 0x1521},
}

// Device describes one matching USB device.
type Device struct {
	Vendor       uint16
	Product      uint16
	Bus          int
	Address      int
	Manufacturer string
	ProductName  string
	Serial       string
	// Path is the sysfs directory when the device came from a sysfs scan.
	Path string
}

// InfoString formats a device for logs and the devices command:
// "vid:pid bus/address manufacturer product serial".
func (d Device) InfoString() string {
	parts := []string{
		fmt.Sprintf("%04x:%04x", d.Vendor, d.Product),
		fmt.Sprintf("%03d/%03d", d.Bus, d.Address),
	}
	for _, s := range []string{d.Manufacturer, d.ProductName, d.Serial} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Target pins a transport to this physical device.
func (d Device) Target() transport.USBTarget {
	return transport.USBTarget{
		IDs:     []transport.USBID{{Vendor: d.Vendor, Product: d.Product}},
		Bus:     d.Bus,
		Address: d.Address,
	}
}

// Finder lists matching devices.
type Finder interface {
	Find(ctx context.Context, ids []transport.USBID) ([]Device, error)
}

func known(ids []transport.USBID, vendor, product uint16) bool {
	for _, id := range ids {
		if id.Vendor == vendor && id.Product == product {
			return true
		}
	}
	return false
}

func sortDevices(devs []Device) {
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].Bus != devs[j].Bus {
			return devs[i].Bus < devs[j].Bus
		}
		return devs[i].Address < devs[j].Address
	})
}

// FindFirst asks each finder in turn and returns the first device found. Finder
// errors are only reported when no finder produced a device.
func FindFirst(ctx context.Context, ids []transport.USBID, finders ...Finder) (Device, error) {
	var errs []error
	for _, f := range finders {
		devs, err := f.Find(ctx, ids)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(devs) > 0 {
			return devs[0], nil
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Device{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return Device{}, ErrNotFound
}
