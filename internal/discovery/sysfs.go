package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skobkin/carlinkgo/internal/transport"
)

const DefaultSysfsRoot = "/sys/bus/usb/devices"

// SysfsFinder reads device attributes from sysfs. It needs no libusb and no
// device permissions, so the devices command works without udev rules.
type SysfsFinder struct {
	Root string
}

func (f SysfsFinder) Find(ctx context.Context, ids []transport.USBID) ([]Device, error) {
	root := f.Root
	if root == "" {
		root = DefaultSysfsRoot
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var out []Device
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		// Root hubs are usbN, interfaces are 1-1:1.0.
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		d, ok := readSysfsDevice(filepath.Join(root, name))
		if !ok || !known(ids, d.Vendor, d.Product) {
			continue
		}
		out = append(out, d)
	}
	sortDevices(out)

	return out, nil
}

func readSysfsDevice(dir string) (Device, bool) {
	vendor, err := readHex16(filepath.Join(dir, "idVendor"))
	if err != nil {
		return Device{}, false
	}
	product, err := readHex16(filepath.Join(dir, "idProduct"))
	if err != nil {
		return Device{}, false
	}

	d := Device{Vendor: vendor, Product: product, Path: dir}
	d.Bus, _ = readInt(filepath.Join(dir, "busnum"))
	d.Address, _ = readInt(filepath.Join(dir, "devnum"))
	d.Manufacturer = readString(filepath.Join(dir, "manufacturer"))
	d.ProductName = readString(filepath.Join(dir, "product"))
	d.Serial = readString(filepath.Join(dir, "serial"))

	return d, true
}

func readString(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readHex16(path string) (uint16, error) {
	v, err := strconv.ParseUint(readString(path), 16, 16)
	return uint16(v), err
}

func readInt(path string) (int, error) {
	return strconv.Atoi(readString(path))
}
