package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/skobkin/carlinkgo/internal/discovery"
)

const (
	backendAuto   = "auto"
	backendLibUSB = "libusb"
	backendSysfs  = "sysfs"
)

type devicesOptions struct {
	backend   string
	sysfsRoot string
	serial    bool
}

func devicesCmd() *cobra.Command {
	o := devicesOptions{}
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List connected adapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listDevices(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	cmd.Flags().StringVar(&o.backend, "backend", backendAuto, "discovery backend: auto, libusb or sysfs")
	cmd.Flags().StringVar(&o.sysfsRoot, "sysfs-root", discovery.DefaultSysfsRoot, "sysfs USB devices directory")
	cmd.Flags().BoolVar(&o.serial, "serial", false, "also list serial ports usable with the serial connector")

	return cmd
}

func finders(o devicesOptions) ([]discovery.Finder, error) {
	sysfs := discovery.SysfsFinder{Root: o.sysfsRoot}
	switch o.backend {
	case backendAuto, "":
		return []discovery.Finder{discovery.USBFinder{}, sysfs}, nil
	case backendLibUSB:
		return []discovery.Finder{discovery.USBFinder{}}, nil
	case backendSysfs:
		return []discovery.Finder{sysfs}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", o.backend)
	}
}

func listDevices(ctx context.Context, out io.Writer, o devicesOptions) error {
	fs, err := finders(o)
	if err != nil {
		return err
	}

	// Same order as the run command: the first backend reporting devices wins.
	var devs []discovery.Device
	var errs []error
	answered := false
	for _, f := range fs {
		found, err := f.Find(ctx, discovery.KnownIDs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		answered = true
		if len(found) > 0 {
			devs = found
			break
		}
	}
	if !answered {
		return fmt.Errorf("list usb devices: %w", errors.Join(errs...))
	}

	if len(devs) == 0 {
		fmt.Fprintln(out, "no adapters found")
	}
	for _, d := range devs {
		fmt.Fprintln(out, d.InfoString())
	}

	if !o.serial {
		return nil
	}
	ports, err := discovery.SerialPorts()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	for _, p := range ports {
		fmt.Fprintf(out, "serial %s\n", p)
	}

	return nil
}
