package discovery

import (
	"sort"

	"go.bug.st/serial"
)

// SerialPorts lists serial ports for the serial bridge connector.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	sort.Strings(ports)
	return ports, nil
}
