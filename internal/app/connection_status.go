package app

import (
	"fmt"
	"strings"

	"github.com/skobkin/carlinkgo/internal/config"
	"github.com/skobkin/carlinkgo/internal/connectors"
)

func TransportNameFromConnector(connector config.ConnectorType) string {
	switch connector {
	case config.ConnectorUSB:
		return "usb"
	case config.ConnectorSerial:
		return "serial"
	case config.ConnectorTCP:
		return "tcp"
	default:
		if value := strings.TrimSpace(string(connector)); value != "" {
			return value
		}
		return "unknown"
	}
}

// ConnectionTarget describes the configured endpoint before the transport has
// resolved it. An unpinned USB connector has no target until discovery runs.
func ConnectionTarget(cfg config.ConnectionConfig) string {
	switch cfg.Connector {
	case config.ConnectorUSB:
		if cfg.USBBus == 0 && cfg.USBAddress == 0 {
			return ""
		}
		return fmt.Sprintf("%03d/%03d", cfg.USBBus, cfg.USBAddress)
	case config.ConnectorSerial:
		return strings.TrimSpace(cfg.SerialPort)
	case config.ConnectorTCP:
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			return ""
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return ""
	}
}

func ConnectionStatusFromConfig(cfg config.ConnectionConfig) connectors.ConnectionStatus {
	return connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: TransportNameFromConnector(cfg.Connector),
		Target:        ConnectionTarget(cfg),
	}
}
