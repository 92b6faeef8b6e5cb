package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorUSB    ConnectorType = "usb"
	ConnectorSerial ConnectorType = "serial"
	ConnectorTCP    ConnectorType = "tcp"

	DefaultSerialBaud = 921600
	DefaultTCPPort    = 5555
	DefaultListen     = "127.0.0.1:9464"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector"`
	USBBus     int           `json:"usb_bus"`
	USBAddress int           `json:"usb_address"`
	SerialPort string        `json:"serial_port"`
	SerialBaud int           `json:"serial_baud"`
	Host       string        `json:"host"`
	Port       int           `json:"port"`
}

// MonitorConfig controls the local HTTP monitoring endpoint.
type MonitorConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// StorageConfig controls the session journal.
type StorageConfig struct {
	Journal bool `json:"journal"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Dongle     DongleConfig     `json:"dongle"`
	Logging    LoggingConfig    `json:"logging"`
	Monitor    MonitorConfig    `json:"monitor"`
	Storage    StorageConfig    `json:"storage"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorUSB,
			SerialBaud: DefaultSerialBaud,
			Port:       DefaultTCPPort,
		},
		Dongle: DefaultDongle(),
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			LogToFile: false,
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Listen:  DefaultListen,
		},
		Storage: StorageConfig{
			Journal: true,
		},
	}
}

// Load reads the config file at path. A missing file yields defaults. Unknown keys
// are rejected so that typos never silently fall back to a default.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := decodeStrict(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after config object")
	}

	return nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorUSB
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultTCPPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Monitor.Listen == "" {
		c.Monitor.Listen = DefaultListen
	}
	c.Dongle.FillMissingDefaults()
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorUSB:
		if c.Connection.USBBus < 0 || c.Connection.USBAddress < 0 {
			return errors.New("usb bus and address must not be negative")
		}
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case ConnectorTCP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("tcp host is required")
		}
		if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
			return fmt.Errorf("invalid tcp port: %d", c.Connection.Port)
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}

	return c.Dongle.Validate()
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
