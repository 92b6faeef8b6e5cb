package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestAppConfigFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{}
	cfg.FillMissingDefaults()

	if cfg.Connection.Connector != ConnectorUSB {
		t.Fatalf("expected default connector %q, got %q", ConnectorUSB, cfg.Connection.Connector)
	}
	if cfg.Connection.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected default serial baud %d, got %d", DefaultSerialBaud, cfg.Connection.SerialBaud)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.Dongle.Width != 800 || cfg.Dongle.Height != 640 || cfg.Dongle.BoxName != "nodePlay" {
		t.Fatalf("unexpected dongle defaults %+v", cfg.Dongle)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("filled config must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadPartialDongleSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "connection": {"connector": "serial", "serial_port": "/dev/ttyUSB0"},
  "dongle": {"width": 1280, "height": 720, "night_mode": true}
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Dongle.Width != 1280 || cfg.Dongle.Height != 720 || !cfg.Dongle.NightMode {
		t.Fatalf("unexpected dongle config %+v", cfg.Dongle)
	}
	if cfg.Dongle.FPS != 20 || cfg.Dongle.DPI != 160 {
		t.Fatalf("expected defaults for omitted dongle fields, got %+v", cfg.Dongle)
	}
	if cfg.Connection.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected default baud, got %d", cfg.Connection.SerialBaud)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"dongle": {"width": 800, "resolution": "4k"}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestValidateConnectors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr bool
	}{
		{name: "usb default", mutate: func(c *AppConfig) {}},
		{name: "serial without port", mutate: func(c *AppConfig) { c.Connection.Connector = ConnectorSerial }, wantErr: true},
		{name: "tcp without host", mutate: func(c *AppConfig) { c.Connection.Connector = ConnectorTCP }, wantErr: true},
		{name: "tcp with host", mutate: func(c *AppConfig) {
			c.Connection.Connector = ConnectorTCP
			c.Connection.Host = "10.0.0.5"
		}},
		{name: "unknown connector", mutate: func(c *AppConfig) { c.Connection.Connector = "bluetooth" }, wantErr: true},
		{name: "bad log format", mutate: func(c *AppConfig) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad hand drive", mutate: func(c *AppConfig) { c.Dongle.HandDriveSide = "middle" }, wantErr: true},
	}

	for _, tc := range tests {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Dongle.WifiType = Wifi24GHz
	cfg.Monitor.Enabled = true

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, stat err: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestDongleSetOverrides(t *testing.T) {
	cfg := DefaultDongle()
	if err := cfg.Apply([]string{"width=1920", "height=1080", "hand_drive_side=Right", "night_mode=true", "box_name=Car"}); err != nil {
		t.Fatalf("apply overrides: %v", err)
	}
	if cfg.Width != 1920 || cfg.Height != 1080 || cfg.HandDriveSide != HandDriveRight || !cfg.NightMode || cfg.BoxName != "Car" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestDongleSetRejectsUnknownAndInvalid(t *testing.T) {
	cfg := DefaultDongle()
	if err := cfg.Set("resolution", "4k"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	if err := cfg.Set("fps", "fast"); err == nil {
		t.Fatalf("expected parse error for fps")
	}
	if err := cfg.Apply([]string{"wifi_type=6ghz"}); err == nil {
		t.Fatalf("expected validation error for wifi_type")
	}
	if err := cfg.Apply([]string{"noequals"}); err == nil {
		t.Fatalf("expected error for malformed override")
	}
}

func TestOptionNamesSorted(t *testing.T) {
	names := OptionNames()
	if len(names) != len(dongleOptions) {
		t.Fatalf("unexpected option count %d", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}
