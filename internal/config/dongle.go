package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrUnknownOption = errors.New("unknown dongle option")

type HandDriveSide string

const (
	HandDriveLeft  HandDriveSide = "left"
	HandDriveRight HandDriveSide = "right"
)

type WifiType string

const (
	Wifi5GHz  WifiType = "5ghz"
	Wifi24GHz WifiType = "24ghz"
)

type MicType string

const (
	MicOS  MicType = "os"
	MicBox MicType = "box"
)

// DongleConfig holds the session options sent to the dongle during the handshake.
type DongleConfig struct {
	Width             int           `json:"width"`
	Height            int           `json:"height"`
	FPS               int           `json:"fps"`
	Format            int           `json:"format"`
	PacketMax         int           `json:"packet_max"`
	IBox              int           `json:"i_box"`
	PhoneMode         int           `json:"phone_mode"`
	DPI               int           `json:"dpi"`
	HandDriveSide     HandDriveSide `json:"hand_drive_side"`
	NightMode         bool          `json:"night_mode"`
	BoxName           string        `json:"box_name"`
	WifiType          WifiType      `json:"wifi_type"`
	MicType           MicType       `json:"mic_type"`
	MediaDelay        int           `json:"media_delay"`
	AudioTransferMode bool          `json:"audio_transfer_mode"`
	AndroidWorkMode   bool          `json:"android_work_mode"`
}

func DefaultDongle() DongleConfig {
	return DongleConfig{
		Width:         800,
		Height:        640,
		FPS:           20,
		Format:        5,
		PacketMax:     49152,
		IBox:          2,
		PhoneMode:     2,
		DPI:           160,
		HandDriveSide: HandDriveLeft,
		BoxName:       "nodePlay",
		WifiType:      Wifi5GHz,
		MicType:       MicOS,
		MediaDelay:    300,
	}
}

func (c *DongleConfig) FillMissingDefaults() {
	def := DefaultDongle()
	if c.Width <= 0 {
		c.Width = def.Width
	}
	if c.Height <= 0 {
		c.Height = def.Height
	}
	if c.FPS <= 0 {
		c.FPS = def.FPS
	}
	if c.Format <= 0 {
		c.Format = def.Format
	}
	if c.PacketMax <= 0 {
		c.PacketMax = def.PacketMax
	}
	if c.IBox <= 0 {
		c.IBox = def.IBox
	}
	if c.PhoneMode <= 0 {
		c.PhoneMode = def.PhoneMode
	}
	if c.DPI <= 0 {
		c.DPI = def.DPI
	}
	if c.HandDriveSide == "" {
		c.HandDriveSide = def.HandDriveSide
	}
	if c.BoxName == "" {
		c.BoxName = def.BoxName
	}
	if c.WifiType == "" {
		c.WifiType = def.WifiType
	}
	if c.MicType == "" {
		c.MicType = def.MicType
	}
	if c.MediaDelay < 0 {
		c.MediaDelay = def.MediaDelay
	}
}

func (c DongleConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 || c.FPS > 60 {
		return fmt.Errorf("fps out of range: %d", c.FPS)
	}
	if c.PacketMax <= 0 {
		return fmt.Errorf("packet_max must be positive: %d", c.PacketMax)
	}
	switch c.HandDriveSide {
	case HandDriveLeft, HandDriveRight:
	default:
		return fmt.Errorf("invalid hand_drive_side: %q", c.HandDriveSide)
	}
	switch c.WifiType {
	case Wifi5GHz, Wifi24GHz:
	default:
		return fmt.Errorf("invalid wifi_type: %q", c.WifiType)
	}
	switch c.MicType {
	case MicOS, MicBox:
	default:
		return fmt.Errorf("invalid mic_type: %q", c.MicType)
	}
	if strings.TrimSpace(c.BoxName) == "" {
		return errors.New("box_name is required")
	}

	return nil
}

type optionSetter func(c *DongleConfig, value string) error

func intOption(field func(c *DongleConfig) *int) optionSetter {
	return func(c *DongleConfig, value string) error {
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

func boolOption(field func(c *DongleConfig) *bool) optionSetter {
	return func(c *DongleConfig, value string) error {
		v, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

var dongleOptions = map[string]optionSetter{
	"width":      intOption(func(c *DongleConfig) *int { return &c.Width }),
	"height":     intOption(func(c *DongleConfig) *int { return &c.Height }),
	"fps":        intOption(func(c *DongleConfig) *int { return &c.FPS }),
	"format":     intOption(func(c *DongleConfig) *int { return &c.Format }),
	"packet_max": intOption(func(c *DongleConfig) *int { return &c.PacketMax }),
	"i_box":      intOption(func(c *DongleConfig) *int { return &c.IBox }),
	"phone_mode": intOption(func(c *DongleConfig) *int { return &c.PhoneMode }),
	"dpi":        intOption(func(c *DongleConfig) *int { return &c.DPI }),
	"hand_drive_side": func(c *DongleConfig, value string) error {
		c.HandDriveSide = HandDriveSide(strings.ToLower(strings.TrimSpace(value)))
		return nil
	},
	"night_mode": boolOption(func(c *DongleConfig) *bool { return &c.NightMode }),
	"box_name": func(c *DongleConfig, value string) error {
		c.BoxName = value
		return nil
	},
	"wifi_type": func(c *DongleConfig, value string) error {
		c.WifiType = WifiType(strings.ToLower(strings.TrimSpace(value)))
		return nil
	},
	"mic_type": func(c *DongleConfig, value string) error {
		c.MicType = MicType(strings.ToLower(strings.TrimSpace(value)))
		return nil
	},
	"media_delay":         intOption(func(c *DongleConfig) *int { return &c.MediaDelay }),
	"audio_transfer_mode": boolOption(func(c *DongleConfig) *bool { return &c.AudioTransferMode }),
	"android_work_mode":   boolOption(func(c *DongleConfig) *bool { return &c.AndroidWorkMode }),
}

// Set applies a single key=value override. Keys match the JSON field names.
func (c *DongleConfig) Set(key, value string) error {
	setter, ok := dongleOptions[strings.TrimSpace(key)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, key)
	}
	if err := setter(c, value); err != nil {
		return fmt.Errorf("option %s: %w", key, err)
	}

	return nil
}

// Apply parses "key=value" overrides and validates the result.
func (c *DongleConfig) Apply(overrides []string) error {
	for _, kv := range overrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("override %q: expected key=value", kv)
		}
		if err := c.Set(key, value); err != nil {
			return err
		}
	}

	return c.Validate()
}

// OptionNames lists the recognized option keys in sorted order.
func OptionNames() []string {
	names := make([]string, 0, len(dongleOptions))
	for name := range dongleOptions {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
