package dongle

import (
	"time"

	"github.com/skobkin/carlinkgo/internal/config"
	"github.com/skobkin/carlinkgo/internal/protocol"
)

const (
	fileScreenDPI       = "/tmp/screen_dpi"
	fileNightMode       = "/tmp/night_mode"
	fileHandDriveMode   = "/tmp/hand_drive_mode"
	fileChargeMode      = "/tmp/charge_mode"
	fileBoxName         = "/etc/box_name"
	fileAndroidWorkMode = "/etc/android_work_mode"
)

func streamParams(cfg config.DongleConfig) protocol.StreamParams {
	return protocol.StreamParams{
		Width:     uint32(cfg.Width),
		Height:    uint32(cfg.Height),
		FPS:       uint32(cfg.FPS),
		Format:    uint32(cfg.Format),
		PacketMax: uint32(cfg.PacketMax),
		IBox:      uint32(cfg.IBox),
		PhoneMode: uint32(cfg.PhoneMode),
	}
}

// handshake lists the messages written on Start, in order.
func handshake(cfg config.DongleConfig, now time.Time) []protocol.SendableMessage {
	hand := uint32(0)
	if cfg.HandDriveSide == config.HandDriveRight {
		hand = 1
	}

	wifi := protocol.CommandWifi5G
	if cfg.WifiType == config.Wifi24GHz {
		wifi = protocol.CommandWifi24G
	}

	mic := protocol.CommandMic
	if cfg.MicType == config.MicBox {
		mic = protocol.CommandBoxMic
	}

	audio := protocol.CommandAudioTransferOff
	if cfg.AudioTransferMode {
		audio = protocol.CommandAudioTransferOn
	}

	msgs := []protocol.SendableMessage{
		protocol.FileNumber(fileScreenDPI, uint32(cfg.DPI)),
		protocol.SendOpen{StreamParams: streamParams(cfg)},
		protocol.FileBool(fileNightMode, cfg.NightMode),
		protocol.FileNumber(fileHandDriveMode, hand),
		protocol.FileBool(fileChargeMode, true),
		protocol.FileString(fileBoxName, cfg.BoxName),
		protocol.SendBoxSettings{
			MediaDelay:       cfg.MediaDelay,
			SyncTime:         now.Unix(),
			AndroidAutoSizeW: cfg.Width,
			AndroidAutoSizeH: cfg.Height,
		},
		protocol.SendCommand{Value: protocol.CommandWifiEnable},
		protocol.SendCommand{Value: wifi},
		protocol.SendCommand{Value: mic},
		protocol.SendCommand{Value: audio},
	}
	if cfg.AndroidWorkMode {
		msgs = append(msgs, protocol.FileBool(fileAndroidWorkMode, true))
	}

	return msgs
}
