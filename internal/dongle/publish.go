package dongle

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/skobkin/carlinkgo/internal/connectors"
	"github.com/skobkin/carlinkgo/internal/protocol"
)

// Keys of DongleInfo events.
const (
	InfoSoftwareVersion     = "software_version"
	InfoBluetoothAddress    = "bluetooth_address"
	InfoBluetoothPIN        = "bluetooth_pin"
	InfoBluetoothName       = "bluetooth_name"
	InfoWifiName            = "wifi_name"
	InfoHiCarLink           = "hicar_link"
	InfoBluetoothPairedList = "bluetooth_paired_list"
	InfoManufacturer        = "manufacturer_info"
	InfoBoxSettings         = "box_settings"
)

// dongleInfo maps metadata messages to a key/value pair.
func dongleInfo(msg protocol.Message) (string, string, bool) {
	switch m := msg.(type) {
	case *protocol.SoftwareVersion:
		return InfoSoftwareVersion, m.Version, true
	case *protocol.BluetoothAddress:
		return InfoBluetoothAddress, m.Address, true
	case *protocol.BluetoothPIN:
		return InfoBluetoothPIN, m.PIN, true
	case *protocol.BluetoothDeviceName:
		return InfoBluetoothName, m.Name, true
	case *protocol.WifiDeviceName:
		return InfoWifiName, m.Name, true
	case *protocol.HiCarLink:
		return InfoHiCarLink, m.Link, true
	case *protocol.BluetoothPairedList:
		return InfoBluetoothPairedList, m.List, true
	case *protocol.ManufacturerInfo:
		return InfoManufacturer, fmt.Sprintf("a=%d b=%d", m.A, m.B), true
	case *protocol.BoxInfo:
		return InfoBoxSettings, string(m.Raw), true
	}

	return "", "", false
}

func (d *Driver) publishMessage(msg protocol.Message, now time.Time) {
	if d.bus == nil {
		return
	}

	if key, value, ok := dongleInfo(msg); ok {
		d.bus.Publish(connectors.TopicDongleInfo, connectors.DongleInfo{Key: key, Value: value, Timestamp: now})
		return
	}

	switch m := msg.(type) {
	case *protocol.Command:
		d.bus.Publish(connectors.TopicCommand, connectors.CommandEvent{Value: m.Value, Name: m.Value.String(), Timestamp: now})
	case *protocol.MediaData:
		switch p := m.Payload.(type) {
		case protocol.TrackInfo:
			d.bus.Publish(connectors.TopicMediaInfo, connectors.MediaInfo{Fields: p.Fields, Timestamp: now})
		case protocol.AlbumCover:
			d.bus.Publish(connectors.TopicMediaInfo, connectors.MediaInfo{CoverBase64: p.Base64(), Timestamp: now})
		}
	}
}

const rawPreviewLen = 32

func (d *Driver) publishRaw(topic string, t protocol.MessageType, payload []byte) {
	if !d.rawFrames || d.bus == nil || t == protocol.TypeVideoData || t == protocol.TypeAudioData {
		return
	}
	preview := payload
	if len(preview) > rawPreviewLen {
		preview = preview[:rawPreviewLen]
	}
	d.bus.Publish(topic, connectors.RawFrame{
		Type:     t,
		Outbound: topic == connectors.TopicRawFrameOut,
		Len:      len(payload),
		Preview:  hex.EncodeToString(preview),
	})
}
