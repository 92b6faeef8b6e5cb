package protocol

import "fmt"

// MessageType identifies a frame payload. Values outside the table below are kept as-is.
type MessageType uint32

const (
	TypeOpen                MessageType = 0x01
	TypePlugged             MessageType = 0x02
	TypePhase               MessageType = 0x03
	TypeUnplugged           MessageType = 0x04
	TypeTouch               MessageType = 0x05
	TypeVideoData           MessageType = 0x06
	TypeAudioData           MessageType = 0x07
	TypeCommand             MessageType = 0x08
	TypeLogoType            MessageType = 0x09
	TypeBluetoothAddress    MessageType = 0x0a
	TypeBluetoothPIN        MessageType = 0x0c
	TypeBluetoothDeviceName MessageType = 0x0d
	TypeWifiDeviceName      MessageType = 0x0e
	TypeDisconnectPhone     MessageType = 0x0f
	TypeBluetoothPairedList MessageType = 0x12
	TypeManufacturerInfo    MessageType = 0x14
	TypeCloseDongle         MessageType = 0x15
	TypeMultiTouch          MessageType = 0x17
	TypeHiCarLink           MessageType = 0x18
	TypeBoxSettings         MessageType = 0x19
	TypeUnknown26           MessageType = 0x26
	TypeMediaData           MessageType = 0x2a
	TypeSendFile            MessageType = 0x99
	TypeHeartBeat           MessageType = 0xaa
	TypeSoftwareVersion     MessageType = 0xcc
)

var messageTypeNames = map[MessageType]string{
	TypeOpen:                "Open",
	TypePlugged:             "Plugged",
	TypePhase:               "Phase",
	TypeUnplugged:           "Unplugged",
	TypeTouch:               "Touch",
	TypeVideoData:           "VideoData",
	TypeAudioData:           "AudioData",
	TypeCommand:             "Command",
	TypeLogoType:            "LogoType",
	TypeBluetoothAddress:    "BluetoothAddress",
	TypeBluetoothPIN:        "BluetoothPIN",
	TypeBluetoothDeviceName: "BluetoothDeviceName",
	TypeWifiDeviceName:      "WifiDeviceName",
	TypeDisconnectPhone:     "DisconnectPhone",
	TypeBluetoothPairedList: "BluetoothPairedList",
	TypeManufacturerInfo:    "ManufacturerInfo",
	TypeCloseDongle:         "CloseDongle",
	TypeMultiTouch:          "MultiTouch",
	TypeHiCarLink:           "HiCarLink",
	TypeBoxSettings:         "BoxSettings",
	TypeUnknown26:           "Unknown26",
	TypeMediaData:           "MediaData",
	TypeSendFile:            "SendFile",
	TypeHeartBeat:           "HeartBeat",
	TypeSoftwareVersion:     "SoftwareVersion",
}

func (t MessageType) Known() bool {
	_, ok := messageTypeNames[t]
	return ok
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(0x%02x)", uint32(t))
}

// CommandID is a remote-control or dongle status command.
type CommandID uint32

const (
	CommandInvalid             CommandID = 0
	CommandStartRecordAudio    CommandID = 1
	CommandStopRecordAudio     CommandID = 2
	CommandRequestHostUI       CommandID = 3
	CommandSiri                CommandID = 5
	CommandMic                 CommandID = 7
	CommandFrame               CommandID = 12
	CommandBoxMic              CommandID = 15
	CommandEnableNightMode     CommandID = 16
	CommandDisableNightMode    CommandID = 17
	CommandAudioTransferOn     CommandID = 22
	CommandAudioTransferOff    CommandID = 23
	CommandWifi24G             CommandID = 24
	CommandWifi5G              CommandID = 25
	CommandLeft                CommandID = 100
	CommandRight               CommandID = 101
	CommandSelectDown          CommandID = 104
	CommandSelectUp            CommandID = 105
	CommandBack                CommandID = 106
	CommandUp                  CommandID = 113
	CommandDown                CommandID = 114
	CommandHome                CommandID = 200
	CommandPlay                CommandID = 201
	CommandPause               CommandID = 202
	CommandPlayOrPause         CommandID = 203
	CommandNext                CommandID = 204
	CommandPrev                CommandID = 205
	CommandAcceptPhone         CommandID = 300
	CommandRejectPhone         CommandID = 301
	CommandRequestVideoFocus   CommandID = 500
	CommandReleaseVideoFocus   CommandID = 501
	CommandWifiEnable          CommandID = 1000
	CommandAutoConnectEnable   CommandID = 1001
	CommandWifiConnect         CommandID = 1002
	CommandScanningDevice      CommandID = 1003
	CommandDeviceFound         CommandID = 1004
	CommandDeviceNotFound      CommandID = 1005
	CommandConnectDeviceFailed CommandID = 1006
	CommandBtConnected         CommandID = 1007
	CommandBtDisconnected      CommandID = 1008
	CommandWifiConnected       CommandID = 1009
	CommandWifiDisconnected    CommandID = 1010
	CommandBtPairStart         CommandID = 1011
	CommandWifiPair            CommandID = 1012
)

var commandNames = map[CommandID]string{
	CommandInvalid:             "invalid",
	CommandStartRecordAudio:    "startRecordAudio",
	CommandStopRecordAudio:     "stopRecordAudio",
	CommandRequestHostUI:       "requestHostUI",
	CommandSiri:                "siri",
	CommandMic:                 "mic",
	CommandFrame:               "frame",
	CommandBoxMic:              "boxMic",
	CommandEnableNightMode:     "enableNightMode",
	CommandDisableNightMode:    "disableNightMode",
	CommandAudioTransferOn:     "audioTransferOn",
	CommandAudioTransferOff:    "audioTransferOff",
	CommandWifi24G:             "wifi24g",
	CommandWifi5G:              "wifi5g",
	CommandLeft:                "left",
	CommandRight:               "right",
	CommandSelectDown:          "selectDown",
	CommandSelectUp:            "selectUp",
	CommandBack:                "back",
	CommandUp:                  "up",
	CommandDown:                "down",
	CommandHome:                "home",
	CommandPlay:                "play",
	CommandPause:               "pause",
	CommandPlayOrPause:         "playOrPause",
	CommandNext:                "next",
	CommandPrev:                "prev",
	CommandAcceptPhone:         "acceptPhone",
	CommandRejectPhone:         "rejectPhone",
	CommandRequestVideoFocus:   "requestVideoFocus",
	CommandReleaseVideoFocus:   "releaseVideoFocus",
	CommandWifiEnable:          "wifiEnable",
	CommandAutoConnectEnable:   "autoConnectEnable",
	CommandWifiConnect:         "wifiConnect",
	CommandScanningDevice:      "scanningDevice",
	CommandDeviceFound:         "deviceFound",
	CommandDeviceNotFound:      "deviceNotFound",
	CommandConnectDeviceFailed: "connectDeviceFailed",
	CommandBtConnected:         "btConnected",
	CommandBtDisconnected:      "btDisconnected",
	CommandWifiConnected:       "wifiConnected",
	CommandWifiDisconnected:    "wifiDisconnected",
	CommandBtPairStart:         "btPairStart",
	CommandWifiPair:            "wifiPair",
}

func (c CommandID) Known() bool {
	_, ok := commandNames[c]
	return ok
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", uint32(c))
}

// ParseCommand resolves a command by its protocol name, e.g. "playOrPause".
func ParseCommand(name string) (CommandID, bool) {
	for id, n := range commandNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// PhoneKind is the phone protocol announced in Plugged.
type PhoneKind uint32

const (
	PhoneAndroidMirror PhoneKind = 1
	PhoneCarPlay       PhoneKind = 3
	PhoneIPhoneMirror  PhoneKind = 4
	PhoneAndroidAuto   PhoneKind = 5
	PhoneHiCar         PhoneKind = 6
)

var phoneKindNames = map[PhoneKind]string{
	PhoneAndroidMirror: "AndroidMirror",
	PhoneCarPlay:       "CarPlay",
	PhoneIPhoneMirror:  "iPhoneMirror",
	PhoneAndroidAuto:   "AndroidAuto",
	PhoneHiCar:         "HiCar",
}

func (p PhoneKind) Known() bool {
	_, ok := phoneKindNames[p]
	return ok
}

func (p PhoneKind) String() string {
	if name, ok := phoneKindNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phone(%d)", uint32(p))
}

// AudioCommand is the one-byte control carried by AudioData.
type AudioCommand int8

const (
	AudioOutputStart    AudioCommand = 1
	AudioOutputStop     AudioCommand = 2
	AudioInputConfig    AudioCommand = 3
	AudioPhonecallStart AudioCommand = 4
	AudioPhonecallStop  AudioCommand = 5
	AudioNaviStart      AudioCommand = 6
	AudioNaviStop       AudioCommand = 7
	AudioSiriStart      AudioCommand = 8
	AudioSiriStop       AudioCommand = 9
	AudioMediaStart     AudioCommand = 10
	AudioMediaStop      AudioCommand = 11
	AudioAlertStart     AudioCommand = 12
	AudioAlertStop      AudioCommand = 13
)

var audioCommandNames = map[AudioCommand]string{
	AudioOutputStart:    "AudioOutputStart",
	AudioOutputStop:     "AudioOutputStop",
	AudioInputConfig:    "AudioInputConfig",
	AudioPhonecallStart: "AudioPhonecallStart",
	AudioPhonecallStop:  "AudioPhonecallStop",
	AudioNaviStart:      "AudioNaviStart",
	AudioNaviStop:       "AudioNaviStop",
	AudioSiriStart:      "AudioSiriStart",
	AudioSiriStop:       "AudioSiriStop",
	AudioMediaStart:     "AudioMediaStart",
	AudioMediaStop:      "AudioMediaStop",
	AudioAlertStart:     "AudioAlertStart",
	AudioAlertStop:      "AudioAlertStop",
}

func (c AudioCommand) Known() bool {
	_, ok := audioCommandNames[c]
	return ok
}

func (c AudioCommand) String() string {
	if name, ok := audioCommandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("audioCommand(%d)", int8(c))
}

// MediaKind is the leading tag of a MediaData payload.
type MediaKind uint32

const (
	MediaKindData       MediaKind = 1
	MediaKindAlbumCover MediaKind = 3
)

func (k MediaKind) String() string {
	switch k {
	case MediaKindData:
		return "Data"
	case MediaKindAlbumCover:
		return "AlbumCover"
	default:
		return fmt.Sprintf("media(%d)", uint32(k))
	}
}

// TouchAction is the single-touch action tag.
type TouchAction uint32

const (
	TouchDown TouchAction = 14
	TouchMove TouchAction = 15
	TouchUp   TouchAction = 16
)

func (a TouchAction) Valid() bool {
	return a == TouchDown || a == TouchMove || a == TouchUp
}

func (a TouchAction) String() string {
	switch a {
	case TouchDown:
		return "down"
	case TouchMove:
		return "move"
	case TouchUp:
		return "up"
	default:
		return fmt.Sprintf("touch(%d)", uint32(a))
	}
}

// MultiTouchAction is the per-point action used by MultiTouch frames.
type MultiTouchAction uint32

const (
	MultiTouchUp   MultiTouchAction = 0
	MultiTouchDown MultiTouchAction = 1
	MultiTouchMove MultiTouchAction = 2
)
