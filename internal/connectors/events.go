package connectors

import (
	"time"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

// ConnectionState describes the transport lifecycle as seen by consumers.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateFailed       ConnectionState = "failed"
)

// ConnectionStatus is a bus event snapshot of current connector status.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// SessionChange is published whenever the coarse session state or its
// parameters change.
type SessionChange struct {
	State     string
	Phone     *protocol.PhoneKind
	Wifi      *uint32
	LastPhase *uint32
	Stream    *protocol.StreamParams
	Timestamp time.Time
}

// DongleInfo is one piece of device metadata, e.g. key "software_version".
type DongleInfo struct {
	Key       string
	Value     string
	Timestamp time.Time
}

// MediaInfo carries now-playing metadata. CoverBase64 is set for album art.
type MediaInfo struct {
	Fields      map[string]any
	CoverBase64 string
	Timestamp   time.Time
}

// CommandEvent is a Command message received from the dongle.
type CommandEvent struct {
	Value     protocol.CommandID
	Name      string
	Timestamp time.Time
}

// AnomalyEvent is a forward-compatibility case or a dropped frame.
type AnomalyEvent struct {
	Anomaly   protocol.Anomaly
	Timestamp time.Time
}

// RawFrame carries frame diagnostics for debug views. Preview holds at most
// the first bytes of the payload.
type RawFrame struct {
	Type     protocol.MessageType
	Outbound bool
	Len      int
	Preview  string
}
