package connectors

const (
	TopicConnStatus   = "conn.status"
	TopicSessionState = "session.state"
	TopicDongleInfo   = "dongle.info"
	TopicMediaInfo    = "media.info"
	TopicCommand      = "dongle.command"
	TopicAnomaly      = "anomaly"
	TopicRawFrameIn   = "raw.frame.in"
	TopicRawFrameOut  = "raw.frame.out"
)
