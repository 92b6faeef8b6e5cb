package main

import (
	"context"
	"log/slog"

	"github.com/skobkin/carlinkgo/internal/bus"
	"github.com/skobkin/carlinkgo/internal/connectors"
)

var watchTopics = []string{
	connectors.TopicConnStatus,
	connectors.TopicSessionState,
	connectors.TopicDongleInfo,
	connectors.TopicCommand,
	connectors.TopicMediaInfo,
	connectors.TopicAnomaly,
	connectors.TopicRawFrameIn,
	connectors.TopicRawFrameOut,
}

// watch logs bus events until ctx is cancelled. The returned channel is closed
// once the subscription has been released.
func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) <-chan struct{} {
	sub := b.Subscribe(watchTopics...)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(sub, watchTopics...)
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				logEvent(logger, raw)
			}
		}
	}()

	return done
}

func logEvent(logger *slog.Logger, raw any) {
	switch ev := raw.(type) {
	case connectors.ConnectionStatus:
		logger.Info("conn", "state", ev.State, "transport", ev.TransportName, "target", ev.Target, "error", ev.Err)
	case connectors.SessionChange:
		attrs := []any{"state", ev.State}
		if ev.Phone != nil {
			attrs = append(attrs, "phone", ev.Phone.String())
		}
		if ev.Wifi != nil {
			attrs = append(attrs, "wifi", *ev.Wifi)
		}
		if ev.LastPhase != nil {
			attrs = append(attrs, "phase", *ev.LastPhase)
		}
		if ev.Stream != nil {
			attrs = append(attrs, "stream", *ev.Stream)
		}
		logger.Info("session", attrs...)
	case connectors.DongleInfo:
		logger.Info("dongle info", "key", ev.Key, "value", ev.Value)
	case connectors.CommandEvent:
		logger.Info("command", "name", ev.Name, "value", uint32(ev.Value))
	case connectors.MediaInfo:
		if ev.CoverBase64 != "" {
			logger.Info("album cover", "base64_len", len(ev.CoverBase64))
			return
		}
		logger.Info("media info", "fields", ev.Fields)
	case connectors.AnomalyEvent:
		logger.Warn("anomaly", "kind", ev.Anomaly.Kind, "type", ev.Anomaly.Type.String(), "raw", ev.Anomaly.Raw, "detail", ev.Anomaly.Detail)
	case connectors.RawFrame:
		dir := "in"
		if ev.Outbound {
			dir = "out"
		}
		logger.Info("raw frame", "dir", dir, "type", ev.Type.String(), "len", ev.Len, "hex", ev.Preview)
	}
}
