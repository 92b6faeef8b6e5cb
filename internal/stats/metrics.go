package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carlink"

type metrics struct {
	bytesIn        prometheus.Counter
	messages       *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	videoFrames    prometheus.Counter
	decodeFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, t *Tracker) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &metrics{
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_in_total",
			Help:      "Bytes of complete frames read from the dongle.",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Decoded inbound messages by type.",
		}, []string{"type"}),
		anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Unknown values and dropped frames by kind.",
		}, []string{"kind"}),
		videoFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_frames_total",
			Help:      "Video frames received.",
		}),
		decodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_decode_failures_total",
			Help:      "Video frames the external decoder rejected.",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "video_fps",
		Help:      "Video frames received during the last second.",
	}, t.FPS)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "video_width",
		Help:      "Width of the most recent video frame.",
	}, func() float64 { return float64(t.Snapshot().Width) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "video_height",
		Help:      "Height of the most recent video frame.",
	}, func() float64 { return float64(t.Snapshot().Height) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the tracker was created.",
	}, func() float64 { return t.now().Sub(t.started).Seconds() })

	return m
}
