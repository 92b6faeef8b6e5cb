package main

import (
	"errors"
	"log/slog"

	"github.com/skobkin/carlinkgo/internal/app"
	"github.com/skobkin/carlinkgo/internal/dongle"
	"github.com/skobkin/carlinkgo/internal/media"
)

type sinks struct {
	video *media.VideoFileSink
	audio *media.PCMFileSink
}

func openSinks(o runOptions, logger *slog.Logger) (*sinks, error) {
	s := &sinks{}
	if o.videoOut != "" {
		v, err := media.NewVideoFileSink(o.videoOut)
		if err != nil {
			return nil, err
		}
		s.video = v
	}
	if o.audioOut != "" {
		a, err := media.NewPCMFileSink(o.audioOut, logger)
		if err != nil {
			if s.video != nil {
				_ = s.video.Close()
			}
			return nil, err
		}
		s.audio = a
	}

	return s, nil
}

// routerOptions builds the media router options for one driver session.
func (s *sinks) routerOptions(d *dongle.Driver, rt *app.Runtime) []media.RouterOption {
	opts := []media.RouterOption{
		media.WithDecodeRecorder(rt.Stats),
		media.WithMic(media.NewMicForwarder(d, media.DefaultMicChunk)),
	}
	if s.video != nil {
		opts = append(opts, media.WithVideo(s.video))
	}
	if s.audio != nil {
		opts = append(opts, media.WithAudio(s.audio))
	}

	return opts
}

func (s *sinks) close(logger *slog.Logger) {
	var errs []error
	if s.video != nil {
		logger.Info("video written", "frames", s.video.Frames())
		errs = append(errs, s.video.Close())
	}
	if s.audio != nil {
		attrs := []any{"samples", s.audio.Samples()}
		if f := s.audio.Format(); f != nil {
			attrs = append(attrs, "rate", f.Frequency, "channels", f.Channels)
		}
		logger.Info("audio written", attrs...)
		errs = append(errs, s.audio.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("close media sinks", "error", err)
	}
}
