package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/carlinkgo/internal/app"
	"github.com/skobkin/carlinkgo/internal/config"
	"github.com/skobkin/carlinkgo/internal/dongle"
	"github.com/skobkin/carlinkgo/internal/media"
	"github.com/skobkin/carlinkgo/internal/monitor"
)

type runOptions struct {
	overrides []string
	videoOut  string
	audioOut  string
	listen    string
	listenFor time.Duration
	once      bool
	rawFrames bool
}

func runCmd(g *globalOptions) *cobra.Command {
	o := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the adapter and keep the session running",
		Long: `Discovers the adapter, sends the start-up handshake and keeps the session alive,
reconnecting after failures until interrupted.

Dongle options can be overridden with --set, e.g. --set width=1280 --set fps=30.
Known options: ` + fmt.Sprint(config.OptionNames()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDongle(cmd.Context(), g, o)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&o.overrides, "set", nil, "dongle option override in key=value form (repeatable)")
	f.StringVar(&o.videoOut, "video-out", "", "write the raw H.264 stream to this file")
	f.StringVar(&o.audioOut, "audio-out", "", "write raw little-endian PCM to this file")
	f.StringVar(&o.listen, "listen", "", "serve /metrics, /stats and /session on this address")
	f.DurationVar(&o.listenFor, "listen-for", 0, "stop after this long, e.g. 30s")
	f.BoolVar(&o.once, "once", false, "exit when the session ends instead of reconnecting")
	f.BoolVar(&o.rawFrames, "raw-frames", false, "log a preview of every non-media frame")

	return cmd
}

func runDongle(parent context.Context, g *globalOptions, o runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.listenFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.listenFor)
		defer cancel()
	}

	var driverOpts []dongle.Option
	if o.rawFrames {
		driverOpts = append(driverOpts, dongle.WithRawFrames())
	}
	rt, err := app.Initialize(ctx, app.Options{
		DataDir:       g.dataDir,
		ConfigPath:    g.configPath,
		Overrides:     o.overrides,
		DriverOptions: driverOpts,
	})
	if err != nil {
		return err
	}
	logger := rt.LogManager.Logger("cli")

	sinks, err := openSinks(o, rt.LogManager.Logger("media"))
	if err != nil {
		_ = rt.Close()
		return err
	}
	// Registered before rt.Close so the sinks outlive the driver.
	defer sinks.close(logger)
	defer func() { _ = rt.Close() }()

	if addr := monitorAddr(o, rt.Config); addr != "" {
		go func() {
			if err := monitor.Serve(ctx, addr, rt.MonitorHandler(), rt.LogManager.Logger("monitor")); err != nil {
				logger.Error("monitor server stopped", "error", err)
			}
		}()
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := watch(watchCtx, rt.Bus, logger)

	setup := func(d *dongle.Driver) {
		router := media.NewRouter(rt.LogManager.Logger("media"), sinks.routerOptions(d, rt)...)
		d.On(dongle.EventMessage, router.HandleEvent)
		d.On(dongle.EventFailure, func(ev dongle.Event) {
			logger.Error("session failed", "error", ev.Err)
		})
	}

	logger.Info("starting", "connector", rt.Config.Connection.Connector, "once", o.once, "listen_for", o.listenFor)
	if o.once {
		err = rt.RunSession(ctx, setup)
	} else {
		err = rt.Run(ctx, setup)
	}
	stopWatch()
	<-watchDone

	logSummary(logger, rt)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	return err
}

func monitorAddr(o runOptions, cfg config.AppConfig) string {
	if o.listen != "" {
		return o.listen
	}
	if cfg.Monitor.Enabled {
		return cfg.Monitor.Listen
	}
	return ""
}

func logSummary(logger *slog.Logger, rt *app.Runtime) {
	snap := rt.Stats.Snapshot()
	logger.Info("session summary",
		"uptime", snap.Uptime.Round(time.Second),
		"bytes_in", snap.BytesIn,
		"messages", snap.MessagesTotal,
		"unknown_messages", snap.UnknownMessages,
		"video_frames", snap.VideoFrames,
		"resolution", fmt.Sprintf("%dx%d", snap.Width, snap.Height),
		"decode_success_rate", snap.DecodeSuccessRate,
		"anomalies", snap.Anomalies,
	)
	if rt.WriterQueue != nil {
		if dropped, failed := rt.WriterQueue.Stats(); dropped > 0 || failed > 0 {
			logger.Warn("journal writes lost", "dropped", dropped, "failed", failed)
		}
	}
}
