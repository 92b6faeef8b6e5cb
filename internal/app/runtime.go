package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skobkin/carlinkgo/internal/bus"
	"github.com/skobkin/carlinkgo/internal/config"
	"github.com/skobkin/carlinkgo/internal/connectors"
	"github.com/skobkin/carlinkgo/internal/discovery"
	"github.com/skobkin/carlinkgo/internal/dongle"
	"github.com/skobkin/carlinkgo/internal/journal"
	"github.com/skobkin/carlinkgo/internal/logging"
	"github.com/skobkin/carlinkgo/internal/monitor"
	"github.com/skobkin/carlinkgo/internal/persistence"
	"github.com/skobkin/carlinkgo/internal/platform"
	"github.com/skobkin/carlinkgo/internal/stats"
)

// Options tune Initialize. Zero values use the user config dir and its config file.
type Options struct {
	DataDir    string
	ConfigPath string
	// Overrides are dongle options in key=value form applied over the config file.
	Overrides []string
	// Finders replace the default USB discovery order.
	Finders []discovery.Finder
	// DriverOptions are appended to the options of every driver the runtime creates.
	DriverOptions []dongle.Option
}

// Runtime owns the long-lived services of one process: logging, the event bus,
// stats, the session journal, and the current dongle driver.
type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	Registry   *prometheus.Registry
	Stats      *stats.Tracker

	DB          *sql.DB
	WriterQueue *persistence.WriterQueue
	Sessions    *persistence.SessionRepo
	Journal     *journal.Journal

	logger        *slog.Logger
	lock          platform.DirLock
	finders       []discovery.Finder
	driverOptions []dongle.Option
	journalCancel context.CancelFunc
	journalDone   <-chan struct{}
	connSub       bus.Subscription

	driverMu sync.RWMutex
	driver   *dongle.Driver

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool

	closeOnce sync.Once
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := ResolvePaths(opts.DataDir)
	if err != nil {
		return nil, err
	}
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = paths.ConfigFile
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Dongle.Apply(opts.Overrides); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	lock, err := platform.LockDir(paths.RootDir)
	switch {
	case errors.Is(err, platform.ErrLockUnsupported):
		lock = nil
	case err != nil:
		return nil, fmt.Errorf("data dir %s: %w", paths.RootDir, err)
	}

	// Services stop in Close, in order, rather than when parent is cancelled.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	rt := &Runtime{
		lock:          lock,
		Ctx:           ctx,
		cancel:        cancel,
		Paths:         paths,
		Config:        cfg,
		finders:       opts.Finders,
		driverOptions: opts.DriverOptions,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		if lock != nil {
			_ = lock.Release()
		}
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	rt.logger = logMgr.Logger("app")
	rt.logger.Info("starting carlink runtime", "version", BuildVersion(), "build_date", BuildDateYMD(), "connector", cfg.Connection.Connector)

	rt.Bus = bus.New(logMgr.Logger("bus"))
	rt.setConnStatus(ConnectionStatusFromConfig(cfg.Connection))
	rt.connSub = rt.Bus.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, rt.connSub)

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.Stats = stats.NewTracker(stats.WithRegistry(rt.Registry))

	if cfg.Storage.Journal {
		if err := rt.openJournal(ctx); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	return rt, nil
}

func (r *Runtime) openJournal(ctx context.Context) error {
	db, err := persistence.Open(ctx, r.Paths.DBFile)
	if err != nil {
		return err
	}
	r.DB = db
	r.Sessions = persistence.NewSessionRepo(db)

	r.WriterQueue = persistence.NewWriterQueue(r.LogManager.Logger("persistence"), writerQueueSize)
	r.WriterQueue.Start(ctx)

	r.Journal = journal.New(r.LogManager.Logger("journal"), r.WriterQueue, journal.Repositories{
		Sessions:  r.Sessions,
		Info:      persistence.NewInfoRepo(db),
		Anomalies: persistence.NewAnomalyRepo(db),
	})
	journalCtx, journalCancel := context.WithCancel(ctx)
	r.journalCancel = journalCancel
	r.journalDone = r.Journal.Start(journalCtx, r.Bus)

	return nil
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnectionStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	defer r.connStatusMu.RUnlock()

	return r.connStatus, r.connStatusKnown
}

// State reports the current driver's session, or Idle between sessions.
func (r *Runtime) State() dongle.SessionState {
	if d := r.Driver(); d != nil {
		return d.State()
	}

	return dongle.SessionState{State: dongle.StateIdle}
}

// Driver returns the driver of the running session, if any.
func (r *Runtime) Driver() *dongle.Driver {
	r.driverMu.RLock()
	defer r.driverMu.RUnlock()

	return r.driver
}

func (r *Runtime) setDriver(d *dongle.Driver) {
	r.driverMu.Lock()
	r.driver = d
	r.driverMu.Unlock()
}

// MonitorHandler serves metrics, stats and session state of this runtime.
func (r *Runtime) MonitorHandler() http.Handler {
	opts := monitor.Options{
		Logger:   r.LogManager.Logger("monitor"),
		Session:  r,
		Stats:    r.Stats,
		Gatherer: r.Registry,
	}
	if r.Sessions != nil {
		opts.Sessions = r.Sessions
	}

	return monitor.NewHandler(opts)
}

// Setup registers handlers on a fresh driver before it connects.
type Setup func(d *dongle.Driver)

// RunSession connects to the dongle once and blocks until the session fails
// or ctx is cancelled. A cancelled ctx is not an error.
func (r *Runtime) RunSession(ctx context.Context, setup Setup) error {
	_, err := r.runSession(ctx, setup)
	return err
}

func (r *Runtime) runSession(ctx context.Context, setup Setup) (started bool, err error) {
	tr, err := NewTransportForConnection(ctx, r.Config.Connection, r.finders...)
	if err != nil {
		return false, fmt.Errorf("%w: %w", dongle.ErrDeviceUnavailable, err)
	}

	opts := append([]dongle.Option{
		dongle.WithLogger(r.LogManager.Logger("dongle")),
		dongle.WithBus(r.Bus),
		dongle.WithRecorder(r.Stats),
	}, r.driverOptions...)
	d := dongle.New(opts...)

	failed := make(chan error, 1)
	d.On(dongle.EventFailure, func(ev dongle.Event) {
		select {
		case failed <- ev.Err:
		default:
		}
	})
	if setup != nil {
		setup(d)
	}

	r.setDriver(d)
	defer func() {
		r.setDriver(nil)
		if closeErr := d.Close(); closeErr != nil {
			r.logger.Warn("close driver", "error", closeErr)
		}
	}()

	if err := d.Initialize(ctx, tr); err != nil {
		return false, err
	}
	if err := d.Start(ctx, r.Config.Dongle); err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return true, nil
	case err := <-failed:
		return true, err
	}
}

// Run keeps a session alive, reconnecting with exponential backoff until ctx
// is cancelled.
func (r *Runtime) Run(ctx context.Context, setup Setup) error {
	backoff := time.Second
	for {
		started, err := r.runSession(ctx, setup)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			backoff = time.Second
		}
		r.logger.Warn("dongle session ended, retrying", "error", err, "backoff", backoff)
		if !sleepWithContext(ctx, backoff) {
			return nil
		}
		if backoff < maxRetryBackoff {
			backoff *= 2
		}
	}
}

// Close stops the driver first so that its final status reaches the journal,
// then flushes pending writes and tears the rest down. It is safe to call twice.
func (r *Runtime) Close() error {
	r.closeOnce.Do(r.close)
	return nil
}

func (r *Runtime) close() {
	if d := r.Driver(); d != nil {
		_ = d.Close()
	}
	if r.Bus != nil && r.connSub != nil {
		// Acts as a barrier: pubsub handles commands in order, so every event
		// published before this call has been delivered once it returns.
		r.Bus.Unsubscribe(r.connSub, connectors.TopicConnStatus)
	}
	if r.journalCancel != nil {
		r.journalCancel()
		<-r.journalDone
	}
	if r.WriterQueue != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := r.WriterQueue.Flush(flushCtx); err != nil {
			r.logger.Warn("flush journal writes", "error", err)
		}
		cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.WriterQueue != nil {
		r.WriterQueue.Wait()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	if r.lock != nil {
		_ = r.lock.Release()
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
