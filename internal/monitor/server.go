// Package monitor serves Prometheus metrics and JSON views of the running driver.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/carlinkgo/internal/dongle"
	"github.com/skobkin/carlinkgo/internal/journal"
	"github.com/skobkin/carlinkgo/internal/protocol"
	"github.com/skobkin/carlinkgo/internal/stats"
)

const shutdownTimeout = 3 * time.Second

type SessionSource interface {
	State() dongle.SessionState
}

type StatsSource interface {
	Snapshot() stats.Snapshot
}

// Options selects what the handler exposes. Nil sources disable their routes.
type Options struct {
	Logger   *slog.Logger
	Session  SessionSource
	Stats    StatsSource
	Gatherer prometheus.Gatherer
	Sessions journal.SessionRepository
}

func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.health)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Stats != nil {
		r.Get("/stats", h.stats)
	}
	if opts.Session != nil {
		r.Get("/session", h.session)
	}
	if opts.Sessions != nil {
		r.Get("/sessions", h.sessions)
	}

	return r
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("monitor listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type handlers struct {
	opts   Options
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.opts.Session != nil {
		st := h.opts.Session.State()
		resp["state"] = st.State.String()
		resp["connected"] = st.Connected
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) stats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.opts.Stats.Snapshot())
}

type sessionView struct {
	State     string                 `json:"state"`
	Connected bool                   `json:"connected"`
	Phone     string                 `json:"phone,omitempty"`
	PhoneID   *uint32                `json:"phone_id,omitempty"`
	Wifi      *uint32                `json:"wifi,omitempty"`
	LastPhase *uint32                `json:"last_phase,omitempty"`
	Stream    *protocol.StreamParams `json:"stream,omitempty"`
	Since     time.Time              `json:"since"`
}

func newSessionView(st dongle.SessionState) sessionView {
	v := sessionView{
		State:     st.State.String(),
		Connected: st.Connected,
		Wifi:      st.Wifi,
		LastPhase: st.LastPhase,
		Stream:    st.Stream,
		Since:     st.Since,
	}
	if st.Phone != nil {
		id := uint32(*st.Phone)
		v.Phone = st.Phone.String()
		v.PhoneID = &id
	}
	return v
}

func (h *handlers) session(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, newSessionView(h.opts.Session.State()))
}

func (h *handlers) sessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	list, err := h.opts.Sessions.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Warn("list sessions failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}
	if list == nil {
		list = []journal.Session{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("write response failed", "error", err)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
		})
	}
}
