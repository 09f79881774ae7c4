package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rawproto/rawhttp/pkg/mux"
)

// StreamLister is a multiplexed connection that can report its streams.
// h2.Conn and h3.Conn implement it.
type StreamLister interface {
	Streams() map[uint64]mux.State
}

// Debug tracks live connections for the /debug/streams endpoint.
type Debug struct {
	mu    sync.Mutex
	conns map[string]StreamLister
}

// NewDebug returns an empty tracker.
func NewDebug() *Debug {
	return &Debug{conns: make(map[string]StreamLister)}
}

// Track registers c under name until the returned function is called.
func (d *Debug) Track(name string, c StreamLister) (untrack func()) {
	d.mu.Lock()
	d.conns[name] = c
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.conns, name)
		d.mu.Unlock()
	}
}

// StreamStatus is one stream in the /debug/streams output.
type StreamStatus struct {
	ID    uint64 `json:"id"`
	State string `json:"state"`
}

// Snapshot returns every tracked connection's streams sorted by id.
func (d *Debug) Snapshot() map[string][]StreamStatus {
	d.mu.Lock()
	conns := make(map[string]StreamLister, len(d.conns))
	for k, v := range d.conns {
		conns[k] = v
	}
	d.mu.Unlock()

	out := make(map[string][]StreamStatus, len(conns))
	for name, c := range conns {
		streams := c.Streams()
		list := make([]StreamStatus, 0, len(streams))
		for id, st := range streams {
			list = append(list, StreamStatus{ID: id, State: st.String()})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		out[name] = list
	}
	return out
}

// Handler serves /metrics from g, /healthz, and /debug/streams from d.
// A nil g uses prometheus.DefaultGatherer; a nil d serves an empty list.
func Handler(g prometheus.Gatherer, d *Debug) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	r.Get("/debug/streams", func(w http.ResponseWriter, r *http.Request) {
		snap := map[string][]StreamStatus{}
		if d != nil {
			snap = d.Snapshot()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	r.Get("/debug/streams/{conn}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "conn")
		var list []StreamStatus
		ok := false
		if d != nil {
			list, ok = d.Snapshot()[name]
		}
		if !ok {
			http.Error(w, "unknown connection "+strconv.Quote(name), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	})
	return r
}

// Serve runs h on addr until ctx ends, then shuts the server down.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("telemetry listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return err
	}
}
