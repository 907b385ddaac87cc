// Package metrics exports bar event accounting to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/bar"
)

// Recorder is a bar.Observer backed by Prometheus counters. It is safe for
// concurrent use by producers and the rendering goroutine.
type Recorder struct {
	enqueued  *prometheus.CounterVec
	applied   *prometheus.CounterVec
	rendered  prometheus.Counter
	discarded *prometheus.CounterVec
}

var _ bar.Observer = (*Recorder)(nil)

// NewRecorder registers the collectors against reg, or the default
// registerer when reg is nil.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patiencebar_events_enqueued_total",
			Help: "Events submitted by producers, by kind.",
		}, []string{"kind"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patiencebar_events_applied_total",
			Help: "Events applied by the rendering goroutine, by kind.",
		}, []string{"kind"}),
		rendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patiencebar_renders_total",
			Help: "Bar lines or text lines written to the terminal.",
		}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patiencebar_events_discarded_total",
			Help: "Events dropped without effect, by reason.",
		}, []string{"reason"}),
	}
	for _, collector := range []prometheus.Collector{
		r.enqueued,
		r.applied,
		r.rendered,
		r.discarded,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register bar collector: %w", err)
		}
	}
	return r, nil
}

// Enqueued counts an event handed to a serialized bar.
func (r *Recorder) Enqueued(kind bar.Kind) { r.enqueued.WithLabelValues(kind.String()).Inc() }

// Applied counts an event taken off the queue.
func (r *Recorder) Applied(kind bar.Kind) { r.applied.WithLabelValues(kind.String()).Inc() }

// Rendered counts a terminal write.
func (r *Recorder) Rendered() { r.rendered.Inc() }

// Discarded counts n dropped events.
func (r *Recorder) Discarded(reason string, n int) {
	r.discarded.WithLabelValues(reason).Add(float64(n))
}

// Server serves /metrics and /healthz.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds a metrics server for addr exposing g.
func NewServer(addr string, g prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Handler(g),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the router used by Server.
func Handler(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}

// Start listens on the configured address and serves in the background.
// The listener is bound before Start returns, so address errors surface here.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.srv.Addr = ln.Addr().String()

	go func() {
		s.logger.Info("metrics server started", zap.String("addr", s.srv.Addr))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the address the server listens on, resolved after Start.
func (s *Server) Addr() string { return s.srv.Addr }

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
