// Package metrics exposes pipeline counters and a health endpoint over HTTP.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the pipeline's instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed  prometheus.Counter
	FramesDropped    prometheus.Counter
	ScoreErrors      prometheus.Counter
	AlertsConfirmed  prometheus.Counter
	AlertsSuppressed prometheus.Counter
	DispatchFailures prometheus.Counter
	ClipsRecorded    prometheus.Counter
	EncodeFailures   prometheus.Counter
	MotionLevel      prometheus.Gauge
}

// New creates a metrics set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_frames_processed_total",
			Help: "Frames pulled from the camera and scored.",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_frames_dropped_total",
			Help: "Frames dropped because the capture buffer was full.",
		}),
		ScoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_score_errors_total",
			Help: "Frames that failed to decode or score.",
		}),
		AlertsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_alerts_confirmed_total",
			Help: "Movement runs that reached the confirmation threshold.",
		}),
		AlertsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_alerts_suppressed_total",
			Help: "Confirmed alerts suppressed by the cooldown window.",
		}),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_dispatch_failures_total",
			Help: "Notification deliveries that failed.",
		}),
		ClipsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_clips_recorded_total",
			Help: "Clips encoded successfully.",
		}),
		EncodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_encode_failures_total",
			Help: "Clip encodes that failed.",
		}),
		MotionLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_motion_level",
			Help: "Most recent movement level.",
		}),
	}
}

// Handler returns the prometheus scrape handler for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics, /healthz and the live stream endpoint.
type Server struct {
	srv *http.Server
	log *zap.SugaredLogger
}

// NewServer builds the HTTP server. The stream handler may be nil when no
// live viewing is configured.
func NewServer(addr string, m *Metrics, stream http.Handler, log *zap.SugaredLogger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	if stream != nil {
		mux.Handle("/live", stream)
	}

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("http server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
