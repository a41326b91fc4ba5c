package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics carries the pipeline counters on a run-local registry, mirroring
// the counters the run summary reports. Optionally served over HTTP for
// long runs.
type Metrics struct {
	registry *prometheus.Registry

	Generated      prometheus.Counter
	Skipped        *prometheus.CounterVec
	Partial        prometheus.Counter
	Dropped        prometheus.Counter
	LabelingImages prometheus.Counter
	ExtractSeconds prometheus.Histogram
}

// NewMetrics builds and registers the pipeline metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Generated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skai", Name: "generated_examples_total",
			Help: "Examples serialized into the corpus.",
		}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skai", Name: "skipped_buildings_total",
			Help: "Buildings excluded from output, by reason.",
		}, []string{"reason"}),
		Partial: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skai", Name: "partial_examples_total",
			Help: "Examples flagged for partial nodata coverage.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skai", Name: "dropped_partial_total",
			Help: "Partial examples dropped by policy.",
		}),
		LabelingImages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skai", Name: "labeling_images_total",
			Help: "Labeling composites exported.",
		}),
		ExtractSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "skai", Name: "extract_duration_seconds",
			Help:    "Per-building patch extraction time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	reg.MustRegister(m.Generated, m.Skipped, m.Partial, m.Dropped, m.LabelingImages, m.ExtractSeconds)
	return m
}

// Serve exposes /metrics on addr until ctx is cancelled. Returns once the
// server is shut down.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("metrics listener started", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
