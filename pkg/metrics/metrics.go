// Package metrics exposes Prometheus counters for an indexing run.
//
// Metrics:
//   - archdex_packages_processed_total{repo} - packages fully indexed (metadata and units)
//   - archdex_packages_failed_total{repo} - packages that failed processing
//   - archdex_units_indexed_total{repo,index} - unit documents submitted
//   - archdex_package_duration_seconds{repo} - time spent per package
//   - archdex_workers_active - packages currently in flight
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cperrin88/archdex/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one run.
type Metrics struct {
	registry *prometheus.Registry

	PackagesProcessed *prometheus.CounterVec
	PackagesFailed    *prometheus.CounterVec
	UnitsIndexed      *prometheus.CounterVec
	PackageDuration   *prometheus.HistogramVec
	WorkersActive     prometheus.Gauge
}

// New creates the collectors on a private registry, together with the
// standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PackagesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archdex_packages_processed_total",
				Help: "Total number of packages fully indexed (metadata and units)",
			},
			[]string{"repo"},
		),
		PackagesFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archdex_packages_failed_total",
				Help: "Total number of packages that failed processing",
			},
			[]string{"repo"},
		),
		UnitsIndexed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archdex_units_indexed_total",
				Help: "Total number of systemd unit documents submitted",
			},
			[]string{"repo", "index"},
		),
		PackageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archdex_package_duration_seconds",
				Help:    "Time spent processing one package",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"repo"},
		),
		WorkersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "archdex_workers_active",
				Help: "Number of packages currently being processed",
			},
		),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// PackageDone records a successfully processed package.
func (m *Metrics) PackageDone(repo string, took time.Duration) {
	if m == nil {
		return
	}
	m.PackagesProcessed.WithLabelValues(repo).Inc()
	m.PackageDuration.WithLabelValues(repo).Observe(took.Seconds())
}

// PackageFailed records a package whose processing returned an error.
func (m *Metrics) PackageFailed(repo string, took time.Duration) {
	if m == nil {
		return
	}
	m.PackagesFailed.WithLabelValues(repo).Inc()
	m.PackageDuration.WithLabelValues(repo).Observe(took.Seconds())
}

// UnitsSubmitted adds n documents submitted to index.
func (m *Metrics) UnitsSubmitted(repo, index string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.UnitsIndexed.WithLabelValues(repo, index).Add(float64(n))
}

// WorkerStarted and WorkerFinished track in-flight packages.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.WorkersActive.Inc()
}

func (m *Metrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.WorkersActive.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done and returns the bound
// address. The listener is bound before Serve returns, so a bad address
// fails immediately.
func (m *Metrics) Serve(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("serving metrics", logger.Fields{"addr": ln.Addr().String()})
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", logger.Fields{"error": err.Error()})
		}
	}()
	return ln.Addr().String(), nil
}
