// Package telemetry exports registry activity as Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "units").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for load duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "units",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics records unit definitions, loads and cache hits. It implements
// units.Observer.
type Metrics struct {
	defined      prometheus.Counter
	loads        *prometheus.CounterVec
	cacheHits    *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	evaluations  *prometheus.CounterVec
}

// NewMetrics creates and registers the registry metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		defined: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "defined_total",
			Help:        "Total number of unit factories registered",
			ConstLabels: config.ConstLabels,
		}),

		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "loads_total",
			Help:        "Total number of unit factory invocations",
			ConstLabels: config.ConstLabels,
		}, []string{"unit", "result"}),

		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "cache_hits_total",
			Help:        "Total number of requires served from the instance cache",
			ConstLabels: config.ConstLabels,
		}, []string{"unit"}),

		loadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "load_duration_seconds",
			Help:        "Unit factory duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"unit"}),

		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "evaluations_total",
			Help:        "Total number of source evaluations served by hosts",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),
	}
}

func (m *Metrics) UnitDefined(string) {
	m.defined.Inc()
}

func (m *Metrics) UnitLoaded(name string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.loads.WithLabelValues(name, result).Inc()
	m.loadDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) CacheHit(name string) {
	m.cacheHits.WithLabelValues(name).Inc()
}

// Evaluated counts one host evaluation.
func (m *Metrics) Evaluated(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.evaluations.WithLabelValues(status).Inc()
}
