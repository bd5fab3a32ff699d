// Package metrics provides Prometheus metrics for remote connections.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruffel/remotefs/cache"
	"github.com/ruffel/remotefs/pool"
	"github.com/ruffel/remotefs/worker"
)

const namespace = "remotefs"

// Collector records connection telemetry into a registry. It satisfies
// remotefs.Metrics.
type Collector struct {
	registry *prometheus.Registry

	workers      *prometheus.GaugeVec
	waiting      *prometheus.GaugeVec
	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		workers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_workers",
				Help:      "Workers in the pool by state",
			},
			[]string{"host", "state"},
		),
		waiting: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_waiting_operations",
				Help:      "Operations queued for a worker",
			},
			[]string{"host"},
		),
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total worker operations",
			},
			[]string{"host", "op", "status"},
		),
		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Worker operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"host", "op"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Directory cache lookups",
			},
			[]string{"host", "kind", "result"},
		),
	}
}

// Registry returns the registry the collectors live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the Prometheus metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObservePool records a pool snapshot.
func (c *Collector) ObservePool(host string, s pool.Stats) {
	c.workers.WithLabelValues(host, "idle").Set(float64(s.Idle))
	c.workers.WithLabelValues(host, "busy").Set(float64(s.Busy()))
	c.waiting.WithLabelValues(host).Set(float64(s.Waiting))
}

// ObserveOperation records one worker operation.
func (c *Collector) ObserveOperation(host, op string, d time.Duration, err error) {
	c.operations.WithLabelValues(host, op, status(err)).Inc()
	c.opDuration.WithLabelValues(host, op).Observe(d.Seconds())
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case worker.IsRemote(err):
		return "remote_error"
	default:
		return "error"
	}
}

// CacheRecorder returns a cache.Recorder labelled with host.
func (c *Collector) CacheRecorder(host string) cache.Recorder {
	return &recorder{host: host, lookups: c.cacheLookups}
}

type recorder struct {
	host    string
	lookups *prometheus.CounterVec
}

func (r *recorder) CacheLookup(kind string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}

	r.lookups.WithLabelValues(r.host, kind, result).Inc()
}
