package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "keyvalue_service"

// Collectors are nil until InitMetrics runs; the Record* and Observe*
// helpers are no-ops before that.
var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	StoreLatency     *prometheus.HistogramVec
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	DBPoolOpenConnections prometheus.Gauge
	DBPoolMaxConnections  prometheus.Gauge

	CompletionLatency       *prometheus.HistogramVec
	CompletionFailuresTotal *prometheus.CounterVec
)

var labelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses "k1=v1,k2=v2" into constant labels. ${VAR}
// references are expanded from the environment first. Values cannot hold
// commas. An empty string yields nil labels.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = strings.TrimSpace(os.Expand(s, os.Getenv))
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		if !labelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match %s", k, labelKey)
		}
		labels[k] = v
	}
	return labels, nil
}

var metricsOnce sync.Once

// InitMetrics registers the service collectors on the default registry,
// each carrying constLabels. Only the first call has any effect.
func InitMetrics(constLabels prometheus.Labels) {
	metricsOnce.Do(func() {
		f := promauto.With(prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer))
		counter := func(name, help string, labels ...string) *prometheus.CounterVec {
			return f.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
		}
		histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
			return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: metricsNamespace, Name: name, Help: help, Buckets: buckets}, labels)
		}
		gauge := func(name, help string) prometheus.Gauge {
			return f.NewGauge(prometheus.GaugeOpts{Namespace: metricsNamespace, Name: name, Help: help})
		}

		httpRequestsTotal = counter("requests_total", "HTTP requests by method, route and status.", "method", "route", "status")
		httpRequestDuration = histogram("request_duration_seconds", "HTTP request duration.", prometheus.DefBuckets, "method", "route")

		StoreLatency = histogram("store_latency_seconds", "Datastore operation latency.", prometheus.DefBuckets, "operation")
		CacheHitsTotal = counter("cache_hits_total", "Thread cache hits.").WithLabelValues()
		CacheMissesTotal = counter("cache_misses_total", "Thread cache misses.").WithLabelValues()

		DBPoolOpenConnections = gauge("db_pool_open_connections", "Open SQL connections.")
		DBPoolMaxConnections = gauge("db_pool_max_connections", "Configured SQL connection limit.")

		CompletionLatency = histogram("completion_latency_seconds", "Completion provider latency by model and outcome.",
			[]float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}, "model", "outcome")
		CompletionFailuresTotal = counter("completion_failures_total", "Failed completion provider calls.", "model")
	})
}

// RecordCacheLookup counts a thread cache hit or miss.
func RecordCacheLookup(hit bool) {
	switch {
	case hit && CacheHitsTotal != nil:
		CacheHitsTotal.Inc()
	case !hit && CacheMissesTotal != nil:
		CacheMissesTotal.Inc()
	}
}

// ObserveStore records the latency of a datastore operation begun at start.
func ObserveStore(op string, start time.Time) {
	if StoreLatency != nil {
		StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// ObserveCompletion records a provider call begun at start.
func ObserveCompletion(model string, start time.Time, err error) {
	if CompletionLatency == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		CompletionFailuresTotal.WithLabelValues(model).Inc()
	}
	CompletionLatency.WithLabelValues(model, outcome).Observe(time.Since(start).Seconds())
}

// SetDBPool publishes SQL pool sizes. A negative value leaves a gauge as is.
func SetDBPool(open, limit int) {
	if open >= 0 && DBPoolOpenConnections != nil {
		DBPoolOpenConnections.Set(float64(open))
	}
	if limit >= 0 && DBPoolMaxConnections != nil {
		DBPoolMaxConnections.Set(float64(limit))
	}
}

// MetricsMiddleware counts and times requests per matched route. Requests
// that match no route share the "unmatched" label.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
