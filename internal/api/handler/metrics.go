package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ledgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ledgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinledger_appends_total",
		Help: "Total ledger append attempts by namespace and outcome code.",
	}, []string{"namespace", "code"})

	ledgerAppendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinledger_append_duration_seconds",
		Help:    "Append latency in seconds, including the per-namespace critical section.",
		Buckets: prometheus.DefBuckets,
	}, []string{"namespace"})

	ledgerVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinledger_verifications_total",
		Help: "Total entry and chain verifications by namespace, scope, and outcome code.",
	}, []string{"namespace", "scope", "code"})

	ledgerInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinledger_invalidations_total",
		Help: "Total invalidation requests by namespace and outcome code.",
	}, []string{"namespace", "code"})

	ledgerChainIntact = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clinledger_chain_intact",
		Help: "1 if the last audit found the namespace chain intact, 0 otherwise.",
	}, []string{"namespace"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		ledgerRequestsTotal.WithLabelValues(method, path, status).Inc()
		ledgerRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Metrics implements ledger.MetricsRecorder on the package collectors.
type Metrics struct{}

func codeLabel(code ledger.Code) string {
	if code == ledger.CodeOK {
		return "OK"
	}
	return string(code)
}

// RecordAppend records an append outcome.
func (Metrics) RecordAppend(ns ledger.Namespace, code ledger.Code, d time.Duration) {
	ledgerAppendsTotal.WithLabelValues(ns.String(), codeLabel(code)).Inc()
	ledgerAppendDuration.WithLabelValues(ns.String()).Observe(d.Seconds())
}

// RecordVerification records an entry or chain verification outcome.
func (Metrics) RecordVerification(ns ledger.Namespace, scope string, code ledger.Code) {
	ledgerVerificationsTotal.WithLabelValues(ns.String(), scope, codeLabel(code)).Inc()
}

// RecordInvalidation records an invalidation outcome.
func (Metrics) RecordInvalidation(ns ledger.Namespace, code ledger.Code) {
	ledgerInvalidationsTotal.WithLabelValues(ns.String(), codeLabel(code)).Inc()
}

// RecordChainAudit sets the chain-intact gauge for ns. It matches
// integrity.MetricsRecordFunc.
func RecordChainAudit(ns ledger.Namespace, intact bool) {
	v := 0.0
	if intact {
		v = 1
	}
	ledgerChainIntact.WithLabelValues(ns.String()).Set(v)
}
