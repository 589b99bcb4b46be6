// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Because
// every battle action shares the single /rpc route, the route-level series
// are complemented by per-command series:
//
//   - http_requests_total(method, path, status)
//   - http_request_duration_seconds(method, path)
//   - http_requests_inflight
//   - rpc_commands_total(type, result), where result is "ok" or the failure
//     code recorded by the handler
//   - rpc_command_duration_seconds(type)
//
// Unmatched routes are labelled "unmatched" so scanners cannot inflate
// cardinality.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	rpcTypeKey   = "rpc.type"
	rpcResultKey = "rpc.result"

	unmatchedPath = "unmatched"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	rpcCmds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_commands_total",
			Help: "Battle commands by type and result code.",
		},
		[]string{"type", "result"},
	)

	// Analysis and bot replies wait on the LLM, so the buckets reach further
	// than the HTTP defaults.
	rpcLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpc_command_duration_seconds",
			Help:    "Duration of battle commands in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, rpcCmds, rpcLat)
}

// TagRPC records the command type handled by this request.
func TagRPC(c *gin.Context, typ string) { c.Set(rpcTypeKey, typ) }

// MarkRPCFailure records the failure code of a command answered with
// success=false.
func MarkRPCFailure(c *gin.Context, code string) { c.Set(rpcResultKey, code) }

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method
		status := c.Writer.Status()

		httpReqs.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpLat.WithLabelValues(method, path).Observe(dur)

		typ := c.GetString(rpcTypeKey)
		if typ == "" {
			return
		}
		result := c.GetString(rpcResultKey)
		switch {
		case result != "":
		case status >= http.StatusBadRequest:
			result = "http_" + strconv.Itoa(status)
		default:
			result = "ok"
		}
		rpcCmds.WithLabelValues(typ, result).Inc()
		rpcLat.WithLabelValues(typ).Observe(dur)
	}
}
