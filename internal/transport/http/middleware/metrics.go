package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postboard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served, by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "postboard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Request latency, by route and method.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

func init() { prometheus.MustRegister(reqTotal, reqDuration) }

// Metrics records request counts and latency per matched route. Requests
// that match no route are labelled with the raw path so 404 floods stay
// visible.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		reqTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		reqDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
