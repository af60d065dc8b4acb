package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth-core collectors. Defined in a leaf package so keys, auth, session and
// refresh can record without importing each other.
var (
	TokenVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_verifications_total",
		Help: "Access token verifications by result (ok, retired_key, expired, signature, malformed, cached).",
	}, []string{"result"})

	GateRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_gate_rejections_total",
		Help: "Requests rejected by the authentication gate, by reason.",
	}, []string{"reason"})

	KeyRotations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_key_rotations_total",
		Help: "Signing key rotations by result.",
	}, []string{"result"})

	RetiredKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_retired_keys",
		Help: "Retired signing keys still accepted for verification.",
	})

	Refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_total",
		Help: "Refresh token exchanges by result.",
	}, []string{"result"})

	SessionBackend = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "auth_session_backend_active",
		Help: "1 for the session backend currently serving requests.",
	}, []string{"backend"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		TokenVerifications,
		GateRejections,
		KeyRotations,
		RetiredKeys,
		Refreshes,
		SessionBackend,
		HTTPRequestDuration,
	}
}

// Register registers all collectors on reg (or the default registerer if nil).
// Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// SetSessionBackend marks name as the only active backend.
func SetSessionBackend(name string, all ...string) {
	for _, b := range all {
		SessionBackend.WithLabelValues(b).Set(0)
	}
	SessionBackend.WithLabelValues(name).Set(1)
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records request latency by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
