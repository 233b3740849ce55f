package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lockbox"

// Label values
const (
	ResultAllowed    = "allowed"
	ResultDenied     = "denied"
	ResultRevoked    = "revoked"
	ResultClear      = "clear"
	ResultFailClosed = "fail_closed"
	ResultSuccess    = "success"
	ResultFailure    = "failure"
	ResultLocked     = "locked"

	StorePrimary = "primary"
	StoreDurable = "durable"
)

// Metrics holds every collector of the engine. It is registered against an
// injected registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	RateLimitChecks    *prometheus.CounterVec
	RateLimitFallbacks prometheus.Counter
	Revocations        *prometheus.CounterVec
	RevocationChecks   *prometheus.CounterVec
	ReadRepairs        *prometheus.CounterVec
	StoreFailures      *prometheus.CounterVec
	SweptEntries       prometheus.Counter
	Logins             *prometheus.CounterVec
	Lockouts           *prometheus.CounterVec
	SessionsCreated    prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		RateLimitChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_checks_total",
			Help:      "Rate limit decisions by endpoint and result",
		}, []string{"endpoint", "result"}),
		RateLimitFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_fallbacks_total",
			Help:      "Rate limit checks served by the in-process fallback",
		}),
		Revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Token revocations and user invalidations by reason",
		}, []string{"reason"}),
		RevocationChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_checks_total",
			Help:      "Revocation lookups by result",
		}, []string{"result"}),
		ReadRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_read_repairs_total",
			Help:      "Primary store entries restored from the durable store",
		}, []string{"kind"}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Failed store round trips by store and operation",
		}, []string{"store", "operation"}),
		SweptEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_swept_total",
			Help:      "Expired durable revocation rows removed by the sweeper",
		}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		Lockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Identifiers locked out by attempt kind",
		}, []string{"kind"}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status class",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route"}),
	}

	registry.MustRegister(
		m.RateLimitChecks,
		m.RateLimitFallbacks,
		m.Revocations,
		m.RevocationChecks,
		m.ReadRepairs,
		m.StoreFailures,
		m.SweptEntries,
		m.Logins,
		m.Lockouts,
		m.SessionsCreated,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// NewUnregistered is used where metrics are optional.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
