// Package metrics exposes Prometheus collectors for the token lifecycle and the
// HTTP surface.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docgate/internal/scheduler"
)

const namespace = "docgate"

// Metrics holds every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	tokensServed   *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	tenantFetches  *prometheus.CounterVec
	authRequired   *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	sweepEvictions prometheus.Counter
	sessions       prometheus.Gauge
	grants         *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers the collectors on a fresh registry, which also carries
// the Go runtime and process collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		tokensServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_served_total",
			Help:      "Access tokens handed out, by kind and source.",
		}, []string{"kind", "source"}),

		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "User token refresh attempts by outcome.",
		}, []string{"outcome"}),

		tenantFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_token_fetches_total",
			Help:      "Tenant token fetches by result.",
		}, []string{"result"}),

		authRequired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_required_total",
			Help:      "Lookups that ended in a re-authorization requirement.",
		}, []string{"kind"}),

		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_sweep_duration_seconds",
			Help:      "Duration of background refresh sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),

		sweepEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_evictions_total",
			Help:      "Entries removed by expiry sweeps.",
		}),

		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bound_sessions",
			Help:      "Transport sessions currently bound to a user.",
		}),

		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_grants_total",
			Help:      "Gateway token endpoint calls by grant type and result.",
		}, []string{"grant_type", "result"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	all := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tokensServed, m.refreshes, m.tenantFetches, m.authRequired,
		m.sweepDuration, m.sweepEvictions, m.sessions, m.grants,
		m.httpRequests, m.httpDuration,
	}
	for _, c := range all {
		if err := m.registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TokenServed counts a token handed to a caller.
func (m *Metrics) TokenServed(kind, source string) {
	m.tokensServed.WithLabelValues(kind, source).Inc()
}

// RefreshCompleted counts a refresh flight by outcome.
func (m *Metrics) RefreshCompleted(outcome string) {
	m.refreshes.WithLabelValues(outcome).Inc()
}

// TenantFetched counts a tenant token fetch.
func (m *Metrics) TenantFetched(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tenantFetches.WithLabelValues(result).Inc()
}

// AuthRequired counts a lookup that needs the user to re-authorize.
func (m *Metrics) AuthRequired(kind string) {
	m.authRequired.WithLabelValues(kind).Inc()
}

// SweepCompleted records a scheduler report.
func (m *Metrics) SweepCompleted(r scheduler.SweepReport) {
	m.sweepDuration.Observe(r.Duration.Seconds())
	m.sweepEvictions.Add(float64(r.Swept + r.Evicted))
}

// SetSessions sets the bound session gauge.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

// GrantIssued counts a token endpoint call.
func (m *Metrics) GrantIssued(grantType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.grants.WithLabelValues(grantType, result).Inc()
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
