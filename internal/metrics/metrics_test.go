package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docgate/internal/scheduler"
)

func TestObserverCounters(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.TokenServed("user", "cache")
	m.TokenServed("user", "cache")
	m.RefreshCompleted("refreshed")
	m.TenantFetched(nil)
	m.TenantFetched(errors.New("boom"))
	m.AuthRequired("user")
	m.GrantIssued("authorization_code", nil)
	m.SetSessions(3)
	m.SweepCompleted(scheduler.SweepReport{Swept: 2, Evicted: 1, Duration: time.Millisecond})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokensServed.WithLabelValues("user", "cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("refreshed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tenantFetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tenantFetches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authRequired.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grants.WithLabelValues("authorization_code", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepEvictions))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/things/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/things/{id}", "418")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "docgate_http_requests_total"))
}
