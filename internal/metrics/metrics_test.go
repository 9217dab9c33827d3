package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/apigw/internal/retry"
)

func TestObserveHTTP(t *testing.T) {
	m := New()
	m.ObserveHTTP("GET", "/aggregate/:id", 200, 10*time.Millisecond)
	m.ObserveHTTP("GET", "/aggregate/:id", 200, 20*time.Millisecond)
	m.ObserveHTTP("GET", "", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/aggregate/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestObserveAggregationAndAttempts(t *testing.T) {
	m := New()
	m.ObserveAggregation("succeeded", 30*time.Millisecond, []string{"related"})
	m.ObserveAggregation("timed_out", time.Second, nil)
	m.ObserveAttempt("USER_SERVICE", retry.Success(200, nil, nil))
	m.ObserveAttempt("USER_SERVICE", retry.Transient(retry.CauseTimeout, "t"))
	m.ObserveAttempt("", retry.Fatal("x"))
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)
	m.IncRateLimited()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.aggregations.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degraded.WithLabelValues("related")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboundAttempts.WithLabelValues("USER_SERVICE", "transient/timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboundAttempts.WithLabelValues("unknown", "fatal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
}

func TestInFlight(t *testing.T) {
	m := New()
	m.IncInFlight()
	m.IncInFlight()
	m.DecInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpInFlight))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveAggregation("not_found", time.Millisecond, nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `apigw_aggregate_requests_total{state="not_found"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncRateLimited()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.rateLimited))
}
