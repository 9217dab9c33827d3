package apigw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeAggregateEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/entities/1":
			_, _ = w.Write([]byte(`{"id":1,"name":"A"}`))
		case "/records":
			_, _ = w.Write([]byte(`{"records":[{"id":10}],"summary":{"total":5}}`))
		case "/stats":
			_, _ = w.Write([]byte(`{"summary_general":{"avg":5}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := AggregateConfig{OwnerParam: "owner", Deadline: 2 * time.Second}
	cfg.Primary.BaseURL, cfg.Primary.Path = srv.URL, "/entities/{id}"
	cfg.Related.BaseURL, cfg.Related.Path = srv.URL, "/records"
	cfg.Stats.BaseURL, cfg.Stats.Path = srv.URL, "/stats"

	ag, err := NewAggregator(NewCaller(Policy{MaxAttempts: 1, Timeout: time.Second}), cfg)
	require.NoError(t, err)

	res, aggErr := ag.Aggregate(context.Background(), "1")
	resp := Assemble("1", res, aggErr, time.Now())
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Contains(t, string(resp.Body), `"related_count":1`)
}

func TestFacadeLogging(t *testing.T) {
	lvl, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	prev := GetLogger()
	defer SetDefaultLogger(prev)
	SetDefaultLogger(NewJSONLogger(LogLevelWarn))
	assert.Equal(t, LogLevelWarn, GetLogger().Level())

	EnableMasking(true)
	defer EnableMasking(true)
	assert.NotContains(t, MaskSensitiveData("Authorization: Bearer abc.def"), "abc.def")
	EnableMasking(false)
	assert.False(t, IsMaskingEnabled())
}

func TestFacadeRouteTable(t *testing.T) {
	tb, err := NewRouteTable([]Route{{Prefix: "/api/users", Service: "USERS"}}, nil)
	require.NoError(t, err)
	svc, ok := tb.Resolve("/api/users/5?x=1")
	assert.True(t, ok)
	assert.Equal(t, "USERS", string(svc))
	assert.Equal(t, 2, DefaultPolicy().MaxAttempts)
}
