package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/apigw/internal/store"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// backend answers for both services; healthy toggles the transactions health check.
func backend(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users/health":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/transactions/health":
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/entities/1":
			_, _ = w.Write([]byte(`{"id":1,"name":"alice"}`))
		case "/records":
			_, _ = w.Write([]byte(`[{"id":10,"amount":5}]`))
		case "/stats":
			_, _ = w.Write([]byte(`{"count":1}`))
		case "/users/1":
			_, _ = w.Write([]byte(`{"id":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, url string, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`---
logging:
  level: error
services:
  - name: USER_SERVICE
    url: %[1]s
    health_path: /users/health
  - name: TRANSACTION_SERVICE
    url: %[1]s
    health_path: /transactions/health
client:
  max_attempts: 1
  retry_delay: 10ms
  timeout: 1s
health:
  timeout: 1s
store:
  enabled: true
  sqlite:
    path: %[2]s
%[3]s`, url, filepath.Join(dir, "runs.db"), extra)
	return writeFile(t, dir, "config.yaml", cfg)
}

// run executes cmd with the given config and captures its output.
func run(t *testing.T, cmd *cobra.Command, cfgPath string, args ...string) (string, error) {
	t.Helper()
	v.Set("config", cfgPath)
	v.Set("env_file", "")
	t.Cleanup(func() { v.Set("config", "") })
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	t.Cleanup(func() { cmd.SetOut(nil) })
	err := cmd.RunE(cmd, args)
	return buf.String(), err
}

func TestResolveCmd(t *testing.T) {
	srv := backend(t, true)
	cfgPath := writeConfig(t, srv.URL, "")

	out, err := run(t, resolveCmd, cfgPath, "/api/users/1")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("/api/users/1 -> USER_SERVICE %s/users/1\n", srv.URL), out)

	out, err = run(t, resolveCmd, cfgPath, "/api/reports/user/1")
	require.NoError(t, err)
	assert.Contains(t, out, "served by the gateway")

	_, err = run(t, resolveCmd, cfgPath, "/api/unknown")
	assert.Error(t, err)
}

func TestConfigCmd_PrintsEffectiveYAML(t *testing.T) {
	srv := backend(t, true)
	cfgPath := writeConfig(t, srv.URL, "")

	out, err := run(t, configCmd, cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "services:")
	assert.Contains(t, out, srv.URL)
	assert.Contains(t, out, "max_attempts: 1")
}

func TestHealthCmd(t *testing.T) {
	srv := backend(t, true)
	out, err := run(t, healthCmd, writeConfig(t, srv.URL, ""))
	require.NoError(t, err)
	assert.Contains(t, out, `"overall_status": "ok"`)

	bad := backend(t, false)
	out, err = run(t, healthCmd, writeConfig(t, bad.URL, ""))
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 1, ee.code)
	assert.Contains(t, out, `"overall_status": "degraded"`)
}

func TestWaitCmd_Service(t *testing.T) {
	srv := backend(t, true)
	cfgPath := writeConfig(t, srv.URL, "")

	waitService = "user_service"
	t.Cleanup(func() { waitService = "" })
	out, err := run(t, waitCmd, cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, srv.URL+"/users/health is ready")

	waitService = "billing"
	_, err = run(t, waitCmd, cfgPath)
	assert.Error(t, err)
}

func TestHistoryCmd(t *testing.T) {
	srv := backend(t, true)
	cfgPath := writeConfig(t, srv.URL, "")

	out, err := run(t, historyCmd, cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "(no runs)")

	doc, err := loadConfig(historyCmd)
	require.NoError(t, err)
	st, err := store.Open(context.Background(), doc.ToStoreConfig())
	require.NoError(t, err)
	require.NoError(t, st.Record(context.Background(), store.Run{
		EntityID: "42", State: "succeeded", StatusCode: 200,
		Primary: "success", Related: "success", Stats: "success",
	}))
	require.NoError(t, st.Close())

	out, err = run(t, historyCmd, cfgPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ENTITY")
	assert.Contains(t, lines[1], "42")
	assert.Contains(t, lines[1], "succeeded")
}

func TestHistoryCmd_StoreDisabled(t *testing.T) {
	srv := backend(t, true)
	cfgPath := writeConfig(t, srv.URL, "")
	v.Set("store.enabled", false)
	t.Cleanup(func() { v.Set("store.enabled", nil) })

	out, err := run(t, historyCmd, cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Store is disabled")
}

func TestApp_AggregatesEndToEnd(t *testing.T) {
	srv := backend(t, true)
	cfgPath := writeConfig(t, srv.URL, `cache:
  enabled: true
`)
	v.Set("config", cfgPath)
	v.Set("env_file", "")
	t.Cleanup(func() { v.Set("config", "") })

	doc, err := loadConfig(nil)
	require.NoError(t, err)
	a, err := newApp(context.Background(), doc)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	s, err := a.server()
	require.NoError(t, err)
	h := s.Handler()

	for _, want := range []string{"MISS", "HIT"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/user/1", nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, want, rec.Header().Get("X-Cache"))
		assert.Contains(t, rec.Body.String(), `"name":"alice"`)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "apigw_outbound_attempts_total")

	n, err := a.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, loadEnvFile(""))
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	p := writeFile(t, t.TempDir(), ".env", "APIGW_TEST_ENV_FILE=loaded\n")
	t.Cleanup(func() { _ = os.Unsetenv("APIGW_TEST_ENV_FILE") })
	require.NoError(t, loadEnvFile(p))
	assert.Equal(t, "loaded", os.Getenv("APIGW_TEST_ENV_FILE"))
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	srv := backend(t, true)
	v.Set("config", writeConfig(t, srv.URL, ""))
	v.Set("env_file", "")
	t.Cleanup(func() { v.Set("config", "") })

	require.NoError(t, serveCmd.Flags().Set("port", "9191"))
	t.Cleanup(func() {
		_ = serveCmd.Flags().Set("port", "0")
		serveCmd.Flags().Lookup("port").Changed = false
	})
	doc, err := loadConfig(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, 9191, doc.Server.Port)
}
