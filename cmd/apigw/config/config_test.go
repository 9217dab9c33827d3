package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/locator"
	"github.com/loykin/apigw/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	doc, err := Load(NewViper(), "")
	require.NoError(t, err)
	require.NoError(t, doc.Validate())

	assert.Equal(t, 5000, doc.Server.Port)
	assert.Equal(t, 5*time.Second, doc.Client.Timeout)
	assert.Equal(t, 2, doc.Client.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, doc.Client.RetryDelay)
	assert.Equal(t, 10*time.Second, doc.Aggregate.Deadline)
	assert.Len(t, doc.Services, 2)
	assert.Equal(t, locator.DefaultRoutes(), doc.Routes)

	u, ok := doc.ServiceURL(constants.ServiceUsers)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:5001", u)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
client:
  timeout: 2s
  retry_delay: 100ms
  max_attempts: 3
aggregate:
  deadline: 7s
services:
  - name: USER_SERVICE
    url: http://users:9001
    health_path: /users/health
  - name: TRANSACTION_SERVICE
    url: http://txs:9002
routes:
  - prefix: /api/users
    service: USER_SERVICE
  - prefix: /api/transactions
    service: TRANSACTION_SERVICE
cors:
  allow_origins: ["http://localhost:3000"]
`)
	t.Setenv("APIGW_AGGREGATE_DEADLINE", "9s")
	t.Setenv("TRANSACTION_SERVICE_URL", "http://override:7000")

	doc, err := Load(NewViper(), path)
	require.NoError(t, err)
	require.NoError(t, doc.Validate())

	assert.Equal(t, 8080, doc.Server.Port)
	assert.Equal(t, 2*time.Second, doc.Client.Timeout)
	assert.Equal(t, 3, doc.Client.MaxAttempts)
	assert.Equal(t, 9*time.Second, doc.Aggregate.Deadline)
	assert.Len(t, doc.Routes, 2)
	assert.Equal(t, []string{"http://localhost:3000"}, doc.CORS.AllowOrigins)

	u, _ := doc.ServiceURL(constants.ServiceTransactions)
	assert.Equal(t, "http://override:7000", u)

	targets := doc.HealthTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, "user_service", targets[0].Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = Load(NewViper(), t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Defaults()

	doc := base
	doc.Services = []ServiceConfig{{Name: "USER_SERVICE", URL: "not a url"}}
	assert.Error(t, doc.Validate())

	doc = base
	doc.Routes = []locator.Route{{Prefix: "/api/x", Service: "GHOST"}}
	assert.Error(t, doc.Validate())

	doc = base
	doc.Aggregate.Stats.Service = "GHOST"
	assert.Error(t, doc.Validate())

	doc = base
	doc.Client.MaxAttempts = 0
	assert.Error(t, doc.Validate())
}

func TestRuntimeConversions(t *testing.T) {
	doc := Defaults()

	p := doc.Policy()
	assert.Equal(t, 2, p.MaxAttempts)

	ag, err := doc.AggregateConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5001", ag.Primary.BaseURL)
	assert.Equal(t, "http://localhost:5002", ag.Stats.BaseURL)
	require.NoError(t, ag.Validate())

	tb, err := doc.RouteTable()
	require.NoError(t, err)
	svc, ok := tb.Resolve("/api/transactions/3")
	require.True(t, ok)
	assert.Equal(t, locator.Service(constants.ServiceTransactions), svc)

	gw := doc.ToGatewayConfig()
	assert.Equal(t, "0.0.0.0:5000", gw.Addr())

	sc := doc.ToStoreConfig()
	assert.Equal(t, store.DriverSqlite, sc.Driver)
	doc.Store.Driver = "postgres"
	doc.Store.Postgres.DSN = "postgres://u:p@h:5432/db"
	sc = doc.ToStoreConfig()
	assert.Equal(t, store.DriverPostgresql, sc.Driver)
	assert.Equal(t, "postgres://u:p@h:5432/db", sc.DriverConfig.ToMap()["dsn"])

	assert.Nil(t, doc.HTTPClient().TlsConfig)
	doc.Client.MinTLSVersion = "1.3"
	assert.NotNil(t, doc.HTTPClient().TlsConfig)
}

func TestYAMLMasksSecrets(t *testing.T) {
	doc := Defaults()
	doc.Store.Postgres.DSN = "postgres://user:hunter2@db:5432/apigw"
	doc.Cache.Redis.Password = "redispw"

	out, err := doc.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "redispw")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Contains(t, back, "server")
}

func TestSetupLogging(t *testing.T) {
	doc := Defaults()
	doc.Logging.Format = "json"
	assert.NoError(t, doc.SetupLogging())

	doc.Logging.Format = "xml"
	assert.Error(t, doc.SetupLogging())

	doc.Logging.Format = "text"
	doc.Logging.Level = "loud"
	assert.Error(t, doc.SetupLogging())
}
