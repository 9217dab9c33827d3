package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/loykin/apigw"
	"github.com/loykin/apigw/internal/cache"
	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/gateway"
	"github.com/loykin/apigw/internal/locator"
	"github.com/loykin/apigw/internal/store/postgresql"
	"github.com/loykin/apigw/internal/tracing"
	"github.com/loykin/apigw/internal/util"
)

// EnvPrefix is the prefix of environment overrides, e.g. APIGW_SERVER_PORT.
const EnvPrefix = "APIGW"

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Mode            string        `mapstructure:"mode" yaml:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ServiceConfig declares one backend. Its URL can also be set through the
// <NAME>_URL environment variable, e.g. USER_SERVICE_URL.
type ServiceConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	URL        string `mapstructure:"url" yaml:"url"`
	HealthPath string `mapstructure:"health_path" yaml:"health_path"`
}

type ClientConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	UserAgent     string        `mapstructure:"user_agent" yaml:"user_agent"`
	Insecure      bool          `mapstructure:"insecure" yaml:"insecure"`
	MinTLSVersion string        `mapstructure:"min_tls_version" yaml:"min_tls_version"`
	MaxTLSVersion string        `mapstructure:"max_tls_version" yaml:"max_tls_version"`
}

// EndpointConfig names the service and path of one aggregation task.
type EndpointConfig struct {
	Service string `mapstructure:"service" yaml:"service"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type AggregateConfig struct {
	Deadline   time.Duration  `mapstructure:"deadline" yaml:"deadline"`
	OwnerParam string         `mapstructure:"owner_param" yaml:"owner_param"`
	Primary    EndpointConfig `mapstructure:"primary" yaml:"primary"`
	Related    EndpointConfig `mapstructure:"related" yaml:"related"`
	Stats      EndpointConfig `mapstructure:"stats" yaml:"stats"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
	Color         *bool  `mapstructure:"color" yaml:"color"`                   // enable/disable colorized output
}

type SQLiteStoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type StoreConfig struct {
	Enabled   bool              `mapstructure:"enabled" yaml:"enabled"`
	Driver    string            `mapstructure:"driver" yaml:"driver"`
	Retention int               `mapstructure:"retention" yaml:"retention"`
	TableRuns string            `mapstructure:"table_runs" yaml:"table_runs"`
	SQLite    SQLiteStoreConfig `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres  postgresql.Config `mapstructure:"postgres" yaml:"postgres"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type HealthConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ConfigDoc struct {
	Server    ServerConfig            `mapstructure:"server" yaml:"server"`
	Services  []ServiceConfig         `mapstructure:"services" yaml:"services"`
	Routes    []locator.Route         `mapstructure:"routes" yaml:"routes"`
	Client    ClientConfig            `mapstructure:"client" yaml:"client"`
	Aggregate AggregateConfig         `mapstructure:"aggregate" yaml:"aggregate"`
	Health    HealthConfig            `mapstructure:"health" yaml:"health"`
	Logging   LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Store     StoreConfig             `mapstructure:"store" yaml:"store"`
	Cache     cache.Config            `mapstructure:"cache" yaml:"cache"`
	Metrics   MetricsConfig           `mapstructure:"metrics" yaml:"metrics"`
	Tracing   tracing.Config          `mapstructure:"tracing" yaml:"tracing"`
	RateLimit gateway.RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	CORS      gateway.CORSConfig      `mapstructure:"cors" yaml:"cors"`
}

// Defaults returns the document used when no file is given.
func Defaults() ConfigDoc {
	srv := gateway.DefaultConfig()
	return ConfigDoc{
		Server: ServerConfig{
			Host:            srv.Host,
			Port:            srv.Port,
			Mode:            srv.Mode,
			ReadTimeout:     srv.ReadTimeout,
			WriteTimeout:    srv.WriteTimeout,
			ShutdownTimeout: srv.ShutdownTimeout,
		},
		Services: []ServiceConfig{
			{Name: constants.ServiceUsers, URL: constants.DefaultUserServiceURL, HealthPath: constants.DefaultUserHealthPath},
			{Name: constants.ServiceTransactions, URL: constants.DefaultTransactionServiceURL, HealthPath: constants.DefaultTransactionHealthPath},
		},
		Routes: locator.DefaultRoutes(),
		Client: ClientConfig{
			Timeout:     constants.DefaultCallTimeout,
			MaxAttempts: constants.DefaultMaxAttempts,
			RetryDelay:  constants.DefaultRetryDelay,
			UserAgent:   "apigw/" + constants.GatewayVersion,
		},
		Aggregate: AggregateConfig{
			Deadline:   constants.DefaultAggregateDeadline,
			OwnerParam: constants.DefaultOwnerParam,
			Primary:    EndpointConfig{Service: constants.ServiceUsers, Path: constants.DefaultPrimaryPath},
			Related:    EndpointConfig{Service: constants.ServiceTransactions, Path: constants.DefaultRelatedPath},
			Stats:      EndpointConfig{Service: constants.ServiceTransactions, Path: constants.DefaultStatsPath},
		},
		Health:  HealthConfig{Timeout: constants.DefaultHealthTimeout},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Driver:    "sqlite",
			TableRuns: constants.DefaultRunsTable,
			SQLite:    SQLiteStoreConfig{Path: "./apigw.db"},
		},
		Cache: cache.Config{
			Backend: cache.BackendMemory,
			TTL:     constants.DefaultCacheTTL,
			Prefix:  constants.DefaultCachePrefix,
			Redis:   cache.RedisConfig{Addr: "localhost:6379", Timeout: 2 * time.Second},
		},
		Metrics:   MetricsConfig{Enabled: true},
		Tracing:   tracing.Config{Exporter: tracing.ExporterStdout, SampleRatio: 1, ServiceName: "apigw"},
		RateLimit: srv.RateLimit,
		CORS:      srv.CORS,
	}
}

// SetDefaults registers every scalar default on v so environment variables
// such as APIGW_CLIENT_TIMEOUT can override them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("client.timeout", d.Client.Timeout)
	v.SetDefault("client.max_attempts", d.Client.MaxAttempts)
	v.SetDefault("client.retry_delay", d.Client.RetryDelay)
	v.SetDefault("client.user_agent", d.Client.UserAgent)
	v.SetDefault("client.insecure", false)
	v.SetDefault("client.min_tls_version", "")
	v.SetDefault("client.max_tls_version", "")
	v.SetDefault("aggregate.deadline", d.Aggregate.Deadline)
	v.SetDefault("aggregate.owner_param", d.Aggregate.OwnerParam)
	v.SetDefault("aggregate.primary.service", d.Aggregate.Primary.Service)
	v.SetDefault("aggregate.primary.path", d.Aggregate.Primary.Path)
	v.SetDefault("aggregate.related.service", d.Aggregate.Related.Service)
	v.SetDefault("aggregate.related.path", d.Aggregate.Related.Path)
	v.SetDefault("aggregate.stats.service", d.Aggregate.Stats.Service)
	v.SetDefault("aggregate.stats.path", d.Aggregate.Stats.Path)
	v.SetDefault("health.timeout", d.Health.Timeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.retention", 0)
	v.SetDefault("store.table_runs", d.Store.TableRuns)
	v.SetDefault("store.sqlite.path", d.Store.SQLite.Path)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.prefix", d.Cache.Prefix)
	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.timeout", d.Cache.Redis.Timeout)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.environment", "")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", d.RateLimit.RPS)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("cors.enabled", d.CORS.Enabled)
	v.SetDefault("cors.allow_origins", []string{})
	v.SetDefault("cors.allow_methods", d.CORS.AllowMethods)
	v.SetDefault("cors.allow_headers", d.CORS.AllowHeaders)
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", time.Duration(0))
}

// NewViper returns a viper instance with defaults and APIGW_ env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DecodeHook converts duration strings and comma separated lists.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Load reads path (optional) into v and decodes the merged result. Lists
// (services, routes) come from the file or from the built-in defaults.
func Load(v *viper.Viper, path string) (*ConfigDoc, error) {
	if p, ok := util.TrimEmptyCheck(path); ok {
		clean := filepath.Clean(p)
		info, err := os.Stat(clean)
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("not a regular file: %s", clean)
		}
		v.SetConfigFile(clean)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", clean, err)
		}
	}

	doc := Defaults()
	doc.Services = nil
	doc.Routes = nil
	if err := v.Unmarshal(&doc, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	d := Defaults()
	if len(doc.Services) == 0 {
		doc.Services = d.Services
	}
	if len(doc.Routes) == 0 {
		doc.Routes = d.Routes
	}
	doc.ApplyServiceEnv(os.LookupEnv)
	return &doc, nil
}

// ApplyServiceEnv overrides service URLs from <NAME>_URL variables.
func (c *ConfigDoc) ApplyServiceEnv(lookup func(string) (string, bool)) {
	for i, s := range c.Services {
		key := strings.ToUpper(strings.TrimSpace(s.Name)) + "_URL"
		if val, ok := lookup(key); ok && strings.TrimSpace(val) != "" {
			c.Services[i].URL = strings.TrimSpace(val)
		}
	}
}

// ServiceURL returns the URL of the named service.
func (c *ConfigDoc) ServiceURL(name string) (string, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s.URL, true
		}
	}
	return "", false
}

// Validate checks cross references between sections.
func (c *ConfigDoc) Validate() error {
	seen := map[string]struct{}{}
	for i, s := range c.Services {
		name, ok := util.TrimEmptyCheck(s.Name)
		if !ok {
			return fmt.Errorf("services[%d]: missing name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("services[%d]: duplicate service %q", i, name)
		}
		seen[name] = struct{}{}
		if !util.ValidBaseURL(s.URL) {
			return fmt.Errorf("service %s: invalid url %q", name, s.URL)
		}
	}
	for i, r := range c.Routes {
		if string(r.Service) == constants.ServiceInternal {
			continue
		}
		if _, ok := seen[string(r.Service)]; !ok {
			return fmt.Errorf("routes[%d]: unknown service %q", i, r.Service)
		}
	}
	for label, ep := range map[string]EndpointConfig{
		"primary": c.Aggregate.Primary,
		"related": c.Aggregate.Related,
		"stats":   c.Aggregate.Stats,
	} {
		if _, ok := seen[ep.Service]; !ok {
			return fmt.Errorf("aggregate.%s: unknown service %q", label, ep.Service)
		}
	}
	if c.Client.MaxAttempts < 1 {
		return fmt.Errorf("client.max_attempts must be at least 1, got %d", c.Client.MaxAttempts)
	}
	if c.Client.RetryDelay < 0 {
		return fmt.Errorf("client.retry_delay must not be negative")
	}
	return nil
}

// YAML renders the document, hiding credentials.
func (c *ConfigDoc) YAML() ([]byte, error) {
	cp := *c
	if cp.Store.Postgres.Password != "" {
		cp.Store.Postgres.Password = "***MASKED***"
	}
	if cp.Store.Postgres.DSN != "" {
		cp.Store.Postgres.DSN = apigw.MaskSensitiveData(maskDSN(cp.Store.Postgres.DSN))
	}
	if cp.Cache.Redis.Password != "" {
		cp.Cache.Redis.Password = "***MASKED***"
	}
	return yaml.Marshal(cp)
}

func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***MASKED***" + dsn[at:]
	}
	return dsn
}
