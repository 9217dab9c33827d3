package config

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/loykin/apigw"
	"github.com/loykin/apigw/internal/aggregate"
	"github.com/loykin/apigw/internal/gateway"
	"github.com/loykin/apigw/internal/health"
	"github.com/loykin/apigw/internal/httpc"
	"github.com/loykin/apigw/internal/locator"
	"github.com/loykin/apigw/internal/retry"
	"github.com/loykin/apigw/internal/store"
	"github.com/loykin/apigw/internal/util"
)

// Policy is the retry budget shared by the proxy and the aggregator.
func (c *ConfigDoc) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Client.MaxAttempts,
		Delay:       c.Client.RetryDelay,
		Timeout:     c.Client.Timeout,
	}.Normalize()
}

// HTTPClient builds the outbound client settings.
func (c *ConfigDoc) HTTPClient() *httpc.Httpc {
	h := &httpc.Httpc{UserAgent: c.Client.UserAgent}
	minV := httpc.ParseTLSVersion(c.Client.MinTLSVersion)
	maxV := httpc.ParseTLSVersion(c.Client.MaxTLSVersion)
	if minV != 0 || maxV != 0 || c.Client.Insecure {
		// #nosec G402 -- InsecureSkipVerify only when explicitly configured
		h.TlsConfig = &tls.Config{MinVersion: minV, MaxVersion: maxV, InsecureSkipVerify: c.Client.Insecure}
	}
	return h
}

func (c *ConfigDoc) endpoint(label string, ep EndpointConfig) (aggregate.Endpoint, error) {
	base, ok := c.ServiceURL(ep.Service)
	if !ok {
		return aggregate.Endpoint{}, fmt.Errorf("aggregate.%s: unknown service %q", label, ep.Service)
	}
	return aggregate.Endpoint{Service: ep.Service, BaseURL: base, Path: ep.Path}, nil
}

// AggregateConfig resolves the three task endpoints against the services.
func (c *ConfigDoc) AggregateConfig() (aggregate.Config, error) {
	primary, err := c.endpoint("primary", c.Aggregate.Primary)
	if err != nil {
		return aggregate.Config{}, err
	}
	related, err := c.endpoint("related", c.Aggregate.Related)
	if err != nil {
		return aggregate.Config{}, err
	}
	stats, err := c.endpoint("stats", c.Aggregate.Stats)
	if err != nil {
		return aggregate.Config{}, err
	}
	return aggregate.Config{
		Primary:    primary,
		Related:    related,
		Stats:      stats,
		OwnerParam: c.Aggregate.OwnerParam,
		Deadline:   c.Aggregate.Deadline,
	}, nil
}

// RouteTable builds the locator table.
func (c *ConfigDoc) RouteTable() (*locator.Table, error) {
	services := make(map[locator.Service]string, len(c.Services))
	for _, s := range c.Services {
		services[locator.Service(s.Name)] = s.URL
	}
	return locator.NewTable(c.Routes, services)
}

// HealthTargets lists services with a health path.
func (c *ConfigDoc) HealthTargets() []health.Target {
	var out []health.Target
	for _, s := range c.Services {
		if strings.TrimSpace(s.HealthPath) == "" {
			continue
		}
		out = append(out, health.Target{Name: strings.ToLower(s.Name), BaseURL: s.URL, Path: s.HealthPath})
	}
	return out
}

// ToGatewayConfig produces the HTTP server settings.
func (c *ConfigDoc) ToGatewayConfig() gateway.Config {
	return gateway.Config{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		Mode:            c.Server.Mode,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		CORS:            c.CORS,
		RateLimit:       c.RateLimit,
		TraceRequests:   c.Tracing.Enabled,
		ServiceName:     c.Tracing.ServiceName,
	}
}

// ToStoreConfig produces the run history store settings.
func (c *ConfigDoc) ToStoreConfig() store.Config {
	cfg := store.Config{
		TableNames: store.TableNames{Runs: c.Store.TableRuns},
		Retention:  c.Store.Retention,
	}
	switch util.TrimAndLower(c.Store.Driver) {
	case store.DriverPostgresql, "postgres":
		cfg.Driver = store.DriverPostgresql
		pg := c.Store.Postgres
		cfg.DriverConfig = &pg
	default:
		cfg.Driver = store.DriverSqlite
		path := util.TrimWithDefault(c.Store.SQLite.Path, store.DbFileName)
		cfg.DriverConfig = &store.SqliteConfig{Path: path}
	}
	return cfg
}

// SetupLogging configures the global logger based on config settings
func (c *ConfigDoc) SetupLogging() error {
	level, err := apigw.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return err
	}

	var logger *apigw.Logger
	format := util.TrimAndLower(c.Logging.Format)

	useColor := false
	if c.Logging.Color != nil {
		useColor = *c.Logging.Color
	} else if format == "color" || format == "colour" {
		useColor = true
	}

	switch format {
	case "json":
		logger = apigw.NewJSONLogger(level)
	case "color", "colour":
		logger = apigw.NewColorLogger(level)
	case "text", "":
		if useColor {
			logger = apigw.NewColorLogger(level)
		} else {
			logger = apigw.NewLogger(level)
		}
	default:
		return fmt.Errorf("invalid logging format: %s (valid: text, json, color)", c.Logging.Format)
	}

	maskingEnabled := true
	if c.Logging.MaskSensitive != nil {
		maskingEnabled = *c.Logging.MaskSensitive
	}
	apigw.SetDefaultLogger(logger)
	apigw.EnableMasking(maskingEnabled)

	logger.Info("logging configured",
		"level", util.TrimWithDefault(util.TrimAndLower(c.Logging.Level), "info"),
		"format", format,
		"color", useColor,
		"mask_sensitive", maskingEnabled)
	return nil
}
