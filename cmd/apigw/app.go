package main

import (
	"context"
	"fmt"

	"github.com/loykin/apigw/cmd/apigw/config"
	"github.com/loykin/apigw/internal/aggregate"
	"github.com/loykin/apigw/internal/cache"
	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/gateway"
	"github.com/loykin/apigw/internal/health"
	"github.com/loykin/apigw/internal/locator"
	"github.com/loykin/apigw/internal/metrics"
	"github.com/loykin/apigw/internal/proxy"
	"github.com/loykin/apigw/internal/retry"
	"github.com/loykin/apigw/internal/store"
	"github.com/loykin/apigw/internal/tracing"
)

// app holds everything the serve command wires together.
type app struct {
	doc        *config.ConfigDoc
	metrics    *metrics.Metrics
	caller     *retry.Caller
	table      *locator.Table
	aggregator *aggregate.Aggregator
	proxy      *proxy.Proxy
	health     *health.Checker
	reports    *cache.Reports
	store      *store.Store
	shutdown   tracing.ShutdownFunc
	logger     *common.Logger
}

func newApp(ctx context.Context, doc *config.ConfigDoc) (_ *app, err error) {
	a := &app{doc: doc, logger: common.GetLogger().WithComponent("app")}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	tcfg := doc.Tracing
	tcfg.Version = constants.GatewayVersion
	if a.shutdown, err = tracing.Setup(ctx, tcfg); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	opts := []retry.Option{retry.WithClient(doc.HTTPClient().New())}
	if doc.Metrics.Enabled {
		a.metrics = metrics.New()
		opts = append(opts, retry.WithObserver(a.metrics.ObserveAttempt))
	}
	policy := doc.Policy()
	a.caller = retry.NewCaller(policy, opts...)

	agCfg, err := doc.AggregateConfig()
	if err != nil {
		return nil, err
	}
	if berr := aggregate.CheckBudget(policy, agCfg.Deadline); berr != nil {
		a.logger.Warn("aggregate deadline is shorter than the retry budget", "error", berr)
	}
	if a.aggregator, err = aggregate.New(a.caller, agCfg); err != nil {
		return nil, err
	}

	if a.table, err = doc.RouteTable(); err != nil {
		return nil, err
	}
	if a.proxy, err = proxy.New(a.table, a.caller); err != nil {
		return nil, err
	}
	probe := doc.HTTPClient()
	if a.health, err = health.NewChecker(doc.HealthTargets(), doc.Health.Timeout, probe.New()); err != nil {
		return nil, err
	}

	c, err := cache.New(ctx, doc.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.reports = cache.NewReports(c, doc.Cache.TTL, doc.Cache.Prefix)

	if doc.Store.Enabled {
		if a.store, err = store.Open(ctx, doc.ToStoreConfig()); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}

	a.logger.Info("gateway components ready",
		"routes", a.table.Prefixes(),
		"max_attempts", policy.MaxAttempts,
		"retry_delay", policy.Delay,
		"call_timeout", policy.Timeout,
		"aggregate_deadline", agCfg.Deadline,
		"cache", a.reports.Enabled(),
		"store", a.store.Driver(),
		"metrics", a.metrics != nil,
		"tracing", doc.Tracing.Enabled)
	return a, nil
}

func (a *app) server() (*gateway.Server, error) {
	return gateway.New(a.doc.ToGatewayConfig(), gateway.Deps{
		Aggregator: a.aggregator,
		Table:      a.table,
		Proxy:      a.proxy,
		Health:     a.health,
		Cache:      a.reports,
		Store:      a.store,
		Metrics:    a.metrics,
	})
}

// Close releases the store, cache and tracer provider.
func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
	if err := a.reports.Close(); err != nil {
		a.logger.Warn("failed to close cache", "error", err)
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}
}
