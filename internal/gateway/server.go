// Package gateway is the HTTP front of apigw: the aggregate endpoint, the
// /api proxy, health, info, run history and metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/loykin/apigw/internal/aggregate"
	"github.com/loykin/apigw/internal/cache"
	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/health"
	"github.com/loykin/apigw/internal/locator"
	"github.com/loykin/apigw/internal/metrics"
	"github.com/loykin/apigw/internal/proxy"
	"github.com/loykin/apigw/internal/store"
)

// Deps are the collaborators of the HTTP layer. Aggregator, Table and Proxy
// are required; the rest are optional and disable their feature when nil.
type Deps struct {
	Aggregator *aggregate.Aggregator
	Table      *locator.Table
	Proxy      *proxy.Proxy
	Health     *health.Checker
	Cache      *cache.Reports
	Store      *store.Store
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Server owns the gin engine and the http.Server.
type Server struct {
	cfg     Config
	deps    Deps
	engine  *gin.Engine
	limiter *RateLimiter
	logger  *common.Logger
}

// New wires middleware and routes.
func New(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Aggregator == nil || deps.Table == nil || deps.Proxy == nil {
		return nil, errors.New("gateway: aggregator, route table and proxy are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Mode != "" {
		gin.SetMode(strings.ToLower(cfg.Mode))
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: gin.New(),
		logger: common.GetLogger().WithComponent("gateway"),
	}
	s.engine.HandleMethodNotAllowed = true

	s.engine.Use(Recovery(s.logger), RequestID())
	if cfg.TraceRequests {
		name := cfg.ServiceName
		if name == "" {
			name = "apigw"
		}
		s.engine.Use(otelgin.Middleware(name))
	}
	if deps.Metrics != nil {
		s.engine.Use(Metrics(deps.Metrics))
	}
	s.engine.Use(AccessLog(s.logger))
	if cfg.CORS.Enabled {
		s.engine.Use(CORS(cfg.CORS))
	}
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		s.engine.Use(RateLimit(s.limiter, deps.Metrics))
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	e := s.engine
	e.GET("/aggregate/:id", s.handleAggregate)
	e.GET("/api", s.handleInfo)
	e.GET("/api/reports/user/:id", s.handleAggregate)
	e.GET("/api/reports/runs", s.handleRuns)
	e.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		e.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	// /api/* cannot be a catch-all route next to the static /api routes,
	// so proxying happens from the not-found handler.
	e.NoRoute(s.handleNoRoute)
	e.NoMethod(s.handleNoMethod)
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	stop := make(chan struct{})
	defer close(stop)
	if s.limiter != nil {
		s.limiter.StartCleanup(time.Minute, 5*time.Minute, stop)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("shutting down gateway", "timeout", timeout)
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
