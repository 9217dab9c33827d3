package gateway

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/apigw/internal/aggregate"
	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/proxy"
	"github.com/loykin/apigw/internal/report"
	"github.com/loykin/apigw/internal/store"
)

const maxProxyBody = 10 << 20

// handleAggregate serves GET /aggregate/:id and its /api/reports/user/:id
// alias.
func (s *Server) handleAggregate(c *gin.Context) {
	start := time.Now()
	entityID := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()
	logger := s.logger.WithRequestID(requestID(c)).WithEntity(entityID)

	if entityID == "" {
		c.Data(http.StatusNotFound, "application/json", report.ErrorJSON(report.CodeNotFound, "An entity id is required"))
		return
	}

	if body, ok := s.cachedReport(ctx, entityID); ok {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "application/json", body)
		s.recordRun(ctx, store.Run{
			RequestID:  requestID(c),
			EntityID:   entityID,
			State:      report.StateSucceeded.String(),
			StatusCode: http.StatusOK,
			Primary:    "cached",
			Related:    "cached",
			Stats:      "cached",
			Cached:     true,
			DurationMS: time.Since(start).Milliseconds(),
		})
		return
	}

	res, err := s.deps.Aggregator.Aggregate(ctx, entityID)
	resp := report.Assemble(entityID, res, err, s.deps.Now())
	elapsed := time.Since(start)

	if resp.Status == http.StatusOK && s.deps.Cache.Enabled() {
		c.Header("X-Cache", "MISS")
		if err := s.deps.Cache.Put(context.WithoutCancel(ctx), entityID, resp.Body); err != nil {
			logger.Warn("failed to cache report", "error", err)
		}
	}

	var degraded []string
	if resp.State == report.StateSucceeded {
		for _, l := range res.Degraded() {
			degraded = append(degraded, l.String())
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveAggregation(resp.State.String(), elapsed, degraded)
	}

	tags := res.Tags()
	s.recordRun(ctx, store.Run{
		RequestID:  requestID(c),
		EntityID:   entityID,
		State:      resp.State.String(),
		StatusCode: resp.Status,
		Primary:    tags[aggregate.LabelPrimary.String()],
		Related:    tags[aggregate.LabelRelated.String()],
		Stats:      tags[aggregate.LabelStats.String()],
		DurationMS: elapsed.Milliseconds(),
	})

	logger.Info("aggregate request finished",
		"state", resp.State.String(),
		"status", resp.Status,
		"duration", elapsed,
		"outcomes", tags)
	c.Data(resp.Status, "application/json", resp.Body)
}

func (s *Server) cachedReport(ctx context.Context, entityID string) ([]byte, bool) {
	if !s.deps.Cache.Enabled() {
		return nil, false
	}
	body, ok, err := s.deps.Cache.Get(ctx, entityID)
	if err != nil {
		s.logger.Warn("report cache lookup failed", "entity_id", entityID, "error", err)
		ok = false
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveCache(ok)
	}
	return body, ok
}

// recordRun writes run history. Failures are logged only.
func (s *Server) recordRun(ctx context.Context, run store.Run) {
	if s.deps.Store == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DefaultStoreTimeout)
	defer cancel()
	if err := s.deps.Store.Record(rctx, run); err != nil {
		s.logger.Warn("failed to record aggregation run", "entity_id", run.EntityID, "error", err)
	}
}

// handleRuns serves GET /api/reports/runs?limit=N.
func (s *Server) handleRuns(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusNotFound, report.ErrorBody{Error: report.CodeNotFound, Message: "Run history is not enabled"})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, report.ErrorBody{Error: "invalid_request", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.deps.Store.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithRequestID(requestID(c)).Error("failed to list aggregation runs", "error", err)
		c.JSON(http.StatusInternalServerError, report.ErrorBody{Error: report.CodeInternalError, Message: "Could not load run history"})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs), "limit": store.ClampLimit(limit)})
}

// handleHealth serves GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{
			"gateway_status": "up",
			"overall_status": "ok",
			"services":       gin.H{},
			"timestamp":      float64(s.deps.Now().UnixNano()) / 1e9,
		})
		return
	}
	rep := s.deps.Health.Check(c.Request.Context())
	c.JSON(rep.HTTPStatus(), rep)
}

// handleInfo serves GET /api.
func (s *Server) handleInfo(c *gin.Context) {
	services := map[string]string{}
	for svc, base := range s.deps.Table.Services() {
		services[string(svc)] = base
	}
	names := make([]string, 0, len(services))
	for n := range services {
		names = append(names, n)
	}
	sort.Strings(names)

	c.JSON(http.StatusOK, gin.H{
		"service":     constants.GatewayName,
		"version":     constants.GatewayVersion,
		"description": "Aggregating gateway for the backend services",
		"routes":      s.deps.Table.Routes(),
		"services":    services,
		"service_ids": names,
		"endpoints": []string{
			"GET /aggregate/{id} - aggregated entity report",
			"GET /api/reports/user/{id} - aggregated entity report",
			"GET /api/reports/runs - aggregation run history",
			"ANY /api/{path} - proxied to the owning service",
			"GET /health - backend health",
			"GET /metrics - Prometheus metrics",
		},
	})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	p := c.Request.URL.Path
	if p == proxy.APIPrefix || strings.HasPrefix(p, proxy.APIPrefix+"/") {
		s.handleProxy(c)
		return
	}
	c.JSON(http.StatusNotFound, report.ErrorBody{
		Error:   report.CodeNotFound,
		Message: "The requested URL does not exist on this gateway",
	})
}

func (s *Server) handleNoMethod(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, report.ErrorBody{
		Error:   "method_not_allowed",
		Message: "The method is not allowed for the requested URL",
	})
}

// handleProxy forwards /api/* to the owning backend.
func (s *Server) handleProxy(c *gin.Context) {
	c.Set(ctxRoute, "/api/*proxy")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, report.ErrorBody{Error: "invalid_request", Message: "Could not read request body"})
		return
	}
	if len(body) > maxProxyBody {
		c.JSON(http.StatusRequestEntityTooLarge, report.ErrorBody{Error: "payload_too_large", Message: "Request body is too large"})
		return
	}

	resp := s.deps.Proxy.Forward(c.Request.Context(), proxy.Request{
		Method:   c.Request.Method,
		Path:     c.Request.URL.Path,
		RawQuery: c.Request.URL.RawQuery,
		Header:   c.Request.Header,
		Body:     body,
	})
	for name, values := range resp.Header {
		if strings.EqualFold(name, "Content-Type") {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Data(resp.Status, resp.Header.Get("Content-Type"), resp.Body)
}
