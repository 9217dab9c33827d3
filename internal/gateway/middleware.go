package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/metrics"
	"github.com/loykin/apigw/internal/report"
)

const (
	ctxRequestID = "request_id"
	ctxRoute     = "route"
)

// RequestID propagates X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(constants.HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Request.Header.Set(constants.HeaderRequestID, id)
		c.Header(constants.HeaderRequestID, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return c.GetString(ctxRoute)
}

// AccessLog writes one record per request.
func AccessLog(logger *common.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		l := logger.WithRequestID(requestID(c))
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", routeOf(c),
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= 500:
			l.Error("request completed", attrs...)
		case status >= 400:
			l.Warn("request completed", attrs...)
		default:
			l.Info("request completed", attrs...)
		}
	}
}

// Metrics records request counters and latency.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncInFlight()
		defer m.DecInFlight()
		c.Next()
		m.ObserveHTTP(c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

// Recovery turns panics into a generic 500 JSON body.
func Recovery(logger *common.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.WithRequestID(requestID(c)).Error("handler panicked",
			"panic", fmt.Sprint(recovered),
			"path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, report.ErrorBody{
			Error:   report.CodeInternalError,
			Message: "An unexpected error occurred in the gateway",
		})
	})
}

// RateLimit rejects clients over their budget with 429.
func RateLimit(rl *RateLimiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		if m != nil {
			m.IncRateLimited()
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, report.ErrorBody{
			Error:   "rate_limited",
			Message: "Too many requests",
		})
	}
}

// CORS builds the gin-contrib/cors middleware.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    []string{constants.HeaderRequestID},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
	origins := make([]string, 0, len(cfg.AllowOrigins))
	all := len(cfg.AllowOrigins) == 0
	for _, o := range cfg.AllowOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			all = true
			continue
		}
		if o != "" {
			origins = append(origins, o)
		}
	}
	if all {
		cc.AllowAllOrigins = true
		cc.AllowCredentials = false
	} else {
		cc.AllowOrigins = origins
	}
	if len(cc.AllowMethods) == 0 {
		cc.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(cc.AllowHeaders) == 0 {
		cc.AllowHeaders = []string{"Content-Type", "Authorization", constants.HeaderRequestID}
	}
	return cors.New(cc)
}
