package apigw

import (
	"github.com/loykin/apigw/internal/aggregate"
	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/locator"
	"github.com/loykin/apigw/internal/report"
	"github.com/loykin/apigw/internal/retry"
)

// Re-export commonly used types for public API

// OutboundCall describes one backend request.
type OutboundCall = retry.OutboundCall

// Outcome is the tagged result of a retried call.
type Outcome = retry.Outcome

// Policy is the attempt budget of a Caller.
type Policy = retry.Policy

// Caller performs outbound calls with fixed-delay retries.
type Caller = retry.Caller

// NewCaller creates a Caller applying policy to every call.
func NewCaller(policy Policy) *Caller { return retry.NewCaller(policy) }

// DefaultPolicy returns 2 attempts, 500ms apart, 5s each.
func DefaultPolicy() Policy { return retry.DefaultPolicy() }

// Route binds a path prefix to a service.
type Route = locator.Route

// RouteTable resolves request paths to services.
type RouteTable = locator.Table

// NewRouteTable builds an immutable route table.
func NewRouteTable(routes []Route, services map[locator.Service]string) (*RouteTable, error) {
	return locator.NewTable(routes, services)
}

// AggregateConfig and friends expose the fan-out for embedding.
type (
	AggregateConfig   = aggregate.Config
	AggregateEndpoint = aggregate.Endpoint
	AggregateResult   = aggregate.Result
	Aggregator        = aggregate.Aggregator
	ReportResponse    = report.Response
)

// ErrAggregateTimeout is returned when the aggregate deadline elapses.
var ErrAggregateTimeout = aggregate.ErrAggregateTimeout

// NewAggregator builds an Aggregator on top of a Caller.
func NewAggregator(c *Caller, cfg AggregateConfig) (*Aggregator, error) {
	return aggregate.New(c, cfg)
}

// Assemble maps an aggregation result to the client status and body.
var Assemble = report.Assemble

// Logging

type Logger = common.Logger
type LogLevel = common.LogLevel

const (
	LogLevelError = common.LogLevelError
	LogLevelWarn  = common.LogLevelWarn
	LogLevelInfo  = common.LogLevelInfo
	LogLevelDebug = common.LogLevelDebug
)

// NewLogger creates a text logger on stdout.
func NewLogger(level LogLevel) *Logger { return common.NewLogger(level) }

// NewJSONLogger creates a JSON logger on stdout.
func NewJSONLogger(level LogLevel) *Logger { return common.NewJSONLogger(level) }

// NewColorLogger creates a colorized logger on stdout.
func NewColorLogger(level LogLevel) *Logger { return common.NewColorLogger(level) }

// ParseLogLevel accepts error, warn, info and debug.
func ParseLogLevel(s string) (LogLevel, error) { return common.ParseLogLevel(s) }

// SetDefaultLogger replaces the process-wide logger.
func SetDefaultLogger(l *Logger) { common.SetDefaultLogger(l) }

// GetLogger returns the process-wide logger.
func GetLogger() *Logger { return common.GetLogger() }

// EnableMasking toggles masking of credentials in log output.
func EnableMasking(enabled bool) { common.EnableMasking(enabled) }

// IsMaskingEnabled reports the global masking state.
func IsMaskingEnabled() bool { return common.IsMaskingEnabled() }

// MaskSensitiveData hides credentials in s.
func MaskSensitiveData(s string) string { return common.MaskSensitiveData(s) }
