package constants

import (
	"net/http"
	"time"
)

// Outbound call defaults
const (
	DefaultCallTimeout       = 5 * time.Second
	DefaultMaxAttempts       = 2
	DefaultRetryDelay        = 500 * time.Millisecond
	DefaultAggregateDeadline = 10 * time.Second
)

// Backend defaults
const (
	DefaultUserServiceURL        = "http://localhost:5001"
	DefaultTransactionServiceURL = "http://localhost:5002"

	DefaultPrimaryPath = "/entities/{id}"
	DefaultRelatedPath = "/records"
	DefaultStatsPath   = "/stats"
	DefaultOwnerParam  = "owner"

	DefaultUserHealthPath        = "/users/health"
	DefaultTransactionHealthPath = "/transactions/health"
)

// Service identities used by the route table
const (
	ServiceUsers        = "USER_SERVICE"
	ServiceTransactions = "TRANSACTION_SERVICE"
	ServiceInternal     = "GATEWAY_INTERNAL"
)

// Server defaults
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 5000
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	GatewayName            = "API Gateway"
	GatewayVersion         = "1.0.0"
)

// Headers
const (
	HeaderRequestID = "X-Request-ID"
)

// HopHeaders are stripped from requests forwarded to a backend.
var HopHeaders = []string{"host", "content-length", "transfer-encoding", "connection"}

// UpstreamHeadersToDrop are stripped from backend responses before they are relayed.
var UpstreamHeadersToDrop = []string{"server", "date", "content-encoding"}

// Cache defaults
const (
	DefaultCacheTTL    = 300 * time.Second
	DefaultCachePrefix = "apigw:report:"
)

// Store defaults
const (
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"

	DefaultPostgresMaxConnections = 10
	DefaultPostgresMaxIdleConns   = 5
	DefaultSQLiteMaxConnections   = 1 // SQLite allows only one writer
	DefaultSQLiteMaxIdleConns     = 1

	DefaultRunsTable    = "aggregation_runs"
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 500
	DefaultStoreTimeout = 2 * time.Second
)

// Connection pool lifetimes
const (
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
	DefaultSQLiteLifetime  = 10 * time.Minute
	DefaultSQLiteIdleTime  = 5 * time.Minute
)

// Wait configuration
const (
	DefaultWaitTimeout  = 60 * time.Second
	DefaultWaitInterval = 2 * time.Second
	DefaultWaitStatus   = http.StatusOK
	DefaultWaitMethod   = http.MethodGet
)

// Health probe timeout
const DefaultHealthTimeout = 5 * time.Second
