package connector

import (
	"context"
	"database/sql"
)

// Run is one row of the aggregation run history.
type Run struct {
	ID         string `json:"id"`
	RequestID  string `json:"request_id,omitempty"`
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	StatusCode int    `json:"status_code"`
	Primary    string `json:"primary"`
	Related    string `json:"related"`
	Stats      string `json:"stats"`
	Cached     bool   `json:"cached"`
	DurationMS int64  `json:"duration_ms"`
	RanAt      string `json:"ran_at"` // RFC3339Nano, UTC
}

// TableNames represents database table names
type TableNames struct {
	Runs string
}

// Connector is implemented by every storage driver.
type Connector interface {
	Connect() (*sql.DB, error)
	Validate() error
	Load(config map[string]interface{}) error
	Ensure(ctx context.Context, th TableNames) error
	RecordRun(ctx context.Context, th TableNames, run Run) error
	// ListRuns returns at most limit runs, newest first.
	ListRuns(ctx context.Context, th TableNames, limit int) ([]Run, error)
	CountRuns(ctx context.Context, th TableNames) (int, error)
	// PruneRuns deletes all but the newest keep runs.
	PruneRuns(ctx context.Context, th TableNames, keep int) (int64, error)
	Close() error
}
