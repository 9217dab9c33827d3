// Package store keeps the aggregation run history in SQLite or PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/store/connector"
	"github.com/loykin/apigw/internal/store/postgresql"
	"github.com/loykin/apigw/internal/store/sqlite"
)

// ErrDisabled is returned by a nil Store.
var ErrDisabled = errors.New("run history store is disabled")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// pruneEvery is how many writes pass between retention sweeps.
const pruneEvery = 50

// Store records aggregation runs. A nil *Store is valid and disabled.
type Store struct {
	connector connector.Connector
	tables    TableNames
	driver    string
	retention int
	retry     *RetryConfig
	writes    atomic.Int64
	logger    *common.Logger
}

// NewConnector returns the driver implementation for name.
func NewConnector(driver string) (connector.Connector, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSqlite, "":
		return sqlite.NewStore(), nil
	case DriverPostgresql, "postgres":
		return postgresql.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// Open connects the configured driver and ensures the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	c, err := NewConnector(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DriverConfig != nil {
		if err := c.Load(cfg.DriverConfig.ToMap()); err != nil {
			return nil, fmt.Errorf("load store config: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if _, err := c.Connect(); err != nil {
		return nil, err
	}
	s, err := New(c, cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := s.Ensure(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already connected connector.
func New(c connector.Connector, cfg Config) (*Store, error) {
	tables := cfg.TableNames
	if tables.Runs == "" {
		tables.Runs = constants.DefaultRunsTable
	}
	if !identRe.MatchString(tables.Runs) {
		return nil, fmt.Errorf("invalid table name %q", tables.Runs)
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverSqlite
	}
	return &Store{
		connector: c,
		tables:    tables,
		driver:    driver,
		retention: cfg.Retention,
		retry:     DefaultRetryConfig(),
		logger:    common.GetLogger().WithStore(driver),
	}, nil
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Ensure creates the schema if needed.
func (s *Store) Ensure(ctx context.Context) error {
	if s == nil {
		return ErrDisabled
	}
	return s.connector.Ensure(ctx, s.tables)
}

// Record stores run, assigning an id and timestamp when missing.
func (s *Store) Record(ctx context.Context, run Run) error {
	if s == nil {
		return ErrDisabled
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.RanAt == "" {
		run.RanAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	err := withRetry(ctx, s.retry, func() error {
		return s.connector.RecordRun(ctx, s.tables, run)
	})
	if err != nil {
		return err
	}
	if s.retention > 0 && s.writes.Add(1)%pruneEvery == 0 {
		if n, err := s.connector.PruneRuns(ctx, s.tables, s.retention); err != nil {
			s.logger.Warn("failed to prune run history", "error", err)
		} else if n > 0 {
			s.logger.Debug("pruned run history", "deleted", n, "kept", s.retention)
		}
	}
	return nil
}

// List returns up to limit runs, newest first. limit is clamped to
// [1, MaxHistoryLimit]; zero or negative means the default.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	return s.connector.ListRuns(ctx, s.tables, ClampLimit(limit))
}

// Count returns the number of stored runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil {
		return 0, ErrDisabled
	}
	return s.connector.CountRuns(ctx, s.tables)
}

// Prune keeps the newest keep runs.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if s == nil {
		return 0, ErrDisabled
	}
	if keep < 0 {
		keep = 0
	}
	return s.connector.PruneRuns(ctx, s.tables, keep)
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.connector == nil {
		return nil
	}
	return s.connector.Close()
}

// ClampLimit applies the default and maximum history page sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return constants.DefaultHistoryLimit
	case limit > constants.MaxHistoryLimit:
		return constants.MaxHistoryLimit
	default:
		return limit
	}
}
