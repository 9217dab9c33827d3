package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/store/connector"
	_ "modernc.org/sqlite"
)

type Store struct {
	db      *sql.DB
	dialect *Dialect
	DSN     string
}

// NewStore creates a new SQLite store
func NewStore() *Store {
	return &Store{
		dialect: NewDialect(),
	}
}

// NewStoreWithDB wraps an already opened database.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, dialect: NewDialect()}
}

// Load loads configuration into the SQLite store
func (s *Store) Load(config map[string]interface{}) error {
	if dsn, ok := config["dsn"].(string); ok && dsn != "" {
		s.DSN = dsn
		return nil
	}
	if path, ok := config["path"].(string); ok && path != "" {
		s.DSN = fmt.Sprintf("file:%s?_busy_timeout=%d&%s", path, busyTimeoutMS, foreignKeysParam)
	}
	return nil
}

// Connect establishes a connection to SQLite
func (s *Store) Connect() (*sql.DB, error) {
	if s.DSN == "" {
		s.DSN = ":memory:"
	}

	db, err := s.dialect.Connect(s.DSN)
	if err != nil {
		return nil, err
	}
	s.db = db

	common.GetLogger().WithStore("sqlite").Info("SQLite database connection established successfully")
	return db, nil
}

// Validate performs basic validation (default implementation)
func (s *Store) Validate() error {
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure creates the run history table
func (s *Store) Ensure(ctx context.Context, th connector.TableNames) error {
	logger := common.GetLogger().WithStore("sqlite")
	logger.Debug("ensuring SQLite database schema", "table", th.Runs)

	for i, q := range s.dialect.GetEnsureStatements(th.Runs) {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			logger.Error("failed to execute schema statement", "error", err, "statement_index", i+1)
			return fmt.Errorf("failed to execute schema statement %d: %w", i+1, err)
		}
	}
	logger.Debug("SQLite database schema ensured successfully")
	return nil
}

// RecordRun inserts one run
func (s *Store) RecordRun(ctx context.Context, th connector.TableNames, run connector.Run) error {
	ranAt, err := parseRanAt(run.RanAt)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s(id, request_id, entity_id, state, status_code, primary_outcome, related_outcome, stats_outcome, cached, duration_ms, ran_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, th.Runs)
	_, err = s.db.ExecContext(ctx, q,
		run.ID, nullable(run.RequestID), run.EntityID, run.State, run.StatusCode,
		run.Primary, run.Related, run.Stats,
		s.dialect.ConvertBoolToStorage(run.Cached), run.DurationMS,
		s.dialect.ConvertTimeToStorage(ranAt))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the newest runs first
func (s *Store) ListRuns(ctx context.Context, th connector.TableNames, limit int) ([]connector.Run, error) {
	q := fmt.Sprintf(`SELECT id, request_id, entity_id, state, status_code, primary_outcome, related_outcome, stats_outcome, cached, duration_ms, ran_at
		FROM %s ORDER BY seq DESC LIMIT ?`, th.Runs)
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []connector.Run
	for rows.Next() {
		var (
			r         connector.Run
			requestID sql.NullString
			cached    interface{}
			ranAt     interface{}
		)
		if err := rows.Scan(&r.ID, &requestID, &r.EntityID, &r.State, &r.StatusCode,
			&r.Primary, &r.Related, &r.Stats, &cached, &r.DurationMS, &ranAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.RequestID = requestID.String
		r.Cached = s.dialect.ConvertBoolFromStorage(cached)
		r.RanAt = s.dialect.ConvertTimeFromStorage(ranAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRuns returns the number of recorded runs
func (s *Store) CountRuns(ctx context.Context, th connector.TableNames) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", th.Runs)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// PruneRuns keeps only the newest keep runs
func (s *Store) PruneRuns(ctx context.Context, th connector.TableNames, keep int) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE seq NOT IN (SELECT seq FROM %s ORDER BY seq DESC LIMIT ?)`, th.Runs, th.Runs)
	res, err := s.db.ExecContext(ctx, q, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

func parseRanAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ran_at %q: %w", s, err)
	}
	return t, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
