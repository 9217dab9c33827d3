package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/store/connector"
)

type Store struct {
	db      *sql.DB
	dialect *Dialect
	DSN     string
}

// NewStore creates a new PostgreSQL store
func NewStore() *Store {
	return &Store{
		dialect: NewDialect(),
	}
}

// NewStoreWithDB wraps an already opened database.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, dialect: NewDialect()}
}

// Load loads configuration into the PostgreSQL store
func (p *Store) Load(config map[string]interface{}) error {
	if dsn, ok := config["dsn"].(string); ok && dsn != "" {
		p.DSN = dsn
	}
	return nil
}

// Connect establishes a connection to PostgreSQL
func (p *Store) Connect() (*sql.DB, error) {
	db, err := p.dialect.Connect(p.DSN)
	if err != nil {
		return nil, err
	}
	p.db = db

	common.GetLogger().WithStore("postgresql").Info("PostgreSQL database connection established successfully")
	return db, nil
}

// Validate requires a DSN
func (p *Store) Validate() error {
	if p.DSN == "" {
		return errors.New("postgresql: dsn or host is required")
	}
	return nil
}

// Close closes the database connection
func (p *Store) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Ensure creates the run history table
func (p *Store) Ensure(ctx context.Context, th connector.TableNames) error {
	logger := common.GetLogger().WithStore("postgresql")
	logger.Debug("ensuring PostgreSQL database schema", "table", th.Runs)

	for i, q := range p.dialect.GetEnsureStatements(th.Runs) {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			logger.Error("failed to execute schema statement", "error", err, "statement_index", i+1)
			return fmt.Errorf("failed to execute schema statement %d in PostgreSQL schema setup: %w", i+1, err)
		}
	}
	logger.Debug("PostgreSQL database schema ensured successfully")
	return nil
}

// RecordRun inserts one run
func (p *Store) RecordRun(ctx context.Context, th connector.TableNames, run connector.Run) error {
	ranAt := time.Now().UTC()
	if run.RanAt != "" {
		t, err := time.Parse(time.RFC3339Nano, run.RanAt)
		if err != nil {
			return fmt.Errorf("invalid ran_at %q: %w", run.RanAt, err)
		}
		ranAt = t
	}
	var requestID interface{}
	if run.RequestID != "" {
		requestID = run.RequestID
	}
	q := fmt.Sprintf(`INSERT INTO %s(id, request_id, entity_id, state, status_code, primary_outcome, related_outcome, stats_outcome, cached, duration_ms, ran_at)
		VALUES(%s)`, th.Runs, p.dialect.Placeholders(11))
	_, err := p.db.ExecContext(ctx, q,
		run.ID, requestID, run.EntityID, run.State, run.StatusCode,
		run.Primary, run.Related, run.Stats, run.Cached, run.DurationMS, ranAt)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the newest runs first
func (p *Store) ListRuns(ctx context.Context, th connector.TableNames, limit int) ([]connector.Run, error) {
	q := fmt.Sprintf(`SELECT id::text, request_id, entity_id, state, status_code, primary_outcome, related_outcome, stats_outcome, cached, duration_ms, ran_at
		FROM %s ORDER BY seq DESC LIMIT %s`, th.Runs, p.dialect.GetPlaceholder(1))
	rows, err := p.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []connector.Run
	for rows.Next() {
		var (
			r         connector.Run
			requestID sql.NullString
			ranAt     time.Time
		)
		if err := rows.Scan(&r.ID, &requestID, &r.EntityID, &r.State, &r.StatusCode,
			&r.Primary, &r.Related, &r.Stats, &r.Cached, &r.DurationMS, &ranAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.RequestID = requestID.String
		r.RanAt = p.dialect.ConvertTimeFromStorage(ranAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRuns returns the number of recorded runs
func (p *Store) CountRuns(ctx context.Context, th connector.TableNames) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", th.Runs)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// PruneRuns keeps only the newest keep runs
func (p *Store) PruneRuns(ctx context.Context, th connector.TableNames, keep int) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE seq NOT IN (SELECT seq FROM %s ORDER BY seq DESC LIMIT %s)`,
		th.Runs, th.Runs, p.dialect.GetPlaceholder(1))
	res, err := p.db.ExecContext(ctx, q, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}
