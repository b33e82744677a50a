package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

// DefaultWriteTimeout bounds each event insert
const DefaultWriteTimeout = 5 * time.Second

// DB is the part of a pgx pool the recorder uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRecorder writes events to the rollover_events table
type PGRecorder struct {
	db      DB
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  logging.Logger
}

// NewPGRecorder connects to databaseURL and creates the events table if it
// does not exist
func NewPGRecorder(ctx context.Context, databaseURL string, logger logging.Logger) (*PGRecorder, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = 4
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	r, err := NewDBRecorder(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	r.pool = pool
	return r, nil
}

// NewDBRecorder records into an existing connection
func NewDBRecorder(ctx context.Context, db DB, logger logging.Logger) (*PGRecorder, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &PGRecorder{
		db:      db,
		timeout: DefaultWriteTimeout,
		logger:  logger.With(logging.Component("journal")),
	}
	if err := r.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return r, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS rollover_events (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		step INTEGER NOT NULL,
		member_id INTEGER NOT NULL,
		strategy TEXT,
		phase TEXT NOT NULL,
		detail TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rollover_events_run_id ON rollover_events(run_id);
	`

func (r *PGRecorder) migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

const insertEvent = `
	INSERT INTO rollover_events (run_id, at, step, member_id, strategy, phase, detail, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

// Observe inserts e. Failures are logged; the run carries on.
func (r *PGRecorder) Observe(e rollover.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_, err := r.db.Exec(ctx, insertEvent,
		e.RunID,
		e.Time,
		e.Step,
		e.MemberID,
		string(e.Strategy),
		string(e.Phase),
		e.Detail,
		e.Err,
	)
	if err != nil {
		r.logger.Warn("failed to record event",
			logging.RunID(e.RunID),
			logging.String("phase", string(e.Phase)),
			logging.Error(err))
	}
}

const selectRun = `
	SELECT run_id, at, step, member_id, strategy, phase, detail, error
	FROM rollover_events
	WHERE run_id = $1
	ORDER BY id
	`

// Events returns the recorded events of one run in insertion order
func (r *PGRecorder) Events(ctx context.Context, runID string) ([]rollover.Event, error) {
	rows, err := r.db.Query(ctx, selectRun, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rollover.Event, error) {
		var (
			e               rollover.Event
			strategy, phase string
		)
		err := row.Scan(&e.RunID, &e.Time, &e.Step, &e.MemberID, &strategy, &phase, &e.Detail, &e.Err)
		e.Strategy = rollover.Strategy(strategy)
		e.Phase = rollover.Phase(phase)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// Close closes the connection pool when the recorder owns one
func (r *PGRecorder) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
