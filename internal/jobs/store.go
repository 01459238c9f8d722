package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/jobs/taskid"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the job store.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration

	// Result TTL bounds; requested values outside [MinTTL, MaxTTL] are
	// clamped. The TTL is advisory: nothing in the store deletes rows.
	MinTTL     time.Duration
	MaxTTL     time.Duration
	DefaultTTL time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store persists jobs in Postgres.
type Store struct {
	pool  dbPool
	table string
	clock scrape.Clock
	cfg   Config
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewStore creates a Postgres-backed job store from the config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("jobs dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewStoreWithPool(pool, cfg, nil)
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing). A nil clock uses the system clock.
func NewStoreWithPool(pool dbPool, cfg Config, clock scrape.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.Table == "" {
		cfg.Table = "jobs"
	}
	if !validTableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = 30 * time.Second
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = time.Hour
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = cfg.MinTTL
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Store{pool: pool, table: cfg.Table, clock: clock, cfg: cfg}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, name, status, args, result, logs, error, created_at, started_at, finished_at, cancel_requested`

// Create inserts a queued job and returns its id. Args must be
// JSON-serializable.
func (s *Store) Create(ctx context.Context, name string, args any) (string, error) {
	if name == "" {
		return "", fmt.Errorf("job name is required")
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal job args: %w", err)
	}

	now := s.clock.Now().UTC()
	id := taskid.New(now)
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, status, args, logs, error, created_at, cancel_requested)
VALUES ($1, $2, $3, $4, '', '', $5, false)`, s.table)

	if _, err := s.pool.Exec(ctx, query, id, name, string(StatusQueued), argsJSON, now); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// ClaimNext atomically moves the oldest queued job to running and returns
// it. The SKIP LOCKED subselect guarantees at most one claimant wins a row
// even under concurrent executors. The second return is false when no queued
// job exists.
func (s *Store) ClaimNext(ctx context.Context) (Job, bool, error) {
	query := fmt.Sprintf(`
UPDATE %s SET status = $1, started_at = $2
WHERE id = (
	SELECT id FROM %s
	WHERE status = $3
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %s`, s.table, s.table, jobColumns)

	rows, err := s.pool.Query(ctx, query, string(StatusRunning), s.clock.Now().UTC(), string(StatusQueued))
	if err != nil {
		return Job{}, false, fmt.Errorf("claim next job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Job{}, false, fmt.Errorf("claim next job: %w", err)
		}
		return Job{}, false, nil
	}
	job, err := scanJob(rows)
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

// AppendLog appends one line to the job's newline-joined log text.
func (s *Store) AppendLog(ctx context.Context, id, line string) error {
	query := fmt.Sprintf(`
UPDATE %s SET logs = CASE WHEN logs = '' THEN $2 ELSE logs || E'\n' || $2 END
WHERE id = $1`, s.table)

	tag, err := s.pool.Exec(ctx, query, id, line)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Finish stamps the terminal state exactly once. If a cancel was requested
// while the job ran, the recorded status is cancelled regardless of the
// natural outcome. Finishing an already-terminal (or deleted) job returns
// ErrAlreadyTerminal and changes nothing. The returned status is the one
// actually recorded.
func (s *Store) Finish(ctx context.Context, id string, success bool, result any, errMsg string) (Status, error) {
	natural := StatusFailed
	if success {
		natural = StatusCompleted
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal job result: %w", err)
	}

	query := fmt.Sprintf(`
UPDATE %s SET
	status = CASE WHEN cancel_requested THEN $2 ELSE $3 END,
	result = $4,
	error = $5,
	finished_at = $6
WHERE id = $1 AND status IN ($7, $8)
RETURNING status`, s.table)

	rows, err := s.pool.Query(ctx, query,
		id, string(StatusCancelled), string(natural), resultJSON, errMsg,
		s.clock.Now().UTC(), string(StatusQueued), string(StatusRunning))
	if err != nil {
		return "", fmt.Errorf("finish job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("finish job: %w", err)
		}
		return "", ErrAlreadyTerminal
	}
	var status string
	if err := rows.Scan(&status); err != nil {
		return "", fmt.Errorf("scan finished status: %w", err)
	}
	return Status(status), nil
}

// Cancel applies the state-dependent cancel rule: queued jobs are deleted,
// running jobs get the cancel flag, terminal jobs are an error naming the
// current status.
func (s *Store) Cancel(ctx context.Context, id string) (CancelAction, error) {
	del := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status = $2`, s.table)
	tag, err := s.pool.Exec(ctx, del, id, string(StatusQueued))
	if err != nil {
		return "", fmt.Errorf("cancel queued job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return CancelDeleted, nil
	}

	mark := fmt.Sprintf(`UPDATE %s SET cancel_requested = true WHERE id = $1 AND status = $2`, s.table)
	tag, err = s.pool.Exec(ctx, mark, id, string(StatusRunning))
	if err != nil {
		return "", fmt.Errorf("cancel running job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return CancelMarked, nil
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return "", fmt.Errorf("cannot cancel job in status %q: %w", job.Status, ErrAlreadyTerminal)
}

// IsCancelRequested reports the cancel flag for a job.
func (s *Store) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`SELECT cancel_requested FROM %s WHERE id = $1`, s.table)
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("check cancel flag: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return false, fmt.Errorf("check cancel flag: %w", err)
		}
		return false, ErrNotFound
	}
	var requested bool
	if err := rows.Scan(&requested); err != nil {
		return false, fmt.Errorf("scan cancel flag: %w", err)
	}
	return requested, nil
}

// Get loads one job or returns ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Job{}, fmt.Errorf("get job: %w", err)
		}
		return Job{}, ErrNotFound
	}
	return scanJob(rows)
}

// GetResult loads the job and returns the effective result TTL: the
// requested value clamped to the configured bounds, or the default when no
// TTL was requested.
func (s *Store) GetResult(ctx context.Context, id string, requestedTTL time.Duration) (Job, time.Duration, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return Job{}, 0, err
	}
	return job, s.clampTTL(requestedTTL), nil
}

func (s *Store) clampTTL(requested time.Duration) time.Duration {
	if requested <= 0 {
		return s.cfg.DefaultTTL
	}
	if requested < s.cfg.MinTTL {
		return s.cfg.MinTTL
	}
	if requested > s.cfg.MaxTTL {
		return s.cfg.MaxTTL
	}
	return requested
}

func scanJob(rows pgx.Rows) (Job, error) {
	var (
		job    Job
		status string
	)
	if err := rows.Scan(
		&job.ID, &job.Name, &status, &job.Args, &job.Result, &job.Logs,
		&job.Error, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
		&job.CancelRequested,
	); err != nil {
		return Job{}, fmt.Errorf("scan job row: %w", err)
	}
	job.Status = Status(status)
	return job, nil
}
