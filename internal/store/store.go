// Package store is the durable relational model of the job queue.
// All shared mutable state of the dispatch core lives here; workers
// coordinate exclusively through the atomic operations of this
// package.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/logfields"
)

const loggerName = "store"

// Store wraps a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: zap.L().Named(loggerName),
	}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, application, owner, repository, module, event_name,
	module_event_name, event_data, status, priority, log, output_id,
	claimed_by, created_at, started_at, finished_at`

// CreateJob inserts a job row. The status defaults to new.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (*Job, error) {
	if p.Status == "" {
		p.Status = StatusNew
	}

	if p.EventData == nil {
		p.EventData = map[string]any{}
	}

	eventJSON, err := json.Marshal(p.EventData)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (application, owner, repository, module, event_name,
			module_event_name, event_data, status, priority)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9)
		RETURNING `+jobColumns,
		p.Application, p.Owner, p.Repository, p.Module, p.EventName,
		p.ModuleEventName, eventJSON, string(p.Status), p.Lane,
	)

	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return job, nil
}

// ListNew returns up to limit jobs in status new, oldest first.
// The intake loop of the scheduler is the only reader.
func (s *Store) ListNew(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'new'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query new jobs: %w", err)
	}

	return scanJobs(rows)
}

// Accept moves a new job into a lane (status pending).
// It returns false when the job was not in status new anymore.
func (s *Store) Accept(ctx context.Context, jobID int64, lane string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending', priority = $2
		WHERE id = $1 AND status = 'new'
	`, jobID, lane)
	if err != nil {
		return false, fmt.Errorf("accept job %d: %w", jobID, err)
	}

	return tag.RowsAffected() == 1, nil
}

// FinishIntake moves a new job directly into a terminal state, used
// for fanned-out parents and for jobs nothing is interested in.
func (s *Store) FinishIntake(ctx context.Context, jobID int64, status Status, log string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, log = $3, started_at = now(), finished_at = now()
		WHERE id = $1 AND status = 'new'
	`, jobID, string(status), log)
	if err != nil {
		return fmt.Errorf("finish intake of job %d: %w", jobID, err)
	}

	if tag.RowsAffected() == 0 {
		s.logger.Warn(
			"job left intake before its terminal intake state was written",
			logfields.Event("job_intake_finish_lost"),
			logfields.JobID(jobID),
		)
	}

	return nil
}

// ClaimNext atomically claims the oldest pending job of the lane for
// the worker and returns it, or nil when the lane is empty.
// FOR UPDATE SKIP LOCKED guarantees that concurrent callers never
// receive the same job.
func (s *Store) ClaimNext(ctx context.Context, lane, workerID string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'processing', started_at = now(), claimed_by = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND priority = $1
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		lane, workerID,
	)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("claim next job in lane %q: %w", lane, err)
	}

	return job, nil
}

// Complete writes the terminal state of a processing job.
// Completing an already terminal job is a logged no-op, the first
// terminal write wins.
func (s *Store) Complete(ctx context.Context, jobID int64, status Status, log string, outputID *int64) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, log = $3, output_id = $4, finished_at = now()
		WHERE id = $1 AND status = 'processing'
	`, jobID, string(status), log, outputID)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}

	if tag.RowsAffected() == 0 {
		s.logger.Warn(
			"ignoring completion of a job that is not processing",
			logfields.Event("job_completion_ignored"),
			logfields.JobID(jobID),
			zap.String("status", string(status)),
		)
	}

	return nil
}

// ListJobs returns jobs matching the filters, newest first.
func (s *Store) ListJobs(ctx context.Context, f JobFilters) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`

	var args []any

	appendFilter := func(column, val string) {
		if val == "" {
			return
		}

		args = append(args, val)
		query += " AND " + column + " = $" + strconv.Itoa(len(args))
	}

	appendFilter("status", string(f.Status))
	appendFilter("application", f.Application)
	appendFilter("module", f.Module)
	appendFilter("owner", f.Owner)
	appendFilter("repository", f.Repository)

	query += " ORDER BY created_at DESC, id DESC"

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	return scanJobs(rows)
}

// CountByStatus returns the number of jobs per status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM jobs GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	result := map[Status]int64{}

	for rows.Next() {
		var status string
		var cnt int64

		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}

		result[Status(status)] = cnt
	}

	return result, rows.Err()
}

// RecoverOrphans resets processing jobs whose worker disappeared back
// to pending and fails pending jobs that exceeded the hard age limit.
// It returns the number of reset and failed jobs.
func (s *Store) RecoverOrphans(ctx context.Context, resetStaleAfter, failPendingAfter time.Duration) (reset, failed int64, err error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', started_at = NULL, claimed_by = NULL
		WHERE status = 'processing' AND started_at < now() - $1::interval
	`, durationInterval(resetStaleAfter))
	if err != nil {
		return 0, 0, fmt.Errorf("reset stale processing jobs: %w", err)
	}

	reset = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'error', finished_at = now(),
			log = log || 'job exceeded the maximum pending age, giving up'
		WHERE status = 'pending' AND created_at < now() - $1::interval
	`, durationInterval(failPendingAfter))
	if err != nil {
		return reset, 0, fmt.Errorf("fail overaged pending jobs: %w", err)
	}

	return reset, tag.RowsAffected(), nil
}

// SaveOutput persists an immutable output record of a job.
func (s *Store) SaveOutput(ctx context.Context, jobID int64, title, data string, success bool) (int64, error) {
	status := "success"
	if !success {
		status = "error"
	}

	var id int64

	err := s.pool.QueryRow(ctx, `
		INSERT INTO outputs (job_id, status, access_type, title, data)
		VALUES ($1, $2, 'public', $3, $4)
		RETURNING id
	`, jobID, status, title, data).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert output: %w", err)
	}

	return id, nil
}

// GetOutput returns a stored output record by id.
func (s *Store) GetOutput(ctx context.Context, id int64) (*Output, error) {
	var out Output

	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, status, access_type, title, data, created_at
		FROM outputs
		WHERE id = $1
	`, id).Scan(
		&out.ID, &out.JobID, &out.Status, &out.AccessType,
		&out.Title, &out.Data, &out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("query output %d: %w", id, err)
	}

	return &out, nil
}

func durationInterval(d time.Duration) string {
	return strconv.FormatInt(int64(d.Seconds()), 10) + " seconds"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job        Job
		module     pgtype.Text
		modEvName  pgtype.Text
		claimedBy  pgtype.Text
		eventJSON  []byte
		status     string
		startedAt  pgtype.Timestamptz
		finishedAt pgtype.Timestamptz
	)

	err := row.Scan(
		&job.ID, &job.Application, &job.Owner, &job.Repository, &module,
		&job.EventName, &modEvName, &eventJSON, &status, &job.Lane,
		&job.Log, &job.OutputID, &claimedBy, &job.CreatedAt,
		&startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Module = module.String
	job.ModuleEventName = modEvName.String
	job.ClaimedBy = claimedBy.String
	job.Status = Status(status)
	job.StartedAt = timePtr(startedAt)
	job.FinishedAt = timePtr(finishedAt)

	if err := json.Unmarshal(eventJSON, &job.EventData); err != nil {
		return nil, fmt.Errorf("unmarshal event data of job %d: %w", job.ID, err)
	}

	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*Job, error) {
	defer rows.Close()

	var result []*Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}

		result = append(result, job)
	}

	return result, rows.Err()
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		return &t.Time
	}

	return nil
}
