package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/volantino-labs/flyer-extractor/constants"
	"github.com/volantino-labs/flyer-extractor/internal/common"
	"github.com/volantino-labs/flyer-extractor/internal/entity"
)

// JobRepository persists job lifecycle state. All status transitions go
// through here so the timestamp and progress invariants live in one place.
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id string) (*entity.Job, error)
	ClaimNextQueued(ctx context.Context) (*entity.Job, error)
	UpdateStatus(ctx context.Context, id string, status constants.JobStatus, progress int, message string) error
	SetProgress(ctx context.Context, id string, progress int, message string) error
	Finalize(ctx context.Context, id string, status constants.JobStatus, message string, totalProducts int) error
	Requeue(ctx context.Context, id string, message string) (bool, error)
	ListStuck(ctx context.Context, cutoff time.Time, bandLow, bandHigh int, bandOnly bool) ([]*entity.Job, error)
	Recent(ctx context.Context, limit int) ([]*entity.Job, error)
	Stats(ctx context.Context) (map[constants.JobStatus]int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type jobRepo struct {
	s *Store
}

// NewJobRepository builds the SQL-backed job repository.
func NewJobRepository(s *Store) JobRepository {
	return &jobRepo{s: s}
}

var jobColumns = []string{
	"id", "filename", "file_path", "source_url", "supermarket_name",
	"status", "progress", "message", "requeued_count",
	"created_at", "started_at", "completed_at", "processing_time", "total_products",
}

func (r *jobRepo) Create(ctx context.Context, job *entity.Job) error {
	if job.Status == "" {
		job.Status = constants.JobQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	query, args, err := r.s.SB.Insert("jobs").
		Columns("id", "filename", "file_path", "source_url", "supermarket_name",
			"status", "progress", "message", "requeued_count", "created_at", "total_products").
		Values(job.ID, job.Filename, job.FilePath, job.SourceURL, job.SupermarketName,
			string(job.Status), job.Progress, job.Message, job.RequeuedCount, job.CreatedAt, job.TotalProducts).
		ToSql()
	if err != nil {
		return fmt.Errorf("building job insert: %w", err)
	}
	return r.s.withRetry(ctx, "job.create", func(ctx context.Context) error {
		_, err := r.s.DB.ExecContext(ctx, query, args...)
		if err != nil {
			return common.WrapError(err, "inserting job")
		}
		return nil
	})
}

func (r *jobRepo) Get(ctx context.Context, id string) (*entity.Job, error) {
	query, args, err := r.s.SB.Select(jobColumns...).
		From("jobs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building job select: %w", err)
	}
	var job *entity.Job
	err = r.s.withRetry(ctx, "job.get", func(ctx context.Context) error {
		row := r.s.DB.QueryRowContext(ctx, query, args...)
		j, scanErr := scanJob(row)
		if scanErr != nil {
			return scanErr
		}
		job = j
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("JOB_NOT_FOUND", fmt.Sprintf("job %s", id), common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNextQueued atomically moves the oldest queued job to processing
// and returns it. The single-statement update is the concurrency guard:
// two workers can never claim the same job. Returns nil when the queue is
// empty.
func (r *jobRepo) ClaimNextQueued(ctx context.Context) (*entity.Job, error) {
	now := time.Now().UTC()
	query := `UPDATE jobs
		SET status = ?, started_at = COALESCE(started_at, ?), message = ?
		WHERE id = (
			SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1
		) AND status = ?
		RETURNING ` + columnList()
	query, args := r.s.rebind(query,
		string(constants.JobProcessing), now, "Processing started",
		string(constants.JobQueued), string(constants.JobQueued))

	var job *entity.Job
	err := r.s.withRetry(ctx, "job.claim", func(ctx context.Context) error {
		row := r.s.DB.QueryRowContext(ctx, query, args...)
		j, scanErr := scanJob(row)
		if scanErr != nil {
			return scanErr
		}
		job = j
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateStatus applies a status transition. started_at and completed_at
// are set exactly once via COALESCE; progress never moves backwards.
func (r *jobRepo) UpdateStatus(ctx context.Context, id string, status constants.JobStatus, progress int, message string) error {
	now := time.Now().UTC()
	ub := r.s.SB.Update("jobs").
		Set("status", string(status)).
		Set("message", message).
		Set("progress", sq.Expr("CASE WHEN progress < ? THEN ? ELSE progress END", progress, progress)).
		Where(sq.Eq{"id": id})
	if status == constants.JobProcessing {
		ub = ub.Set("started_at", sq.Expr("COALESCE(started_at, ?)", now))
	}
	if status.IsTerminal() {
		ub = ub.Set("completed_at", sq.Expr("COALESCE(completed_at, ?)", now))
	}
	query, args, err := ub.ToSql()
	if err != nil {
		return fmt.Errorf("building status update: %w", err)
	}
	return r.s.withRetry(ctx, "job.update_status", func(ctx context.Context) error {
		res, err := r.s.DB.ExecContext(ctx, query, args...)
		if err != nil {
			return common.WrapError(err, "updating job status")
		}
		return requireRow(res, id)
	})
}

// SetProgress advances progress and message without touching status.
// Stale writes from slow page workers are absorbed by the monotonic
// guard.
func (r *jobRepo) SetProgress(ctx context.Context, id string, progress int, message string) error {
	query, args, err := r.s.SB.Update("jobs").
		Set("progress", sq.Expr("CASE WHEN progress < ? THEN ? ELSE progress END", progress, progress)).
		Set("message", message).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building progress update: %w", err)
	}
	return r.s.withRetry(ctx, "job.set_progress", func(ctx context.Context) error {
		res, err := r.s.DB.ExecContext(ctx, query, args...)
		if err != nil {
			return common.WrapError(err, "updating job progress")
		}
		return requireRow(res, id)
	})
}

// Finalize moves the job to a terminal status, records totals, and
// derives processing_time from started_at. Re-finalizing keeps the first
// completion timestamp.
func (r *jobRepo) Finalize(ctx context.Context, id string, status constants.JobStatus, message string, totalProducts int) error {
	if !status.IsTerminal() {
		return common.NewAppError("INVALID_TRANSITION", fmt.Sprintf("finalize to %s", status), common.ErrInvalidInput)
	}
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	var procTime *float64
	if job.StartedAt != nil {
		secs := now.Sub(*job.StartedAt).Seconds()
		procTime = &secs
	}

	progress := 100
	if status == constants.JobFailed {
		progress = job.Progress
	}
	ub := r.s.SB.Update("jobs").
		Set("status", string(status)).
		Set("message", message).
		Set("total_products", totalProducts).
		Set("completed_at", sq.Expr("COALESCE(completed_at, ?)", now)).
		Where(sq.Eq{"id": id})
	if procTime != nil {
		ub = ub.Set("processing_time", *procTime)
	}
	if status == constants.JobCompleted {
		ub = ub.Set("progress", progress)
	}
	query, args, err := ub.ToSql()
	if err != nil {
		return fmt.Errorf("building finalize update: %w", err)
	}
	return r.s.withRetry(ctx, "job.finalize", func(ctx context.Context) error {
		res, err := r.s.DB.ExecContext(ctx, query, args...)
		if err != nil {
			return common.WrapError(err, "finalizing job")
		}
		return requireRow(res, id)
	})
}

// Requeue returns a stalled processing job to the queue for one more
// attempt. The status guard makes the recovery exactly-once: of any
// number of concurrent sweepers, only the one whose update hits the
// processing row wins. started_at is cleared so the retry gets a fresh
// duration measurement.
func (r *jobRepo) Requeue(ctx context.Context, id string, message string) (bool, error) {
	query, args, err := r.s.SB.Update("jobs").
		Set("status", string(constants.JobQueued)).
		Set("progress", 0).
		Set("message", message).
		Set("started_at", nil).
		Set("requeued_count", sq.Expr("requeued_count + 1")).
		Where(sq.Eq{"id": id, "status": string(constants.JobProcessing)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building requeue update: %w", err)
	}
	var won bool
	err = r.s.withRetry(ctx, "job.requeue", func(ctx context.Context) error {
		res, execErr := r.s.DB.ExecContext(ctx, query, args...)
		if execErr != nil {
			return common.WrapError(execErr, "requeueing job")
		}
		n, _ := res.RowsAffected()
		won = n == 1
		return nil
	})
	return won, err
}

// ListStuck returns processing jobs whose reference timestamp is older
// than cutoff. started_at is the reference; jobs that died before setting
// it fall back to created_at. bandOnly narrows the match to a progress
// window.
func (r *jobRepo) ListStuck(ctx context.Context, cutoff time.Time, bandLow, bandHigh int, bandOnly bool) ([]*entity.Job, error) {
	sb := r.s.SB.Select(jobColumns...).
		From("jobs").
		Where(sq.Eq{"status": string(constants.JobProcessing)}).
		Where(sq.Lt{"COALESCE(started_at, created_at)": cutoff}).
		OrderBy("created_at")
	if bandOnly {
		sb = sb.Where(sq.GtOrEq{"progress": bandLow}).Where(sq.LtOrEq{"progress": bandHigh})
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stuck select: %w", err)
	}
	return r.queryJobs(ctx, "job.list_stuck", query, args)
}

func (r *jobRepo) Recent(ctx context.Context, limit int) ([]*entity.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := r.s.SB.Select(jobColumns...).
		From("jobs").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building recent select: %w", err)
	}
	return r.queryJobs(ctx, "job.recent", query, args)
}

func (r *jobRepo) Stats(ctx context.Context) (map[constants.JobStatus]int, error) {
	query, args, err := r.s.SB.Select("status", "COUNT(*)").
		From("jobs").
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stats select: %w", err)
	}
	out := make(map[constants.JobStatus]int)
	err = r.s.withRetry(ctx, "job.stats", func(ctx context.Context) error {
		rows, qErr := r.s.DB.QueryContext(ctx, query, args...)
		if qErr != nil {
			return common.WrapError(qErr, "querying job stats")
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var count int
			if sErr := rows.Scan(&status, &count); sErr != nil {
				return sErr
			}
			out[constants.JobStatus(status)] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteOlderThan removes terminal jobs created before cutoff. Products
// go with them via the foreign key cascade.
func (r *jobRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := r.s.SB.Delete("jobs").
		Where(sq.Lt{"created_at": cutoff}).
		Where(sq.Eq{"status": []string{string(constants.JobCompleted), string(constants.JobFailed)}}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building retention delete: %w", err)
	}
	var n int64
	err = r.s.withRetry(ctx, "job.retention", func(ctx context.Context) error {
		res, execErr := r.s.DB.ExecContext(ctx, query, args...)
		if execErr != nil {
			return common.WrapError(execErr, "deleting old jobs")
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func (r *jobRepo) queryJobs(ctx context.Context, op, query string, args []interface{}) ([]*entity.Job, error) {
	var jobs []*entity.Job
	err := r.s.withRetry(ctx, op, func(ctx context.Context) error {
		rows, qErr := r.s.DB.QueryContext(ctx, query, args...)
		if qErr != nil {
			return common.WrapError(qErr, "querying jobs")
		}
		defer rows.Close()
		jobs = jobs[:0]
		for rows.Next() {
			j, sErr := scanJob(rows)
			if sErr != nil {
				return sErr
			}
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		j           entity.Job
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		procTime    sql.NullFloat64
	)
	err := row.Scan(
		&j.ID, &j.Filename, &j.FilePath, &j.SourceURL, &j.SupermarketName,
		&status, &j.Progress, &j.Message, &j.RequeuedCount,
		&j.CreatedAt, &startedAt, &completedAt, &procTime, &j.TotalProducts,
	)
	if err != nil {
		return nil, err
	}
	j.Status = constants.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if procTime.Valid {
		v := procTime.Float64
		j.ProcessingTime = &v
	}
	return &j, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NewAppError("JOB_NOT_FOUND", fmt.Sprintf("job %s", id), common.ErrNotFound)
	}
	return nil
}

func columnList() string {
	out := ""
	for i, c := range jobColumns {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// rebind rewrites question-mark placeholders for the store's dialect.
// Hand-written statements (the claim query) use ? and go through here;
// builder-generated SQL is already correct.
func (s *Store) rebind(query string, args ...interface{}) (string, []interface{}) {
	q, err := s.placeholder.ReplacePlaceholders(query)
	if err != nil {
		return query, args
	}
	return q, args
}
