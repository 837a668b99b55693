package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Job statuses in match_jobs.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

type Job struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAt       time.Time       `json:"run_at"`
	LastError   *string         `json:"last_error"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	LockedAt    *time.Time      `json:"locked_at"`
}

// Queue is a Postgres-backed work queue. Claimed jobs are delivered at least
// once: a job whose worker dies stays "running" until RequeueStale resets it.
type Queue struct {
	pool *pgxpool.Pool
}

func NewQueue(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

const jobCols = `id, kind, payload, status, attempts, max_attempts, run_at, last_error, created_at, updated_at, locked_at`

// claimSQL takes the oldest runnable job that still has attempts left.
const claimSQL = `
	UPDATE match_jobs SET status = 'running', attempts = attempts + 1, locked_at = NOW(), updated_at = NOW()
	WHERE id = (
		SELECT id FROM match_jobs
		WHERE status = 'queued' AND run_at <= NOW() AND attempts < max_attempts
		ORDER BY run_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	)
	RETURNING ` + jobCols

// requeueStaleSQL releases jobs whose worker stopped reporting. A job that has
// used every attempt is failed instead of queued again.
const requeueStaleSQL = `
	UPDATE match_jobs SET
		status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'queued' END,
		last_error = CASE WHEN attempts >= max_attempts THEN 'worker timed out' ELSE last_error END,
		locked_at = NULL,
		updated_at = NOW()
	WHERE status = 'running' AND locked_at < NOW() - ($1::float8 * INTERVAL '1 millisecond')`

func scanJob(scan func(dest ...interface{}) error) (Job, error) {
	var j Job
	err := scan(&j.ID, &j.Kind, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.RunAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &j.LockedAt)
	return j, err
}

func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, maxAttempts int) (uuid.UUID, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	var id uuid.UUID
	err := q.pool.QueryRow(ctx, `
		INSERT INTO match_jobs (kind, payload, max_attempts)
		VALUES ($1, $2, $3)
		RETURNING id
	`, kind, payload, maxAttempts).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return id, nil
}

// Claim locks the oldest runnable job and marks it running. It returns
// (nil, nil) when nothing is ready.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	row := q.pool.QueryRow(ctx, claimSQL)

	j, err := scanJob(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &j, nil
}

func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE match_jobs SET status = 'done', locked_at = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// Fail records the error and either schedules a retry or gives up once the
// job has used all its attempts.
func (q *Queue) Fail(ctx context.Context, job Job, cause error) error {
	status := JobQueued
	if job.Attempts >= job.MaxAttempts {
		status = JobFailed
	}
	delay := RetryDelay(job.Attempts)

	_, err := q.pool.Exec(ctx, `
		UPDATE match_jobs
		SET status = $2, last_error = $3, locked_at = NULL,
			run_at = NOW() + ($4::float8 * INTERVAL '1 millisecond'), updated_at = NOW()
		WHERE id = $1
	`, job.ID, status, cause.Error(), delay.Milliseconds())
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return nil
}

// RequeueStale returns jobs stuck in "running" longer than olderThan to the
// queue, or fails them when no attempts are left.
func (q *Queue) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := q.pool.Exec(ctx, requeueStaleSQL, olderThan.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := q.pool.Query(ctx, "SELECT status, COUNT(*) FROM match_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{JobQueued: 0, JobRunning: 0, JobDone: 0, JobFailed: 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (q *Queue) Recent(ctx context.Context, limit int) ([]Job, error) {
	rows, err := q.pool.Query(ctx, "SELECT "+jobCols+" FROM match_jobs ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// RetryDelay is the exponential backoff before attempt n+1: 5s, 10s, 20s, ...
// capped at ten minutes.
func RetryDelay(attempts int) time.Duration {
	const (
		base     = 5 * time.Second
		maxDelay = 10 * time.Minute
	)
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}
