// Package postgres is the task queue used when Redis is not configured.
// Tasks are rows; workers claim them with FOR UPDATE SKIP LOCKED.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var _ driven.TaskQueue = (*Queue)(nil)

// DefaultVisibilityTimeout is how long a claimed task may stay in
// processing before another worker may take it over.
const DefaultVisibilityTimeout = 10 * time.Minute

// Queue is a polling task queue over the tasks table
type Queue struct {
	db                *sql.DB
	pollInterval      time.Duration
	visibilityTimeout time.Duration
	now               func() time.Time
}

// NewQueue creates a queue on db. The tasks table comes from the schema.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		db:                db,
		pollInterval:      time.Second,
		visibilityTimeout: DefaultVisibilityTimeout,
		now:               time.Now,
	}
}

const taskColumns = `id, type, owner_id, payload, status, priority,
	attempts, max_attempts, error, created_at, updated_at,
	started_at, completed_at, scheduled_for`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var (
		task                   domain.Task
		payload                []byte
		errText                sql.NullString
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&task.ID, &task.Type, &task.OwnerID, &payload, &task.Status, &task.Priority,
		&task.Attempts, &task.MaxAttempts, &errText, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &completedAt, &task.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", task.ID, err)
		}
	}
	task.Error = errText.String
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}

// Enqueue inserts task. Re-enqueueing an id that is already pending or
// processing is a no-op, which keeps duplicate triggers from piling up.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, owner_id, payload, status, priority,
			attempts, max_attempts, error, created_at, updated_at, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		task.ID, task.Type, task.OwnerID, payload, task.Status, task.Priority,
		task.Attempts, task.MaxAttempts, task.Error, task.CreatedAt, task.UpdatedAt, task.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

// DequeueWithTimeout polls until a task is claimed or timeout seconds pass
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	deadline := q.now().Add(time.Duration(timeout) * time.Second)
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		task, err := q.claim(ctx)
		if err != nil || task != nil {
			return task, err
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// claim takes the best due task in one statement. Pending tasks are
// eligible once due; processing tasks once their claim has gone stale.
func (q *Queue) claim(ctx context.Context) (*domain.Task, error) {
	now := q.now()
	row := q.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = $1, started_at = $2, updated_at = $2, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE (status = $3 AND scheduled_for <= $2)
			   OR (status = $1 AND started_at < $4)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		domain.TaskStatusProcessing, now, domain.TaskStatusPending, now.Add(-q.visibilityTimeout),
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// Ack marks a task completed
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2, updated_at = $2, error = ''
		WHERE id = $3`,
		domain.TaskStatusCompleted, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	return requireRow(res)
}

// Nack reschedules a task with backoff while attempts remain and marks
// it failed after that.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	now := q.now()
	status, due := domain.TaskStatusFailed, task.ScheduledFor
	if task.CanRetry() {
		status, due = domain.TaskStatusPending, now.Add(domain.RetryBackoff(task.Attempts))
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, error = $2, updated_at = $3, scheduled_for = $4
		WHERE id = $5`,
		status, reason, now, due, taskID,
	)
	if err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}
	return requireRow(res)
}

// GetTask loads a task by id
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	return task, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close does nothing; the pool belongs to the caller
func (q *Queue) Close() error {
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
