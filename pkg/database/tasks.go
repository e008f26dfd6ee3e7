package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jexlab/jex/pkg/models"
)

const taskColumns = `id, user_id, scene, user_input, status, collected_info,
	processing_state, output, cost, duration, created_at, completed_at`

// TaskStore persists task rows.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore returns a store bound to the client's pool.
func NewTaskStore(client *Client) *TaskStore {
	return &TaskStore{pool: client.Pool}
}

// Insert persists a freshly created task.
func (s *TaskStore) Insert(ctx context.Context, task *models.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, user_id, scene, user_input, status, collected_info, cost, duration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.UserID, task.Scene, task.UserInput, task.Status,
		task.CollectedInfo, task.Cost, task.Duration, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// Get loads one task, or ErrNotFound.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	return task, nil
}

// ListByUser returns one page of the user's tasks, newest first, plus
// the total count.
func (s *TaskStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Task, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting tasks: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*models.Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, total, nil
}

// UpdateProcessingState persists the collected info, the serialized
// hand-off state, and the cost accumulated by the inquiry phases.
func (s *TaskStore) UpdateProcessingState(ctx context.Context, taskID string, collectedInfo map[string]any, state json.RawMessage, cost float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET collected_info = $2, processing_state = $3, cost = $4
		WHERE id = $1`,
		taskID, collectedInfo, state, cost)
	if err != nil {
		return fmt.Errorf("updating processing state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CASStatus transitions the task's status only when it still has the
// expected one. It reports whether the swap happened.
func (s *TaskStore) CASStatus(ctx context.Context, taskID string, from, to models.TaskStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $3 WHERE id = $1 AND status = $2`,
		taskID, from, to)
	if err != nil {
		return false, fmt.Errorf("swapping task status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete atomically finalizes a successful task: status, output,
// accumulated cost, duration, and the completion timestamp.
func (s *TaskStore) Complete(ctx context.Context, taskID string, output json.RawMessage, cost float64, duration int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $2, output = $3, cost = $4, duration = $5, completed_at = now()
		WHERE id = $1`,
		taskID, models.StatusCompleted, output, cost, duration)
	if err != nil {
		return fmt.Errorf("completing task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFinishedBefore removes completed and failed tasks older than
// the cutoff. Audit rows cascade with them.
func (s *TaskStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE status IN ($1, $2) AND COALESCE(completed_at, created_at) < $3`,
		models.StatusCompleted, models.StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting finished tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAbandonedBefore removes tasks still waiting on the client
// (inquiring or ready_for_processing) older than the cutoff.
func (s *TaskStore) DeleteAbandonedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE status IN ($1, $2) AND created_at < $3`,
		models.StatusInquiring, models.StatusReadyForProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting abandoned tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Fail marks the task failed with the error payload as its output.
func (s *TaskStore) Fail(ctx context.Context, taskID string, output json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, output = $3 WHERE id = $1`,
		taskID, models.StatusFailed, output)
	if err != nil {
		return fmt.Errorf("failing task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var task models.Task
	err := row.Scan(
		&task.ID, &task.UserID, &task.Scene, &task.UserInput, &task.Status,
		&task.CollectedInfo, &task.ProcessingState, &task.Output,
		&task.Cost, &task.Duration, &task.CreatedAt, &task.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &task, nil
}
