package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jexlab/jex/pkg/models"
)

// UserStore persists user rows and drives the quota counters.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore returns a store bound to the client's pool.
func NewUserStore(client *Client) *UserStore {
	return &UserStore{pool: client.Pool}
}

// Get loads one user, or ErrNotFound.
func (s *UserStore) Get(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, tier, subscription_status, daily_quota,
			daily_used, total_tasks, total_spent, created_at
		FROM users WHERE id = $1`, userID).Scan(
		&user.ID, &user.Email, &user.Name, &user.Tier, &user.SubscriptionStatus,
		&user.DailyQuota, &user.DailyUsed, &user.TotalTasks, &user.TotalSpent,
		&user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &user, nil
}

// IncrementDailyUsed atomically consumes one unit of the user's daily
// quota. It reports false when the quota is exhausted or the user does
// not exist; the two are indistinguishable at the SQL function.
func (s *UserStore) IncrementDailyUsed(ctx context.Context, userID string) (bool, error) {
	var used *int
	err := s.pool.QueryRow(ctx,
		`SELECT increment_daily_used($1)`, userID).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("incrementing daily quota: %w", err)
	}
	return used != nil, nil
}

// DecrementDailyUsed is the compensating rollback after a failed task
// creation. The counter floors at zero.
func (s *UserStore) DecrementDailyUsed(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `SELECT decrement_daily_used($1)`, userID); err != nil {
		return fmt.Errorf("decrementing daily quota: %w", err)
	}
	return nil
}

// RecordCompletion accumulates the user's lifetime counters after a
// task produced a final document.
func (s *UserStore) RecordCompletion(ctx context.Context, userID string, cost float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET total_tasks = total_tasks + 1, total_spent = total_spent + $2
		WHERE id = $1`,
		userID, cost)
	if err != nil {
		return fmt.Errorf("recording completion: %w", err)
	}
	return nil
}
