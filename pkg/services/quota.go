package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jexlab/jex/pkg/metrics"
)

// QuotaStore is the slice of the user store the quota gate needs.
type QuotaStore interface {
	IncrementDailyUsed(ctx context.Context, userID string) (bool, error)
	DecrementDailyUsed(ctx context.Context, userID string) error
}

// QuotaGate meters task creation against the user's daily allowance.
// The counter is consumed before the task row exists, so every failure
// after a successful Consume must be paired with a Refund.
type QuotaGate struct {
	users    QuotaStore
	disabled bool
	logger   *slog.Logger
}

// NewQuotaGate creates a quota gate. When disabled it admits everything,
// which is only meant for development environments.
func NewQuotaGate(users QuotaStore, disabled bool) *QuotaGate {
	return &QuotaGate{
		users:    users,
		disabled: disabled,
		logger:   slog.With("component", "quota"),
	}
}

// Consume takes one unit of today's allowance. ErrQuotaExceeded covers
// both an exhausted counter and an unknown user: the atomic increment
// cannot tell them apart, and neither may create a task.
func (g *QuotaGate) Consume(ctx context.Context, userID string) error {
	if g.disabled {
		return nil
	}
	ok, err := g.users.IncrementDailyUsed(ctx, userID)
	if err != nil {
		return fmt.Errorf("consuming quota: %w", err)
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// Refund gives back a unit consumed for a task that never launched.
// A failed refund is logged and counted, not returned: the creation
// error that triggered the refund is the one the caller reports.
func (g *QuotaGate) Refund(ctx context.Context, userID string) {
	if g.disabled {
		return
	}
	metrics.QuotaRollbacks.Inc()
	if err := g.users.DecrementDailyUsed(ctx, userID); err != nil {
		g.logger.Error("Quota refund failed, user keeps one unit charged",
			"user_id", userID,
			"error", err)
	}
}
