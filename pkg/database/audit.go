package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jexlab/jex/pkg/models"
)

// AuditStore persists audit trail rows.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore returns a store bound to the client's pool.
func NewAuditStore(client *Client) *AuditStore {
	return &AuditStore{pool: client.Pool}
}

// InsertBatch writes a task's accumulated audit entries in one
// round-trip.
func (s *AuditStore) InsertBatch(ctx context.Context, taskID string, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"audit_trails"},
		[]string{"task_id", "step", "phase", "actor", "action", "input", "output", "reasoning", "tokens_used", "cost"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{taskID, e.Step, e.Phase, e.Actor, e.Action, e.Input, e.Output, e.Reasoning, e.TokensUsed, e.Cost}, nil
		}))
	if err != nil {
		return fmt.Errorf("inserting audit batch: %w", err)
	}
	return nil
}

// ListByTask returns a task's audit entries in step order.
func (s *AuditStore) ListByTask(ctx context.Context, taskID string) ([]models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT step, phase, actor, action, input, output, reasoning, tokens_used, cost
		FROM audit_trails WHERE task_id = $1 ORDER BY step`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.Step, &e.Phase, &e.Actor, &e.Action, &e.Input,
			&e.Output, &e.Reasoning, &e.TokensUsed, &e.Cost); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return entries, nil
}
