// Package cleanup provides data retention for task rows.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/jexlab/jex/pkg/config"
)

// RetentionStore is the slice of the task store the cleanup loop needs.
type RetentionStore interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAbandonedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces retention policies:
//   - Deletes finished tasks (completed or failed) past the retention window
//   - Deletes abandoned tasks the client never advanced past inquiry
//
// Deletes are idempotent and safe to run from multiple replicas.
type Service struct {
	config *config.RetentionConfig
	tasks  RetentionStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, tasks RetentionStore) *Service {
	return &Service{
		config: cfg,
		tasks:  tasks,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"task_retention_days", s.config.TaskRetentionDays,
		"abandoned_ttl", s.config.AbandonedTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeFinishedTasks(ctx)
	s.purgeAbandonedTasks(ctx)
}

func (s *Service) purgeFinishedTasks(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.TaskRetentionDays)
	count, err := s.tasks.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: finished task purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged finished tasks", "count", count)
	}
}

func (s *Service) purgeAbandonedTasks(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.AbandonedTTL)
	count, err := s.tasks.DeleteAbandonedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: abandoned task purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged abandoned tasks", "count", count)
	}
}
