package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/config"
)

type fakeRetentionStore struct {
	mu               sync.Mutex
	finishedCutoffs  []time.Time
	abandonedCutoffs []time.Time
	finishedErr      error
	abandonedCount   int64
}

func (f *fakeRetentionStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishedCutoffs = append(f.finishedCutoffs, cutoff)
	if f.finishedErr != nil {
		return 0, f.finishedErr
	}
	return 2, nil
}

func (f *fakeRetentionStore) DeleteAbandonedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandonedCutoffs = append(f.abandonedCutoffs, cutoff)
	return f.abandonedCount, nil
}

func (f *fakeRetentionStore) calls() (finished, abandoned int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finishedCutoffs), len(f.abandonedCutoffs)
}

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		TaskRetentionDays: 30,
		AbandonedTTL:      24 * time.Hour,
		CleanupInterval:   time.Hour,
	}
}

func TestService_RunAllUsesConfiguredCutoffs(t *testing.T) {
	store := &fakeRetentionStore{}
	svc := NewService(retentionConfig(), store)

	before := time.Now()
	svc.runAll(context.Background())

	require.Len(t, store.finishedCutoffs, 1)
	require.Len(t, store.abandonedCutoffs, 1)

	wantFinished := before.AddDate(0, 0, -30)
	assert.WithinDuration(t, wantFinished, store.finishedCutoffs[0], 5*time.Second)

	wantAbandoned := before.Add(-24 * time.Hour)
	assert.WithinDuration(t, wantAbandoned, store.abandonedCutoffs[0], 5*time.Second)
}

func TestService_PurgeErrorDoesNotStopOtherPurges(t *testing.T) {
	store := &fakeRetentionStore{finishedErr: errors.New("db down")}
	svc := NewService(retentionConfig(), store)

	svc.runAll(context.Background())

	finished, abandoned := store.calls()
	assert.Equal(t, 1, finished)
	assert.Equal(t, 1, abandoned, "abandoned purge should still run after finished purge fails")
}

func TestService_StartRunsImmediatelyAndStops(t *testing.T) {
	store := &fakeRetentionStore{}
	svc := NewService(retentionConfig(), store)

	svc.Start(context.Background())

	// The loop runs once up front, before the first tick.
	require.Eventually(t, func() bool {
		finished, _ := store.calls()
		return finished >= 1
	}, 2*time.Second, 10*time.Millisecond)

	svc.Stop()

	finished, _ := store.calls()
	time.Sleep(50 * time.Millisecond)
	after, _ := store.calls()
	assert.Equal(t, finished, after, "no purges after Stop")
}

func TestService_StartIsIdempotent(t *testing.T) {
	store := &fakeRetentionStore{}
	svc := NewService(retentionConfig(), store)

	svc.Start(context.Background())
	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		finished, _ := store.calls()
		return finished == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_StopWithoutStart(t *testing.T) {
	svc := NewService(retentionConfig(), &fakeRetentionStore{})
	svc.Stop()
}
