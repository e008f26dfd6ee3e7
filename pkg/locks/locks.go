// Package locks provides the single-holder task lease that keeps two
// workers from processing the same task. Leases carry a TTL so a
// crashed holder cannot wedge a task forever.
package locks

import (
	"context"
	"sync"
	"time"
)

// TaskLock is a named single-holder lease.
type TaskLock interface {
	// Acquire takes the task's lease for the configured TTL. It reports
	// false when another holder has it.
	Acquire(ctx context.Context, taskID string) (bool, error)

	// Release frees the lease. Releasing a lease that is not held is a
	// no-op.
	Release(ctx context.Context, taskID string) error
}

// MemoryLock is the single-process TaskLock. Expired leases are
// reclaimed lazily on the next Acquire.
type MemoryLock struct {
	ttl time.Duration

	mu     sync.Mutex
	expiry map[string]time.Time
}

// NewMemoryLock returns an in-process lock with the given lease TTL.
func NewMemoryLock(ttl time.Duration) *MemoryLock {
	return &MemoryLock{
		ttl:    ttl,
		expiry: make(map[string]time.Time),
	}
}

func (l *MemoryLock) Acquire(ctx context.Context, taskID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if exp, ok := l.expiry[taskID]; ok && now.Before(exp) {
		return false, nil
	}
	l.expiry[taskID] = now.Add(l.ttl)
	return true, nil
}

func (l *MemoryLock) Release(ctx context.Context, taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.expiry, taskID)
	return nil
}
