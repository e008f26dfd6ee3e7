package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "jex:lock:"

// releaseScript deletes the lease only if the caller still holds it.
// Without the token check a holder whose lease expired could release a
// successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock is the multi-instance TaskLock: SET NX EX with a per-lease
// token and a token-checked release.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLock returns a Redis-backed lock with the given lease TTL.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		ttl:    ttl,
		tokens: make(map[string]string),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, taskID string) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockPrefix+taskID, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring task lock: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.tokens[taskID] = token
		l.mu.Unlock()
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context, taskID string) error {
	l.mu.Lock()
	token, held := l.tokens[taskID]
	delete(l.tokens, taskID)
	l.mu.Unlock()
	if !held {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{lockPrefix + taskID}, token).Err(); err != nil {
		return fmt.Errorf("releasing task lock: %w", err)
	}
	return nil
}
