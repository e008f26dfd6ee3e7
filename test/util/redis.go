package util

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	redistc "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	sharedRedisURL string
	redisOnce      sync.Once
	redisErr       error
)

// SetupTestRedis returns a Redis client backed by a shared container.
// Tests share the server, so keys must be namespaced (task IDs already are).
// - CI: connects to an external Redis from CI_REDIS_URL
// - Local: uses a shared testcontainer (started once per package)
func SetupTestRedis(t *testing.T) *redis.Client {
	connStr := getOrCreateSharedRedis(t)

	opts, err := redis.ParseURL(connStr)
	require.NoError(t, err, "invalid test Redis URL")

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err(), "Redis not reachable")

	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func getOrCreateSharedRedis(t *testing.T) string {
	if ciRedisURL := os.Getenv("CI_REDIS_URL"); ciRedisURL != "" {
		t.Log("Using external Redis from CI_REDIS_URL")
		return ciRedisURL
	}

	redisOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared Redis testcontainer for all tests")

		redisContainer, err := redistc.Run(ctx, "redis:7-alpine")
		if err != nil {
			redisErr = fmt.Errorf("failed to start redis container: %w", err)
			return
		}

		connStr, err := redisContainer.ConnectionString(ctx)
		if err != nil {
			redisErr = fmt.Errorf("failed to get redis connection string: %w", err)
			return
		}

		sharedRedisURL = connStr
		t.Logf("Shared Redis container ready: %s", sharedRedisURL)
	})

	require.NoError(t, redisErr, "Failed to setup shared Redis container")
	return sharedRedisURL
}
