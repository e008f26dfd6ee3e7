// Package database provides the shared test database client used by
// store-level and end-to-end tests.
package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/database"
	"github.com/jexlab/jex/test/util"
)

// NewTestClient creates a migrated database client on a per-test database.
// In CI (when CI_DATABASE_URL is set): connects to an external PostgreSQL
// service container. In local dev: spins up a shared testcontainer.
// The database and connections are cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	ctx := context.Background()

	cfg := util.SetupTestDatabase(t)

	// NewClient runs the embedded migrations before opening the pool.
	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(client.Close)
	return client
}
