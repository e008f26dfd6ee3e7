package database

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD",
		"DB_NAME", "DB_SSLMODE", "DB_MAX_CONNS", "DB_MIN_CONNS"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "jex", cfg.User)
	assert.Equal(t, "jex", cfg.Database)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxIdleTime)
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_USER", "svc")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "jex_prod")
	t.Setenv("DB_MAX_CONNS", "25")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "svc", cfg.User)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "jex_prod", cfg.Database)
	assert.Equal(t, int32(25), cfg.MaxConns)
}

func TestLoadConfigFromEnv_InvalidPort(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")

	_, err := LoadConfigFromEnv()
	assert.ErrorContains(t, err, "DB_PORT")
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{
		Host:     "localhost",
		Port:     5432,
		User:     "jex",
		Password: "pw",
		Database: "jex",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=jex password=pw dbname=jex sslmode=disable",
		cfg.DSN())
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	var ups, downs int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Greater(t, ups, 0, "migrations must be embedded in the binary")
	assert.Equal(t, ups, downs, "every up migration needs a down")
}
