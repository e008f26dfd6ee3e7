// Package e2e boots a complete orchestrator instance against a real
// database and drives it over HTTP and WebSocket, with the upstream
// endpoints replaced by scripted responses.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/api"
	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/database"
	"github.com/jexlab/jex/pkg/events"
	"github.com/jexlab/jex/pkg/locks"
	"github.com/jexlab/jex/pkg/services"
	"github.com/jexlab/jex/pkg/worker"
	testdb "github.com/jexlab/jex/test/database"
)

// TestApp is a full orchestrator instance for end-to-end tests.
type TestApp struct {
	Config *config.Config
	DB     *database.Client
	Tasks  *database.TaskStore
	Users  *database.UserStore
	Audit  *database.AuditStore

	// Caller replaces the upstream endpoints with scripted responses.
	Caller *ScriptedCaller

	Bus     events.Bus
	Runner  *worker.Runner
	Service *services.TaskService
	Server  *api.Server

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/api/v1/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg    *config.Config
	caller *ScriptedCaller
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithCaller sets a pre-scripted upstream caller.
func WithCaller(caller *ScriptedCaller) TestAppOption {
	return func(c *testAppConfig) { c.caller = caller }
}

// NewTestApp creates and starts a full orchestrator test instance on an
// ephemeral port. Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	if tc.caller == nil {
		tc.caller = NewScriptedCaller()
	}

	// 1. Database, migrated, one per test.
	db := testdb.NewTestClient(t)
	taskStore := database.NewTaskStore(db)
	userStore := database.NewUserStore(db)
	auditStore := database.NewAuditStore(db)

	// 2. In-process bus and lock. Multi-instance delivery has its own
	//    Redis-backed tests; here a single instance is the point.
	bus := events.NewMemoryBus(tc.cfg.Limits)
	lock := locks.NewMemoryLock(tc.cfg.Limits.LockTTL)

	// 3. Task graph over the scripted caller, shared by the foreground
	//    prelude and the background runner.
	graph, err := worker.NewTaskGraph(tc.caller, tc.cfg.Limits.HardRoundCap)
	require.NoError(t, err)

	runner := worker.NewRunner(graph, taskStore, userStore, auditStore, bus, lock, tc.cfg.Limits)
	quota := services.NewQuotaGate(userStore, tc.cfg.Flags.DisableQuotaCheck)
	service := services.NewTaskService(taskStore, quota, graph, tc.caller, runner, tc.cfg.Limits)

	// 4. HTTP server on a random port.
	server := api.NewServer(tc.cfg, db, service, bus)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	app := &TestApp{
		Config:  tc.cfg,
		DB:      db,
		Tasks:   taskStore,
		Users:   userStore,
		Audit:   auditStore,
		Caller:  tc.caller,
		Bus:     bus,
		Runner:  runner,
		Service: service,
		Server:  server,
		BaseURL: fmt.Sprintf("http://%s", addr),
		WSURL:   fmt.Sprintf("ws://%s/api/v1/ws", addr),
		t:       t,
	}

	// Cleanup in reverse-creation order. The database drop is handled
	// by testdb.NewTestClient.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		runner.Stop()
		bus.Close()
	})

	return app
}

// defaultTestConfig returns a config with timings cut down for tests:
// the runner barely waits for subscribers and the completion cache
// stays warm long enough for late reads.
func defaultTestConfig() *config.Config {
	limits := config.DefaultLimits()
	limits.SubscriberWait = 200 * time.Millisecond
	limits.EstimatedTime = 1

	return &config.Config{
		Endpoints: config.DefaultEndpoints(),
		Limits:    limits,
		Retention: config.DefaultRetention(),
		Flags:     config.FlagsConfig{},
	}
}
