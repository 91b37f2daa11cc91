// Package e2e boots a complete delver instance and drives it over HTTP
// and WebSocket. Scripted models and canned search backends stand in
// for the external services; everything else is the real stack.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/api"
	"github.com/probelab/delver/pkg/auth"
	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/events"
	"github.com/probelab/delver/pkg/flow"
	"github.com/probelab/delver/pkg/llm"
	"github.com/probelab/delver/pkg/metrics"
	"github.com/probelab/delver/pkg/reporter"
	"github.com/probelab/delver/pkg/research"
	"github.com/probelab/delver/pkg/resilience"
	"github.com/probelab/delver/pkg/scheduler"
	"github.com/probelab/delver/pkg/search"
)

// Static API keys the harness registers with the auth gate. Helpers
// default to OperatorKey; the error and alert endpoints need AdminKey.
const (
	OperatorKey = "e2e-operator-key"
	AdminKey    = "e2e-admin-key"
)

// TestApp is one booted delver instance.
type TestApp struct {
	Config      *config.Config
	Flows       *flow.Manager
	Scheduler   *scheduler.Scheduler
	Reporter    *reporter.Reporter
	Metrics     *metrics.Metrics
	Breakers    *resilience.BreakerRegistry
	ConnManager *events.ConnectionManager
	Model       *llm.Scripted
	Server      *api.Server

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	model    *llm.Scripted
	backends []search.Backend
	mutate   func(*config.Config)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithModel installs a scripted model as the "openai" provider.
func WithModel(model *llm.Scripted) TestAppOption {
	return func(c *testAppConfig) { c.model = model }
}

// WithBackends replaces the default canned search backend.
func WithBackends(backends ...search.Backend) TestAppOption {
	return func(c *testAppConfig) { c.backends = backends }
}

// WithConfig mutates the config after the test defaults are applied.
func WithConfig(fn func(*config.Config)) TestAppOption {
	return func(c *testAppConfig) { c.mutate = fn }
}

// NewTestApp boots a full delver instance on a random localhost port.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}

	// 1. Config tuned for fast, deterministic runs: no retries, no
	// cache, no on-disk error reports.
	cfg := config.Default()
	cfg.ModelRegistry = config.NewModelProviderRegistry(nil)
	cfg.Resilience.Retry.MaxAttempts = 1
	cfg.Resilience.Retry.BaseDelay = 0
	cfg.Search.Backends = nil
	cfg.Scheduler.DefaultTaskTimeout = 20 * time.Second
	cfg.Scheduler.MaxWorkers = 4
	cfg.Flows.FlowTimeout = 20 * time.Second
	cfg.Reporter.PersistDir = ""
	cfg.Research.EnableSearchCache = false
	cfg.Research.MaxRetries = 1
	cfg.Research.RetryDelay = 0.001
	if tc.mutate != nil {
		tc.mutate(cfg)
	}

	// 2. Metrics, event bus, error reporter.
	m := metrics.New()
	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	rep := reporter.New(cfg.Reporter, cfg.Server.Environment, publisher, m)

	// 3. Scripted model and canned search backends.
	model := tc.model
	if model == nil {
		model = llm.NewScripted("openai", nil)
	}
	breakers := resilience.NewBreakerRegistry()
	client := llm.NewClient(cfg, breakers, m)
	client.Register(model)

	registry := search.NewRegistry(cfg, breakers, rep, m)
	backends := tc.backends
	if len(backends) == 0 {
		backends = []search.Backend{NewCannedBackend("tavily")}
	}
	for _, b := range backends {
		registry.Register(b)
	}

	// 4. Pipeline stages, scheduler, flow manager.
	stages := research.NewStages(registry, client, rep)
	sched := scheduler.New(cfg.Scheduler, publisher, m)
	sched.Start()
	flows := flow.NewManager(cfg, stages, sched, publisher, rep, m)

	// 5. WebSocket manager and auth gate.
	connManager := events.NewConnectionManager(5 * time.Second)
	connManager.AttachBus(bus)
	keys, err := auth.ParseStaticKeys(OperatorKey + "=operator," + AdminKey + "=admin")
	require.NoError(t, err)

	// 6. HTTP server on a random port.
	srv := api.NewServer(cfg, flows, sched, rep, m, breakers, connManager, auth.NewKeyGate(keys))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = srv.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	app := &TestApp{
		Config:      cfg,
		Flows:       flows,
		Scheduler:   sched,
		Reporter:    rep,
		Metrics:     m,
		Breakers:    breakers,
		ConnManager: connManager,
		Model:       model,
		Server:      srv,
		BaseURL:     fmt.Sprintf("http://%s", addr),
		WSURL:       fmt.Sprintf("ws://%s/ws", addr),
		t:           t,
	}

	// Shutdown in reverse creation order. Server.Shutdown closes the
	// websocket connections before draining.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		sched.Stop(shutdownCtx)
	})

	return app
}
