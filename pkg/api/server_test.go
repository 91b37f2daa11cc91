package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/auth"
	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/events"
	"github.com/probelab/delver/pkg/flow"
	"github.com/probelab/delver/pkg/llm"
	"github.com/probelab/delver/pkg/metrics"
	"github.com/probelab/delver/pkg/models"
	"github.com/probelab/delver/pkg/reporter"
	"github.com/probelab/delver/pkg/research"
	"github.com/probelab/delver/pkg/resilience"
	"github.com/probelab/delver/pkg/scheduler"
	"github.com/probelab/delver/pkg/search"
)

const (
	viewerKey   = "viewer-key-0001"
	operatorKey = "operator-key-0002"
	adminKey    = "admin-key-0003"
)

// stubBackend answers every query with one canned hit.
type stubBackend struct{}

func (stubBackend) Name() string   { return "tavily" }
func (stubBackend) RateLimit() int { return 0 }

func (stubBackend) Search(_ context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	return []models.SearchHit{{
		Title:   "hit for " + req.Query,
		URL:     "https://example.org/hit",
		Content: "snippet about " + req.Query,
		Source:  "tavily",
	}}, nil
}

type fixture struct {
	srv      *Server
	flows    *flow.Manager
	reporter *reporter.Reporter
	cfg      *config.Config
}

// newFixture wires a server over a live scheduler with one scripted
// model, an in-memory search backend, and a static key gate.
func newFixture(t *testing.T, model llm.Model) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.ModelRegistry = config.NewModelProviderRegistry(nil)
	cfg.Resilience.Retry.MaxAttempts = 1
	cfg.Resilience.Retry.BaseDelay = 0
	cfg.Search.Backends = nil
	cfg.Scheduler.DefaultTaskTimeout = 10 * time.Second
	cfg.Flows.FlowTimeout = 10 * time.Second
	cfg.Reporter.PersistDir = ""
	cfg.Research.EnableSearchCache = false
	cfg.Research.MaxRetries = 1
	cfg.Research.RetryDelay = 0.001

	breakers := resilience.NewBreakerRegistry()
	client := llm.NewClient(cfg, breakers, nil)
	if model != nil {
		client.Register(model)
	}
	registry := search.NewRegistry(cfg, breakers, nil, nil)
	registry.Register(stubBackend{})
	stages := research.NewStages(registry, client, nil)

	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	m := metrics.New()
	rep := reporter.New(cfg.Reporter, cfg.Server.Environment, publisher, m)

	sched := scheduler.New(cfg.Scheduler, publisher, m)
	sched.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	connManager := events.NewConnectionManager(time.Second)
	connManager.AttachBus(bus)
	t.Cleanup(connManager.Close)

	keys, err := auth.ParseStaticKeys(viewerKey + "=viewer," + operatorKey + "=operator," + adminKey + "=admin")
	require.NoError(t, err)

	flows := flow.NewManager(cfg, stages, sched, publisher, rep, m)
	return &fixture{
		srv:      NewServer(cfg, flows, sched, rep, m, breakers, connManager, auth.NewKeyGate(keys)),
		flows:    flows,
		reporter: rep,
		cfg:      cfg,
	}
}

// do issues a request through the full router.
func (f *fixture) do(method, target, key, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	f.srv.echo.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestRoutesRequireAuthentication(t *testing.T) {
	f := newFixture(t, nil)

	routes := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/api/v1/flows"},
		{http.MethodPost, "/api/v1/flows/continue"},
		{http.MethodGet, "/api/v1/flows"},
		{http.MethodGet, "/api/v1/flows/some-id"},
		{http.MethodPost, "/api/v1/flows/some-id/cancel"},
		{http.MethodGet, "/api/v1/errors/stats"},
		{http.MethodGet, "/api/v1/errors/visualize"},
		{http.MethodGet, "/api/v1/errors/trends"},
		{http.MethodGet, "/api/v1/alerts"},
		{http.MethodPost, "/api/v1/alerts"},
		{http.MethodDelete, "/api/v1/alerts/0"},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.target, func(t *testing.T) {
			rec := f.do(route.method, route.target, "", "")
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			env := decodeMap(t, rec)
			assert.Equal(t, "AuthenticationError", env["error_type"])
			assert.NotEmpty(t, env["detail"])
		})
	}
}

func TestRoutesEnforcePermissions(t *testing.T) {
	f := newFixture(t, nil)

	denied := []struct {
		name   string
		method string
		target string
		key    string
	}{
		{"viewer cannot start flows", http.MethodPost, "/api/v1/flows", viewerKey},
		{"viewer cannot cancel flows", http.MethodPost, "/api/v1/flows/some-id/cancel", viewerKey},
		{"viewer cannot read error stats", http.MethodGet, "/api/v1/errors/stats", viewerKey},
		{"operator cannot read error stats", http.MethodGet, "/api/v1/errors/stats", operatorKey},
		{"operator cannot manage alerts", http.MethodGet, "/api/v1/alerts", operatorKey},
	}
	for _, tt := range denied {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.target, tt.key, "")
			require.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "AuthorizationError", decodeMap(t, rec)["error_type"])
		})
	}

	t.Run("viewer can list flows", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/flows", viewerKey, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("admin can read error stats", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/errors/stats", adminKey, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestBearerTokenAuthentication(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flows", nil)
	req.Header.Set("Authorization", "Bearer "+viewerKey)
	rec := httptest.NewRecorder()
	f.srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeadersApplied(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
}

func TestMetricsEndpointUnauthenticated(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "delver_flows_created_total")
}

func TestWSStreamsEvents(t *testing.T) {
	f := newFixture(t, nil)
	server := httptest.NewServer(f.srv.echo)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):]+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "connection.established", msg["type"])
}

func TestWSRejectsUnlistedOrigin(t *testing.T) {
	f := newFixture(t, nil)
	server := httptest.NewServer(f.srv.echo)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):]+"/ws", &websocket.DialOptions{
		HTTPHeader: header,
	})
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	require.Error(t, err)
}
