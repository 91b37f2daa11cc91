package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/resilience"
)

// testClient builds a client with no configured providers and
// single-attempt retries; tests register scripted models directly.
func testClient(t *testing.T, mutate func(*config.Config)) (*Client, *resilience.BreakerRegistry) {
	t.Helper()
	cfg := config.Default()
	cfg.ModelRegistry = config.NewModelProviderRegistry(nil)
	cfg.Resilience.Retry.MaxAttempts = 1
	cfg.Resilience.Retry.BaseDelay = 0
	if mutate != nil {
		mutate(cfg)
	}
	breakers := resilience.NewBreakerRegistry()
	return NewClient(cfg, breakers, nil), breakers
}

func TestClient_GenerateRoutesToDefaultProvider(t *testing.T) {
	client, _ := testClient(t, nil)
	scripted := NewScripted("openai", nil)
	client.Register(scripted)

	resp, err := client.Generate(context.Background(), "", Request{
		Messages: []Message{User("what is a monad")},
	})

	require.NoError(t, err)
	assert.Contains(t, resp.Content, "what is a monad")
	assert.Equal(t, 1, scripted.CallCount())
}

func TestClient_SpecSelectsProviderAndModel(t *testing.T) {
	client, _ := testClient(t, nil)
	other := NewScripted("anthropic", nil)
	client.Register(NewScripted("openai", nil))
	client.Register(other)

	_, err := client.Generate(context.Background(), "anthropic:claude-x", Request{
		Messages: []Message{User("hello")},
	})

	require.NoError(t, err)
	require.Equal(t, 1, other.CallCount())
	assert.Equal(t, "claude-x", other.Calls()[0].Model)
}

func TestClient_BareSpecUsesDefaultProvider(t *testing.T) {
	client, _ := testClient(t, nil)
	scripted := NewScripted("openai", nil)
	client.Register(scripted)

	_, err := client.Generate(context.Background(), "gpt-9-preview", Request{
		Messages: []Message{User("hello")},
	})

	require.NoError(t, err)
	require.Equal(t, 1, scripted.CallCount())
	assert.Equal(t, "gpt-9-preview", scripted.Calls()[0].Model)
}

func TestClient_UnknownProviderIsConfigurationError(t *testing.T) {
	client, _ := testClient(t, nil)

	_, err := client.Generate(context.Background(), "", Request{
		Messages: []Message{User("hello")},
	})

	require.Error(t, err)
	assert.Equal(t, faults.KindConfiguration, faults.KindOf(err))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	client, _ := testClient(t, func(cfg *config.Config) {
		cfg.Resilience.Retry.MaxAttempts = 3
	})

	calls := 0
	flaky := NewScripted("openai", func(Request) (string, error) {
		calls++
		if calls == 1 {
			return "", faults.Unavailable("model call")
		}
		return "recovered", nil
	})
	client.Register(flaky)

	resp, err := client.Generate(context.Background(), "", Request{
		Messages: []Message{User("hello")},
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, calls)
}

func TestClient_NonTransientFailsWithoutRetry(t *testing.T) {
	client, _ := testClient(t, func(cfg *config.Config) {
		cfg.Resilience.Retry.MaxAttempts = 3
	})

	calls := 0
	failing := NewScripted("openai", func(Request) (string, error) {
		calls++
		return "", faults.Authentication("model call rejected credentials")
	})
	client.Register(failing)

	_, err := client.Generate(context.Background(), "", Request{
		Messages: []Message{User("hello")},
	})

	require.Error(t, err)
	assert.Equal(t, faults.KindAuthentication, faults.KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestClient_BreakerOpensPerModel(t *testing.T) {
	client, breakers := testClient(t, nil)
	failing := NewScripted("openai", func(Request) (string, error) {
		return "", faults.Unavailable("model call")
	})
	client.Register(failing)

	for i := 0; i < 5; i++ {
		_, err := client.Generate(context.Background(), "gpt-4o", Request{
			Messages: []Message{User("hello")},
		})
		require.Error(t, err)
	}
	assert.Equal(t, 5, failing.CallCount())

	breaker := breakers.Get("llm:openai:gpt-4o", resilience.BreakerSettings{})
	assert.Equal(t, resilience.StateOpen, breaker.State())

	// Shed without reaching the model.
	_, err := client.Generate(context.Background(), "gpt-4o", Request{
		Messages: []Message{User("hello")},
	})
	require.Error(t, err)
	assert.Equal(t, faults.KindCircuitOpen, faults.KindOf(err))
	assert.Equal(t, 5, failing.CallCount())

	// A different model on the same provider is unaffected.
	healthy := breakers.Get("llm:openai:gpt-4o-mini", resilience.BreakerSettings{})
	assert.Equal(t, resilience.StateClosed, healthy.State())
}

func TestClient_CancelledContext(t *testing.T) {
	client, _ := testClient(t, nil)
	client.Register(NewScripted("openai", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Generate(ctx, "", Request{Messages: []Message{User("hello")}})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_ProvidersSorted(t *testing.T) {
	client, _ := testClient(t, nil)
	client.Register(NewScripted("zeta", nil))
	client.Register(NewScripted("alpha", nil))

	assert.Equal(t, []string{"alpha", "zeta"}, client.Providers())
	assert.True(t, client.Has("alpha"))
	assert.False(t, client.Has("ghost"))
}

func TestScriptedQueue_ReplaysInOrder(t *testing.T) {
	model := NewScriptedQueue("test", "first", "second")

	for _, want := range []string{"first", "second", "second"} {
		resp, err := model.Generate(context.Background(), Request{
			Messages: []Message{User("next")},
		})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Content)
	}
	assert.Equal(t, 3, model.CallCount())
}
