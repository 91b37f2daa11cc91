package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
)

func openAIConfig(serverURL string) *config.ModelProviderConfig {
	return &config.ModelProviderConfig{
		Type:        config.ProviderTypeOpenAI,
		Model:       "gpt-4o-mini",
		BaseURL:     serverURL,
		Timeout:     5 * time.Second,
		Temperature: 0.2,
		MaxTokens:   1024,
	}
}

func TestOpenAI_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])
		assert.InDelta(t, 0.7, body["temperature"], 1e-9)
		assert.Equal(t, float64(256), body["max_tokens"])

		messages, ok := body["messages"].([]any)
		require.True(t, ok)
		require.Len(t, messages, 2)
		first, ok := messages[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "system", first["role"])

		fmt.Fprint(w, `{
			"model": "gpt-4o-2024-08-06",
			"choices": [{"message": {"content": "Fusion power remains decades away."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 12}
		}`)
	}))
	defer server.Close()

	model := NewOpenAI("openai", "sk-test", openAIConfig(server.URL))
	resp, err := model.Generate(context.Background(), Request{
		Model: "gpt-4o",
		Messages: []Message{
			System("You are a research assistant."),
			User("Summarize fusion power progress."),
		},
		Temperature: 0.7,
		MaxTokens:   256,
	})

	require.NoError(t, err)
	assert.Equal(t, "Fusion power remains decades away.", resp.Content)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Model)
	assert.Equal(t, 42, resp.PromptTokens)
	assert.Equal(t, 12, resp.CompletionTokens)
}

func TestOpenAI_DefaultsFillRequest(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}],"usage":{}}`)
	}))
	defer server.Close()

	model := NewOpenAI("openai", "sk-test", openAIConfig(server.URL))
	_, err := model.Generate(context.Background(), Request{
		Messages: []Message{User("hello")},
	})

	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.InDelta(t, 0.2, body["temperature"], 1e-9)
	assert.Equal(t, float64(1024), body["max_tokens"])
}

func TestOpenAI_NoChoicesIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[],"usage":{}}`)
	}))
	defer server.Close()

	model := NewOpenAI("openai", "sk-test", openAIConfig(server.URL))
	_, err := model.Generate(context.Background(), Request{Messages: []Message{User("hello")}})

	require.Error(t, err)
	assert.Equal(t, faults.KindAPI, faults.KindOf(err))
}

func TestOpenAI_StatusMapsToTaxonomy(t *testing.T) {
	tests := []struct {
		status   int
		wantKind faults.Kind
	}{
		{http.StatusTooManyRequests, faults.KindRateLimit},
		{http.StatusServiceUnavailable, faults.KindServiceUnavailable},
		{http.StatusUnauthorized, faults.KindAuthentication},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			model := NewOpenAI("openai", "sk-test", openAIConfig(server.URL))
			_, err := model.Generate(context.Background(), Request{Messages: []Message{User("hello")}})

			require.Error(t, err)
			assert.Equal(t, tt.wantKind, faults.KindOf(err))
		})
	}
}
