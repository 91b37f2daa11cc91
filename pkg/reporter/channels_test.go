package reporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/models"
)

func TestNewSlackChannel(t *testing.T) {
	t.Run("nil when disabled", func(t *testing.T) {
		assert.Nil(t, NewSlackChannel(&config.SlackConfig{Enabled: false}))
		assert.Nil(t, NewSlackChannel(nil))
	})

	t.Run("nil when token env empty", func(t *testing.T) {
		t.Setenv("SLACK_TEST_TOKEN", "")
		assert.Nil(t, NewSlackChannel(&config.SlackConfig{
			Enabled:  true,
			TokenEnv: "SLACK_TEST_TOKEN",
			Channel:  "C123",
		}))
	})

	t.Run("nil when channel missing", func(t *testing.T) {
		t.Setenv("SLACK_TEST_TOKEN", "xoxb-test")
		assert.Nil(t, NewSlackChannel(&config.SlackConfig{
			Enabled:  true,
			TokenEnv: "SLACK_TEST_TOKEN",
		}))
	})

	t.Run("built when configured", func(t *testing.T) {
		t.Setenv("SLACK_TEST_TOKEN", "xoxb-test")
		ch := NewSlackChannel(&config.SlackConfig{
			Enabled:  true,
			TokenEnv: "SLACK_TEST_TOKEN",
			Channel:  "C123",
		})
		require.NotNil(t, ch)
		assert.Equal(t, "slack", ch.Name())
	})
}

func TestSlackChannel_NotifyPostsMessage(t *testing.T) {
	var posted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
		assert.Contains(t, r.URL.Path, "chat.postMessage")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "channel": "C123", "ts": "1234567890.123456"}`))
	}))
	defer server.Close()

	ch := NewSlackChannelWithAPIURL("xoxb-test", "C123", server.URL+"/")

	err := ch.Notify(context.Background(), Alert{
		Rule:      "search-errors",
		Count:     5,
		Threshold: 5,
		Window:    time.Minute,
		Kinds:     []string{"ServiceUnavailableError"},
		Sample: &models.ErrorReport{
			ErrorType: faults.KindServiceUnavailable,
			Message:   "exa returned 503",
		},
	})
	require.NoError(t, err)
	assert.True(t, posted)
}

func TestSlackChannel_NotifySurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
	}))
	defer server.Close()

	ch := NewSlackChannelWithAPIURL("xoxb-test", "C404", server.URL+"/")

	err := ch.Notify(context.Background(), Alert{Rule: "r", Window: time.Minute})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
