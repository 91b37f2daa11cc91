package reporter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesYAML = `
rules:
  - name: timeout-burst
    min_severity: warning
    kinds: [TimeoutError]
    count_threshold: 5
    window: 1m
    channels: [log]
`

const updatedRulesYAML = `
rules:
  - name: timeout-burst
    min_severity: warning
    kinds: [TimeoutError]
    count_threshold: 5
    window: 1m
    channels: [log]
  - name: rate-limits
    min_severity: warning
    kinds: [RateLimitError]
    count_threshold: 3
    window: 30s
    channels: [log]
`

func startWatcher(t *testing.T, r *Reporter, path string) *RulesWatcher {
	t.Helper()

	w, err := NewRulesWatcher(r, path, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

func TestRulesWatcher_LoadsInitialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o644))

	r := testReporter(t, nil)
	startWatcher(t, r, path)

	rules := r.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "timeout-burst", rules[0].Name)
	assert.Equal(t, time.Minute, rules[0].Window)
}

func TestRulesWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o644))

	r := testReporter(t, nil)
	startWatcher(t, r, path)
	require.Len(t, r.Rules(), 1)

	require.NoError(t, os.WriteFile(path, []byte(updatedRulesYAML), 0o644))

	assert.Eventually(t, func() bool {
		return len(r.Rules()) == 2
	}, 3*time.Second, 25*time.Millisecond)
}

func TestRulesWatcher_MissingFileLoadsWhenCreated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.yaml")

	r := testReporter(t, nil)
	startWatcher(t, r, path)
	assert.Empty(t, r.Rules())

	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o644))

	assert.Eventually(t, func() bool {
		return len(r.Rules()) == 1
	}, 3*time.Second, 25*time.Millisecond)
}

func TestRulesWatcher_BrokenFileKeepsPreviousRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o644))

	r := testReporter(t, nil)
	startWatcher(t, r, path)
	require.Len(t, r.Rules(), 1)

	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o644))

	// The broken write is debounced and rejected; rules stay intact.
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, r.Rules(), 1)

	// Ignored sibling files never trigger a reload either.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, r.Rules(), 1)
}
