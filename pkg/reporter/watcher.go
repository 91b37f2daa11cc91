package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/probelab/delver/pkg/config"
)

const defaultRulesDebounce = 500 * time.Millisecond

// rulesFile is the on-disk shape of a watched alert rules file.
type rulesFile struct {
	Rules []config.AlertRuleConfig `yaml:"rules"`
}

// RulesWatcher hot-reloads alert rules from a YAML file. The parent
// directory is watched so editors that replace the file atomically are
// still seen; changes are debounced before reload. A broken file keeps the
// previous rules in place.
type RulesWatcher struct {
	reporter *Reporter
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   bool
}

// NewRulesWatcher creates a watcher for the given rules file. A debounce of
// zero uses the default of 500ms.
func NewRulesWatcher(reporter *Reporter, path string, debounce time.Duration) (*RulesWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultRulesDebounce
	}
	return &RulesWatcher{
		reporter: reporter,
		path:     path,
		debounce: debounce,
		watcher:  fsw,
		logger:   slog.Default().With("component", "alert_rules_watcher"),
	}, nil
}

// Start loads the file once, then watches it for changes until the context
// is cancelled. A missing file at startup is not an error; rules load when
// it appears.
func (w *RulesWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := w.reload(); err != nil {
			w.logger.Error("Initial alert rules load failed", "path", w.path, "error", err)
		}
	}

	go w.processEvents(ctx)

	w.logger.Info("Alert rules watcher started", "path", w.path, "debounce", w.debounce)
	return nil
}

// Stop closes the underlying filesystem watcher.
func (w *RulesWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *RulesWatcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.pendingMu.Lock()
				w.pending = true
				w.pendingMu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *RulesWatcher) flushPending() {
	w.pendingMu.Lock()
	dirty := w.pending
	w.pending = false
	w.pendingMu.Unlock()

	if !dirty {
		return
	}
	if err := w.reload(); err != nil {
		w.logger.Error("Alert rules reload failed, keeping previous rules",
			"path", w.path, "error", err)
	}
}

func (w *RulesWatcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing alert rules: %w", err)
	}
	if err := w.reporter.ReplaceRules(file.Rules); err != nil {
		return err
	}

	w.logger.Info("Alert rules reloaded", "path", w.path, "rules", len(file.Rules))
	return nil
}
