package flow

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/probelab/delver/pkg/models"
)

// writeSnapshot persists a terminal flow's report state as indented
// JSON under the configured snapshot directory. Best effort: failures
// are logged, never returned.
func (m *Manager) writeSnapshot(f *models.Flow) {
	if !m.cfg.Flows.SnapshotsEnabled || f.State == nil {
		return
	}

	dir := m.cfg.Flows.SnapshotDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.logger.Warn("Failed to create snapshot directory", "dir", dir, "error", err)
		return
	}

	data, err := f.State.MarshalSnapshot()
	if err != nil {
		m.logger.Warn("Failed to marshal flow snapshot", "flow_id", f.FlowID, "error", err)
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("flow_%s.json", f.FlowID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.logger.Warn("Failed to write flow snapshot", "flow_id", f.FlowID, "path", path, "error", err)
		return
	}
	m.logger.Debug("Flow snapshot written", "flow_id", f.FlowID, "path", path)
}
