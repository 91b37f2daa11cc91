package reporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/probelab/delver/pkg/models"
)

// persist writes the report as pretty-printed JSON under the configured
// directory and returns the file path.
func (r *Reporter) persist(report *models.ErrorReport) (string, error) {
	if err := os.MkdirAll(r.cfg.PersistDir, 0o755); err != nil {
		return "", fmt.Errorf("creating error report dir: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding error report: %w", err)
	}

	path := filepath.Join(r.cfg.PersistDir, errorFileName(report))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing error report: %w", err)
	}
	return path, nil
}
