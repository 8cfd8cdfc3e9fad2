package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFile is the name of the manifest inside the staging directory.
const ManifestFile = "manifest.json"

// Manifest describes a run; it is written into the staging directory and
// therefore travels inside the archive under metadata/.
type Manifest struct {
	RunID        string             `json:"run_id"`
	InvocationID string             `json:"invocation_id"`
	Hostname     string             `json:"hostname"`
	CreatedAt    time.Time          `json:"created_at"`
	ArchiveName  string             `json:"archive_name"`
	Compression  string             `json:"compression"`
	Sources      []string           `json:"sources"`
	Skipped      []string           `json:"skipped_sources,omitempty"`
	Diagnostics  *DiagnosticsReport `json:"diagnostics,omitempty"`
	DryRun       bool               `json:"dry_run,omitempty"`
}

// WriteManifest stores m as stagingDir/manifest.json.
func WriteManifest(stagingDir string, m *Manifest) (string, error) {
	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	path := filepath.Join(stagingDir, ManifestFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o640); err != nil {
		return "", fmt.Errorf("failed to write manifest file: %w", err)
	}
	return path, nil
}

// LoadManifest reads a manifest written by WriteManifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}
