package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// manifestFileName sits beside the artifacts. Artifact discovery works from
// filenames alone; the manifest is the supplementary operation record.
const manifestFileName = "manifest.yaml"

// ManifestEntry records one completed backup operation.
type ManifestEntry struct {
	OperationID string         `yaml:"operation_id"`
	Artifact    BackupArtifact `yaml:"artifact"`
}

// Manifest is the append-only record of completed backups in one directory.
type Manifest struct {
	Entries []ManifestEntry `yaml:"entries"`
}

// LoadManifest reads the manifest in dir. A missing file is an empty
// manifest.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest := &Manifest{}
	if err := yaml.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return manifest, nil
}

// AppendManifest adds an entry and rewrites the manifest atomically.
func AppendManifest(dir string, entry ManifestEntry) error {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return err
	}
	manifest.Entries = append(manifest.Entries, entry)

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close manifest: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, manifestFileName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}
