package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dbkeeper/internal/engine"
)

// artifactTimeFormat is a filesystem-safe UTC timestamp.
const artifactTimeFormat = "20060102T150405"

// fieldSeparator joins the name fields. Two underscores so instance and
// database names containing a single underscore stay parseable.
const fieldSeparator = "__"

// BackupArtifact describes one completed backup file. It is immutable after
// creation and deleted only by retention.
type BackupArtifact struct {
	Path         string      `yaml:"path"`
	Instance     string      `yaml:"instance"`
	Engine       engine.Kind `yaml:"engine"`
	DatabaseName string      `yaml:"database_name"`
	SizeBytes    int64       `yaml:"size_bytes"`
	CreatedAt    time.Time   `yaml:"created_at"`
	Compressed   bool        `yaml:"compressed"`
	Compression  string      `yaml:"compression,omitempty"`
	// RoleSnapshotPath is set when the backup captured a role snapshot in the
	// same operation.
	RoleSnapshotPath string `yaml:"role_snapshot_path,omitempty"`
}

// ArtifactFileName encodes instance, database, engine and timestamp so
// artifacts are discoverable from their names alone.
func ArtifactFileName(instance, database string, kind engine.Kind, createdAt time.Time, compression string) string {
	ext := ".sql"
	if kind == engine.KindFilesystem {
		ext = ".tar"
	}
	name := strings.Join([]string{
		instance,
		database,
		string(kind),
		createdAt.UTC().Format(artifactTimeFormat),
	}, fieldSeparator) + ext

	if suffix := CompressionSuffix(compression); suffix != "" {
		name += suffix
	}
	return name
}

// RoleSnapshotFileName derives the snapshot name paired with an artifact. The
// shared base makes the pairing visible in a directory listing.
func RoleSnapshotFileName(artifactName string) string {
	base := artifactName
	for {
		ext := filepath.Ext(base)
		if ext == "" {
			break
		}
		base = strings.TrimSuffix(base, ext)
	}
	return base + ".roles.sql"
}

// ParseArtifactName decodes an artifact filename. Returns an error for names
// this tool did not produce.
func ParseArtifactName(name string) (*BackupArtifact, error) {
	base := name
	compression := ""

	switch {
	case strings.HasSuffix(base, ".gz"):
		compression = CompressionGzip
		base = strings.TrimSuffix(base, ".gz")
	case strings.HasSuffix(base, ".zst"):
		compression = CompressionZstd
		base = strings.TrimSuffix(base, ".zst")
	case strings.HasSuffix(base, ".lz4"):
		compression = CompressionLZ4
		base = strings.TrimSuffix(base, ".lz4")
	}

	switch {
	case strings.HasSuffix(base, ".sql"):
		base = strings.TrimSuffix(base, ".sql")
	case strings.HasSuffix(base, ".tar"):
		base = strings.TrimSuffix(base, ".tar")
	default:
		return nil, fmt.Errorf("unrecognized artifact extension in %q", name)
	}

	parts := strings.Split(base, fieldSeparator)
	if len(parts) != 4 {
		return nil, fmt.Errorf("artifact name %q does not have instance__database__engine__timestamp fields", name)
	}

	kind, err := engine.ParseKind(parts[2])
	if err != nil {
		return nil, fmt.Errorf("artifact name %q: %w", name, err)
	}

	createdAt, err := time.Parse(artifactTimeFormat, parts[3])
	if err != nil {
		return nil, fmt.Errorf("artifact name %q has invalid timestamp: %w", name, err)
	}

	return &BackupArtifact{
		Instance:     parts[0],
		DatabaseName: parts[1],
		Engine:       kind,
		CreatedAt:    createdAt.UTC(),
		Compressed:   compression != "",
		Compression:  compression,
	}, nil
}

// DiscoverArtifacts lists the artifacts in dir by parsing filenames, newest
// first. Files with foreign names are skipped, not errors.
func DiscoverArtifacts(dir string) ([]*BackupArtifact, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	var artifacts []*BackupArtifact
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".roles.sql") {
			continue
		}
		artifact, err := ParseArtifactName(entry.Name())
		if err != nil {
			continue
		}
		artifact.Path = filepath.Join(dir, entry.Name())
		if info, err := entry.Info(); err == nil {
			artifact.SizeBytes = info.Size()
		}

		snapshot := filepath.Join(dir, RoleSnapshotFileName(entry.Name()))
		if _, err := os.Stat(snapshot); err == nil {
			artifact.RoleSnapshotPath = snapshot
		}

		artifacts = append(artifacts, artifact)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}
