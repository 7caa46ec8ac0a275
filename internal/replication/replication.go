// Package replication copies completed backup artifacts to offsite object
// storage. Replication is best-effort by contract: a failed upload is a
// reported warning on the backup, never a backup failure.
package replication

import (
	"context"
	"fmt"
	"path/filepath"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/config"
	"dbkeeper/internal/logging"
)

// Provider uploads one artifact (and its paired role snapshot, if any) to a
// remote location.
type Provider interface {
	Name() string
	UploadArtifact(ctx context.Context, artifact *backup.BackupArtifact) error
}

// NewProvider builds the configured provider, or nil when replication is
// disabled.
func NewProvider(ctx context.Context, settings config.ReplicationSettings, logger *logging.Logger) (Provider, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	switch settings.Provider {
	case "":
		return nil, nil
	case "s3":
		return newS3Provider(settings, logger)
	case "gcs":
		return newGCSProvider(ctx, settings, logger)
	case "azure":
		return newAzureProvider(settings, logger)
	default:
		return nil, fmt.Errorf("unknown replication provider %q (supported: s3, gcs, azure)", settings.Provider)
	}
}

// remoteObjectName keys remote copies by artifact filename; the name already
// encodes instance, database, engine and timestamp.
func remoteObjectName(artifact *backup.BackupArtifact) string {
	return "artifacts/" + filepath.Base(artifact.Path)
}

func remoteSnapshotName(artifact *backup.BackupArtifact) string {
	return "artifacts/" + filepath.Base(artifact.RoleSnapshotPath)
}
