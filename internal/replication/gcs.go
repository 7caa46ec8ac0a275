package replication

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/config"
	"dbkeeper/internal/logging"
)

// gcsProvider replicates artifacts to a Google Cloud Storage bucket.
type gcsProvider struct {
	client *storage.Client
	bucket string
	logger *logging.Logger
}

func newGCSProvider(ctx context.Context, settings config.ReplicationSettings, logger *logging.Logger) (*gcsProvider, error) {
	if settings.GCS.Bucket == "" {
		return nil, fmt.Errorf("gcs replication requires a bucket")
	}

	var client *storage.Client
	var err error
	if settings.GCS.CredentialsFile != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(settings.GCS.CredentialsFile))
	} else {
		// Default credentials from the environment or metadata server.
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &gcsProvider{
		client: client,
		bucket: settings.GCS.Bucket,
		logger: logger,
	}, nil
}

func (p *gcsProvider) Name() string { return "gcs" }

func (p *gcsProvider) UploadArtifact(ctx context.Context, artifact *backup.BackupArtifact) error {
	if err := p.uploadFile(ctx, artifact.Path, remoteObjectName(artifact), artifact); err != nil {
		return err
	}
	if artifact.RoleSnapshotPath != "" {
		if err := p.uploadFile(ctx, artifact.RoleSnapshotPath, remoteSnapshotName(artifact), artifact); err != nil {
			return err
		}
	}
	p.logger.Debugf("Replicated %s to gs://%s", artifact.Path, p.bucket)
	return nil
}

func (p *gcsProvider) uploadFile(ctx context.Context, localPath, objectName string, artifact *backup.BackupArtifact) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	writer := p.client.Bucket(p.bucket).Object(objectName).NewWriter(ctx)
	writer.Metadata = map[string]string{
		"instance": artifact.Instance,
		"database": artifact.DatabaseName,
		"engine":   string(artifact.Engine),
	}

	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return fmt.Errorf("failed to upload %s to GCS: %w", objectName, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload of %s: %w", objectName, err)
	}
	return nil
}
