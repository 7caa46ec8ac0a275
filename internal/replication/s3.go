package replication

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/config"
	"dbkeeper/internal/logging"
)

// s3Provider replicates artifacts to an Amazon S3 bucket.
type s3Provider struct {
	client *s3.S3
	bucket string
	logger *logging.Logger
}

func newS3Provider(settings config.ReplicationSettings, logger *logging.Logger) (*s3Provider, error) {
	if settings.S3.Bucket == "" || settings.S3.Region == "" {
		return nil, fmt.Errorf("s3 replication requires bucket and region")
	}

	awsConfig := &aws.Config{
		Region: aws.String(settings.S3.Region),
	}
	if settings.S3.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			settings.S3.AccessKey,
			settings.S3.SecretKey,
			"", // token
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &s3Provider{
		client: s3.New(sess),
		bucket: settings.S3.Bucket,
		logger: logger,
	}, nil
}

func (p *s3Provider) Name() string { return "s3" }

func (p *s3Provider) UploadArtifact(ctx context.Context, artifact *backup.BackupArtifact) error {
	if err := p.uploadFile(ctx, artifact.Path, remoteObjectName(artifact), artifact); err != nil {
		return err
	}
	if artifact.RoleSnapshotPath != "" {
		if err := p.uploadFile(ctx, artifact.RoleSnapshotPath, remoteSnapshotName(artifact), artifact); err != nil {
			return err
		}
	}
	p.logger.Debugf("Replicated %s to s3://%s", artifact.Path, p.bucket)
	return nil
}

func (p *s3Provider) uploadFile(ctx context.Context, localPath, key string, artifact *backup.BackupArtifact) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	_, err = p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   file,
		Metadata: map[string]*string{
			"instance": aws.String(artifact.Instance),
			"database": aws.String(artifact.DatabaseName),
			"engine":   aws.String(string(artifact.Engine)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}
