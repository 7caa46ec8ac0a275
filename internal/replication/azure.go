package replication

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/config"
	"dbkeeper/internal/logging"
)

// azureProvider replicates artifacts to an Azure Blob Storage container.
type azureProvider struct {
	serviceURL azblob.ServiceURL
	container  string
	logger     *logging.Logger
}

func newAzureProvider(settings config.ReplicationSettings, logger *logging.Logger) (*azureProvider, error) {
	if settings.Azure.AccountName == "" || settings.Azure.Container == "" {
		return nil, fmt.Errorf("azure replication requires account_name and container")
	}

	credential, err := azblob.NewSharedKeyCredential(settings.Azure.AccountName, settings.Azure.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credentials: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", settings.Azure.AccountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure service URL: %w", err)
	}

	return &azureProvider{
		serviceURL: azblob.NewServiceURL(*serviceURL, pipeline),
		container:  settings.Azure.Container,
		logger:     logger,
	}, nil
}

func (p *azureProvider) Name() string { return "azure" }

func (p *azureProvider) UploadArtifact(ctx context.Context, artifact *backup.BackupArtifact) error {
	if err := p.uploadFile(ctx, artifact.Path, remoteObjectName(artifact)); err != nil {
		return err
	}
	if artifact.RoleSnapshotPath != "" {
		if err := p.uploadFile(ctx, artifact.RoleSnapshotPath, remoteSnapshotName(artifact)); err != nil {
			return err
		}
	}
	p.logger.Debugf("Replicated %s to azure://%s", artifact.Path, p.container)
	return nil
}

func (p *azureProvider) uploadFile(ctx context.Context, localPath, blobName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	containerURL := p.serviceURL.NewContainerURL(p.container)
	blobURL := containerURL.NewBlockBlobURL(blobName)

	_, err = azblob.UploadFileToBlockBlob(ctx, file, blobURL, azblob.UploadToBlockBlobOptions{})
	if err != nil {
		return fmt.Errorf("failed to upload %s to Azure: %w", blobName, err)
	}
	return nil
}
