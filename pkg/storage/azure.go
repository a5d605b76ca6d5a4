package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// AzureBlobStore keeps blobs in a single Azure Blob Storage container.
type AzureBlobStore struct {
	client    *azblob.Client
	container string
	logger    *zap.Logger
	now       func() time.Time
}

// NewAzureBlobStore validates the connection string and builds the client. No network call is made.
func NewAzureBlobStore(connectionString, container string, logger *zap.Logger) (*AzureBlobStore, error) {
	if container == "" {
		return nil, fmt.Errorf("azure container name required")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzureBlobStore{client: client, container: container, logger: logger, now: time.Now}, nil
}

// EnsureContainer creates the container when it does not exist yet.
func (a *AzureBlobStore) EnsureContainer(ctx context.Context) error {
	_, err := a.client.CreateContainer(ctx, a.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", a.container, err)
	}
	a.logger.Info("storage container ready", zap.String("container", a.container))
	return nil
}

// Put uploads data under a new reference.
func (a *AzureBlobStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	ref := NewBlobRef(contentType, a.now())
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if _, err := a.client.UploadBuffer(ctx, a.container, ref, data, opts); err != nil {
		return "", fmt.Errorf("upload blob %s: %w", ref, err)
	}
	return ref, nil
}

// Get downloads the bytes stored under ref.
func (a *AzureBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	resp, err := a.client.DownloadStream(ctx, a.container, ref, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download blob %s: %w", ref, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return buf.Bytes(), nil
}

// Delete removes the blob at ref. Missing blobs are not an error.
func (a *AzureBlobStore) Delete(ctx context.Context, ref string) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	if _, err := a.client.DeleteBlob(ctx, a.container, ref, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("delete blob %s: %w", ref, err)
	}
	return nil
}
