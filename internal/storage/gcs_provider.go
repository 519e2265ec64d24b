package storage

import (
	"context"
	"fmt"
	"mime"
	"path"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var artifactTypes = map[string]string{
	".csv":  "text/csv; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".json": "application/json",
	".prom": "text/plain; version=0.0.4",
}

func contentType(objectName string) string {
	ext := path.Ext(objectName)
	if ct, ok := artifactTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

// GCSProvider implements Provider for Google Cloud Storage.
type GCSProvider struct {
	Client     *storage.Client
	BucketName string
	Logger     *zap.Logger
}

// NewGCSProvider initializes a GCS client and verifies the bucket is reachable.
// Authentication uses Application Default Credentials unless opts override it.
func NewGCSProvider(ctx context.Context, bucketName string, logger *zap.Logger, opts ...option.ClientOption) (*GCSProvider, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Failed to close GCS client after bucket existence check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", bucketName, err)
	}

	return &GCSProvider{
		Client:     client,
		BucketName: bucketName,
		Logger:     logger,
	}, nil
}

// Save uploads data to objectName, inferring the content type from its extension.
func (g *GCSProvider) Save(ctx context.Context, objectName string, data []byte) error {
	wc := g.Client.Bucket(g.BucketName).Object(objectName).NewWriter(ctx)
	if ct := contentType(objectName); ct != "" {
		wc.ContentType = ct
	}

	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil && g.Logger != nil {
			g.Logger.Warn("Failed to close GCS writer after write failure", zap.Error(err), zap.NamedError("close_error", closeErr))
		}
		return fmt.Errorf("failed to write data to GCS object %s: %w", objectName, err)
	}

	// Close flushes buffered data and finalizes the upload.
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for object %s: %w", objectName, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCSProvider) Close() error {
	if g == nil || g.Client == nil {
		return nil
	}
	if err := g.Client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}
