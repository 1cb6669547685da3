//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSArchive stores run logs in a Google Cloud Storage bucket. URIs
// are of the form gs://bucket/key.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures a GCSArchive.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSArchive creates a GCS-backed archive using application
// default credentials.
func NewGCSArchive(ctx context.Context, cfg GCSConfig) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: create gcs client: %w", err)
	}
	return &GCSArchive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *GCSArchive) Put(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := a.prefix + key
	w := a.client.Bucket(a.bucket).Object(objectKey).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("artifacts: gcs write %s: %w", objectKey, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("artifacts: gcs commit %s: %w", objectKey, err)
	}
	return "gs://" + a.bucket + "/" + objectKey, nil
}

func (a *GCSArchive) Get(ctx context.Context, uri string) ([]byte, error) {
	objectKey, err := a.keyFromURI(uri)
	if err != nil {
		return nil, err
	}
	reader, err := a.client.Bucket(a.bucket).Object(objectKey).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs get %s: %w", uri, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs read %s: %w", uri, err)
	}
	return data, nil
}

func (a *GCSArchive) Exists(ctx context.Context, uri string) (bool, error) {
	objectKey, err := a.keyFromURI(uri)
	if err != nil {
		return false, err
	}
	_, err = a.client.Bucket(a.bucket).Object(objectKey).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifacts: gcs attrs %s: %w", uri, err)
	}
	return true, nil
}

func (a *GCSArchive) Delete(ctx context.Context, uri string) error {
	objectKey, err := a.keyFromURI(uri)
	if err != nil {
		return err
	}
	err = a.client.Bucket(a.bucket).Object(objectKey).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("artifacts: gcs delete %s: %w", uri, err)
	}
	return nil
}

// Close closes the underlying GCS client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}

func (a *GCSArchive) keyFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "gs://"+a.bucket+"/")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURI, uri)
	}
	return rest, nil
}
