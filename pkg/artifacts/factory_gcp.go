//go:build gcp

package artifacts

import (
	"context"
	"fmt"
	"os"
)

func newGCSArchiveFromEnv(ctx context.Context) (Archive, error) {
	bucket := os.Getenv("LOG_ARCHIVE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: LOG_ARCHIVE_GCS_BUCKET is required for gcs archives")
	}
	return NewGCSArchive(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("LOG_ARCHIVE_GCS_PREFIX"),
	})
}
