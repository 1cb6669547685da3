package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ArchiveType selects the log archive backend.
type ArchiveType string

const (
	ArchiveFS  ArchiveType = "fs"
	ArchiveS3  ArchiveType = "s3"
	ArchiveGCS ArchiveType = "gcs"
)

// NewArchiveFromEnv creates a log archive from environment variables.
//
//   - LOG_ARCHIVE_TYPE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for the filesystem archive (default "data")
//
// For S3:
//   - LOG_ARCHIVE_S3_BUCKET (required)
//   - LOG_ARCHIVE_S3_REGION or AWS_REGION
//   - LOG_ARCHIVE_S3_ENDPOINT (optional, MinIO/LocalStack)
//   - LOG_ARCHIVE_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - LOG_ARCHIVE_GCS_BUCKET (required)
//   - LOG_ARCHIVE_GCS_PREFIX (optional)
func NewArchiveFromEnv(ctx context.Context) (Archive, error) {
	archiveType := ArchiveType(os.Getenv("LOG_ARCHIVE_TYPE"))
	if archiveType == "" {
		archiveType = ArchiveFS
	}

	switch archiveType {
	case ArchiveFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileArchive(filepath.Join(dataDir, "run-logs"))
	case ArchiveS3:
		bucket := os.Getenv("LOG_ARCHIVE_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("artifacts: LOG_ARCHIVE_S3_BUCKET is required for s3 archives")
		}
		region := os.Getenv("LOG_ARCHIVE_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Archive(ctx, S3Config{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("LOG_ARCHIVE_S3_ENDPOINT"),
			Prefix:   os.Getenv("LOG_ARCHIVE_S3_PREFIX"),
		})
	case ArchiveGCS:
		return newGCSArchiveFromEnv(ctx)
	default:
		return nil, fmt.Errorf("artifacts: unsupported archive type %q", archiveType)
	}
}
