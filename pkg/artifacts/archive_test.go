package artifacts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/artifacts"
)

func TestFileArchiveRoundTrip(t *testing.T) {
	archive, err := artifacts.NewFileArchive(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := artifacts.RunLogKey("ten-1", "plan-abc", "run-1")
	uri, err := archive.Put(ctx, key, []byte("step 1/3 STARTED\nstep 1/3 SUCCESS\n"))
	require.NoError(t, err)
	assert.Contains(t, uri, "file://")
	assert.Contains(t, uri, "run-1.log")

	got, err := archive.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "step 1/3 STARTED\nstep 1/3 SUCCESS\n", string(got))

	exists, err := archive.Exists(ctx, uri)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFileArchiveOverwriteIsIdempotent(t *testing.T) {
	archive, err := artifacts.NewFileArchive(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	first, err := archive.Put(ctx, "ten-1/p/r.log", []byte("v1"))
	require.NoError(t, err)
	second, err := archive.Put(ctx, "ten-1/p/r.log", []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFileArchiveDelete(t *testing.T) {
	archive, err := artifacts.NewFileArchive(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	uri, err := archive.Put(ctx, "ten-1/p/r.log", []byte("logs"))
	require.NoError(t, err)

	require.NoError(t, archive.Delete(ctx, uri))

	exists, err := archive.Exists(ctx, uri)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = archive.Get(ctx, uri)
	assert.ErrorIs(t, err, artifacts.ErrNotFound)

	// Deleting an already-deleted object is fine.
	assert.NoError(t, archive.Delete(ctx, uri))
}

func TestFileArchiveRejectsEscapingKeys(t *testing.T) {
	archive, err := artifacts.NewFileArchive(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = archive.Put(ctx, "../../etc/passwd", []byte("x"))
	assert.Error(t, err)

	_, err = archive.Put(ctx, "", []byte("x"))
	assert.Error(t, err)
}

func TestFileArchiveRejectsForeignURIs(t *testing.T) {
	archive, err := artifacts.NewFileArchive(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = archive.Get(ctx, "s3://some-bucket/ten-1/p/r.log")
	assert.ErrorIs(t, err, artifacts.ErrForeignURI)

	_, err = archive.Get(ctx, "file:///etc/passwd")
	assert.ErrorIs(t, err, artifacts.ErrForeignURI)
}

func TestRunLogKeySanitizesSegments(t *testing.T) {
	key := artifacts.RunLogKey("ten/1", "plan-..", "run\\1")
	assert.Equal(t, "ten_1/plan-_/run_1.log", key)
}

func TestNewArchiveFromEnvDefaultsToFS(t *testing.T) {
	t.Setenv("LOG_ARCHIVE_TYPE", "")
	t.Setenv("DATA_DIR", t.TempDir())

	archive, err := artifacts.NewArchiveFromEnv(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &artifacts.FileArchive{}, archive)
}

func TestNewArchiveFromEnvRejectsUnknownType(t *testing.T) {
	t.Setenv("LOG_ARCHIVE_TYPE", "tape")

	_, err := artifacts.NewArchiveFromEnv(context.Background())
	assert.Error(t, err)
}

func TestNewArchiveFromEnvS3RequiresBucket(t *testing.T) {
	t.Setenv("LOG_ARCHIVE_TYPE", "s3")
	t.Setenv("LOG_ARCHIVE_S3_BUCKET", "")

	_, err := artifacts.NewArchiveFromEnv(context.Background())
	assert.Error(t, err)
}
