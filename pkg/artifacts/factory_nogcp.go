//go:build !gcp

package artifacts

import (
	"context"
	"fmt"
)

func newGCSArchiveFromEnv(ctx context.Context) (Archive, error) {
	return nil, fmt.Errorf("artifacts: gcs archives are not enabled in this build (use -tags gcp)")
}
