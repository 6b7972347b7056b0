//go:build !gcp

package artifacts

import (
	"context"
	"errors"
)

func newGCSBlob(ctx context.Context, cfg GCSConfig) (Blob, error) {
	return nil, errors.New("gs:// archive requires building with -tags gcp")
}
