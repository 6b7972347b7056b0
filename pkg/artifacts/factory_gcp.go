//go:build gcp

package artifacts

import "context"

func newGCSBlob(ctx context.Context, cfg GCSConfig) (Blob, error) {
	return NewGCSBlob(ctx, cfg)
}
