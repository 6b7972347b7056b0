package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// EnvArtifactStore names the environment variable selecting the archive
// location, e.g. file:///var/tek/packages, s3://bucket/prefix, or
// gs://bucket/prefix. A bare path is treated as a local directory.
const EnvArtifactStore = "TEK_ARTIFACT_STORE"

const defaultArchiveDir = "artifacts"

// OpenArchive opens the archive at the given location URL.
func OpenArchive(ctx context.Context, location string) (*Archive, error) {
	blob, err := openBlob(ctx, location)
	if err != nil {
		return nil, err
	}
	return NewArchive(blob), nil
}

// OpenArchiveFromEnv opens the archive named by TEK_ARTIFACT_STORE, falling
// back to a local "artifacts" directory when unset.
func OpenArchiveFromEnv(ctx context.Context) (*Archive, error) {
	location := os.Getenv(EnvArtifactStore)
	if location == "" {
		location = defaultArchiveDir
	}
	return OpenArchive(ctx, location)
}

func openBlob(ctx context.Context, location string) (Blob, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid archive location %q: %w", location, err)
	}

	switch u.Scheme {
	case "", "file":
		path := u.Path
		if u.Scheme == "" {
			path = location
		}
		if path == "" {
			return nil, fmt.Errorf("file archive location %q has no path", location)
		}
		return NewFileBlob(path)

	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("s3 archive location %q has no bucket", location)
		}
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Blob(ctx, S3Config{
			Bucket:   u.Host,
			Region:   region,
			Endpoint: os.Getenv("AWS_ENDPOINT_URL"),
			Prefix:   keyPrefix(u.Path),
		})

	case "gs":
		if u.Host == "" {
			return nil, fmt.Errorf("gs archive location %q has no bucket", location)
		}
		return newGCSBlob(ctx, GCSConfig{
			Bucket: u.Host,
			Prefix: keyPrefix(u.Path),
		})

	default:
		return nil, fmt.Errorf("unsupported archive scheme %q", u.Scheme)
	}
}

// keyPrefix normalizes a URL path into an object key prefix ending in "/".
func keyPrefix(path string) string {
	p := strings.Trim(path, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
