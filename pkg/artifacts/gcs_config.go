package artifacts

// GCSConfig holds configuration for GCSBlob.
type GCSConfig struct {
	Bucket string
	Prefix string
}
