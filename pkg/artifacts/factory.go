package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
)

// StoreType represents the type of blob storage backend.
type StoreType string

const (
	StoreTypeFS   StoreType = "fs"
	StoreTypeS3   StoreType = "s3"
	StoreTypeGCS  StoreType = "gcs"
	StoreTypeHTTP StoreType = "http"
)

// Options selects and configures a backend.
type Options struct {
	Type    StoreType
	DataDir string // fs: blobs live under DataDir/blobs

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string

	GCSBucket string
	GCSPrefix string

	HTTPURL string
}

// NewStore creates a blob store for opts.Type, defaulting to the filesystem.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case "", StoreTypeFS:
		dir := opts.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "blobs"))
	case StoreTypeS3:
		if opts.S3Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
		}
		region := opts.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   opts.S3Bucket,
			Region:   region,
			Endpoint: opts.S3Endpoint,
			Prefix:   opts.S3Prefix,
		})
	case StoreTypeGCS:
		if opts.GCSBucket == "" {
			return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for GCS storage")
		}
		return newGCSStore(ctx, opts)
	case StoreTypeHTTP:
		if opts.HTTPURL == "" {
			return nil, fmt.Errorf("ARTIFACT_HTTP_URL is required for HTTP storage")
		}
		return NewHTTPStore(opts.HTTPURL), nil
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", opts.Type)
	}
}
