package remote

import (
	"context"
	"io"
)

// ContentStore is the client-side view of the remote object store used by
// the upload pipeline.
type ContentStore interface {
	// ListBuckets returns the buckets visible to the configured credentials
	ListBuckets(ctx context.Context) ([]Bucket, error)

	// ListObjects returns the objects in a bucket
	ListObjects(ctx context.Context, bucketKey string) ([]Object, error)

	// ResumableRanges returns the byte ranges already accepted for an
	// upload session. A session the store has never seen yields ErrNotFound
	ResumableRanges(ctx context.Context, bucketKey, objectKey, sessionID string) ([]ResumableRange, error)

	// UploadChunk sends one chunk of an object at the given offset
	UploadChunk(ctx context.Context, bucketKey, objectKey string, chunk []byte, offset, totalBytes int64, sessionID string) error
}

// DerivativeService is the client-side view of the conversion service.
type DerivativeService interface {
	// SubmitJob requests conversion of the object addressed by the
	// derivation key. Fire-and-forget: returns before conversion starts
	SubmitJob(ctx context.Context, derivationKey string, spec JobSpec) error

	// GetManifest fetches the job manifest for a derivation key
	GetManifest(ctx context.Context, derivationKey string) (*Manifest, error)

	// DownloadAsset streams one derivative asset addressed by its URN
	DownloadAsset(ctx context.Context, derivationKey, assetURN string) (io.ReadCloser, error)
}
