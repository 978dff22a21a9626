package sync

import (
	"context"
	"io"

	"nassync/internal/model"
)

// ObjectStore is the destination side of the upload pipeline. Implementations
// choose a single-shot or multipart transfer strategy based on size.
type ObjectStore interface {
	// Put streams size bytes from r to the given object key and returns the
	// remote version identifier. contentType may be empty.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*model.UploadResult, error)

	// Exists probes whether the object key is already present.
	Exists(ctx context.Context, key string) (bool, error)

	// Bucket returns the destination bucket/container name.
	Bucket() string
}
