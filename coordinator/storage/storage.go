// Package storage abstracts the ceremony object store holding circuit
// artifacts, contribution zkeys and verification transcripts. Bulk bytes
// never flow through the coordinator: contributors upload parts and
// download artifacts against pre-signed URLs, while the coordinator itself
// only streams what the verification worker needs.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/coordinator/types"
)

// ErrNotFound is returned when a bucket or object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the object store interface used by the coordinator engines.
type Store interface {
	// CreateBucket provisions the ceremony bucket. Creating a bucket that
	// already exists is an error.
	CreateBucket(ctx context.Context, bucket string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)

	ObjectExists(ctx context.Context, bucket, key string) (bool, error)
	ObjectSize(ctx context.Context, bucket, key string) (int64, error)

	// Upload writes an object directly. Reserved for coordinator-produced
	// artifacts such as transcripts and exported verification keys.
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
	// Download streams an object. The caller owns the returned reader.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// DownloadURL pre-signs a GET for the object.
	DownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)

	// StartMultiPartUpload opens a resumable upload and returns its id.
	StartMultiPartUpload(ctx context.Context, bucket, key string) (string, error)
	// PreSignedUploadParts pre-signs one URL per part, 1-based, for the
	// open upload.
	PreSignedUploadParts(ctx context.Context, bucket, key, uploadID string, parts int32, expires time.Duration) ([]string, error)
	// CompleteMultiPartUpload closes the upload from the acknowledged
	// parts, in part-number order.
	CompleteMultiPartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.ChunkData) error
}
