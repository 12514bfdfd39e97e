package s3

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/zkmpc/maestro/coordinator/types"
)

// StartMultiPartUpload opens a resumable upload for the object and returns
// the upload id the contributor must quote on every part.
func (s *Store) StartMultiPartUpload(ctx context.Context, bucket, key string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "storage.StartMultiPartUpload")
	defer span.End()
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not open multi-part upload for s3://%s/%s", bucket, key)
	}
	return aws.ToString(out.UploadId), nil
}

// PreSignedUploadParts pre-signs one PUT URL per part of the open upload.
// Part numbers are 1-based; URL i serves part i+1.
func (s *Store) PreSignedUploadParts(ctx context.Context, bucket, key, uploadID string, parts int32, expires time.Duration) ([]string, error) {
	ctx, span := trace.StartSpan(ctx, "storage.PreSignedUploadParts")
	defer span.End()
	urls := make([]string, 0, parts)
	for partNumber := int32(1); partNumber <= parts; partNumber++ {
		req, err := s.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: partNumber,
		}, s3.WithPresignExpires(expires))
		if err != nil {
			return nil, errors.Wrapf(err, "could not pre-sign part %d of s3://%s/%s", partNumber, bucket, key)
		}
		urls = append(urls, req.URL)
	}
	return urls, nil
}

// CompleteMultiPartUpload closes the upload from the acknowledged parts.
func (s *Store) CompleteMultiPartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.ChunkData) error {
	ctx, span := trace.StartSpan(ctx, "storage.CompleteMultiPartUpload")
	defer span.End()
	completed := make([]s3types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: p.PartNumber,
		})
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].PartNumber < completed[j].PartNumber
	})
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	return errors.Wrapf(err, "could not complete multi-part upload for s3://%s/%s", bucket, key)
}
