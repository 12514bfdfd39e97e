// Package s3 implements the ceremony object store on any S3-compatible
// service. Production runs target AWS; local runs point Endpoint at minio.
package s3

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/zkmpc/maestro/coordinator/storage"
)

var log = logrus.WithField("prefix", "storage")

// Config holds the connection parameters of the object store.
type Config struct {
	Region string
	// Endpoint overrides the AWS endpoint for S3-compatible services.
	// Path-style addressing is forced when set.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Store implements storage.Store on the AWS SDK v2 S3 client.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	region  string
}

var _ storage.Store = (*Store)(nil)

// NewStore builds the S3 client from the config, falling back to the
// ambient AWS credential chain when no static keys are given.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not load object store credentials")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		region:  cfg.Region,
	}, nil
}

// CreateBucket provisions the ceremony bucket in the configured region.
func (s *Store) CreateBucket(ctx context.Context, bucket string) error {
	ctx, span := trace.StartSpan(ctx, "storage.CreateBucket")
	defer span.End()
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return errors.Wrapf(err, "could not create bucket %s", bucket)
	}
	log.WithField("bucket", bucket).Info("Created ceremony bucket")
	return nil
}

// BucketExists reports whether the bucket exists and is reachable.
func (s *Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "storage.BucketExists")
	defer span.End()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ObjectExists reports whether the object exists.
func (s *Store) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "storage.ObjectExists")
	defer span.End()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ObjectSize returns the content length of the object.
func (s *Store) ObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	ctx, span := trace.StartSpan(ctx, "storage.ObjectSize")
	defer span.End()
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, errors.Wrapf(storage.ErrNotFound, "s3://%s/%s", bucket, key)
		}
		return 0, err
	}
	return out.ContentLength, nil
}

// Upload writes the object in one request.
func (s *Store) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	ctx, span := trace.StartSpan(ctx, "storage.Upload")
	defer span.End()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return errors.Wrapf(err, "could not upload s3://%s/%s", bucket, key)
}

// Download streams the object body.
func (s *Store) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	ctx, span := trace.StartSpan(ctx, "storage.Download")
	defer span.End()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) || isNotFound(err) {
			return nil, errors.Wrapf(storage.ErrNotFound, "s3://%s/%s", bucket, key)
		}
		return nil, err
	}
	return out.Body, nil
}

// DownloadURL pre-signs a GET for the object.
func (s *Store) DownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	ctx, span := trace.StartSpan(ctx, "storage.DownloadURL")
	defer span.End()
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", errors.Wrapf(err, "could not pre-sign GET for s3://%s/%s", bucket, key)
	}
	return req.URL, nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	return errors.As(err, &notFound)
}
