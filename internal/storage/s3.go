package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"nassync/internal/model"
	"nassync/internal/sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// minPartSize is the smallest part size S3 accepts for multipart uploads.
const minPartSize = 5 * 1024 * 1024

// S3Store uploads objects to an S3 bucket (or any S3-compatible endpoint).
// Objects at or above the multipart threshold go through the transfer
// manager's chunked path; smaller objects use a single PutObject call.
type S3Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	threshold int64
	logger    sync.Logger
}

// S3Options configures the destination bucket and transfer behavior.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // custom endpoint for MinIO and other S3-compatible stores
	AccessKey string
	SecretKey string

	// MultipartThreshold is the size above which uploads are chunked.
	// Zero selects the default of 100 MiB.
	MultipartThreshold int64

	// Concurrency is the number of parts uploaded in parallel for one
	// multipart transfer. Zero selects the manager default.
	Concurrency int
}

// NewS3Store builds an S3Store from options, resolving credentials from the
// default chain unless static keys are provided.
func NewS3Store(ctx context.Context, opts S3Options, logger sync.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		}
	})

	return NewS3StoreFromClient(client, opts, logger), nil
}

// NewS3StoreFromClient wraps an existing S3 client. Used by tests and by
// callers that manage their own client configuration.
func NewS3StoreFromClient(client *s3.Client, opts S3Options, logger sync.Logger) *S3Store {
	threshold := opts.MultipartThreshold
	if threshold < minPartSize {
		threshold = 100 * 1024 * 1024
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = minPartSize
		if opts.Concurrency > 0 {
			u.Concurrency = opts.Concurrency
		}
	})

	if logger == nil {
		logger = sync.NewNopLogger()
	}

	return &S3Store{
		client:    client,
		uploader:  uploader,
		bucket:    opts.Bucket,
		prefix:    strings.Trim(opts.Prefix, "/"),
		threshold: threshold,
		logger:    logger,
	}
}

// Put streams r to the object key and returns the remote version. The key is
// the catalog path; the configured prefix is prepended on the wire.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*model.UploadResult, error) {
	if key == "" {
		return nil, fmt.Errorf("object key cannot be empty")
	}

	objectKey := s.objectKey(key)
	start := time.Now()

	var version string
	var err error
	if size >= s.threshold {
		version, err = s.putMultipart(ctx, objectKey, r, contentType)
	} else {
		version, err = s.putSingle(ctx, objectKey, r, size, contentType)
	}
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	s.logger.Debug("object uploaded", "key", objectKey, "size", size, "duration", elapsed)

	return &model.UploadResult{
		Key:      objectKey,
		Version:  version,
		Duration: elapsed,
	}, nil
}

func (s *S3Store) putSingle(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return objectVersion(out.VersionId, out.ETag), nil
}

func (s *S3Store) putMultipart(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("multipart upload %s: %w", key, err)
	}
	return objectVersion(out.VersionID, out.ETag), nil
}

// Exists probes the object key with a HEAD request.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("object key cannot be empty")
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return false, nil
	}
	return false, fmt.Errorf("head object %s: %w", key, err)
}

// Bucket returns the destination bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// objectVersion prefers the bucket's version ID and falls back to the ETag
// with its quoting stripped.
func objectVersion(versionID, etag *string) string {
	if versionID != nil && *versionID != "" {
		return *versionID
	}
	if etag != nil {
		return strings.Trim(*etag, `"`)
	}
	return ""
}

// Compile-time check that S3Store implements sync.ObjectStore
var _ sync.ObjectStore = (*S3Store)(nil)
