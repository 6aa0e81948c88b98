// Package s3store keeps note files as objects in an S3-compatible bucket.
// ETags act as revisions and writes use S3 conditional requests.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/aretw0/tilvault/pkg/adapters/remote"
)

// API is the part of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Config describes the bucket.
type Config struct {
	Bucket string
	// Prefix is prepended to every key, e.g. "users/alice".
	Prefix string
	Region string
	// Endpoint targets S3-compatible services such as MinIO.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	// AutoCreate creates a missing bucket on Initialize.
	AutoCreate bool
	// PageSize bounds List pages. Zero means the service default.
	PageSize int32
	Logger   *slog.Logger
}

// Store implements remote.FileStore on a bucket.
type Store struct {
	api    API
	config Config
	logger *slog.Logger
}

var (
	_ remote.FileStore   = (*Store)(nil)
	_ remote.Initializer = (*Store)(nil)
)

// New builds an S3 client from the default AWS configuration chain, with
// static credentials when given. The SDK's own retries are disabled since
// the backend retries throttled calls itself.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.Retryer = aws.NopRetryer{}
	})
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}
	return NewWithAPI(client, cfg), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store{api: api, config: cfg, logger: logger.With("bucket", cfg.Bucket)}
}

func (s *Store) key(p string) string {
	if s.config.Prefix == "" {
		return p
	}
	return s.config.Prefix + "/" + p
}

func (s *Store) relative(key string) string {
	if s.config.Prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.config.Prefix+"/")
}

// Fetch implements remote.FileStore.
func (s *Store) Fetch(ctx context.Context, p string) (remote.File, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return remote.File{}, translate(err, p, "")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return remote.File{}, fmt.Errorf("%w: read %s: %w", remote.ErrTransient, p, err)
	}
	return remote.File{Path: p, Content: data, Revision: aws.ToString(out.ETag)}, nil
}

// Put implements remote.FileStore.
func (s *Store) Put(ctx context.Context, p string, content []byte, revision, message string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.key(p)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/markdown; charset=utf-8"),
		Metadata:    map[string]string{"change": truncate(message, 256)},
	}
	if revision == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(revision)
	}

	out, err := s.api.PutObject(ctx, in)
	if err != nil {
		return "", translate(err, p, revision)
	}
	return aws.ToString(out.ETag), nil
}

// Remove implements remote.FileStore. Deleting a missing key succeeds in
// S3, so existence is checked first.
func (s *Store) Remove(ctx context.Context, p, revision, message string) error {
	current, err := s.Fetch(ctx, p)
	if err != nil {
		return err
	}
	if revision != "" && current.Revision != revision {
		return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
	}

	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:  aws.String(s.config.Bucket),
		Key:     aws.String(s.key(p)),
		IfMatch: aws.String(current.Revision),
	})
	if err != nil {
		return translate(err, p, current.Revision)
	}
	s.logger.Debug("object removed", "key", s.key(p), "change", message)
	return nil
}

// List implements remote.FileStore. The cursor is the continuation token.
func (s *Store) List(ctx context.Context, dir, cursor string) (remote.Page, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.config.Bucket),
		Prefix:    aws.String(s.key(dir) + "/"),
		Delimiter: aws.String("/"),
	}
	if cursor != "" {
		in.ContinuationToken = aws.String(cursor)
	}
	if s.config.PageSize > 0 {
		in.MaxKeys = aws.Int32(s.config.PageSize)
	}

	out, err := s.api.ListObjectsV2(ctx, in)
	if err != nil {
		return remote.Page{}, translate(err, dir, "")
	}

	var page remote.Page
	for _, obj := range out.Contents {
		p := s.relative(aws.ToString(obj.Key))
		if strings.HasPrefix(path.Base(p), ".") {
			continue
		}
		page.Entries = append(page.Entries, remote.Entry{Path: p, Revision: aws.ToString(obj.ETag)})
	}
	if aws.ToBool(out.IsTruncated) {
		page.Next = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// Initialize checks the bucket, creating it when allowed. Object stores
// have no directories, so dir needs no setup.
func (s *Store) Initialize(ctx context.Context, dir string) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.Bucket)})
	if err == nil {
		return nil
	}
	err = translate(err, s.config.Bucket, "")
	if !errors.Is(err, remote.ErrFileNotFound) {
		return err
	}
	if !s.config.AutoCreate {
		return fmt.Errorf("bucket %s does not exist: %w", s.config.Bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(s.config.Bucket)}
	if s.config.Region != "" && s.config.Region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.config.Region),
		}
	}
	s.logger.Info("creating bucket", "region", s.config.Region)
	if _, err := s.api.CreateBucket(ctx, in); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return translate(err, s.config.Bucket, "")
	}
	return nil
}

// translate maps S3 errors onto the remote signals. A failed precondition
// means "exists" for a create and "changed" for an update.
func translate(err error, p, revision string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s: %w", remote.ErrFileNotFound, p, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed":
			if revision == "" {
				return fmt.Errorf("%w: %s", remote.ErrFileExists, p)
			}
			return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
		case "ConditionalRequestConflict":
			return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %s: %w", remote.ErrFileNotFound, p, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			return fmt.Errorf("%w: %w", remote.ErrUnauthorized, err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequests":
			return fmt.Errorf("%w: %w", remote.ErrRateLimited, err)
		case "InternalError", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: %w", remote.ErrTransient, err)
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		switch code := status.HTTPStatusCode(); {
		case code == 404:
			return fmt.Errorf("%w: %s: %w", remote.ErrFileNotFound, p, err)
		case code == 401, code == 403:
			return fmt.Errorf("%w: %w", remote.ErrUnauthorized, err)
		case code == 429, code == 503:
			return fmt.Errorf("%w: %w", remote.ErrRateLimited, err)
		case code >= 500:
			return fmt.Errorf("%w: %w", remote.ErrTransient, err)
		}
	}
	return err
}

func truncate(s string, n int) string {
	// S3 metadata must be ASCII on the wire; non-ASCII is replaced.
	b := make([]byte, 0, n)
	for _, r := range s {
		if len(b) >= n {
			break
		}
		if r < 0x20 || r > 0x7e {
			r = '?'
		}
		b = append(b, byte(r))
	}
	return string(b)
}
