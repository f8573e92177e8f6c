package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// s3DeleteBatch is the DeleteObjects per-request key limit.
const s3DeleteBatch = 1000

// S3Options configures the S3 backend.
type S3Options struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	PublicBaseURL string
}

// S3Store implements ObjectStore on AWS S3 or an S3-compatible endpoint.
type S3Store struct {
	client     *s3.Client
	publicBase string
	region     string
	logger     *slog.Logger
	ensured    sync.Map
}

// NewS3Store loads AWS configuration and builds the client. Static keys
// override the default credential chain when set.
func NewS3Store(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	base := opts.PublicBaseURL
	if base == "" {
		if opts.Endpoint != "" {
			base = opts.Endpoint
		} else {
			base = fmt.Sprintf("https://s3.%s.amazonaws.com", opts.Region)
		}
	}

	return &S3Store{client: client, publicBase: base, region: opts.Region, logger: logger}, nil
}

// EnsureBucket creates the bucket when HeadBucket reports it missing.
func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	if _, ok := s.ensured.Load(bucket); ok {
		return nil
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if !isS3NotFound(err) {
			return fmt.Errorf("failed to check bucket existence: %w", err)
		}

		s.logger.Info("creating bucket", "bucket", bucket)
		input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
		if s.region != "" && s.region != "us-east-1" {
			input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
				LocationConstraint: types.BucketLocationConstraint(s.region),
			}
		}
		if _, err := s.client.CreateBucket(ctx, input); err != nil {
			var owned *types.BucketAlreadyOwnedByYou
			if !errors.As(err, &owned) {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	}

	s.ensured.Store(bucket, struct{}{})
	return nil
}

// PutObject writes (or overwrites) an object.
func (s *S3Store) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "s3.put_object",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("object_key", key),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		span.RecordError(err)
		return ObjectInfo{}, fmt.Errorf("failed to put object: %w", err)
	}

	return ObjectInfo{Bucket: bucket, Key: key, Size: size, ContentType: contentType}, nil
}

// GetObject opens an object for reading.
func (s *S3Store) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "s3.get_object",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) || isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return out.Body, nil
}

// StatObject returns object metadata or ErrObjectNotFound.
func (s *S3Store) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "s3.head_object",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		span.RecordError(err)
		return ObjectInfo{}, fmt.Errorf("failed to check object existence: %w", err)
	}

	return ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// ListObjects pages through every object under prefix.
func (s *S3Store) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "s3.list_objects",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("prefix", prefix),
		),
	)
	defer span.End()

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var out []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Bucket:       bucket,
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// RemoveObjects deletes keys in batches of up to 1000.
func (s *S3Store) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	ctx, span := tracer.Start(ctx, "s3.delete_objects",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.Int("object_count", len(keys)),
		),
	)
	defer span.End()

	for start := 0; start < len(keys); start += s3DeleteBatch {
		end := start + s3DeleteBatch
		if end > len(keys) {
			end = len(keys)
		}

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			var msgs []string
			for _, e := range out.Errors {
				msgs = append(msgs, aws.ToString(e.Key)+": "+aws.ToString(e.Message))
			}
			err := fmt.Errorf("failed to delete %d objects: %s", len(out.Errors), strings.Join(msgs, "; "))
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// PublicURL returns the address the object is served from.
func (s *S3Store) PublicURL(bucket, key string) string {
	return joinURL(s.publicBase, bucket, key)
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
