package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinioOptions configures the MinIO backend.
type MinioOptions struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicBaseURL string
}

// MinioClient implements ObjectStore on MinIO with tracing
type MinioClient struct {
	client     *minio.Client
	publicBase string
	logger     *slog.Logger
	ensured    sync.Map
}

// NewMinioClient initializes a new MinIO client
func NewMinioClient(opts MinioOptions, logger *slog.Logger) (*MinioClient, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	base := opts.PublicBaseURL
	if base == "" {
		base = client.EndpointURL().String()
	}

	return &MinioClient{
		client:     client,
		publicBase: base,
		logger:     logger,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (mc *MinioClient) EnsureBucket(ctx context.Context, bucket string) error {
	if _, ok := mc.ensured.Load(bucket); ok {
		return nil
	}

	exists, err := mc.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		mc.logger.Info("creating bucket", "bucket", bucket)
		if err := mc.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	mc.ensured.Store(bucket, struct{}{})
	return nil
}

// PutObject writes (or overwrites) an object
func (mc *MinioClient) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "minio.put_object",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("object_key", key),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	info, err := mc.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		return ObjectInfo{}, fmt.Errorf("failed to put object: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         info.Size,
		ContentType:  contentType,
		LastModified: info.LastModified,
	}, nil
}

// GetObject opens an object for reading
func (mc *MinioClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "minio.get_object",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	object, err := mc.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, mapMinioError(err)
	}
	return object, nil
}

// StatObject returns object metadata or ErrObjectNotFound
func (mc *MinioClient) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "minio.stat_object",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	info, err := mc.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		err = mapMinioError(err)
		if !errors.Is(err, ErrObjectNotFound) {
			span.RecordError(err)
		}
		return ObjectInfo{}, err
	}

	return ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// ListObjects lists every object under prefix
func (mc *MinioClient) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "minio.list_objects",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("prefix", prefix),
		),
	)
	defer span.End()

	var out []ObjectInfo
	for obj := range mc.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			span.RecordError(obj.Err)
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		out = append(out, ObjectInfo{
			Bucket:       bucket,
			Key:          obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}

	span.SetAttributes(attribute.Int("object_count", len(out)))
	return out, nil
}

// RemoveObjects deletes keys in one batch request
func (mc *MinioClient) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	ctx, span := tracer.Start(ctx, "minio.remove_objects",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.Int("object_count", len(keys)),
		),
	)
	defer span.End()

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	var errs []error
	for rerr := range mc.client.RemoveObjects(ctx, bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("%s: %w", rerr.ObjectName, rerr.Err))
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	return nil
}

// PublicURL returns the address the object is served from
func (mc *MinioClient) PublicURL(bucket, key string) string {
	return joinURL(mc.publicBase, bucket, key)
}

func mapMinioError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
