package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/storage"
	"github.com/maneesh/mediadrop/internal/upload"
)

// DirectRequest is a whole file sent in one request.
type DirectRequest struct {
	FileName string          `json:"fileName" validate:"required,max=255"`
	MimeType string          `json:"mimeType" validate:"omitempty,max=255"`
	FileType models.FileType `json:"fileType" validate:"omitempty,oneof=video photo"`
	Bucket   string          `json:"bucket" validate:"omitempty,max=63"`
	Path     string          `json:"path" validate:"omitempty,max=512,objectpath"`
	Size     int64           `json:"size" validate:"gt=0"`
	Body     io.Reader       `json:"-" validate:"-"`
}

// PutDirect writes a small file straight to its final object.
func (c *Coordinator) PutDirect(ctx context.Context, req DirectRequest) (*models.UploadResult, error) {
	ctx, span := tracer.Start(ctx, "coordinator.put_direct",
		trace.WithAttributes(
			attribute.String("file_name", req.FileName),
			attribute.Int64("size", req.Size),
		),
	)
	defer span.End()

	if err := c.validate.StructCtx(ctx, req); err != nil {
		return nil, upload.NewError(upload.ErrInvalidRequest, "", err)
	}
	if req.Body == nil {
		return nil, upload.NewError(upload.ErrInvalidRequest, "", errors.New("missing file body"))
	}

	body := bufio.NewReaderSize(req.Body, sniffLen)
	head, err := body.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, upload.NewError(upload.ErrInvalidRequest, "", fmt.Errorf("failed to read file: %w", err))
	}

	ct, fileType, err := upload.CheckMedia(req.FileName, req.MimeType, head)
	if err != nil {
		return nil, upload.NewError(upload.ErrUnsupportedMedia, "", err)
	}
	if req.FileType.Valid() {
		fileType = req.FileType
	}
	bucket, err := c.resolveBucket(req.Bucket, fileType)
	if err != nil {
		return nil, upload.NewError(upload.ErrInvalidRequest, "", err)
	}
	key := c.finalPath(req.Path, req.FileName, ct)

	info, err := c.objects.PutObject(ctx, bucket, key, body, req.Size, ct)
	if err != nil {
		span.RecordError(err)
		c.logger.Error("direct upload failed", "bucket", bucket, "path", key, "error", err)
		return nil, upload.NewError(upload.ErrPermanentWrite, "", err)
	}

	c.logger.Info("direct upload complete", "bucket", bucket, "path", key, "size", info.Size)
	return &models.UploadResult{
		PublicURL:   c.objects.PublicURL(bucket, key),
		StoragePath: key,
		Bucket:      bucket,
		FileSize:    info.Size,
		ContentType: ct,
	}, nil
}

// DeleteObject removes a published object. Missing objects are not an error.
func (c *Coordinator) DeleteObject(ctx context.Context, bucket, key string) error {
	if bucket != c.opts.VideoBucket && bucket != c.opts.PhotoBucket {
		return upload.NewError(upload.ErrInvalidRequest, "", fmt.Errorf("bucket %q is not writable", bucket))
	}
	if key == "" || !validObjectPath(key) {
		return upload.NewError(upload.ErrInvalidRequest, "", fmt.Errorf("invalid object path %q", key))
	}
	if err := c.objects.RemoveObjects(ctx, bucket, []string{key}); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// ObjectExists reports whether bucket/key is already stored.
func (c *Coordinator) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.objects.StatObject(ctx, bucket, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
