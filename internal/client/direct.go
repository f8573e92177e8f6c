package client

import (
	"context"
	"io"
	"log/slog"

	"github.com/maneesh/mediadrop/internal/models"
)

// DirectUploader sends a whole file in one request.
type DirectUploader struct {
	api    *API
	logger *slog.Logger
}

// NewDirectUploader creates a direct uploader.
func NewDirectUploader(api *API, logger *slog.Logger) *DirectUploader {
	return &DirectUploader{api: api, logger: logger}
}

// Upload writes body to its final location in one request.
func (d *DirectUploader) Upload(ctx context.Context, body io.Reader, meta FileMeta) (*models.UploadResult, error) {
	resp, err := d.api.PutDirect(ctx, DirectUpload{
		FileName: meta.Name,
		MimeType: meta.MimeType,
		FileType: meta.FileType,
		Bucket:   meta.Bucket,
		Path:     meta.Path,
		Body:     body,
	})
	if err != nil {
		return nil, err
	}
	d.logger.Debug("direct upload complete", "file_name", meta.Name, "path", resp.Path, "size", resp.Size)
	contentType := resp.ContentType
	if contentType == "" {
		contentType = meta.MimeType
	}
	return &models.UploadResult{
		PublicURL:   resp.FileURL,
		StoragePath: resp.Path,
		Bucket:      resp.Bucket,
		FileSize:    resp.Size,
		ContentType: contentType,
	}, nil
}
