package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/storage"
	"github.com/maneesh/mediadrop/internal/upload"
)

// ResumableRequest describes a resumable upload being created.
type ResumableRequest struct {
	UploadID   string          `json:"uploadId" validate:"required,sessionid"`
	FileName   string          `json:"filename" validate:"required,max=255"`
	Size       int64           `json:"size" validate:"gt=0"`
	MimeType   string          `json:"contentType" validate:"omitempty,max=255"`
	FileType   models.FileType `json:"fileType" validate:"omitempty,oneof=video photo"`
	Bucket     string          `json:"bucketName" validate:"omitempty,max=63"`
	ObjectName string          `json:"objectName" validate:"omitempty,max=512,objectpath"`
	Prefix     string          `json:"prefix" validate:"omitempty,max=512,objectpath"`
	Upsert     bool            `json:"upsert"`
}

// OpenResumable registers a session for a resumable upload so status,
// promotion and expiry treat it like a chunked one.
func (c *Coordinator) OpenResumable(ctx context.Context, req ResumableRequest) (*models.UploadSession, error) {
	ctx, span := tracer.Start(ctx, "coordinator.open_resumable")
	defer span.End()

	if err := c.validate.StructCtx(ctx, req); err != nil {
		return nil, upload.NewError(upload.ErrInvalidRequest, req.UploadID, err)
	}

	sess, err := c.newSession(req.UploadID, models.KindResumable, SessionRequest{
		FileName:    req.FileName,
		TotalSize:   req.Size,
		TotalChunks: 1,
		MimeType:    req.MimeType,
		FileType:    req.FileType,
		Bucket:      req.Bucket,
		Path:        req.Prefix,
	}, nil)
	if err != nil {
		return nil, err
	}

	if req.ObjectName != "" {
		if !req.Upsert {
			exists, err := c.ObjectExists(ctx, sess.TargetBucket, req.ObjectName)
			if err != nil {
				return nil, fmt.Errorf("failed to check object: %w", err)
			}
			if exists {
				return nil, upload.NewError(upload.ErrObjectExists, req.UploadID,
					fmt.Errorf("%s/%s", sess.TargetBucket, req.ObjectName))
			}
		}
		sess.TargetPath = req.ObjectName
	}

	if err := c.sessions.Create(ctx, sess); err != nil {
		if errors.Is(err, storage.ErrSessionExists) {
			return nil, upload.NewError(upload.ErrSessionMismatch, req.UploadID, err)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c.logger.Info("resumable upload opened",
		"session_id", sess.ID,
		"file_name", sess.FileName,
		"size", sess.DeclaredTotalSize,
		"bucket", sess.TargetBucket,
		"path", sess.TargetPath,
	)
	return sess, nil
}
