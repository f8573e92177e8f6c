package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/mediadrop/internal/chunker"
	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/storage"
	"github.com/maneesh/mediadrop/internal/upload"
)

// Assemble writes a session's final object. A complete session returns its
// stored result; a failed one is retried from its retained chunks.
func (c *Coordinator) Assemble(ctx context.Context, id string) (*models.UploadResult, error) {
	ctx, span := tracer.Start(ctx, "coordinator.assemble",
		trace.WithAttributes(attribute.String("session_id", id)),
	)
	defer span.End()

	sess, err := c.sessions.Transition(ctx, id,
		[]models.SessionStatus{models.StatusOpen, models.StatusFailed}, models.StatusAssembling,
		func(s *models.UploadSession) { s.FailureReason = "" })
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			return nil, upload.NewError(upload.ErrSessionNotFound, id, nil)
		case errors.Is(err, storage.ErrStatusConflict) && sess != nil:
			if sess.Status == models.StatusComplete && sess.Result != nil {
				return sess.Result, nil
			}
			return nil, upload.NewError(upload.ErrAssemblyInProgress, id, nil)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to lock session %s: %w", id, err)
	}

	if sess.Kind == models.KindResumable {
		return c.promote(ctx, sess)
	}

	sizes, err := c.verifyChunks(ctx, sess)
	if err != nil {
		c.reopen(ctx, sess, err)
		return nil, err
	}

	var total int64
	for _, n := range sizes {
		total += n
	}

	info, err := c.writeFinal(ctx, sess, sizes, total)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &models.UploadResult{
		PublicURL:   c.objects.PublicURL(sess.TargetBucket, sess.TargetPath),
		StoragePath: sess.TargetPath,
		Bucket:      sess.TargetBucket,
		FileSize:    info.Size,
		ContentType: sess.MimeType,
	}
	if err := c.complete(ctx, sess, result); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := c.DeleteTemporaryChunks(ctx, sess.ID); err != nil {
		c.logger.Warn("failed to clean up chunks", "session_id", sess.ID, "error", err)
	}
	return result, nil
}

// verifyChunks stats every declared chunk and returns their sizes in index
// order. Nothing is written until this passes.
func (c *Coordinator) verifyChunks(ctx context.Context, sess *models.UploadSession) ([]int64, error) {
	n := sess.DeclaredTotalChunks
	sizes := make([]int64, n)
	var missing []int

	for i := 0; i < n; i++ {
		info, err := c.objects.StatObject(ctx, c.opts.TempBucket, ChunkKey(sess.ID, i))
		if errors.Is(err, storage.ErrObjectNotFound) {
			missing = append(missing, i)
			continue
		}
		if err != nil {
			return nil, upload.NewChunkError(upload.ErrChunkPersist, sess.ID, i, n, err)
		}
		if recorded, ok := sess.Received[i]; ok && recorded != info.Size {
			// Stored bytes disagree with what was acknowledged; have it resent.
			missing = append(missing, i)
			continue
		}
		sizes[i] = info.Size
	}

	if len(missing) > 0 {
		return nil, &upload.Error{
			Kind:        upload.ErrIncompleteSession,
			SessionID:   sess.ID,
			ChunkIndex:  -1,
			TotalChunks: n,
			Missing:     missing,
			Progress:    float64(n-len(missing)) / float64(n) * 100,
		}
	}

	var total int64
	for _, s := range sizes {
		total += s
	}
	if sess.DeclaredTotalSize > 0 && total != sess.DeclaredTotalSize {
		return nil, upload.NewError(upload.ErrIncompleteSession, sess.ID,
			fmt.Errorf("chunks hold %d bytes, declared %d", total, sess.DeclaredTotalSize))
	}
	return sizes, nil
}

// writeFinal streams the chunks in order into one PutObject.
func (c *Coordinator) writeFinal(ctx context.Context, sess *models.UploadSession, sizes []int64, total int64) (storage.ObjectInfo, error) {
	pr, pw := io.Pipe()
	readErr := make(chan error, 1)

	go func() {
		err := c.streamChunks(ctx, sess, sizes, pw)
		pw.CloseWithError(err)
		readErr <- err
	}()

	info, putErr := c.objects.PutObject(ctx, sess.TargetBucket, sess.TargetPath, pr, total, sess.MimeType)
	// Unblock the writer if the put gave up early.
	pr.CloseWithError(io.ErrClosedPipe)
	streamErr := <-readErr

	if streamErr != nil && !errors.Is(streamErr, io.ErrClosedPipe) {
		c.reopen(ctx, sess, streamErr)
		return storage.ObjectInfo{}, streamErr
	}
	if putErr == nil && info.Size != total {
		putErr = fmt.Errorf("wrote %d bytes, expected %d", info.Size, total)
	}
	if putErr != nil {
		c.fail(ctx, sess, putErr)
		return storage.ObjectInfo{}, upload.NewError(upload.ErrPermanentWrite, sess.ID, putErr)
	}
	return info, nil
}

func (c *Coordinator) streamChunks(ctx context.Context, sess *models.UploadSession, sizes []int64, w io.Writer) error {
	for i, size := range sizes {
		rc, err := c.objects.GetObject(ctx, c.opts.TempBucket, ChunkKey(sess.ID, i))
		if err != nil {
			return upload.NewChunkError(upload.ErrIncompleteSession, sess.ID, i, len(sizes), err)
		}
		_, err = chunker.CopyExact(w, rc, size)
		rc.Close()
		if errors.Is(err, io.ErrClosedPipe) {
			return err
		}
		if err != nil {
			e := upload.NewChunkError(upload.ErrIncompleteSession, sess.ID, i, len(sizes), err)
			e.Missing = []int{i}
			return e
		}
	}
	return nil
}

// promote copies a finished resumable upload to its final object.
func (c *Coordinator) promote(ctx context.Context, sess *models.UploadSession) (*models.UploadResult, error) {
	if c.resumable == nil {
		err := errors.New("resumable uploads are disabled")
		c.fail(ctx, sess, err)
		return nil, upload.NewError(upload.ErrPermanentWrite, sess.ID, err)
	}

	src, size, err := c.resumable.Open(ctx, sess.ID)
	if err != nil {
		c.reopen(ctx, sess, err)
		return nil, upload.NewError(upload.ErrIncompleteSession, sess.ID, err)
	}
	defer src.Close()

	if sess.DeclaredTotalSize > 0 && size != sess.DeclaredTotalSize {
		err := fmt.Errorf("upload holds %d bytes, declared %d", size, sess.DeclaredTotalSize)
		c.reopen(ctx, sess, err)
		return nil, upload.NewError(upload.ErrIncompleteSession, sess.ID, err)
	}

	info, err := c.objects.PutObject(ctx, sess.TargetBucket, sess.TargetPath, src, size, sess.MimeType)
	if err != nil {
		c.fail(ctx, sess, err)
		return nil, upload.NewError(upload.ErrPermanentWrite, sess.ID, err)
	}

	result := &models.UploadResult{
		PublicURL:   c.objects.PublicURL(sess.TargetBucket, sess.TargetPath),
		StoragePath: sess.TargetPath,
		Bucket:      sess.TargetBucket,
		FileSize:    info.Size,
		ContentType: sess.MimeType,
	}
	if err := c.complete(ctx, sess, result); err != nil {
		return nil, err
	}
	return result, nil
}

// PromoteResumable finalizes a resumable session once all bytes arrived.
func (c *Coordinator) PromoteResumable(ctx context.Context, id string, size int64) (*models.UploadResult, error) {
	if err := c.sessions.MarkChunk(ctx, id, 0, size); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, upload.NewError(upload.ErrSessionNotFound, id, nil)
		}
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}
	return c.Assemble(ctx, id)
}

// complete records the result. If that fails the session is marked failed
// with its staged data kept, so Assemble can run again and rewrite the same
// path.
func (c *Coordinator) complete(ctx context.Context, sess *models.UploadSession, result *models.UploadResult) error {
	ctx = context.WithoutCancel(ctx)
	_, err := c.sessions.Transition(ctx, sess.ID,
		[]models.SessionStatus{models.StatusAssembling}, models.StatusComplete,
		func(s *models.UploadSession) { s.Result = result })
	if err != nil {
		c.logger.Error("failed to mark session complete", "session_id", sess.ID, "error", err)
		c.fail(ctx, sess, err)
		return upload.NewError(upload.ErrPermanentWrite, sess.ID, fmt.Errorf("failed to record completion: %w", err))
	}
	c.logger.Info("upload complete",
		"session_id", sess.ID,
		"bucket", result.Bucket,
		"path", result.StoragePath,
		"size", result.FileSize,
	)
	return nil
}

// reopen returns a session to open after a recoverable assembly failure.
func (c *Coordinator) reopen(ctx context.Context, sess *models.UploadSession, cause error) {
	ctx = context.WithoutCancel(ctx)
	_, err := c.sessions.Transition(ctx, sess.ID,
		[]models.SessionStatus{models.StatusAssembling}, models.StatusOpen,
		func(s *models.UploadSession) { s.FailureReason = cause.Error() })
	if err != nil {
		c.logger.Error("failed to reopen session", "session_id", sess.ID, "error", err)
		return
	}
	c.logger.Warn("assembly incomplete", "session_id", sess.ID, "reason", cause)
}

// fail marks a session failed; its staged data is kept for a retry.
func (c *Coordinator) fail(ctx context.Context, sess *models.UploadSession, cause error) {
	ctx = context.WithoutCancel(ctx)
	_, err := c.sessions.Transition(ctx, sess.ID,
		[]models.SessionStatus{models.StatusAssembling}, models.StatusFailed,
		func(s *models.UploadSession) { s.FailureReason = cause.Error() })
	if err != nil {
		c.logger.Error("failed to mark session failed", "session_id", sess.ID, "error", err)
		return
	}
	c.logger.Error("permanent write failed", "session_id", sess.ID, "error", cause)
}
