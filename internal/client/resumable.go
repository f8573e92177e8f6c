package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tus "github.com/eventials/go-tus"

	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/upload"
)

// DefaultResumableDelays are the waits before each retry of a resumable transfer.
var DefaultResumableDelays = []time.Duration{0, time.Second, 3 * time.Second, 5 * time.Second}

// delaySequence is a backoff.BackOff yielding a fixed list of waits.
type delaySequence struct {
	delays []time.Duration
	next   int
}

func (d *delaySequence) NextBackOff() time.Duration {
	if d.next >= len(d.delays) {
		return backoff.Stop
	}
	wait := d.delays[d.next]
	d.next++
	return wait
}

func (d *delaySequence) Reset() {
	d.next = 0
}

// ResumableOptions configures the tus client.
type ResumableOptions struct {
	// Endpoint is the absolute tus creation URL.
	Endpoint  string
	ChunkSize int64
	Delays    []time.Duration
	Store     *FingerprintStore
	Upsert    bool
}

// ResumableUploader transfers large files over the tus protocol.
type ResumableUploader struct {
	api    *API
	opts   ResumableOptions
	logger *slog.Logger
}

// NewResumableUploader creates a tus uploader. A nil Store keeps fingerprints
// in memory.
func NewResumableUploader(api *API, opts ResumableOptions, logger *slog.Logger) *ResumableUploader {
	if opts.Delays == nil {
		opts.Delays = DefaultResumableDelays
	}
	if opts.Store == nil {
		opts.Store = NewMemoryFingerprintStore()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = upload.ResumableUnit * 24
	}
	return &ResumableUploader{api: api, opts: opts, logger: logger}
}

// Upload sends src and returns the promoted result. fingerprint keys the
// upload URL in the store so an interrupted transfer resumes from the
// server's offset.
func (ru *ResumableUploader) Upload(ctx context.Context, src io.ReadSeeker, size int64, meta FileMeta, fingerprint string, onProgress ProgressFunc) (*models.UploadResult, error) {
	cfg := tus.DefaultConfig()
	cfg.ChunkSize = ru.opts.ChunkSize
	cfg.Resume = true
	cfg.Store = ru.opts.Store
	cfg.HttpClient = ru.api.HTTPClient()
	cfg.Header = ru.api.AuthHeader()
	cfg.Header.Set("x-upsert", strconv.FormatBool(ru.opts.Upsert))

	client, err := tus.NewClient(ru.opts.Endpoint, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tus client: %w", err)
	}

	contentType := meta.MimeType
	if contentType == "" {
		contentType = upload.InferContentType(meta.Name, "")
	}
	metadata := tus.Metadata{
		"filename":    meta.Name,
		"contentType": contentType,
		"fileType":    string(meta.FileType),
	}
	if meta.Bucket != "" {
		metadata["bucketName"] = meta.Bucket
	}
	if meta.Path != "" {
		metadata["prefix"] = meta.Path
	}
	up := tus.NewUpload(src, size, metadata, fingerprint)

	tracker := NewTracker(onProgress)
	tracker.Report(0)

	var uploader *tus.Uploader
	op := func() error {
		var err error
		if uploader == nil {
			uploader, err = client.CreateOrResumeUpload(up)
		} else {
			uploader, err = client.ResumeUpload(up)
			if errors.Is(err, tus.ErrUploadNotFound) {
				uploader, err = client.CreateOrResumeUpload(up)
			}
		}
		if err != nil {
			return classifyTus(err)
		}

		for uploader.Offset() < size {
			if err := ctx.Err(); err != nil {
				return backoff.Permanent(err)
			}
			if err := uploader.UploadChunck(); err != nil {
				return classifyTus(err)
			}
			tracker.Report(float64(uploader.Offset()) / float64(size) * 100)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		ru.logger.Warn("resumable upload interrupted, resuming",
			"file_name", meta.Name,
			"progress", tracker.Last(),
			"wait", wait,
			"error", err,
		)
	}

	seq := &delaySequence{delays: ru.opts.Delays}
	if err := backoff.RetryNotify(op, backoff.WithContext(seq, ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &upload.Error{Kind: upload.ErrTimeout, ChunkIndex: -1, Progress: tracker.Last(), Err: ctxErr}
		}
		var permanent *permanentTusError
		if errors.As(err, &permanent) {
			return nil, permanent.err
		}
		return nil, &upload.Error{Kind: upload.ErrRetriesExhausted, ChunkIndex: -1, Progress: tracker.Last(), Err: err}
	}

	sessionID := path.Base(uploader.Url())
	ru.opts.Store.Delete(fingerprint)

	resp, err := ru.api.Assemble(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tracker.Report(100)
	return &models.UploadResult{
		PublicURL:   resp.FileURL,
		StoragePath: resp.Path,
		Bucket:      resp.Bucket,
		FileSize:    resp.Size,
		ContentType: resp.ContentType,
	}, nil
}

// permanentTusError marks failures a retry cannot fix so they surface as
// themselves instead of as exhausted retries.
type permanentTusError struct {
	err error
}

func (p *permanentTusError) Error() string { return p.err.Error() }
func (p *permanentTusError) Unwrap() error { return p.err }

// classifyTus decides whether a tus failure is worth resuming.
func classifyTus(err error) error {
	var ce tus.ClientError
	if errors.As(err, &ce) {
		apiErr := tusAPIError(ce)
		switch {
		case ce.Code == http.StatusConflict && apiErr.Code == upload.CodeObjectExists:
			return backoff.Permanent(&permanentTusError{apiErr})
		case ce.Code == http.StatusRequestTimeout, ce.Code == http.StatusConflict,
			ce.Code == http.StatusLocked, ce.Code == http.StatusTooManyRequests:
			return apiErr
		case ce.Code >= 400 && ce.Code < 500:
			return backoff.Permanent(&permanentTusError{apiErr})
		}
		return apiErr
	}

	switch {
	case errors.Is(err, tus.ErrOffsetMismatch), errors.Is(err, tus.ErrUploadNotFound):
		return err
	case errors.Is(err, tus.ErrLargeUpload):
		return backoff.Permanent(&permanentTusError{&APIError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Code:       upload.CodePayloadTooLarge,
			Message:    err.Error(),
		}})
	case errors.Is(err, tus.ErrVersionMismatch), errors.Is(err, tus.ErrFingerprintNotSet),
		errors.Is(err, tus.ErrResumeNotEnabled):
		return backoff.Permanent(&permanentTusError{err})
	}
	return err
}

// tusAPIError parses the "CODE: message" body tusd writes for errors.
func tusAPIError(ce tus.ClientError) *APIError {
	body := strings.TrimSpace(string(ce.Body))
	apiErr := &APIError{StatusCode: ce.Code, Message: body}
	if code, msg, ok := strings.Cut(body, ":"); ok {
		apiErr.Code = strings.TrimSpace(code)
		apiErr.Message = strings.TrimSpace(msg)
	}
	if kind := upload.KindForCode(apiErr.Code); kind != nil {
		apiErr.Err = upload.NewError(kind, "", errors.New(apiErr.Message))
	}
	return apiErr
}
