package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/maneesh/mediadrop/internal/chunker"
	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/upload"
)

// FileMeta describes the file being uploaded. Path is the target prefix.
type FileMeta struct {
	Name     string
	MimeType string
	FileType models.FileType
	Bucket   string
	Path     string
}

// SplitterOptions tunes the chunk splitter.
type SplitterOptions struct {
	ChunkSize        int64
	MaxRetries       int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	ResumeFromServer bool
}

func (o *SplitterOptions) setDefaults() {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 5 * time.Second
	}
}

// Splitter uploads a file as fixed-size chunks, one in flight at a time.
type Splitter struct {
	api     *API
	chunker *chunker.Chunker
	opts    SplitterOptions
	logger  *slog.Logger
}

// NewSplitter creates a splitter. MaxRetries is the number of retries after
// the first attempt of each chunk.
func NewSplitter(api *API, opts SplitterOptions, logger *slog.Logger) *Splitter {
	opts.setDefaults()
	return &Splitter{
		api:     api,
		chunker: chunker.NewChunker(opts.ChunkSize),
		opts:    opts,
		logger:  logger,
	}
}

// chunkUpload tracks one transfer.
type chunkUpload struct {
	src       io.ReaderAt
	size      int64
	meta      FileMeta
	sessionID string
	plan      []models.ByteRange
	acked     map[int]bool
	tracker   *Tracker
}

func (u *chunkUpload) total() int {
	return len(u.plan)
}

func (u *chunkUpload) ack(index int) {
	u.acked[index] = true
	u.tracker.Report(float64(len(u.acked)) / float64(u.total()) * 100)
}

// Upload sends src in index order and returns the assembled result. An
// empty sessionID gets a fresh one; reusing an id resumes that session.
func (s *Splitter) Upload(ctx context.Context, src io.ReaderAt, size int64, meta FileMeta, sessionID string, onProgress ProgressFunc) (*models.UploadResult, error) {
	if size <= 0 {
		return nil, upload.NewError(upload.ErrInvalidRequest, sessionID, errors.New("file is empty"))
	}
	resuming := sessionID != ""
	if !resuming {
		sessionID = uuid.NewString()
	}

	u := &chunkUpload{
		src:       src,
		size:      size,
		meta:      meta,
		sessionID: sessionID,
		plan:      s.chunker.Plan(size),
		acked:     make(map[int]bool),
		tracker:   NewTracker(onProgress),
	}
	u.tracker.Report(0)

	held := map[int]bool{}
	if resuming && s.opts.ResumeFromServer {
		var result *models.UploadResult
		if held, result = s.serverState(ctx, u); result != nil {
			u.tracker.Report(100)
			return result, nil
		}
	}

	final := u.total() - 1
	for _, r := range u.plan[:final] {
		if held[r.Index] {
			u.ack(r.Index)
			continue
		}
		if _, err := s.send(ctx, u, r); err != nil {
			return nil, err
		}
		u.ack(r.Index)
	}

	resp, err := s.send(ctx, u, u.plan[final])
	if ue, ok := upload.AsError(err); ok && errors.Is(err, upload.ErrIncompleteSession) && len(ue.Missing) > 0 {
		s.logger.Info("server reported missing chunks, resending",
			"session_id", u.sessionID,
			"missing", ue.Missing,
		)
		for _, idx := range ue.Missing {
			if idx == final || idx < 0 || idx >= u.total() {
				continue
			}
			if _, err := s.send(ctx, u, u.plan[idx]); err != nil {
				return nil, err
			}
			u.ack(idx)
		}
		resp, err = s.send(ctx, u, u.plan[final])
	}
	if err != nil {
		return nil, err
	}
	if !resp.Complete {
		return nil, upload.NewChunkError(upload.ErrIncompleteSession, u.sessionID, final, u.total(),
			errors.New("final chunk acknowledged without completion"))
	}
	u.ack(final)

	return s.result(ctx, u, resp), nil
}

// serverState returns the indices the server already holds, or the stored
// result of a session that already completed.
func (s *Splitter) serverState(ctx context.Context, u *chunkUpload) (map[int]bool, *models.UploadResult) {
	held := map[int]bool{}
	status, err := s.api.Status(ctx, u.sessionID)
	if err != nil {
		if !errors.Is(err, upload.ErrSessionNotFound) {
			s.logger.Warn("session status unavailable, sending every chunk",
				"session_id", u.sessionID, "error", err)
		}
		return held, nil
	}
	if status.Status == models.StatusComplete && status.Result != nil {
		return held, status.Result
	}
	if status.TotalChunks != u.total() {
		// The server will reject the declaration; let the first chunk say so.
		return held, nil
	}
	for _, idx := range status.Received {
		held[idx] = true
	}
	if len(held) > 0 {
		s.logger.Info("resuming session from server state",
			"session_id", u.sessionID,
			"held", len(held),
			"total_chunks", u.total(),
		)
	}
	return held, nil
}

// send uploads one chunk with bounded exponential backoff.
func (s *Splitter) send(ctx context.Context, u *chunkUpload, r models.ByteRange) (*models.ChunkResponse, error) {
	chunk, err := s.chunker.ReadChunk(u.src, u.sessionID, r)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", r.Index, err)
	}
	req := ChunkUpload{
		SessionID:   u.sessionID,
		Index:       r.Index,
		TotalChunks: u.total(),
		FileName:    u.meta.Name,
		MimeType:    u.meta.MimeType,
		FileType:    u.meta.FileType,
		Bucket:      u.meta.Bucket,
		Path:        u.meta.Path,
		TotalSize:   u.size,
		Hash:        chunk.Hash,
		Payload:     chunk.Payload,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.MaxRetries)), ctx)

	var (
		resp      *models.ChunkResponse
		permanent bool
	)
	op := func() error {
		out, err := s.api.SendChunk(ctx, req)
		if err == nil {
			resp = out
			return nil
		}
		if isPermanent(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("chunk upload failed, retrying",
			"session_id", u.sessionID,
			"chunk_index", r.Index,
			"total_chunks", u.total(),
			"wait", wait,
			"error", err,
		)
	}

	err = backoff.RetryNotify(op, policy, notify)
	if err == nil {
		return resp, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		timeout := upload.NewChunkError(upload.ErrTimeout, u.sessionID, r.Index, u.total(), ctxErr)
		timeout.Progress = u.tracker.Last()
		return nil, timeout
	}
	if permanent {
		if ue, ok := upload.AsError(err); ok {
			ue.Progress = u.tracker.Last()
		}
		return nil, err
	}
	exhausted := upload.NewChunkError(upload.ErrRetriesExhausted, u.sessionID, r.Index, u.total(), err)
	exhausted.Progress = u.tracker.Last()
	return nil, exhausted
}

// result fetches the full result from the session and falls back to the
// chunk response when status is unavailable.
func (s *Splitter) result(ctx context.Context, u *chunkUpload, resp *models.ChunkResponse) *models.UploadResult {
	if status, err := s.api.Status(ctx, u.sessionID); err == nil && status.Result != nil {
		return status.Result
	}
	return &models.UploadResult{
		PublicURL:   resp.FileURL,
		StoragePath: resp.Path,
		Bucket:      u.meta.Bucket,
		FileSize:    resp.Size,
		ContentType: u.meta.MimeType,
	}
}

// isPermanent reports whether retrying the same request cannot help.
func isPermanent(err error) bool {
	status := StatusCode(err)
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	if errors.Is(err, upload.ErrAssemblyInProgress) || errors.Is(err, upload.ErrChecksumMismatch) {
		return false
	}
	return true
}
