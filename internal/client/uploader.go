package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/upload"
)

const defaultResumablePath = "/upload/resumable/"

// Options configures the Uploader facade.
type Options struct {
	MaxRetries          int
	RetryInterval       time.Duration
	ChunkedTimeout      time.Duration
	RequestTimeout      time.Duration
	ResumableDelays     []time.Duration
	Fingerprints        *FingerprintStore
	AllowDirectFallback bool
	ResumeFromServer    bool
	Upsert              bool
	// Thresholds skips limits discovery when set.
	Thresholds *upload.Thresholds
}

func (o *Options) setDefaults() {
	if o.ChunkedTimeout <= 0 {
		o.ChunkedTimeout = 10 * time.Minute
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.Fingerprints == nil {
		o.Fingerprints = NewMemoryFingerprintStore()
	}
}

// Uploader picks a strategy per file and runs the transfer.
type Uploader struct {
	api    *API
	opts   Options
	logger *slog.Logger

	mu            sync.Mutex
	thresholds    *upload.Thresholds
	resumablePath string
}

// New creates an uploader over api.
func New(api *API, opts Options, logger *slog.Logger) *Uploader {
	opts.setDefaults()
	u := &Uploader{api: api, opts: opts, logger: logger, resumablePath: defaultResumablePath}
	if opts.Thresholds != nil {
		t := *opts.Thresholds
		u.thresholds = &t
	}
	return u
}

// API returns the underlying endpoint client.
func (u *Uploader) API() *API {
	return u.api
}

// Thresholds returns the limits in force, asking the server once if none
// were configured.
func (u *Uploader) Thresholds(ctx context.Context) (upload.Thresholds, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.thresholds != nil {
		return *u.thresholds, nil
	}

	ctx, cancel := context.WithTimeout(ctx, u.opts.RequestTimeout)
	defer cancel()
	limits, err := u.api.Limits(ctx)
	if err != nil {
		return upload.Thresholds{}, upload.NewError(upload.ErrStrategyUnresolved, "",
			fmt.Errorf("failed to discover server limits: %w", err))
	}

	t := upload.Thresholds{
		DirectMaxBytes:     limits.DirectMaxBytes,
		ChunkSize:          limits.ChunkSizeBytes,
		ServerBodyLimit:    limits.ServerBodyLimit,
		ResumableMinBytes:  limits.ResumableMinBytes,
		ResumableChunkSize: limits.ResumableChunkSize,
		ResumableAvailable: limits.ResumableEnabled,
	}
	if err := t.Validate(); err != nil {
		return upload.Thresholds{}, upload.NewError(upload.ErrStrategyUnresolved, "", err)
	}
	if limits.ResumablePath != "" {
		u.resumablePath = limits.ResumablePath
	}
	u.thresholds = &t
	u.logger.Debug("server limits discovered",
		"direct_max_bytes", t.DirectMaxBytes,
		"chunk_size", t.ChunkSize,
		"resumable", t.ResumableAvailable,
	)
	return t, nil
}

type localFile struct {
	f       *os.File
	name    string
	absPath string
	size    int64
	modTime time.Time
	meta    FileMeta
}

// open stats path and resolves its media type from name and content.
func (u *Uploader) open(path, bucket, prefix string) (*localFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, upload.NewError(upload.ErrInvalidRequest, "", fmt.Errorf("%s is a directory", path))
	}

	head := make([]byte, 512)
	n, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	name := filepath.Base(path)
	ct, fileType, err := upload.CheckMedia(name, "", head[:n])
	if err != nil {
		f.Close()
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &localFile{
		f:       f,
		name:    name,
		absPath: abs,
		size:    info.Size(),
		modTime: info.ModTime(),
		meta: FileMeta{
			Name:     name,
			MimeType: ct,
			FileType: fileType,
			Bucket:   bucket,
			Path:     prefix,
		},
	}, nil
}

// UploadLarge uploads the file at path with the strategy its size selects.
func (u *Uploader) UploadLarge(ctx context.Context, path, bucket, prefix string, onProgress ProgressFunc) (*models.UploadResult, error) {
	lf, err := u.open(path, bucket, prefix)
	if err != nil {
		return nil, err
	}
	defer lf.f.Close()

	t, err := u.Thresholds(ctx)
	if err != nil {
		return nil, err
	}
	decision := upload.NewSelector(t).Select(lf.size, lf.name, lf.meta.MimeType)

	u.logger.Info("upload started",
		"file_name", lf.name,
		"size", lf.size,
		"strategy", decision.Strategy.String(),
		"total_chunks", decision.TotalChunks,
	)

	ctx, cancel := context.WithTimeout(ctx, u.opts.ChunkedTimeout)
	defer cancel()

	var result *models.UploadResult
	switch decision.Strategy {
	case upload.Direct:
		result, err = u.direct(ctx, lf)
		if err == nil && onProgress != nil {
			onProgress(100)
		}
	case upload.ResumableProtocol:
		result, err = u.resumable(ctx, lf, t, onProgress)
	default:
		result, err = u.chunked(ctx, lf, t, "", onProgress)
	}
	if err != nil {
		return nil, asTimeout(err)
	}

	u.logger.Info("upload complete",
		"file_name", lf.name,
		"path", result.StoragePath,
		"size", result.FileSize,
	)
	return result, nil
}

// UploadSmall always uses a single direct request.
func (u *Uploader) UploadSmall(ctx context.Context, path, bucket, prefix string) (*models.UploadResult, error) {
	lf, err := u.open(path, bucket, prefix)
	if err != nil {
		return nil, err
	}
	defer lf.f.Close()

	ctx, cancel := context.WithTimeout(ctx, u.opts.RequestTimeout)
	defer cancel()
	result, err := u.direct(ctx, lf)
	if err != nil {
		return nil, asTimeout(err)
	}
	return result, nil
}

func (u *Uploader) direct(ctx context.Context, lf *localFile) (*models.UploadResult, error) {
	if _, err := lf.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind %s: %w", lf.name, err)
	}
	return NewDirectUploader(u.api, u.logger).Upload(ctx, lf.f, lf.meta)
}

// Resume continues a chunked session by id, sending only what the server
// does not already hold.
func (u *Uploader) Resume(ctx context.Context, path, bucket, prefix, sessionID string, onProgress ProgressFunc) (*models.UploadResult, error) {
	if sessionID == "" {
		return nil, upload.NewError(upload.ErrInvalidRequest, "", errors.New("session id is required to resume"))
	}
	lf, err := u.open(path, bucket, prefix)
	if err != nil {
		return nil, err
	}
	defer lf.f.Close()

	t, err := u.Thresholds(ctx)
	if err != nil {
		return nil, err
	}
	u.logger.Info("resuming upload", "file_name", lf.name, "session_id", sessionID)

	ctx, cancel := context.WithTimeout(ctx, u.opts.ChunkedTimeout)
	defer cancel()
	result, err := u.splitter(t, true).Upload(ctx, lf.f, lf.size, lf.meta, sessionID, onProgress)
	if err != nil {
		return nil, asTimeout(err)
	}
	return result, nil
}

func (u *Uploader) splitter(t upload.Thresholds, resumeFromServer bool) *Splitter {
	return NewSplitter(u.api, SplitterOptions{
		ChunkSize:        t.ChunkSize,
		MaxRetries:       u.opts.MaxRetries,
		InitialInterval:  u.opts.RetryInterval,
		ResumeFromServer: resumeFromServer,
	}, u.logger)
}

func (u *Uploader) chunked(ctx context.Context, lf *localFile, t upload.Thresholds, sessionID string, onProgress ProgressFunc) (*models.UploadResult, error) {
	result, err := u.splitter(t, u.opts.ResumeFromServer).Upload(ctx, lf.f, lf.size, lf.meta, sessionID, onProgress)
	if err == nil || !u.canFallBack(err, lf, t) {
		return result, err
	}

	u.logger.Warn("degraded direct upload",
		"file_name", lf.name,
		"size", lf.size,
		"cause", err,
	)
	result, fallbackErr := u.direct(ctx, lf)
	if fallbackErr != nil {
		return nil, errors.Join(err, fallbackErr)
	}
	if onProgress != nil {
		onProgress(100)
	}
	return result, nil
}

// canFallBack allows one direct attempt after a failed chunked upload when
// configured and the file fits in a single request.
func (u *Uploader) canFallBack(err error, lf *localFile, t upload.Thresholds) bool {
	if !u.opts.AllowDirectFallback {
		return false
	}
	if t.ServerBodyLimit > 0 && lf.size > t.ServerBodyLimit {
		return false
	}
	switch {
	case errors.Is(err, upload.ErrUnsupportedMedia),
		errors.Is(err, upload.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (u *Uploader) resumable(ctx context.Context, lf *localFile, t upload.Thresholds, onProgress ProgressFunc) (*models.UploadResult, error) {
	u.mu.Lock()
	endpoint := u.api.BaseURL() + u.resumablePath
	u.mu.Unlock()

	ru := NewResumableUploader(u.api, ResumableOptions{
		Endpoint:  endpoint,
		ChunkSize: t.ResumableChunkSize,
		Delays:    u.opts.ResumableDelays,
		Store:     u.opts.Fingerprints,
		Upsert:    u.opts.Upsert,
	}, u.logger)

	if _, err := lf.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind %s: %w", lf.name, err)
	}
	return ru.Upload(ctx, lf.f, lf.size, lf.meta, Fingerprint(lf.absPath, lf.size, lf.modTime), onProgress)
}

// asTimeout reports a blown deadline as ErrTimeout.
func asTimeout(err error) error {
	if errors.Is(err, upload.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return upload.NewError(upload.ErrTimeout, "", err)
}

// Thumbnail is a companion image produced for a media file.
type Thumbnail struct {
	Data     []byte
	FileName string
	MimeType string
}

// Thumbnailer produces a thumbnail for the media at path.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, path string) (*Thumbnail, error)
}

// PublishRequest uploads a file and registers it as a media record.
type PublishRequest struct {
	Path        string
	Title       string
	Description string
	Bucket      string
	Prefix      string
	Thumbnailer Thumbnailer
	OnProgress  ProgressFunc
}

// Publish uploads the media and an optional thumbnail, then creates the
// record. A failed thumbnail does not block publishing.
func (u *Uploader) Publish(ctx context.Context, req PublishRequest) (*models.MediaRecord, error) {
	result, err := u.UploadLarge(ctx, req.Path, req.Bucket, req.Prefix, req.OnProgress)
	if err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = filepath.Base(req.Path)
	}
	create := models.CreateRecordRequest{
		Title:       title,
		Description: req.Description,
		FileType:    upload.FileTypeOf(result.ContentType),
		Bucket:      result.Bucket,
		StoragePath: result.StoragePath,
		PublicURL:   result.PublicURL,
		ContentType: result.ContentType,
		FileSize:    result.FileSize,
	}

	if req.Thumbnailer != nil {
		if thumb, err := u.uploadThumbnail(ctx, req); err != nil {
			u.logger.Warn("thumbnail skipped", "file_name", filepath.Base(req.Path), "error", err)
		} else {
			create.ThumbnailPath = thumb.StoragePath
			create.ThumbnailURL = thumb.PublicURL
		}
	}

	ctx, cancel := context.WithTimeout(ctx, u.opts.RequestTimeout)
	defer cancel()
	record, err := u.api.CreateRecord(ctx, create)
	if err != nil {
		return nil, asTimeout(err)
	}
	return record, nil
}

func (u *Uploader) uploadThumbnail(ctx context.Context, req PublishRequest) (*models.UploadResult, error) {
	thumb, err := req.Thumbnailer.Thumbnail(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	if thumb == nil || len(thumb.Data) == 0 {
		return nil, errors.New("thumbnailer returned no data")
	}

	ctx, cancel := context.WithTimeout(ctx, u.opts.RequestTimeout)
	defer cancel()
	return NewDirectUploader(u.api, u.logger).Upload(ctx, bytes.NewReader(thumb.Data), FileMeta{
		Name:     thumb.FileName,
		MimeType: thumb.MimeType,
		FileType: models.FileTypePhoto,
		Path:     "thumbnails",
	})
}
