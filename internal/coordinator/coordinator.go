// Package coordinator owns upload sessions: it persists chunks to temporary
// storage, tracks what each session has received and promotes complete
// uploads to their final object.
package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/mediadrop/internal/chunker"
	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/storage"
	"github.com/maneesh/mediadrop/internal/upload"
)

var tracer = otel.Tracer("mediadrop-coordinator")

// sniffLen is how much of a payload is inspected when the name and hint
// do not identify the content type.
const sniffLen = 512

// Options configures bucket routing and session lifetimes.
type Options struct {
	TempBucket       string
	VideoBucket      string
	PhotoBucket      string
	MaxChunkBytes    int64
	SessionExpiry    time.Duration
	SessionRetention time.Duration
}

// ResumableSource gives access to uploads finished over the resumable protocol.
type ResumableSource interface {
	Open(ctx context.Context, id string) (io.ReadCloser, int64, error)
	Terminate(ctx context.Context, id string) error
}

// ChunkRequest is one chunk as received from a client.
type ChunkRequest struct {
	SessionID   string          `json:"sessionId" validate:"required,sessionid"`
	Index       int             `json:"chunkIndex" validate:"gte=0,ltfield=TotalChunks"`
	TotalChunks int             `json:"totalChunks" validate:"gt=0,lte=100000"`
	FileName    string          `json:"fileName" validate:"required,max=255"`
	FileType    models.FileType `json:"fileType" validate:"omitempty,oneof=video photo"`
	Bucket      string          `json:"bucket" validate:"omitempty,max=63"`
	Path        string          `json:"path" validate:"omitempty,max=512,objectpath"`
	TotalSize   int64           `json:"totalSize" validate:"gte=0"`
	MimeType    string          `json:"mimeType" validate:"omitempty,max=255"`
	Hash        string          `json:"chunkHash" validate:"omitempty,len=64,hexadecimal"`
	Payload     []byte          `json:"chunk" validate:"min=1"`
}

// ChunkReceipt reports the outcome of ReceiveChunk. Result is set only when
// the chunk completed the session.
type ChunkReceipt struct {
	SessionID   string
	Index       int
	TotalChunks int
	Complete    bool
	Progress    float64
	Result      *models.UploadResult
}

// SessionRequest explicitly opens a chunked session.
type SessionRequest struct {
	SessionID   string          `json:"sessionId" validate:"omitempty,sessionid"`
	FileName    string          `json:"fileName" validate:"required,max=255"`
	TotalSize   int64           `json:"totalSize" validate:"gte=0"`
	TotalChunks int             `json:"totalChunks" validate:"gt=0,lte=100000"`
	MimeType    string          `json:"mimeType" validate:"omitempty,max=255"`
	FileType    models.FileType `json:"fileType" validate:"omitempty,oneof=video photo"`
	Bucket      string          `json:"bucket" validate:"omitempty,max=63"`
	Path        string          `json:"path" validate:"omitempty,max=512,objectpath"`
}

// Coordinator implements the server side of chunked, direct and resumable uploads.
type Coordinator struct {
	objects   storage.ObjectStore
	sessions  storage.SessionStore
	resumable ResumableSource
	validate  *validator.Validate
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a coordinator over the given stores.
func New(objects storage.ObjectStore, sessions storage.SessionStore, opts Options, logger *slog.Logger) *Coordinator {
	if opts.SessionExpiry <= 0 {
		opts.SessionExpiry = 24 * time.Hour
	}
	if opts.SessionRetention < opts.SessionExpiry {
		opts.SessionRetention = 3 * opts.SessionExpiry
	}
	return &Coordinator{
		objects:  objects,
		sessions: sessions,
		validate: newValidator(),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// SetResumableSource enables promotion of resumable uploads.
func (c *Coordinator) SetResumableSource(src ResumableSource) {
	c.resumable = src
}

// SetClock replaces the time source; used by tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// TempBucket is the bucket chunks are staged in.
func (c *Coordinator) TempBucket() string {
	return c.opts.TempBucket
}

// Buckets lists every bucket the coordinator writes to.
func (c *Coordinator) Buckets() []string {
	return []string{c.opts.TempBucket, c.opts.VideoBucket, c.opts.PhotoBucket}
}

// BucketFor returns the default bucket of a media family. Thumbnails are
// photos and live in the photo bucket.
func (c *Coordinator) BucketFor(ft models.FileType) string {
	if ft == models.FileTypeVideo {
		return c.opts.VideoBucket
	}
	return c.opts.PhotoBucket
}

// ChunkKey is the temporary object key of one chunk.
func ChunkKey(sessionID string, index int) string {
	return fmt.Sprintf("chunks/%s/%d", sessionID, index)
}

func chunkPrefix(sessionID string) string {
	return fmt.Sprintf("chunks/%s/", sessionID)
}

// ReceiveChunk persists one chunk and, when it is the declared last index,
// assembles the session into its final object.
func (c *Coordinator) ReceiveChunk(ctx context.Context, req ChunkRequest) (*ChunkReceipt, error) {
	ctx, span := tracer.Start(ctx, "coordinator.receive_chunk",
		trace.WithAttributes(
			attribute.String("session_id", req.SessionID),
			attribute.Int("chunk_index", req.Index),
			attribute.Int("total_chunks", req.TotalChunks),
			attribute.Int("chunk_size", len(req.Payload)),
		),
	)
	defer span.End()

	if err := c.validate.StructCtx(ctx, req); err != nil {
		return nil, upload.NewChunkError(upload.ErrInvalidRequest, req.SessionID, req.Index, req.TotalChunks, err)
	}
	if c.opts.MaxChunkBytes > 0 && int64(len(req.Payload)) > c.opts.MaxChunkBytes {
		return nil, upload.NewChunkError(upload.ErrInvalidRequest, req.SessionID, req.Index, req.TotalChunks,
			fmt.Errorf("chunk of %d bytes exceeds limit %d", len(req.Payload), c.opts.MaxChunkBytes))
	}
	if req.Hash != "" && !chunker.VerifyChunkHash(req.Payload, strings.ToLower(req.Hash)) {
		return nil, upload.NewChunkError(upload.ErrChecksumMismatch, req.SessionID, req.Index, req.TotalChunks, nil)
	}

	sess, err := c.loadOrCreate(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := checkDeclaration(sess, req.FileName, req.TotalChunks, req.TotalSize); err != nil {
		return nil, upload.NewChunkError(upload.ErrSessionMismatch, sess.ID, req.Index, req.TotalChunks, err)
	}

	receipt := &ChunkReceipt{SessionID: sess.ID, Index: req.Index, TotalChunks: req.TotalChunks}

	switch sess.Status {
	case models.StatusComplete:
		receipt.Progress = 100
		if sess.IsFinalIndex(req.Index) {
			receipt.Complete = true
			receipt.Result = sess.Result
		}
		return receipt, nil
	case models.StatusAssembling:
		return nil, upload.NewChunkError(upload.ErrAssemblyInProgress, sess.ID, req.Index, req.TotalChunks, nil)
	}

	size := int64(len(req.Payload))
	if _, err := c.objects.PutObject(ctx, c.opts.TempBucket, ChunkKey(sess.ID, req.Index),
		bytes.NewReader(req.Payload), size, upload.DefaultContentType); err != nil {
		span.RecordError(err)
		c.logger.Error("chunk persist failed",
			"session_id", sess.ID, "chunk_index", req.Index, "error", err)
		return nil, upload.NewChunkError(upload.ErrChunkPersist, sess.ID, req.Index, req.TotalChunks, err)
	}

	if err := c.sessions.MarkChunk(ctx, sess.ID, req.Index, size); err != nil {
		span.RecordError(err)
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, upload.NewChunkError(upload.ErrSessionNotFound, sess.ID, req.Index, req.TotalChunks, err)
		}
		return nil, upload.NewChunkError(upload.ErrChunkPersist, sess.ID, req.Index, req.TotalChunks, err)
	}
	sess.Received[req.Index] = size

	c.logger.Debug("chunk received",
		"session_id", sess.ID,
		"chunk_index", req.Index,
		"total_chunks", req.TotalChunks,
		"size", size,
	)

	if !sess.IsFinalIndex(req.Index) {
		receipt.Progress = sess.Progress()
		return receipt, nil
	}

	result, err := c.Assemble(ctx, sess.ID)
	if err != nil {
		return nil, withChunk(err, req.Index, req.TotalChunks)
	}
	receipt.Complete = true
	receipt.Progress = 100
	receipt.Result = result
	return receipt, nil
}

func (c *Coordinator) loadOrCreate(ctx context.Context, req ChunkRequest) (*models.UploadSession, error) {
	sess, err := c.sessions.Get(ctx, req.SessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, upload.NewChunkError(upload.ErrChunkPersist, req.SessionID, req.Index, req.TotalChunks, err)
	}

	head := req.Payload
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	// Only the first chunk carries the file signature.
	if req.Index != 0 {
		head = nil
	}
	created, err := c.newSession(req.SessionID, models.KindChunked, SessionRequest{
		FileName:    req.FileName,
		TotalSize:   req.TotalSize,
		TotalChunks: req.TotalChunks,
		MimeType:    req.MimeType,
		FileType:    req.FileType,
		Bucket:      req.Bucket,
		Path:        req.Path,
	}, head)
	if err != nil {
		return nil, withChunk(err, req.Index, req.TotalChunks)
	}

	err = c.sessions.Create(ctx, created)
	if errors.Is(err, storage.ErrSessionExists) {
		// Another chunk of the same session won the create.
		sess, err = c.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, upload.NewChunkError(upload.ErrChunkPersist, req.SessionID, req.Index, req.TotalChunks, err)
		}
		return sess, nil
	}
	if err != nil {
		return nil, upload.NewChunkError(upload.ErrChunkPersist, req.SessionID, req.Index, req.TotalChunks, err)
	}

	c.logger.Info("upload session created",
		"session_id", created.ID,
		"file_name", created.FileName,
		"total_chunks", created.DeclaredTotalChunks,
		"bucket", created.TargetBucket,
		"path", created.TargetPath,
	)
	return created, nil
}

// newSession resolves media type, bucket and final path for a new session.
// The final path is generated here and never changes afterwards.
func (c *Coordinator) newSession(id string, kind models.SessionKind, req SessionRequest, head []byte) (*models.UploadSession, error) {
	ct, fileType, err := upload.CheckMedia(req.FileName, req.MimeType, head)
	if err != nil {
		return nil, upload.NewError(upload.ErrUnsupportedMedia, id, err)
	}
	if req.FileType.Valid() {
		fileType = req.FileType
	}
	bucket, err := c.resolveBucket(req.Bucket, fileType)
	if err != nil {
		return nil, upload.NewError(upload.ErrInvalidRequest, id, err)
	}

	now := c.now()
	return &models.UploadSession{
		ID:                  id,
		Kind:                kind,
		FileName:            req.FileName,
		DeclaredTotalSize:   req.TotalSize,
		DeclaredTotalChunks: req.TotalChunks,
		MimeType:            ct,
		FileType:            fileType,
		TargetBucket:        bucket,
		TargetPath:          c.finalPath(req.Path, req.FileName, ct),
		Received:            make(map[int]int64),
		Status:              models.StatusOpen,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// resolveBucket defaults the bucket by media family and rejects buckets
// the service does not own.
func (c *Coordinator) resolveBucket(bucket string, fileType models.FileType) (string, error) {
	if bucket == "" {
		if fileType == models.FileTypeVideo {
			return c.opts.VideoBucket, nil
		}
		return c.opts.PhotoBucket, nil
	}
	if bucket == c.opts.VideoBucket || bucket == c.opts.PhotoBucket {
		return bucket, nil
	}
	return "", fmt.Errorf("bucket %q is not writable", bucket)
}

// finalPath builds {prefix}/{uuid}{ext}. An empty prefix becomes the
// upload date.
func (c *Coordinator) finalPath(prefix, fileName, ct string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = c.now().UTC().Format("2006/01/02")
	}
	return path.Join(prefix, uuid.NewString()+upload.Extension(fileName, ct))
}

func checkDeclaration(sess *models.UploadSession, fileName string, totalChunks int, totalSize int64) error {
	switch {
	case sess.FileName != fileName:
		return fmt.Errorf("file name %q, session declared %q", fileName, sess.FileName)
	case sess.DeclaredTotalChunks != totalChunks:
		return fmt.Errorf("total chunks %d, session declared %d", totalChunks, sess.DeclaredTotalChunks)
	case totalSize > 0 && sess.DeclaredTotalSize > 0 && totalSize != sess.DeclaredTotalSize:
		return fmt.Errorf("total size %d, session declared %d", totalSize, sess.DeclaredTotalSize)
	}
	return nil
}

func withChunk(err error, index, total int) error {
	if ue, ok := upload.AsError(err); ok && ue.ChunkIndex < 0 {
		ue.ChunkIndex, ue.TotalChunks = index, total
	}
	return err
}

// OpenSession creates a chunked session ahead of its first chunk. Opening
// an existing id with the same declaration returns the existing session.
func (c *Coordinator) OpenSession(ctx context.Context, req SessionRequest) (*models.UploadSession, error) {
	ctx, span := tracer.Start(ctx, "coordinator.open_session",
		trace.WithAttributes(attribute.String("file_name", req.FileName)),
	)
	defer span.End()

	if err := c.validate.StructCtx(ctx, req); err != nil {
		return nil, upload.NewError(upload.ErrInvalidRequest, req.SessionID, err)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	sess, err := c.newSession(req.SessionID, models.KindChunked, req, nil)
	if err != nil {
		return nil, err
	}

	err = c.sessions.Create(ctx, sess)
	if errors.Is(err, storage.ErrSessionExists) {
		existing, err := c.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if err := checkDeclaration(existing, req.FileName, req.TotalChunks, req.TotalSize); err != nil {
			return nil, upload.NewError(upload.ErrSessionMismatch, req.SessionID, err)
		}
		return existing, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c.logger.Info("upload session opened",
		"session_id", sess.ID,
		"file_name", sess.FileName,
		"total_chunks", sess.DeclaredTotalChunks,
	)
	return sess, nil
}

// Status returns the current session state.
func (c *Coordinator) Status(ctx context.Context, id string) (*models.UploadSession, error) {
	sess, err := c.sessions.Get(ctx, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, upload.NewError(upload.ErrSessionNotFound, id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// Abort discards a session and everything staged for it. A session that
// is being assembled cannot be aborted.
func (c *Coordinator) Abort(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "coordinator.abort",
		trace.WithAttributes(attribute.String("session_id", id)),
	)
	defer span.End()

	sess, err := c.Status(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status == models.StatusAssembling {
		return upload.NewError(upload.ErrAssemblyInProgress, id, nil)
	}

	if err := c.discard(ctx, sess); err != nil {
		span.RecordError(err)
		return err
	}
	c.logger.Info("upload session aborted", "session_id", id, "status", sess.Status)
	return nil
}

// discard removes staged data and the session record.
func (c *Coordinator) discard(ctx context.Context, sess *models.UploadSession) error {
	if err := c.DeleteTemporaryChunks(ctx, sess.ID); err != nil {
		return err
	}
	if sess.Kind == models.KindResumable && c.resumable != nil {
		if err := c.resumable.Terminate(ctx, sess.ID); err != nil {
			c.logger.Warn("failed to terminate resumable upload", "session_id", sess.ID, "error", err)
		}
	}
	if err := c.sessions.Delete(ctx, sess.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteTemporaryChunks removes every staged chunk of a session.
func (c *Coordinator) DeleteTemporaryChunks(ctx context.Context, id string) error {
	objects, err := c.objects.ListObjects(ctx, c.opts.TempBucket, chunkPrefix(id))
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(objects) == 0 {
		return nil
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	if err := c.objects.RemoveObjects(ctx, c.opts.TempBucket, keys); err != nil {
		return fmt.Errorf("failed to remove chunks: %w", err)
	}
	return nil
}
