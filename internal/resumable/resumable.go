// Package resumable serves the tus resumable-upload protocol and hands
// finished uploads to the coordinator for promotion.
package resumable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tus/tusd/v2/pkg/filestore"
	tusd "github.com/tus/tusd/v2/pkg/handler"
	"github.com/tus/tusd/v2/pkg/memorylocker"

	"github.com/maneesh/mediadrop/internal/coordinator"
	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/upload"
)

// DefaultBasePath is where the tus endpoint is mounted.
const DefaultBasePath = "/upload/resumable/"

// Response headers set when a finished upload has been promoted.
const (
	HeaderObjectURL  = "X-Object-Url"
	HeaderObjectPath = "X-Object-Path"
)

// Options configures the tus endpoint.
type Options struct {
	Dir      string
	BasePath string
	MaxSize  int64
}

// Server is the tus endpoint. It also serves as the coordinator's source
// for reading finished uploads.
type Server struct {
	coord    *coordinator.Coordinator
	store    filestore.FileStore
	dir      string
	basePath string
	handler  *tusd.Handler
	logger   *slog.Logger
}

// New builds the tus handler over a file store in opts.Dir and registers
// itself with coord.
func New(coord *coordinator.Coordinator, opts Options, logger *slog.Logger) (*Server, error) {
	if opts.BasePath == "" {
		opts.BasePath = DefaultBasePath
	}
	if !strings.HasSuffix(opts.BasePath, "/") {
		opts.BasePath += "/"
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create resumable dir: %w", err)
	}

	store := filestore.New(opts.Dir)
	composer := tusd.NewStoreComposer()
	store.UseIn(composer)
	memorylocker.New().UseIn(composer)

	s := &Server{
		coord:    coord,
		store:    store,
		dir:      opts.Dir,
		basePath: opts.BasePath,
		logger:   logger,
	}

	h, err := tusd.NewHandler(tusd.Config{
		BasePath:                  opts.BasePath,
		StoreComposer:             composer,
		MaxSize:                   opts.MaxSize,
		DisableDownload:           true,
		Logger:                    logger.With("component", "tusd"),
		PreUploadCreateCallback:   s.preCreate,
		PreFinishResponseCallback: s.preFinish,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tus handler: %w", err)
	}
	s.handler = h

	coord.SetResumableSource(s)
	return s, nil
}

// BasePath is the URL prefix the handler expects to be mounted at.
func (s *Server) BasePath() string {
	return s.basePath
}

// Handler returns the tus handler with the base path stripped.
func (s *Server) Handler() http.Handler {
	return http.StripPrefix(s.basePath, s.handler)
}

// preCreate validates metadata and opens a coordinator session whose id
// becomes the tus upload id.
func (s *Server) preCreate(hook tusd.HookEvent) (tusd.HTTPResponse, tusd.FileInfoChanges, error) {
	if hook.Upload.SizeIsDeferred {
		return tusd.HTTPResponse{}, tusd.FileInfoChanges{},
			tusd.NewError(upload.CodeInvalidRequest, "upload length must be declared", http.StatusBadRequest)
	}

	meta := hook.Upload.MetaData
	fileName := firstNonEmpty(meta["filename"], meta["name"])
	if fileName == "" {
		return tusd.HTTPResponse{}, tusd.FileInfoChanges{},
			tusd.NewError(upload.CodeInvalidRequest, "filename metadata is required", http.StatusBadRequest)
	}

	id := uuid.NewString()
	sess, err := s.coord.OpenResumable(hook.Context, coordinator.ResumableRequest{
		UploadID:   id,
		FileName:   fileName,
		Size:       hook.Upload.Size,
		MimeType:   firstNonEmpty(meta["contentType"], meta["filetype"]),
		FileType:   models.FileType(meta["fileType"]),
		Bucket:     meta["bucketName"],
		ObjectName: meta["objectName"],
		Prefix:     meta["prefix"],
		Upsert:     strings.EqualFold(hook.HTTPRequest.Header.Get("x-upsert"), "true"),
	})
	if err != nil {
		s.logger.Warn("resumable upload rejected", "file_name", fileName, "error", err)
		return tusd.HTTPResponse{}, tusd.FileInfoChanges{}, tusError(err)
	}

	changed := make(tusd.MetaData, len(meta)+3)
	for k, v := range meta {
		changed[k] = v
	}
	changed["contentType"] = sess.MimeType
	changed["bucketName"] = sess.TargetBucket
	changed["objectName"] = sess.TargetPath

	return tusd.HTTPResponse{}, tusd.FileInfoChanges{ID: id, MetaData: changed}, nil
}

// preFinish promotes the completed upload before the final PATCH is answered.
func (s *Server) preFinish(hook tusd.HookEvent) (tusd.HTTPResponse, error) {
	result, err := s.coord.PromoteResumable(hook.Context, hook.Upload.ID, hook.Upload.Size)
	if err != nil {
		s.logger.Error("resumable promotion failed", "session_id", hook.Upload.ID, "error", err)
		return tusd.HTTPResponse{}, tusError(err)
	}
	return tusd.HTTPResponse{
		Header: tusd.HTTPHeader{
			HeaderObjectURL:  result.PublicURL,
			HeaderObjectPath: result.StoragePath,
		},
	}, nil
}

// Open returns a reader over a fully received upload.
func (s *Server) Open(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	up, err := s.store.GetUpload(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load upload %s: %w", id, err)
	}
	info, err := up.GetInfo(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read upload info %s: %w", id, err)
	}
	if info.Offset != info.Size {
		return nil, 0, fmt.Errorf("upload %s has %d of %d bytes", id, info.Offset, info.Size)
	}
	rc, err := up.GetReader(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open upload %s: %w", id, err)
	}
	return rc, info.Size, nil
}

// Terminate deletes an upload's data. Unknown ids are ignored.
func (s *Server) Terminate(ctx context.Context, id string) error {
	if _, err := os.Stat(filepath.Join(s.dir, id+".info")); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	up, err := s.store.GetUpload(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load upload %s: %w", id, err)
	}
	return s.store.AsTerminatableUpload(up).Terminate(ctx)
}

func tusError(err error) error {
	status, code := upload.Classify(err)
	return tusd.NewError(code, err.Error(), status)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
