package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/mediadrop/internal/coordinator"
	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/upload"
)

var tracer = otel.Tracer("mediadrop-handlers")

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// UploadHandler serves the chunked, direct and session endpoints.
type UploadHandler struct {
	coord         *coordinator.Coordinator
	thresholds    upload.Thresholds
	resumablePath string
	logger        *slog.Logger
}

// NewUploadHandler creates the upload endpoints. resumablePath is advertised
// by /upload/limits and may be empty when resumable uploads are disabled.
func NewUploadHandler(coord *coordinator.Coordinator, thresholds upload.Thresholds, resumablePath string, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		coord:         coord,
		thresholds:    thresholds,
		resumablePath: resumablePath,
		logger:        logger,
	}
}

func (h *UploadHandler) limitBody(w http.ResponseWriter, r *http.Request) {
	if h.thresholds.ServerBodyLimit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.thresholds.ServerBodyLimit)
	}
}

func invalid(format string, args ...any) error {
	return upload.NewError(upload.ErrInvalidRequest, "", fmt.Errorf(format, args...))
}

func formInt(r *http.Request, name string, required bool) (int64, error) {
	raw := r.FormValue(name)
	if raw == "" {
		if required {
			return 0, invalid("%s is required", name)
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, invalid("%s must be an integer", name)
	}
	return n, nil
}

// Chunk handles POST /upload/chunk.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_chunk",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	h.limitBody(w, r)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, h.logger, bodyError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := chunkRequestFromForm(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.Int("chunk_index", req.Index),
		attribute.Int("total_chunks", req.TotalChunks),
	)

	receipt, err := h.coord.ReceiveChunk(ctx, req)
	if err != nil {
		span.RecordError(err)
		writeError(w, h.logger, err)
		return
	}

	resp := models.ChunkResponse{
		Success:    true,
		Complete:   receipt.Complete,
		ChunkIndex: receipt.Index,
		SessionID:  receipt.SessionID,
	}
	if receipt.Result != nil {
		resp.FileURL = receipt.Result.PublicURL
		resp.Path = receipt.Result.StoragePath
		resp.Size = receipt.Result.FileSize
	}
	writeJSON(w, http.StatusOK, resp)
}

func chunkRequestFromForm(r *http.Request) (coordinator.ChunkRequest, error) {
	var req coordinator.ChunkRequest

	index, err := formInt(r, "chunkIndex", true)
	if err != nil {
		return req, err
	}
	total, err := formInt(r, "totalChunks", true)
	if err != nil {
		return req, err
	}
	totalSize, err := formInt(r, "totalSize", false)
	if err != nil {
		return req, err
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		return req, invalid("chunk file part is required")
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		return req, invalid("failed to read chunk: %v", err)
	}

	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		sessionID = r.FormValue("uploadId")
	}

	req = coordinator.ChunkRequest{
		SessionID:   sessionID,
		Index:       int(index),
		TotalChunks: int(total),
		FileName:    r.FormValue("fileName"),
		FileType:    models.FileType(r.FormValue("fileType")),
		Bucket:      r.FormValue("bucket"),
		Path:        r.FormValue("path"),
		TotalSize:   totalSize,
		MimeType:    r.FormValue("mimeType"),
		Hash:        r.FormValue("chunkHash"),
		Payload:     payload,
	}
	return req, nil
}

// Direct handles PUT /upload/direct.
func (h *UploadHandler) Direct(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_direct",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	h.limitBody(w, r)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, h.logger, bodyError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, invalid("file part is required"))
		return
	}
	defer file.Close()

	fileName := r.FormValue("fileName")
	if fileName == "" {
		fileName = header.Filename
	}
	mimeType := r.FormValue("mimeType")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
		if mimeType == upload.DefaultContentType {
			mimeType = ""
		}
	}
	span.SetAttributes(
		attribute.String("file_name", fileName),
		attribute.Int64("file_size", header.Size),
	)

	result, err := h.coord.PutDirect(ctx, coordinator.DirectRequest{
		FileName: fileName,
		MimeType: mimeType,
		FileType: models.FileType(r.FormValue("fileType")),
		Bucket:   r.FormValue("bucket"),
		Path:     r.FormValue("path"),
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		span.RecordError(err)
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, models.DirectResponse{
		Success:     true,
		FileURL:     result.PublicURL,
		Path:        result.StoragePath,
		Bucket:      result.Bucket,
		Size:        result.FileSize,
		ContentType: result.ContentType,
	})
}

// OpenSession handles POST /upload/sessions.
func (h *UploadHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var body models.SessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, h.logger, invalid("invalid JSON body: %v", err))
		return
	}

	sess, err := h.coord.OpenSession(r.Context(), coordinator.SessionRequest{
		SessionID:   body.SessionID,
		FileName:    body.FileName,
		TotalSize:   body.TotalSize,
		TotalChunks: body.TotalChunks,
		MimeType:    body.MimeType,
		FileType:    body.FileType,
		Bucket:      body.Bucket,
		Path:        body.Path,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.NewSessionResponse(sess))
}

// SessionStatus handles GET /upload/sessions/{id}.
func (h *UploadHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.coord.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSessionResponse(sess))
}

// AbortSession handles DELETE /upload/sessions/{id}.
func (h *UploadHandler) AbortSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.coord.Abort(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": id})
}

// Assemble handles POST /upload/sessions/{id}/assemble.
func (h *UploadHandler) Assemble(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "assemble_session",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("session_id", id))

	result, err := h.coord.Assemble(ctx, id)
	if err != nil {
		span.RecordError(err)
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.AssembleResponse{
		Success:     true,
		SessionID:   id,
		FileURL:     result.PublicURL,
		Path:        result.StoragePath,
		Bucket:      result.Bucket,
		ContentType: result.ContentType,
		Size:        result.FileSize,
	})
}

// Limits handles GET /upload/limits.
func (h *UploadHandler) Limits(w http.ResponseWriter, _ *http.Request) {
	t := h.thresholds
	writeJSON(w, http.StatusOK, models.LimitsResponse{
		DirectMaxBytes:     t.DirectMaxBytes,
		ChunkSizeBytes:     t.ChunkSize,
		ServerBodyLimit:    t.ServerBodyLimit,
		ResumableMinBytes:  t.ResumableMinBytes,
		ResumableChunkSize: t.ResumableChunkSize,
		ResumableEnabled:   t.ResumableAvailable && h.resumablePath != "",
		ResumablePath:      h.resumablePath,
	})
}

// bodyError keeps size violations distinguishable from malformed bodies.
func bodyError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return err
	}
	return invalid("invalid multipart body: %v", err)
}
