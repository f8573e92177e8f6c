package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/mediadrop/internal/coordinator"
	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/storage"
)

// RecordStore is the durable side of media records.
type RecordStore interface {
	CreateRecord(ctx context.Context, record *models.MediaRecord) error
	GetRecord(ctx context.Context, id string) (*models.MediaRecord, error)
	IncrementViews(ctx context.Context, id string) (int64, error)
	DeleteRecord(ctx context.Context, id string) error
	ListRecords(ctx context.Context, filter storage.ListFilter) ([]*models.MediaRecord, error)
}

// RecordCache fronts RecordStore. GetRecord returns nil, nil on a miss.
type RecordCache interface {
	GetRecord(ctx context.Context, id string) (*models.MediaRecord, error)
	SetRecord(ctx context.Context, record *models.MediaRecord) error
	InvalidateRecord(ctx context.Context, id string) error
}

// MediaHandler serves media record CRUD. cache may be nil.
type MediaHandler struct {
	records RecordStore
	cache   RecordCache
	coord   *coordinator.Coordinator
	logger  *slog.Logger
	now     func() time.Time
}

// NewMediaHandler creates the /media endpoints.
func NewMediaHandler(records RecordStore, cache RecordCache, coord *coordinator.Coordinator, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		records: records,
		cache:   cache,
		coord:   coord,
		logger:  logger,
		now:     time.Now,
	}
}

// List handles GET /media.
func (mh *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ListFilter{FileType: models.FileType(q.Get("type"))}
	if filter.FileType != "" && !filter.FileType.Valid() {
		writeError(w, mh.logger, invalid("type must be video or photo"))
		return
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit"), 50); err != nil {
		writeError(w, mh.logger, invalid("limit must be an integer"))
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset"), 0); err != nil {
		writeError(w, mh.logger, invalid("offset must be an integer"))
		return
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}

	records, err := mh.records.ListRecords(r.Context(), filter)
	if err != nil {
		writeError(w, mh.logger, err)
		return
	}
	if records == nil {
		records = []*models.MediaRecord{}
	}
	writeJSON(w, http.StatusOK, models.RecordListResponse{
		Success: true,
		Records: records,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

// Create handles POST /media. The referenced object must already be stored.
func (mh *MediaHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "create_record",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	var body models.CreateRecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, mh.logger, invalid("invalid JSON body: %v", err))
		return
	}
	if err := mh.coord.Validate(ctx, body); err != nil {
		writeError(w, mh.logger, err)
		return
	}

	exists, err := mh.coord.ObjectExists(ctx, body.Bucket, body.StoragePath)
	if err != nil {
		span.RecordError(err)
		writeError(w, mh.logger, err)
		return
	}
	if !exists {
		writeError(w, mh.logger, invalid("object %s/%s does not exist", body.Bucket, body.StoragePath))
		return
	}

	record := &models.MediaRecord{
		ID:            uuid.NewString(),
		Title:         body.Title,
		Description:   body.Description,
		FileType:      body.FileType,
		Bucket:        body.Bucket,
		StoragePath:   body.StoragePath,
		PublicURL:     body.PublicURL,
		ThumbnailPath: body.ThumbnailPath,
		ThumbnailURL:  body.ThumbnailURL,
		ContentType:   body.ContentType,
		FileSize:      body.FileSize,
		CreatedAt:     mh.now().UTC(),
	}
	span.SetAttributes(attribute.String("record_id", record.ID))

	if err := mh.records.CreateRecord(ctx, record); err != nil {
		span.RecordError(err)
		writeError(w, mh.logger, err)
		return
	}
	mh.logger.Info("media record created",
		"record_id", record.ID,
		"bucket", record.Bucket,
		"path", record.StoragePath,
	)
	writeJSON(w, http.StatusCreated, record)
}

// Get handles GET /media/{id}.
func (mh *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get_record",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("record_id", id))

	record, err := mh.getRecord(ctx, id)
	if err != nil {
		span.RecordError(err)
		writeError(w, mh.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// getRecord reads through the cache. Cache failures degrade to the store.
func (mh *MediaHandler) getRecord(ctx context.Context, id string) (*models.MediaRecord, error) {
	if mh.cache != nil {
		cctx, cacheSpan := tracer.Start(ctx, "cache_lookup")
		record, err := mh.cache.GetRecord(cctx, id)
		cacheSpan.End()
		if err != nil {
			mh.logger.Warn("cache lookup failed", "record_id", id, "error", err)
		} else if record != nil {
			mh.logger.Debug("cache hit", "record_id", id)
			return record, nil
		}
		mh.logger.Debug("cache miss", "record_id", id)
	}

	record, err := mh.records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	if mh.cache != nil {
		if err := mh.cache.SetRecord(ctx, record); err != nil {
			mh.logger.Warn("failed to cache record", "record_id", id, "error", err)
		}
	}
	return record, nil
}

// Delete handles DELETE /media/{id}. The stored objects go first so a failed
// delete leaves the record pointing at them for a retry.
func (mh *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_record",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("record_id", id))

	record, err := mh.records.GetRecord(ctx, id)
	if err != nil {
		writeError(w, mh.logger, err)
		return
	}

	if err := mh.coord.DeleteObject(ctx, record.Bucket, record.StoragePath); err != nil {
		span.RecordError(err)
		writeError(w, mh.logger, err)
		return
	}
	if record.ThumbnailPath != "" {
		if err := mh.coord.DeleteObject(ctx, mh.coord.BucketFor(models.FileTypePhoto), record.ThumbnailPath); err != nil {
			span.RecordError(err)
			writeError(w, mh.logger, err)
			return
		}
	}

	if err := mh.records.DeleteRecord(ctx, id); err != nil {
		span.RecordError(err)
		writeError(w, mh.logger, err)
		return
	}
	mh.invalidate(ctx, id)

	mh.logger.Info("media record deleted", "record_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

// View handles POST /media/{id}/views.
func (mh *MediaHandler) View(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	views, err := mh.records.IncrementViews(r.Context(), id)
	if err != nil {
		writeError(w, mh.logger, err)
		return
	}
	mh.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "views": views})
}

func (mh *MediaHandler) invalidate(ctx context.Context, id string) {
	if mh.cache == nil {
		return
	}
	if err := mh.cache.InvalidateRecord(ctx, id); err != nil {
		mh.logger.Warn("failed to invalidate cache", "record_id", id, "error", err)
	}
}
