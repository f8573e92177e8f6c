package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maneesh/mediadrop/internal/auth"
	"github.com/maneesh/mediadrop/internal/chunker"
	"github.com/maneesh/mediadrop/internal/coordinator"
	"github.com/maneesh/mediadrop/internal/logging"
	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/storage"
	"github.com/maneesh/mediadrop/internal/upload"
)

type testAPI struct {
	server *httptest.Server
	mem    *storage.MemoryStore
	coord  *coordinator.Coordinator
	redis  *miniredis.Miniredis
	token  string
}

func newTestAPI(t *testing.T, thresholds upload.Thresholds) *testAPI {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	mem := storage.NewMemoryStore("http://cdn.test")
	coord := coordinator.New(mem, storage.NewMemorySessionStore(), coordinator.Options{
		TempBucket:    "temp",
		VideoBucket:   "videos",
		PhotoBucket:   "photos",
		MaxChunkBytes: thresholds.ChunkSize,
	}, logger)

	records, err := storage.NewRecordStore(ctx, "sqlite",
		fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })
	require.NoError(t, records.Migrate(ctx))

	mr := miniredis.RunT(t)
	cache, err := storage.NewRedisClient(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	tokens := auth.NewTokenManager("test-secret", "mediadrop", time.Hour)
	token, err := tokens.Generate("tester", "upload")
	require.NoError(t, err)

	router := NewRouter(RouterDeps{
		Upload: NewUploadHandler(coord, thresholds, "", logger),
		Media:  NewMediaHandler(records, cache, coord, logger),
		Health: NewHealthHandler(map[string]Pinger{
			"records": records.Ping,
			"redis":   cache.Ping,
		}),
		Tokens: tokens,
		Logger: logger,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testAPI{server: ts, mem: mem, coord: coord, redis: mr, token: token}
}

func smallThresholds() upload.Thresholds {
	return upload.Thresholds{
		DirectMaxBytes:     8 * 1024,
		ChunkSize:          6 * 1024,
		ServerBodyLimit:    16 * 1024,
		ResumableMinBytes:  1 << 20,
		ResumableChunkSize: upload.ResumableUnit,
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func (api *testAPI) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, api.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if api.token != "" {
		req.Header.Set("Authorization", "Bearer "+api.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (api *testAPI) postJSON(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	return api.do(t, method, path, "application/json", r)
}

func multipartBody(t *testing.T, fileField, fileName string, payload []byte, fields map[string]string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), &buf
}

func (api *testAPI) sendChunk(t *testing.T, sessionID, name string, index, total int, payload []byte, totalSize int) *http.Response {
	t.Helper()
	ct, body := multipartBody(t, "chunk", "blob", payload, map[string]string{
		"chunkIndex":  strconv.Itoa(index),
		"totalChunks": strconv.Itoa(total),
		"fileName":    name,
		"uploadId":    sessionID,
		"fileType":    "video",
		"totalSize":   strconv.Itoa(totalSize),
		"chunkHash":   chunker.ComputeHash(payload),
	})
	return api.do(t, http.MethodPost, "/upload/chunk", ct, body)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChunkedUploadOverHTTP(t *testing.T) {
	api := newTestAPI(t, smallThresholds())
	data := randomBytes(t, 15*1024)
	plan := chunker.NewChunker(6 * 1024).Plan(int64(len(data)))
	require.Len(t, plan, 3)

	var last models.ChunkResponse
	for _, r := range plan {
		resp := api.sendChunk(t, "http-session", "clip.mp4", r.Index, len(plan), data[r.Start:r.End], len(data))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		last = decode[models.ChunkResponse](t, resp)
		assert.Equal(t, r.Index == len(plan)-1, last.Complete)
		assert.Equal(t, "http-session", last.SessionID)
	}

	require.True(t, last.Complete)
	assert.True(t, strings.HasPrefix(last.FileURL, "http://cdn.test/videos/"))
	stored, ok := api.mem.Bytes("videos", last.Path)
	require.True(t, ok)
	assert.Equal(t, data, stored)

	resp := api.do(t, http.MethodGet, "/upload/sessions/http-session", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[models.SessionResponse](t, resp)
	assert.Equal(t, models.StatusComplete, status.Status)
	assert.Equal(t, 100.0, status.Progress)
	assert.Empty(t, status.Missing)
}

func TestFinalChunkWithGapReturnsMissing(t *testing.T) {
	api := newTestAPI(t, smallThresholds())
	data := randomBytes(t, 15*1024)
	plan := chunker.NewChunker(6 * 1024).Plan(int64(len(data)))

	for _, i := range []int{0, 2} {
		r := plan[i]
		resp := api.sendChunk(t, "gap-session", "clip.mp4", r.Index, len(plan), data[r.Start:r.End], len(data))
		if i == 0 {
			require.Equal(t, http.StatusOK, resp.StatusCode)
			continue
		}
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		env := decode[models.ErrorResponse](t, resp)
		assert.False(t, env.Success)
		assert.Equal(t, upload.CodeIncompleteSession, env.Error.Code)
		assert.Equal(t, "gap-session", env.Error.Details["sessionId"])
		assert.Equal(t, []any{1.0}, env.Error.Details["missing"])
		assert.Equal(t, true, env.Error.Details["retrySameSession"])
	}

	r := plan[1]
	resp := api.sendChunk(t, "gap-session", "clip.mp4", r.Index, len(plan), data[r.Start:r.End], len(data))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.postJSON(t, http.MethodPost, "/upload/sessions/gap-session/assemble", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assembled := decode[models.AssembleResponse](t, resp)
	stored, ok := api.mem.Bytes("videos", assembled.Path)
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestChunkRequestErrors(t *testing.T) {
	api := newTestAPI(t, smallThresholds())

	t.Run("missing index", func(t *testing.T) {
		ct, body := multipartBody(t, "chunk", "blob", []byte("x"), map[string]string{
			"totalChunks": "1", "fileName": "a.mp4", "uploadId": "s1",
		})
		resp := api.do(t, http.MethodPost, "/upload/chunk", ct, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, upload.CodeInvalidRequest, decode[models.ErrorResponse](t, resp).Error.Code)
	})

	t.Run("body over server limit", func(t *testing.T) {
		resp := api.sendChunk(t, "big", "a.mp4", 0, 1, randomBytes(t, 20*1024), 20*1024)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.Equal(t, upload.CodePayloadTooLarge, decode[models.ErrorResponse](t, resp).Error.Code)
	})

	t.Run("unsupported media", func(t *testing.T) {
		ct, body := multipartBody(t, "chunk", "blob", []byte("plain"), map[string]string{
			"chunkIndex": "0", "totalChunks": "1", "fileName": "notes.txt", "uploadId": "s2",
		})
		resp := api.do(t, http.MethodPost, "/upload/chunk", ct, body)
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
		assert.Equal(t, upload.CodeUnsupportedMedia, decode[models.ErrorResponse](t, resp).Error.Code)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		ct, body := multipartBody(t, "chunk", "blob", []byte("payload"), map[string]string{
			"chunkIndex": "0", "totalChunks": "2", "fileName": "a.mp4", "uploadId": "s3",
			"chunkHash": chunker.ComputeHash([]byte("other")),
		})
		resp := api.do(t, http.MethodPost, "/upload/chunk", ct, body)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		env := decode[models.ErrorResponse](t, resp)
		assert.Equal(t, upload.CodeChecksumMismatch, env.Error.Code)
		assert.Equal(t, 0.0, env.Error.Details["chunkIndex"])
	})
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t, smallThresholds())
	api.token = ""

	resp := api.do(t, http.MethodGet, "/upload/sessions/any", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, upload.CodeUnauthorized, decode[models.ErrorResponse](t, resp).Error.Code)

	api.token = "not-a-token"
	resp = api.do(t, http.MethodGet, "/media", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/upload/limits", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLimits(t *testing.T) {
	thresholds := smallThresholds()
	api := newTestAPI(t, thresholds)

	resp := api.do(t, http.MethodGet, "/upload/limits", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	limits := decode[models.LimitsResponse](t, resp)
	assert.Equal(t, thresholds.DirectMaxBytes, limits.DirectMaxBytes)
	assert.Equal(t, thresholds.ChunkSize, limits.ChunkSizeBytes)
	assert.Equal(t, thresholds.ServerBodyLimit, limits.ServerBodyLimit)
	assert.False(t, limits.ResumableEnabled)
}

func TestSessionLifecycle(t *testing.T) {
	api := newTestAPI(t, smallThresholds())

	req := models.SessionRequest{
		SessionID:   "explicit-1",
		FileName:    "trip.mov",
		TotalSize:   12 * 1024,
		TotalChunks: 2,
		FileType:    models.FileTypeVideo,
	}
	resp := api.postJSON(t, http.MethodPost, "/upload/sessions", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	opened := decode[models.SessionResponse](t, resp)
	assert.Equal(t, models.StatusOpen, opened.Status)
	assert.Equal(t, []int{0, 1}, opened.Missing)
	assert.Equal(t, "videos", opened.Bucket)

	req.TotalChunks = 3
	resp = api.postJSON(t, http.MethodPost, "/upload/sessions", req)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, upload.CodeSessionMismatch, decode[models.ErrorResponse](t, resp).Error.Code)

	resp = api.postJSON(t, http.MethodPost, "/upload/sessions", models.SessionRequest{SessionID: "bad id!", FileName: "a.mov", TotalChunks: 1})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decode[models.ErrorResponse](t, resp)
	assert.Contains(t, env.Error.Details, "field_errors")

	resp = api.do(t, http.MethodDelete, "/upload/sessions/explicit-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/upload/sessions/explicit-1", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, upload.CodeSessionNotFound, decode[models.ErrorResponse](t, resp).Error.Code)
}

func TestDirectUpload(t *testing.T) {
	api := newTestAPI(t, smallThresholds())
	png := append([]byte("\x89PNG\r\n\x1a\n"), randomBytes(t, 2048)...)

	ct, body := multipartBody(t, "file", "shot", png, map[string]string{"fileType": "photo", "path": "albums/7"})
	resp := api.do(t, http.MethodPut, "/upload/direct", ct, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	direct := decode[models.DirectResponse](t, resp)
	assert.Equal(t, "photos", direct.Bucket)
	assert.True(t, strings.HasPrefix(direct.Path, "albums/7/"))
	assert.Equal(t, int64(len(png)), direct.Size)

	stored, ok := api.mem.Bytes("photos", direct.Path)
	require.True(t, ok)
	assert.Equal(t, png, stored)

	ct, body = multipartBody(t, "file", "doc.pdf", []byte("%PDF-1.7 body"), nil)
	resp = api.do(t, http.MethodPut, "/upload/direct", ct, body)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestMediaRecords(t *testing.T) {
	api := newTestAPI(t, smallThresholds())
	ctx := context.Background()

	_, err := api.mem.PutObject(ctx, "videos", "2026/01/02/clip.mp4", strings.NewReader("video"), 5, "video/mp4")
	require.NoError(t, err)
	_, err = api.mem.PutObject(ctx, "photos", "thumbs/clip.jpg", strings.NewReader("thumb"), 5, "image/jpeg")
	require.NoError(t, err)

	resp := api.postJSON(t, http.MethodPost, "/media", models.CreateRecordRequest{
		FileType:    "audio",
		Bucket:      "videos",
		StoragePath: "../clip.mp4",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decode[models.ErrorResponse](t, resp)
	assert.Equal(t, upload.CodeInvalidRequest, env.Error.Code)
	require.Contains(t, env.Error.Details, "field_errors")
	fields, ok := env.Error.Details["field_errors"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "is required", fields["title"])
	assert.Equal(t, "must be one of video photo", fields["fileType"])
	assert.Equal(t, "must be a relative path without dot segments", fields["storagePath"])
	assert.NotContains(t, fields, "bucket")

	resp = api.postJSON(t, http.MethodPost, "/media", models.CreateRecordRequest{
		Title:       "orphan",
		FileType:    models.FileTypeVideo,
		Bucket:      "videos",
		StoragePath: "missing.mp4",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.postJSON(t, http.MethodPost, "/media", models.CreateRecordRequest{
		Title:         "Clip",
		FileType:      models.FileTypeVideo,
		Bucket:        "videos",
		StoragePath:   "2026/01/02/clip.mp4",
		PublicURL:     "http://cdn.test/videos/2026/01/02/clip.mp4",
		ThumbnailPath: "thumbs/clip.jpg",
		ContentType:   "video/mp4",
		FileSize:      5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.MediaRecord](t, resp)
	require.NotEmpty(t, created.ID)

	resp = api.do(t, http.MethodGet, "/media/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Clip", decode[models.MediaRecord](t, resp).Title)
	assert.True(t, api.redis.Exists("media:"+created.ID), "record cached after first read")

	resp = api.do(t, http.MethodPost, "/media/"+created.ID+"/views", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, decode[map[string]any](t, resp)["views"])
	assert.False(t, api.redis.Exists("media:"+created.ID), "view count invalidates cache")

	resp = api.do(t, http.MethodGet, "/media?type=video", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[models.RecordListResponse](t, resp)
	require.Len(t, list.Records, 1)
	assert.Equal(t, int64(1), list.Records[0].Views)

	resp = api.do(t, http.MethodGet, "/media?type=audio", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/media/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok = api.mem.Bytes("videos", "2026/01/02/clip.mp4")
	assert.False(t, ok)
	_, ok = api.mem.Bytes("photos", "thumbs/clip.jpg")
	assert.False(t, ok)

	resp = api.do(t, http.MethodGet, "/media/"+created.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthReportsFailingDependency(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"ok":   func(context.Context) error { return nil },
		"down": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["ok"])
	assert.Equal(t, "connection refused", body.Checks["down"])
}

func TestUnknownRoute(t *testing.T) {
	api := newTestAPI(t, smallThresholds())
	resp := api.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, upload.CodeNotFound, decode[models.ErrorResponse](t, resp).Error.Code)
}
