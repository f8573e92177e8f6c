package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maneesh/mediadrop/internal/auth"
	"github.com/maneesh/mediadrop/internal/chunker"
	"github.com/maneesh/mediadrop/internal/coordinator"
	"github.com/maneesh/mediadrop/internal/handlers"
	"github.com/maneesh/mediadrop/internal/logging"
	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/resumable"
	"github.com/maneesh/mediadrop/internal/storage"
	"github.com/maneesh/mediadrop/internal/upload"
)

// faults fails or delays matching requests before they reach the service.
type faults struct {
	mu    sync.Mutex
	match func(*http.Request) bool
	fail  func(n int) bool
	delay time.Duration
	hits  int
}

func chunkPosts(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == "/upload/chunk"
}

func tusPatches(r *http.Request) bool {
	return r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, resumable.DefaultBasePath)
}

func (f *faults) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.match == nil || !f.match(r) {
			next.ServeHTTP(w, r)
			return
		}
		f.mu.Lock()
		f.hits++
		n := f.hits
		f.mu.Unlock()

		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		if f.fail != nil && f.fail(n) {
			_, _ = io.Copy(io.Discard, r.Body)
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *faults) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

type testStack struct {
	server *httptest.Server
	mem    *storage.MemoryStore
	token  string
}

func newTestStack(t *testing.T, thresholds upload.Thresholds, wrap func(http.Handler) http.Handler) *testStack {
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
		fmt.Sprintf("file:client_%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })
	require.NoError(t, records.Migrate(ctx))

	tokens := auth.NewTokenManager("test-secret", "mediadrop", time.Hour)
	token, err := tokens.Generate("tester", "upload")
	require.NoError(t, err)

	deps := handlers.RouterDeps{
		Media:  handlers.NewMediaHandler(records, nil, coord, logger),
		Tokens: tokens,
		Logger: logger,
	}
	resumablePath := ""
	if thresholds.ResumableAvailable {
		srv, err := resumable.New(coord, resumable.Options{Dir: t.TempDir()}, logger)
		require.NoError(t, err)
		resumablePath = srv.BasePath()
		deps.Resumable = srv.Handler()
		deps.ResumablePath = resumablePath
	}
	deps.Upload = handlers.NewUploadHandler(coord, thresholds, resumablePath, logger)

	var h http.Handler = handlers.NewRouter(deps)
	if wrap != nil {
		h = wrap(h)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &testStack{server: ts, mem: mem, token: token}
}

func (s *testStack) api() *API {
	return NewAPI(s.server.URL, s.token, s.server.Client(), logging.Discard())
}

func smallThresholds() upload.Thresholds {
	return upload.Thresholds{
		DirectMaxBytes:     8 * 1024,
		ChunkSize:          6 * 1024,
		ServerBodyLimit:    32 * 1024,
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

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func progressRecorder() (ProgressFunc, func() []float64) {
	var (
		mu   sync.Mutex
		seen []float64
	)
	return func(p float64) {
			mu.Lock()
			seen = append(seen, p)
			mu.Unlock()
		}, func() []float64 {
			mu.Lock()
			defer mu.Unlock()
			return append([]float64(nil), seen...)
		}
}

func assertMonotonic(t *testing.T, seen []float64) {
	t.Helper()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "progress went from %v to %v", seen[i-1], seen[i])
	}
	assert.Equal(t, 100.0, seen[len(seen)-1])
}

func TestUploadLargeChunked(t *testing.T) {
	thresholds := upload.DefaultThresholds()
	thresholds.ResumableAvailable = false
	f := &faults{match: chunkPosts}
	stack := newTestStack(t, thresholds, f.wrap)

	data := randomBytes(t, 20<<20)
	path := writeFile(t, "holiday.mp4", data)

	u := New(stack.api(), Options{Thresholds: &thresholds, MaxRetries: 3}, logging.Discard())
	onProgress, seen := progressRecorder()
	result, err := u.UploadLarge(context.Background(), path, "", "trips", onProgress)
	require.NoError(t, err)

	assert.Equal(t, 4, f.count())
	assert.Equal(t, "videos", result.Bucket)
	assert.Equal(t, "video/mp4", result.ContentType)
	assert.Equal(t, int64(len(data)), result.FileSize)
	assert.True(t, strings.HasPrefix(result.StoragePath, "trips/"))
	assert.True(t, strings.HasPrefix(result.PublicURL, "http://cdn.test/videos/"))

	stored, ok := stack.mem.Bytes("videos", result.StoragePath)
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, stored))

	progress := seen()
	assertMonotonic(t, progress)
	assert.Contains(t, progress, 25.0)
	assert.Contains(t, progress, 75.0)
}

func TestSplitterRetriesTransientFailures(t *testing.T) {
	f := &faults{match: chunkPosts, fail: func(n int) bool { return n == 2 || n == 3 }}
	stack := newTestStack(t, smallThresholds(), f.wrap)
	data := randomBytes(t, 15*1024)

	s := NewSplitter(stack.api(), SplitterOptions{
		ChunkSize:       6 * 1024,
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, logging.Discard())
	result, err := s.Upload(context.Background(), bytes.NewReader(data), int64(len(data)),
		FileMeta{Name: "clip.mp4"}, "", nil)
	require.NoError(t, err)

	assert.Equal(t, 5, f.count())
	stored, ok := stack.mem.Bytes(result.Bucket, result.StoragePath)
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestSplitterRetriesExhausted(t *testing.T) {
	f := &faults{match: chunkPosts, fail: func(n int) bool { return n > 1 }}
	stack := newTestStack(t, smallThresholds(), f.wrap)
	data := randomBytes(t, 20*1024)

	s := NewSplitter(stack.api(), SplitterOptions{
		ChunkSize:       6 * 1024,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, logging.Discard())
	var seen []float64
	_, err := s.Upload(context.Background(), bytes.NewReader(data), int64(len(data)),
		FileMeta{Name: "clip.mp4"}, "retry-session", func(p float64) { seen = append(seen, p) })
	require.Error(t, err)

	assert.ErrorIs(t, err, upload.ErrRetriesExhausted)
	ue, ok := upload.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 1, ue.ChunkIndex)
	assert.Equal(t, 4, ue.TotalChunks)
	assert.Equal(t, "retry-session", ue.SessionID)
	assert.Equal(t, 25.0, ue.Progress)
	assert.True(t, ue.RetrySameSession())
	assert.Contains(t, err.Error(), "failed at chunk 2 of 4")
	assert.Equal(t, 1+3, f.count())
	assert.Equal(t, []float64{0, 25}, seen)
}

func TestSplitterDoesNotRetryPermanentErrors(t *testing.T) {
	f := &faults{match: chunkPosts}
	stack := newTestStack(t, smallThresholds(), f.wrap)
	data := randomBytes(t, 15*1024)

	s := NewSplitter(stack.api(), SplitterOptions{
		ChunkSize:       6 * 1024,
		MaxRetries:      5,
		InitialInterval: time.Millisecond,
	}, logging.Discard())
	_, err := s.Upload(context.Background(), bytes.NewReader(data), int64(len(data)),
		FileMeta{Name: "notes.txt", MimeType: "text/plain"}, "", nil)
	require.Error(t, err)

	assert.ErrorIs(t, err, upload.ErrUnsupportedMedia)
	assert.Equal(t, http.StatusUnsupportedMediaType, StatusCode(err))
	assert.False(t, upload.RetrySameSession(err))
	assert.Equal(t, 1, f.count())
}

func TestSplitterResumesFromServerState(t *testing.T) {
	f := &faults{match: chunkPosts}
	stack := newTestStack(t, smallThresholds(), f.wrap)
	api := stack.api()
	ctx := context.Background()

	data := randomBytes(t, 20*1024)
	c := chunker.NewChunker(6 * 1024)
	plan := c.Plan(int64(len(data)))
	require.Len(t, plan, 4)
	for _, idx := range []int{0, 2} {
		chunk, err := c.ReadChunk(bytes.NewReader(data), "gap-session", plan[idx])
		require.NoError(t, err)
		_, err = api.SendChunk(ctx, ChunkUpload{
			SessionID:   "gap-session",
			Index:       idx,
			TotalChunks: len(plan),
			FileName:    "clip.mp4",
			TotalSize:   int64(len(data)),
			Hash:        chunk.Hash,
			Payload:     chunk.Payload,
		})
		require.NoError(t, err)
	}
	require.Equal(t, 2, f.count())

	s := NewSplitter(api, SplitterOptions{ChunkSize: 6 * 1024, ResumeFromServer: true}, logging.Discard())
	result, err := s.Upload(ctx, bytes.NewReader(data), int64(len(data)),
		FileMeta{Name: "clip.mp4"}, "gap-session", nil)
	require.NoError(t, err)

	assert.Equal(t, 4, f.count(), "only chunks 1 and 3 should be resent")
	stored, ok := stack.mem.Bytes(result.Bucket, result.StoragePath)
	require.True(t, ok)
	assert.Equal(t, data, stored)

	again, err := s.Upload(ctx, bytes.NewReader(data), int64(len(data)),
		FileMeta{Name: "clip.mp4"}, "gap-session", nil)
	require.NoError(t, err)
	assert.Equal(t, result.StoragePath, again.StoragePath)
	assert.Equal(t, 4, f.count())
}

func TestSplitterResendsMissingChunks(t *testing.T) {
	// The first send of chunk 1 is acknowledged without reaching the service.
	var dropped bool
	var mu sync.Mutex
	drop := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if chunkPosts(r) {
				_ = r.ParseMultipartForm(1 << 20)
				mu.Lock()
				first := r.FormValue("chunkIndex") == "1" && !dropped
				if first {
					dropped = true
				}
				mu.Unlock()
				if first {
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(`{"success":true,"sessionId":"lost-session","chunkIndex":1,"totalChunks":3}`))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}

	stack := newTestStack(t, smallThresholds(), drop)

	data := randomBytes(t, 15*1024)
	s := NewSplitter(stack.api(), SplitterOptions{ChunkSize: 6 * 1024}, logging.Discard())
	result, err := s.Upload(context.Background(), bytes.NewReader(data), int64(len(data)),
		FileMeta{Name: "clip.mp4"}, "lost-session", nil)
	require.NoError(t, err)
	mu.Lock()
	assert.True(t, dropped)
	mu.Unlock()

	stored, ok := stack.mem.Bytes(result.Bucket, result.StoragePath)
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestUploadLargeFallsBackToDirect(t *testing.T) {
	thresholds := smallThresholds()
	f := &faults{match: chunkPosts, fail: func(int) bool { return true }}
	stack := newTestStack(t, thresholds, f.wrap)

	var logs bytes.Buffer
	logger := logging.NewWithWriter(&logs, "uploader-test", "debug", "json")
	data := randomBytes(t, 20*1024)
	path := writeFile(t, "clip.mp4", data)

	u := New(stack.api(), Options{
		Thresholds:          &thresholds,
		MaxRetries:          1,
		RetryInterval:       time.Millisecond,
		AllowDirectFallback: true,
	}, logger)
	result, err := u.UploadLarge(context.Background(), path, "", "", nil)
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "degraded direct upload")
	assert.Equal(t, 2, f.count())
	stored, ok := stack.mem.Bytes(result.Bucket, result.StoragePath)
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestUploadLargeWithoutFallbackReportsSession(t *testing.T) {
	thresholds := smallThresholds()
	f := &faults{match: chunkPosts, fail: func(int) bool { return true }}
	stack := newTestStack(t, thresholds, f.wrap)
	path := writeFile(t, "clip.mp4", randomBytes(t, 20*1024))

	u := New(stack.api(), Options{Thresholds: &thresholds, RetryInterval: time.Millisecond}, logging.Discard())
	_, err := u.UploadLarge(context.Background(), path, "", "", nil)
	require.Error(t, err)

	assert.ErrorIs(t, err, upload.ErrRetriesExhausted)
	ue, ok := upload.AsError(err)
	require.True(t, ok)
	assert.NotEmpty(t, ue.SessionID)
	assert.Equal(t, 0, ue.ChunkIndex)
	assert.Equal(t, 1, f.count())
}

func TestUploadLargeTimesOut(t *testing.T) {
	thresholds := smallThresholds()
	f := &faults{match: chunkPosts, delay: 500 * time.Millisecond}
	stack := newTestStack(t, thresholds, f.wrap)
	path := writeFile(t, "clip.mp4", randomBytes(t, 20*1024))

	u := New(stack.api(), Options{
		Thresholds:          &thresholds,
		ChunkedTimeout:      50 * time.Millisecond,
		AllowDirectFallback: true,
	}, logging.Discard())
	_, err := u.UploadLarge(context.Background(), path, "", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, upload.ErrTimeout)
}

func TestUploadSmallIsDirect(t *testing.T) {
	thresholds := smallThresholds()
	f := &faults{match: chunkPosts}
	stack := newTestStack(t, thresholds, f.wrap)

	png := append([]byte("\x89PNG\r\n\x1a\n"), randomBytes(t, 2048)...)
	path := writeFile(t, "cover.png", png)

	u := New(stack.api(), Options{Thresholds: &thresholds}, logging.Discard())
	result, err := u.UploadSmall(context.Background(), path, "", "albums/3")
	require.NoError(t, err)

	assert.Equal(t, 0, f.count())
	assert.Equal(t, "photos", result.Bucket)
	assert.Equal(t, "image/png", result.ContentType)
	assert.True(t, strings.HasPrefix(result.StoragePath, "albums/3/"))
	stored, ok := stack.mem.Bytes("photos", result.StoragePath)
	require.True(t, ok)
	assert.Equal(t, png, stored)
}

func TestUploadRejectsUnsupportedMediaLocally(t *testing.T) {
	thresholds := smallThresholds()
	f := &faults{match: func(*http.Request) bool { return true }}
	stack := newTestStack(t, thresholds, f.wrap)
	path := writeFile(t, "report.pdf", []byte("%PDF-1.7 body"))

	u := New(stack.api(), Options{Thresholds: &thresholds}, logging.Discard())
	_, err := u.UploadLarge(context.Background(), path, "", "", nil)
	assert.ErrorIs(t, err, upload.ErrUnsupportedMedia)
	assert.Equal(t, 0, f.count())
}

func TestThresholdsDiscovery(t *testing.T) {
	thresholds := smallThresholds()
	thresholds.ResumableAvailable = true
	stack := newTestStack(t, thresholds, nil)

	u := New(stack.api(), Options{}, logging.Discard())
	got, err := u.Thresholds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thresholds, got)

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	u = New(NewAPI(url, "", nil, logging.Discard()), Options{RequestTimeout: time.Second}, logging.Discard())
	_, err = u.Thresholds(context.Background())
	assert.ErrorIs(t, err, upload.ErrStrategyUnresolved)

	path := writeFile(t, "clip.mp4", randomBytes(t, 1024))
	_, err = u.UploadLarge(context.Background(), path, "", "", nil)
	assert.ErrorIs(t, err, upload.ErrStrategyUnresolved)
}

func resumableThresholds() upload.Thresholds {
	return upload.Thresholds{
		DirectMaxBytes:     64 * 1024,
		ChunkSize:          64 * 1024,
		ServerBodyLimit:    1 << 20,
		ResumableMinBytes:  512 * 1024,
		ResumableChunkSize: upload.ResumableUnit,
		ResumableAvailable: true,
	}
}

func TestUploadLargeResumable(t *testing.T) {
	f := &faults{match: tusPatches, fail: func(n int) bool { return n == 2 }}
	stack := newTestStack(t, resumableThresholds(), f.wrap)

	data := randomBytes(t, 4*upload.ResumableUnit+100*1024)
	path := writeFile(t, "concert.mp4", data)

	var logs bytes.Buffer
	u := New(stack.api(), Options{ResumableDelays: []time.Duration{0, 0, 0}},
		logging.NewWithWriter(&logs, "uploader-test", "debug", "json"))
	onProgress, seen := progressRecorder()
	result, err := u.UploadLarge(context.Background(), path, "", "live", onProgress)
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "resumable upload interrupted, resuming")
	assert.Equal(t, "videos", result.Bucket)
	assert.Equal(t, "video/mp4", result.ContentType)
	assert.Equal(t, int64(len(data)), result.FileSize)
	assert.True(t, strings.HasPrefix(result.StoragePath, "live/"))

	stored, ok := stack.mem.Bytes("videos", result.StoragePath)
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, stored))
	assertMonotonic(t, seen())
}

func TestResumableRetriesExhausted(t *testing.T) {
	f := &faults{match: tusPatches, fail: func(int) bool { return true }}
	stack := newTestStack(t, resumableThresholds(), f.wrap)
	data := randomBytes(t, 600*1024)

	store := NewMemoryFingerprintStore()
	ru := NewResumableUploader(stack.api(), ResumableOptions{
		Endpoint:  stack.server.URL + resumable.DefaultBasePath,
		ChunkSize: upload.ResumableUnit,
		Delays:    []time.Duration{0, 0},
		Store:     store,
	}, logging.Discard())
	_, err := ru.Upload(context.Background(), bytes.NewReader(data), int64(len(data)),
		FileMeta{Name: "concert.mp4"}, "fp-exhausted", nil)
	require.Error(t, err)

	assert.ErrorIs(t, err, upload.ErrRetriesExhausted)
	assert.Equal(t, 3, f.count())
	_, ok := store.Get("fp-exhausted")
	assert.True(t, ok, "fingerprint is kept so a later run can resume")
}

type mockThumbnailer struct {
	mock.Mock
}

func (m *mockThumbnailer) Thumbnail(ctx context.Context, path string) (*Thumbnail, error) {
	args := m.Called(ctx, path)
	thumb, _ := args.Get(0).(*Thumbnail)
	return thumb, args.Error(1)
}

func TestPublish(t *testing.T) {
	thresholds := smallThresholds()
	stack := newTestStack(t, thresholds, nil)
	data := randomBytes(t, 20*1024)
	path := writeFile(t, "trailer.mp4", data)
	png := append([]byte("\x89PNG\r\n\x1a\n"), randomBytes(t, 512)...)

	thumbs := &mockThumbnailer{}
	thumbs.On("Thumbnail", mock.Anything, path).
		Return(&Thumbnail{Data: png, FileName: "trailer.png", MimeType: "image/png"}, nil).Once()

	u := New(stack.api(), Options{Thresholds: &thresholds}, logging.Discard())
	record, err := u.Publish(context.Background(), PublishRequest{
		Path:        path,
		Title:       "Trailer",
		Thumbnailer: thumbs,
	})
	require.NoError(t, err)
	thumbs.AssertExpectations(t)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "Trailer", record.Title)
	assert.Equal(t, models.FileTypeVideo, record.FileType)
	assert.Equal(t, int64(len(data)), record.FileSize)
	assert.True(t, strings.HasPrefix(record.ThumbnailPath, "thumbnails/"))

	stored, ok := stack.mem.Bytes("photos", record.ThumbnailPath)
	require.True(t, ok)
	assert.Equal(t, png, stored)
}

func TestPublishSkipsFailedThumbnail(t *testing.T) {
	thresholds := smallThresholds()
	stack := newTestStack(t, thresholds, nil)
	path := writeFile(t, "trailer.mp4", randomBytes(t, 4*1024))

	thumbs := &mockThumbnailer{}
	thumbs.On("Thumbnail", mock.Anything, path).Return(nil, errors.New("ffmpeg missing")).Once()

	var logs bytes.Buffer
	u := New(stack.api(), Options{Thresholds: &thresholds},
		logging.NewWithWriter(&logs, "uploader-test", "debug", "json"))
	record, err := u.Publish(context.Background(), PublishRequest{Path: path, Thumbnailer: thumbs})
	require.NoError(t, err)

	assert.Equal(t, "trailer.mp4", record.Title)
	assert.Empty(t, record.ThumbnailPath)
	assert.Contains(t, logs.String(), "thumbnail skipped")
}

func TestResumeBySessionID(t *testing.T) {
	thresholds := smallThresholds()
	f := &faults{match: chunkPosts}
	stack := newTestStack(t, thresholds, f.wrap)
	api := stack.api()
	ctx := context.Background()

	data := randomBytes(t, 20*1024)
	path := writeFile(t, "clip.mp4", data)
	c := chunker.NewChunker(thresholds.ChunkSize)
	plan := c.Plan(int64(len(data)))
	chunk, err := c.ReadChunk(bytes.NewReader(data), "cli-session", plan[0])
	require.NoError(t, err)
	_, err = api.SendChunk(ctx, ChunkUpload{
		SessionID:   "cli-session",
		Index:       0,
		TotalChunks: len(plan),
		FileName:    "clip.mp4",
		MimeType:    "video/mp4",
		FileType:    models.FileTypeVideo,
		TotalSize:   int64(len(data)),
		Hash:        chunk.Hash,
		Payload:     chunk.Payload,
	})
	require.NoError(t, err)

	u := New(api, Options{Thresholds: &thresholds}, logging.Discard())
	result, err := u.Resume(ctx, path, "", "", "cli-session", nil)
	require.NoError(t, err)

	assert.Equal(t, len(plan), f.count())
	stored, ok := stack.mem.Bytes(result.Bucket, result.StoragePath)
	require.True(t, ok)
	assert.Equal(t, data, stored)

	_, err = u.Resume(ctx, path, "", "", "", nil)
	assert.ErrorIs(t, err, upload.ErrInvalidRequest)
}
