package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maneesh/mediadrop/internal/models"
)

func newTestRecordStore(t *testing.T) *RecordStore {
	t.Helper()
	dsn := fmt.Sprintf("file:records_%s?mode=memory&cache=shared", uuid.NewString())
	rs, err := NewRecordStore(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })
	require.NoError(t, rs.Migrate(context.Background()))
	return rs
}

func testRecord(id string, ft models.FileType, created time.Time) *models.MediaRecord {
	return &models.MediaRecord{
		ID:          id,
		Title:       "title " + id,
		FileType:    ft,
		Bucket:      "videos",
		StoragePath: "videos/" + id + ".mov",
		PublicURL:   "http://cdn/videos/" + id + ".mov",
		ContentType: "video/quicktime",
		FileSize:    1024,
		CreatedAt:   created,
	}
}

func TestRecordStoreCRUD(t *testing.T) {
	ctx := context.Background()
	rs := newTestRecordStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, rs.CreateRecord(ctx, testRecord("a", models.FileTypeVideo, created)))

	got, err := rs.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "title a", got.Title)
	assert.Equal(t, models.FileTypeVideo, got.FileType)
	assert.True(t, created.Equal(got.CreatedAt))

	views, err := rs.IncrementViews(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), views)
	views, err = rs.IncrementViews(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), views)

	_, err = rs.IncrementViews(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, rs.DeleteRecord(ctx, "a"))
	_, err = rs.GetRecord(ctx, "a")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.ErrorIs(t, rs.DeleteRecord(ctx, "a"), ErrRecordNotFound)
}

func TestRecordStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	rs := newTestRecordStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, rs.CreateRecord(ctx, testRecord("v1", models.FileTypeVideo, base)))
	require.NoError(t, rs.CreateRecord(ctx, testRecord("p1", models.FileTypePhoto, base.Add(time.Minute))))
	require.NoError(t, rs.CreateRecord(ctx, testRecord("v2", models.FileTypeVideo, base.Add(2*time.Minute))))

	all, err := rs.ListRecords(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "v2", all[0].ID)
	assert.Equal(t, "v1", all[2].ID)

	videos, err := rs.ListRecords(ctx, ListFilter{FileType: models.FileTypeVideo, Limit: 1})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "v2", videos[0].ID)

	next, err := rs.ListRecords(ctx, ListFilter{FileType: models.FileTypeVideo, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "v1", next[0].ID)
}
