package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/maneesh/mediadrop/internal/models"
)

var tracer = otel.Tracer("mediadrop-storage")

var (
	ErrObjectNotFound  = errors.New("object not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrStatusConflict  = errors.New("session status conflict")
	ErrRecordNotFound  = errors.New("record not found")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket       string
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore is the object storage capability. PutObject overwrites an
// existing key, which gives chunk writes their upsert semantics.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	RemoveObjects(ctx context.Context, bucket string, keys []string) error
	PublicURL(bucket, key string) string
}

// SessionStore persists upload sessions. Transition is a compare-and-swap on
// status: it fails with ErrStatusConflict unless the current status is in from.
type SessionStore interface {
	Create(ctx context.Context, s *models.UploadSession) error
	Get(ctx context.Context, id string) (*models.UploadSession, error)
	MarkChunk(ctx context.Context, id string, index int, size int64) error
	Transition(ctx context.Context, id string, from []models.SessionStatus, to models.SessionStatus, mutate func(*models.UploadSession)) (*models.UploadSession, error)
	ListIdle(ctx context.Context, before time.Time) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// joinURL builds base/bucket/key with each key segment escaped.
func joinURL(base, bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(bucket) + "/" + strings.Join(parts, "/")
}

func statusIn(s models.SessionStatus, set []models.SessionStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
