package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maneesh/mediadrop/internal/models"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryStore is an in-process ObjectStore for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	buckets    map[string]map[string]memObject
	publicBase string
}

// NewMemoryStore creates an empty store whose public URLs start with publicBase.
func NewMemoryStore(publicBase string) *MemoryStore {
	if publicBase == "" {
		publicBase = "memory://"
	}
	return &MemoryStore{
		buckets:    make(map[string]map[string]memObject),
		publicBase: publicBase,
	}
}

func (m *MemoryStore) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string]memObject)
	}
	return nil
}

func (m *MemoryStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to read object body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return ObjectInfo{}, fmt.Errorf("failed to put object: read %d bytes, declared %d", len(data), size)
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.buckets[bucket]
	if !ok {
		objects = make(map[string]memObject)
		m.buckets[bucket] = objects
	}
	now := time.Now()
	objects[key] = memObject{data: data, contentType: contentType, modified: now}

	return ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(data)), ContentType: contentType, LastModified: now}, nil
}

func (m *MemoryStore) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) StatObject(_ context.Context, bucket, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

func (m *MemoryStore) ListObjects(_ context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectInfo
	for key, obj := range m.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{
				Bucket:       bucket,
				Key:          key,
				Size:         int64(len(obj.data)),
				ContentType:  obj.contentType,
				LastModified: obj.modified,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) RemoveObjects(_ context.Context, bucket string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.buckets[bucket], key)
	}
	return nil
}

func (m *MemoryStore) PublicURL(bucket, key string) string {
	return joinURL(m.publicBase, bucket, key)
}

// Bytes returns a copy of a stored object's content; used by tests.
func (m *MemoryStore) Bytes(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// MemorySessionStore keeps sessions in a map guarded by a mutex.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.UploadSession
	now      func() time.Time
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*models.UploadSession),
		now:      time.Now,
	}
}

// SetClock replaces the time source used to stamp activity.
func (m *MemorySessionStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemorySessionStore) Create(_ context.Context, s *models.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	c := s.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = m.now()
	}
	m.sessions[s.ID] = c
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*models.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemorySessionStore) MarkChunk(_ context.Context, id string, index int, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Received[index] = size
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemorySessionStore) Transition(_ context.Context, id string, from []models.SessionStatus, to models.SessionStatus, mutate func(*models.UploadSession)) (*models.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !statusIn(s.Status, from) {
		return s.Clone(), fmt.Errorf("%w: session %s is %s", ErrStatusConflict, id, s.Status)
	}
	s.Status = to
	if mutate != nil {
		mutate(s)
	}
	s.UpdatedAt = m.now()
	return s.Clone(), nil
}

func (m *MemorySessionStore) ListIdle(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
