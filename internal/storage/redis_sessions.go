package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/mediadrop/internal/models"
)

const (
	sessionActivityKey = "upload:sessions:activity"
	maxTxRetries       = 10
)

// markChunkScript writes a chunk length only while the session key exists,
// so a mark racing Delete cannot leave a chunk hash behind.
var markChunkScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[5])
return 1
`)

// RedisSessionStore keeps each session as a JSON document with its received
// chunk lengths in a side hash, and indexes last activity in a sorted set.
//
//	upload:session:{id}         JSON session (Received omitted)
//	upload:session:{id}:chunks  hash index -> byte length
//	upload:sessions:activity    zset id -> unix millis of last activity
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisSessionStore builds a store whose keys expire ttl after last activity.
func NewRedisSessionStore(rc *RedisClient, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisSessionStore{client: rc.client, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source used to stamp activity.
func (r *RedisSessionStore) SetClock(now func() time.Time) {
	r.now = now
}

func sessionKey(id string) string {
	return fmt.Sprintf("upload:session:%s", id)
}

func sessionChunksKey(id string) string {
	return fmt.Sprintf("upload:session:%s:chunks", id)
}

func encodeSession(s *models.UploadSession) ([]byte, error) {
	doc := *s
	doc.Received = nil
	return json.Marshal(&doc)
}

// Create stores a new session; ErrSessionExists when the id is taken.
func (r *RedisSessionStore) Create(ctx context.Context, s *models.UploadSession) error {
	ctx, span := tracer.Start(ctx, "redis.create_session",
		trace.WithAttributes(attribute.String("session_id", s.ID)),
	)
	defer span.End()

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = r.now()
	}
	payload, err := encodeSession(s)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := r.client.SetNX(ctx, sessionKey(s.ID), payload, r.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !created {
		return ErrSessionExists
	}

	if err := r.client.ZAdd(ctx, sessionActivityKey, redis.Z{
		Score:  float64(s.UpdatedAt.UnixMilli()),
		Member: s.ID,
	}).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

// Get loads a session and its received chunks.
func (r *RedisSessionStore) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	ctx, span := tracer.Start(ctx, "redis.get_session",
		trace.WithAttributes(attribute.String("session_id", id)),
	)
	defer span.End()

	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s models.UploadSession
	if err := json.Unmarshal(data, &s); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if err := r.loadReceived(ctx, &s); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("status", string(s.Status)),
		attribute.Int("received_chunks", len(s.Received)),
	)
	return &s, nil
}

func (r *RedisSessionStore) loadReceived(ctx context.Context, s *models.UploadSession) error {
	fields, err := r.client.HGetAll(ctx, sessionChunksKey(s.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to load received chunks: %w", err)
	}

	s.Received = make(map[int]int64, len(fields))
	for field, value := range fields {
		idx, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		s.Received[idx] = size
	}
	return nil
}

// MarkChunk records index as received with its byte length. Re-marking an
// index overwrites the previous length.
func (r *RedisSessionStore) MarkChunk(ctx context.Context, id string, index int, size int64) error {
	ctx, span := tracer.Start(ctx, "redis.mark_chunk",
		trace.WithAttributes(
			attribute.String("session_id", id),
			attribute.Int("chunk_index", index),
		),
	)
	defer span.End()

	now := r.now()
	marked, err := markChunkScript.Run(ctx, r.client,
		[]string{sessionKey(id), sessionChunksKey(id), sessionActivityKey},
		strconv.Itoa(index), size, r.ttl.Milliseconds(), now.UnixMilli(), id,
	).Int()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark chunk: %w", err)
	}
	if marked == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Transition moves a session to status to if its current status is in from,
// using WATCH/MULTI so concurrent transitions cannot both win.
func (r *RedisSessionStore) Transition(ctx context.Context, id string, from []models.SessionStatus, to models.SessionStatus, mutate func(*models.UploadSession)) (*models.UploadSession, error) {
	ctx, span := tracer.Start(ctx, "redis.transition_session",
		trace.WithAttributes(
			attribute.String("session_id", id),
			attribute.String("to_status", string(to)),
		),
	)
	defer span.End()

	key := sessionKey(id)
	var result *models.UploadSession

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		} else if err != nil {
			return err
		}

		var s models.UploadSession
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if !statusIn(s.Status, from) {
			result = &s
			return fmt.Errorf("%w: session %s is %s", ErrStatusConflict, id, s.Status)
		}

		s.Status = to
		if err := r.loadReceived(ctx, &s); err != nil {
			return err
		}
		if mutate != nil {
			mutate(&s)
		}
		s.UpdatedAt = r.now()

		payload, err := encodeSession(&s)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			pipe.PExpire(ctx, sessionChunksKey(id), r.ttl)
			pipe.ZAdd(ctx, sessionActivityKey, redis.Z{Score: float64(s.UpdatedAt.UnixMilli()), Member: id})
			return nil
		})
		if err != nil {
			return err
		}
		result = &s
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrStatusConflict) && result != nil {
				_ = r.loadReceived(ctx, result)
				return result, err
			}
			if !errors.Is(err, ErrSessionNotFound) {
				span.RecordError(err)
			}
			return nil, err
		}
		return result, nil
	}

	err := fmt.Errorf("session %s: too many concurrent transitions", id)
	span.RecordError(err)
	return nil, err
}

// ListIdle returns ids whose last activity is before the cutoff.
func (r *RedisSessionStore) ListIdle(ctx context.Context, before time.Time) ([]string, error) {
	ctx, span := tracer.Start(ctx, "redis.list_idle_sessions")
	defer span.End()

	ids, err := r.client.ZRangeByScore(ctx, sessionActivityKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}

	span.SetAttributes(attribute.Int("idle_count", len(ids)))
	return ids, nil
}

// Delete removes the session, its chunk index and its activity entry.
func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "redis.delete_session",
		trace.WithAttributes(attribute.String("session_id", id)),
	)
	defer span.End()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id), sessionChunksKey(id))
		pipe.ZRem(ctx, sessionActivityKey, id)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
