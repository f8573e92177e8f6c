package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/mediadrop/internal/models"
)

const (
	// CacheTTL is the time-to-live for cached media records (5 minutes)
	CacheTTL = 5 * time.Minute
)

// RedisClient wraps Redis operations with tracing
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Ping checks connectivity; used by the health endpoint
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func recordKey(id string) string {
	return fmt.Sprintf("media:%s", id)
}

// GetRecord retrieves a media record from cache. A miss returns nil, nil.
func (rc *RedisClient) GetRecord(ctx context.Context, id string) (*models.MediaRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.get_record",
		trace.WithAttributes(
			attribute.String("record_id", id),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(
			attribute.Bool("cache_hit", false),
			attribute.String("cache_status", "miss"),
		)
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var record models.MediaRecord
	if err := json.Unmarshal(data, &record); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("cache_hit", true),
		attribute.String("cache_status", "hit"),
	)
	return &record, nil
}

// SetRecord stores a media record in cache
func (rc *RedisClient) SetRecord(ctx context.Context, record *models.MediaRecord) error {
	ctx, span := tracer.Start(ctx, "redis.set_record",
		trace.WithAttributes(
			attribute.String("record_id", record.ID),
		),
	)
	defer span.End()

	data, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := rc.client.Set(ctx, recordKey(record.ID), data, CacheTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(attribute.Int64("ttl_seconds", int64(CacheTTL.Seconds())))
	return nil
}

// InvalidateRecord removes a media record from cache
func (rc *RedisClient) InvalidateRecord(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_record",
		trace.WithAttributes(
			attribute.String("record_id", id),
		),
	)
	defer span.End()

	if err := rc.client.Del(ctx, recordKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
