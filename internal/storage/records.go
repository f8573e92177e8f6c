package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/maneesh/mediadrop/internal/models"
)

const recordColumns = `id, title, description, file_type, bucket, storage_path, public_url,
	thumbnail_path, thumbnail_url, content_type, file_size, views, created_at`

const recordSchema = `CREATE TABLE IF NOT EXISTS media_records (
	id             VARCHAR(64)   NOT NULL PRIMARY KEY,
	title          VARCHAR(255)  NOT NULL,
	description    TEXT          NOT NULL,
	file_type      VARCHAR(16)   NOT NULL,
	bucket         VARCHAR(255)  NOT NULL,
	storage_path   VARCHAR(1024) NOT NULL,
	public_url     TEXT          NOT NULL,
	thumbnail_path VARCHAR(1024) NOT NULL,
	thumbnail_url  TEXT          NOT NULL,
	content_type   VARCHAR(255)  NOT NULL,
	file_size      BIGINT        NOT NULL,
	views          BIGINT        NOT NULL DEFAULT 0,
	created_at     BIGINT        NOT NULL
)`

// ListFilter narrows ListRecords.
type ListFilter struct {
	FileType models.FileType
	Limit    int
	Offset   int
}

// RecordStore persists media records through database/sql. The driver is
// one of mysql (TiDB/MySQL), pgx (Postgres) or sqlite.
type RecordStore struct {
	db *sqlx.DB
}

// NewRecordStore opens and pings the database
func NewRecordStore(ctx context.Context, driver, dsn string) (*RecordStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == "sqlite" {
		// a single connection keeps :memory: databases shared and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	return &RecordStore{db: db}, nil
}

// Close closes the database connection
func (rs *RecordStore) Close() error {
	return rs.db.Close()
}

// Ping checks connectivity; used by the health endpoint
func (rs *RecordStore) Ping(ctx context.Context) error {
	return rs.db.PingContext(ctx)
}

// Migrate creates the media_records table when missing
func (rs *RecordStore) Migrate(ctx context.Context) error {
	if _, err := rs.db.ExecContext(ctx, recordSchema); err != nil {
		return fmt.Errorf("failed to migrate media_records: %w", err)
	}
	return nil
}

// CreateRecord inserts a media record with tracing
func (rs *RecordStore) CreateRecord(ctx context.Context, record *models.MediaRecord) error {
	ctx, span := tracer.Start(ctx, "db.create_record",
		trace.WithAttributes(
			attribute.String("record_id", record.ID),
			attribute.String("file_type", string(record.FileType)),
			attribute.Int64("file_size", record.FileSize),
		),
	)
	defer span.End()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.CreatedAtUnix = record.CreatedAt.UnixMilli()

	query := `INSERT INTO media_records (` + recordColumns + `)
		VALUES (:id, :title, :description, :file_type, :bucket, :storage_path, :public_url,
			:thumbnail_path, :thumbnail_url, :content_type, :file_size, :views, :created_at)`

	if _, err := rs.db.NamedExecContext(ctx, query, record); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert record: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// GetRecord retrieves a media record by ID
func (rs *RecordStore) GetRecord(ctx context.Context, id string) (*models.MediaRecord, error) {
	ctx, span := tracer.Start(ctx, "db.get_record",
		trace.WithAttributes(
			attribute.String("record_id", id),
		),
	)
	defer span.End()

	var record models.MediaRecord
	query := rs.db.Rebind(`SELECT ` + recordColumns + ` FROM media_records WHERE id = ?`)
	if err := rs.db.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query record: %w", err)
	}

	record.CreatedAt = time.UnixMilli(record.CreatedAtUnix).UTC()
	return &record, nil
}

// IncrementViews bumps the view counter and returns the new count
func (rs *RecordStore) IncrementViews(ctx context.Context, id string) (int64, error) {
	ctx, span := tracer.Start(ctx, "db.increment_views",
		trace.WithAttributes(
			attribute.String("record_id", id),
		),
	)
	defer span.End()

	tx, err := rs.db.BeginTxx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE media_records SET views = views + 1 WHERE id = ?`), id)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to increment views: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, ErrRecordNotFound
	}

	var views int64
	if err := tx.GetContext(ctx, &views, tx.Rebind(`SELECT views FROM media_records WHERE id = ?`), id); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to read views: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to commit views: %w", err)
	}

	span.SetAttributes(attribute.Int64("views", views))
	return views, nil
}

// DeleteRecord removes a media record
func (rs *RecordStore) DeleteRecord(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "db.delete_record",
		trace.WithAttributes(
			attribute.String("record_id", id),
		),
	)
	defer span.End()

	res, err := rs.db.ExecContext(ctx, rs.db.Rebind(`DELETE FROM media_records WHERE id = ?`), id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListRecords returns records newest first
func (rs *RecordStore) ListRecords(ctx context.Context, filter ListFilter) ([]*models.MediaRecord, error) {
	ctx, span := tracer.Start(ctx, "db.list_records",
		trace.WithAttributes(
			attribute.String("file_type", string(filter.FileType)),
			attribute.Int("limit", filter.Limit),
			attribute.Int("offset", filter.Offset),
		),
	)
	defer span.End()

	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + recordColumns + ` FROM media_records`
	var args []any
	if filter.FileType != "" {
		query += ` WHERE file_type = ?`
		args = append(args, filter.FileType)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	var records []*models.MediaRecord
	if err := rs.db.SelectContext(ctx, &records, rs.db.Rebind(query), args...); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	for _, r := range records {
		r.CreatedAt = time.UnixMilli(r.CreatedAtUnix).UTC()
	}

	span.SetAttributes(attribute.Int("record_count", len(records)))
	return records, nil
}
