package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/maneesh/mediadrop/internal/upload"
)

const mib = int64(1024 * 1024)

// Config holds all server configuration
type Config struct {
	// Service configuration
	ServicePort     string
	ServiceName     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Upload limits
	DirectMaxBytes     int64
	ChunkSizeMB        int
	ServerBodyLimit    int64
	ResumableMinBytes  int64
	ResumableChunkSize int64
	ResumableEnabled   bool
	ResumableDir       string

	// Session lifecycle
	SessionBackend   string
	SessionExpiry    time.Duration
	SessionRetention time.Duration
	SweepInterval    time.Duration

	// Object storage
	StorageBackend string
	TempBucket     string
	VideoBucket    string
	PhotoBucket    string
	PublicBaseURL  string

	// MinIO configuration
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool

	// S3 configuration
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Record store configuration
	RecordDriver string
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string
	PostgresDSN  string
	SQLitePath   string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Auth
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	// Tracing
	TracingEnabled bool
	JaegerEndpoint string
}

// LoadConfig loads configuration from a .env file (if any) and environment variables
func LoadConfig() (*Config, error) {
	loadDotEnv()

	config := &Config{
		ServicePort:     getEnv("SERVICE_PORT", "8080"),
		ServiceName:     getEnv("SERVICE_NAME", "mediadrop-service"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		DirectMaxBytes:     getEnvAsInt64("DIRECT_MAX_BYTES", 6*mib),
		ChunkSizeMB:        getEnvAsInt("CHUNK_SIZE_MB", 6),
		ServerBodyLimit:    getEnvAsInt64("SERVER_BODY_LIMIT_BYTES", 10*mib),
		ResumableMinBytes:  getEnvAsInt64("RESUMABLE_MIN_BYTES", 100*mib),
		ResumableChunkSize: getEnvAsInt64("RESUMABLE_CHUNK_SIZE_BYTES", 6*mib),
		ResumableEnabled:   getEnvAsBool("RESUMABLE_ENABLED", true),
		ResumableDir:       getEnv("RESUMABLE_DIR", "./data/resumable"),

		SessionBackend:   getEnv("SESSION_BACKEND", "redis"),
		SessionExpiry:    getEnvAsDuration("SESSION_EXPIRY", 24*time.Hour),
		SessionRetention: getEnvAsDuration("SESSION_RETENTION", 72*time.Hour),
		SweepInterval:    getEnvAsDuration("SWEEP_INTERVAL", 15*time.Minute),

		StorageBackend: getEnv("STORAGE_BACKEND", "minio"),
		TempBucket:     getEnv("TEMP_BUCKET", "mediadrop-temp"),
		VideoBucket:    getEnv("VIDEO_BUCKET", "videos"),
		PhotoBucket:    getEnv("PHOTO_BUCKET", "photos"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOUseSSL:    getEnvAsBool("MINIO_USE_SSL", false),

		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvAsBool("S3_USE_PATH_STYLE", false),

		RecordDriver: getEnv("RECORD_DRIVER", "mysql"),
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "4000"),
		DBUser:       getEnv("DB_USER", "root"),
		DBPassword:   getEnv("DB_PASSWORD", ""),
		DBName:       getEnv("DB_NAME", "mediadrop"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),
		SQLitePath:   getEnv("SQLITE_PATH", "mediadrop.db"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "mediadrop"),
		TokenTTL:  getEnvAsDuration("TOKEN_TTL", 12*time.Hour),

		TracingEnabled: getEnvAsBool("TRACING_ENABLED", true),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the relationships between upload limits and required secrets.
func (c *Config) Validate() error {
	var errs []error

	if c.DirectMaxBytes <= 0 {
		errs = append(errs, errors.New("DIRECT_MAX_BYTES must be positive"))
	}
	if c.ChunkSizeMB <= 0 {
		errs = append(errs, errors.New("CHUNK_SIZE_MB must be positive"))
	}
	if c.GetChunkSizeBytes() > c.ServerBodyLimit {
		errs = append(errs, fmt.Errorf("chunk size %d exceeds server body limit %d", c.GetChunkSizeBytes(), c.ServerBodyLimit))
	}
	if c.ResumableChunkSize <= 0 || c.ResumableChunkSize%upload.ResumableUnit != 0 {
		errs = append(errs, fmt.Errorf("RESUMABLE_CHUNK_SIZE_BYTES must be a positive multiple of %d", upload.ResumableUnit))
	}
	if c.ResumableMinBytes <= c.DirectMaxBytes {
		errs = append(errs, errors.New("RESUMABLE_MIN_BYTES must be greater than DIRECT_MAX_BYTES"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.RecordDriver {
	case "mysql", "pgx", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown RECORD_DRIVER %q", c.RecordDriver))
	}

	return errors.Join(errs...)
}

// Thresholds returns the strategy thresholds this server advertises.
func (c *Config) Thresholds() upload.Thresholds {
	return upload.Thresholds{
		DirectMaxBytes:     c.DirectMaxBytes,
		ChunkSize:          c.GetChunkSizeBytes(),
		ServerBodyLimit:    c.ServerBodyLimit,
		ResumableMinBytes:  c.ResumableMinBytes,
		ResumableChunkSize: c.ResumableChunkSize,
		ResumableAvailable: c.ResumableEnabled,
	}
}

// GetDSN returns the connection string for the configured record driver
func (c *Config) GetDSN() string {
	switch c.RecordDriver {
	case "pgx":
		return c.PostgresDSN
	case "sqlite":
		return c.SQLitePath
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeMB) * mib
}

// loadDotEnv reads .env (or ENV_FILE) without overriding variables already set.
func loadDotEnv() {
	file := getEnv("ENV_FILE", ".env")
	if _, err := os.Stat(file); err != nil {
		return
	}
	_ = godotenv.Load(file)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDurations(key string, defaultValue []time.Duration) []time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []time.Duration
	for _, part := range strings.Split(valueStr, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		out = append(out, d)
	}
	return out
}
