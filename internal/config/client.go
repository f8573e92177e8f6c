package config

import (
	"errors"
	"time"
)

// ClientConfig configures the uploader CLI and client library.
type ClientConfig struct {
	ServerURL           string
	Token               string
	MaxRetries          int
	ChunkedTimeout      time.Duration
	RequestTimeout      time.Duration
	ResumableDelays     []time.Duration
	FingerprintFile     string
	AllowDirectFallback bool
	ResumeFromServer    bool
	ServiceName         string
	TracingEnabled      bool
	JaegerEndpoint      string
}

// LoadClientConfig reads MEDIADROP_* variables, loading .env first when present.
func LoadClientConfig() (*ClientConfig, error) {
	loadDotEnv()

	cfg := &ClientConfig{
		ServerURL:      getEnv("MEDIADROP_SERVER_URL", "http://localhost:8080"),
		Token:          getEnv("MEDIADROP_TOKEN", ""),
		MaxRetries:     getEnvAsInt("MEDIADROP_MAX_RETRIES", 3),
		ChunkedTimeout: getEnvAsDuration("MEDIADROP_CHUNKED_TIMEOUT", 10*time.Minute),
		RequestTimeout: getEnvAsDuration("MEDIADROP_REQUEST_TIMEOUT", 30*time.Second),
		ResumableDelays: getEnvAsDurations("MEDIADROP_RESUMABLE_DELAYS",
			[]time.Duration{0, time.Second, 3 * time.Second, 5 * time.Second}),
		FingerprintFile:     getEnv("MEDIADROP_FINGERPRINT_FILE", ""),
		AllowDirectFallback: getEnvAsBool("MEDIADROP_ALLOW_DIRECT_FALLBACK", false),
		ResumeFromServer:    getEnvAsBool("MEDIADROP_RESUME_FROM_SERVER", true),
		ServiceName:         getEnv("SERVICE_NAME", "mediadrop-uploader"),
		TracingEnabled:      getEnvAsBool("TRACING_ENABLED", false),
		JaegerEndpoint:      getEnv("JAEGER_ENDPOINT", "localhost:4318"),
	}

	if cfg.MaxRetries < 0 {
		return nil, errors.New("MEDIADROP_MAX_RETRIES must not be negative")
	}
	return cfg, nil
}
