package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "mediadrop-test", "info", "json")

	logger.Debug("hidden")
	logger.Info("chunk stored", "session_id", "abc", "chunk_index", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "chunk stored", entry["msg"])
	assert.Equal(t, "mediadrop-test", entry["service"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.EqualValues(t, 2, entry["chunk_index"])
}
