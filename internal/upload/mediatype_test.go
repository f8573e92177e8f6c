package upload

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maneesh/mediadrop/internal/models"
)

func TestInferContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", InferContentType("clip.mp4", "video/mp4; codecs=avc1"))
	assert.Equal(t, "image/heic", InferContentType("IMG_1234.HEIC", ""))
	assert.Equal(t, "video/quicktime", InferContentType("movie.mov", "  "))
	assert.Equal(t, DefaultContentType, InferContentType("blob", ""))
}

func TestResolveContentTypeSniffs(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	assert.Equal(t, "image/png", ResolveContentType("upload", "", png))
	assert.Equal(t, "video/mp4", ResolveContentType("upload", "video/mp4", png), "hint wins over sniffing")
}

func TestCheckMedia(t *testing.T) {
	ct, ft, err := CheckMedia("a.jpg", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, models.FileTypePhoto, ft)

	_, _, err = CheckMedia("notes.txt", "", nil)
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	_, _, err = CheckMedia("blob", "", []byte{0x00, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".mov", Extension("A.MOV", "video/quicktime"))
	assert.Equal(t, ".png", Extension("noext", "image/png"))
}

func TestErrorContext(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewChunkError(ErrRetriesExhausted, "sess-1", 2, 4, cause)

	assert.Contains(t, err.Error(), "failed at chunk 3 of 4")
	assert.Contains(t, err.Error(), "sess-1")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, cause)
	assert.True(t, RetrySameSession(fmt.Errorf("wrapped: %w", err)))

	mismatch := NewError(ErrSessionMismatch, "sess-1", nil)
	assert.False(t, mismatch.RetrySameSession())
	assert.False(t, RetrySameSession(cause))

	got, ok := AsError(fmt.Errorf("x: %w", mismatch))
	require.True(t, ok)
	assert.Equal(t, -1, got.ChunkIndex)
}
