package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maneesh/mediadrop/internal/models"
)

func TestSelectorBoundaries(t *testing.T) {
	s := NewSelector(DefaultThresholds())

	tests := []struct {
		name string
		size int64
		want Strategy
	}{
		{"empty", 0, Direct},
		{"tiny", 1, Direct},
		{"exactly direct max", 6 * mib, Direct},
		{"one past direct max", 6*mib + 1, FixedChunk},
		{"mid size", 50 * mib, FixedChunk},
		{"one below resumable min", 100*mib - 1, FixedChunk},
		{"exactly resumable min", 100 * mib, ResumableProtocol},
		{"huge", 900 * mib, ResumableProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Strategy(tt.size))
		})
	}
}

func TestSelectorClampsDirectToBodyLimit(t *testing.T) {
	th := DefaultThresholds()
	th.DirectMaxBytes = 6 * mib
	th.ServerBodyLimit = 4*mib + mib/2
	th.ChunkSize = 4 * mib
	assert.NoError(t, th.Validate())
	s := NewSelector(th)

	tests := []struct {
		name string
		size int64
		want Strategy
	}{
		{"one below body limit", th.ServerBodyLimit - 1, Direct},
		{"exactly body limit", th.ServerBodyLimit, Direct},
		{"one past body limit", th.ServerBodyLimit + 1, FixedChunk},
		{"between body limit and direct max", 5 * mib, FixedChunk},
		{"exactly direct max", 6 * mib, FixedChunk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Strategy(tt.size))
		})
	}

	d := s.Select(5*mib, "clip.mp4", "")
	assert.Equal(t, FixedChunk, d.Strategy)
	assert.Equal(t, 2, d.TotalChunks)
}

func TestSelectorWithoutBodyLimit(t *testing.T) {
	th := DefaultThresholds()
	th.ServerBodyLimit = 0
	s := NewSelector(th)

	assert.Equal(t, Direct, s.Strategy(6*mib))
	assert.Equal(t, FixedChunk, s.Strategy(6*mib+1))
}

func TestSelectorWithoutResumable(t *testing.T) {
	th := DefaultThresholds()
	th.ResumableAvailable = false
	s := NewSelector(th)

	assert.Equal(t, FixedChunk, s.Strategy(900*mib))
}

func TestSelectDecision(t *testing.T) {
	s := NewSelector(DefaultThresholds())

	d := s.Select(20*mib, "IMG_0001.MOV", "")
	assert.Equal(t, FixedChunk, d.Strategy)
	assert.Equal(t, "video/quicktime", d.ContentType)
	assert.Equal(t, models.FileTypeVideo, d.FileType)
	assert.Equal(t, int64(6*mib), d.ChunkSize)
	assert.Equal(t, 4, d.TotalChunks)

	d = s.Select(1024, "noext", "")
	assert.Equal(t, Direct, d.Strategy)
	assert.Equal(t, DefaultContentType, d.ContentType)
	assert.Equal(t, 1, d.TotalChunks)
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	th := DefaultThresholds()
	th.ChunkSize = 12 * mib
	assert.Error(t, th.Validate(), "chunk above body limit")

	th = DefaultThresholds()
	th.ResumableChunkSize = 6*mib + 1
	assert.Error(t, th.Validate(), "resumable chunk not a multiple of 256KiB")
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "direct", Direct.String())
	assert.Equal(t, "fixed_chunk", FixedChunk.String())
	assert.Equal(t, "resumable", ResumableProtocol.String())
}
