package chunker

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maneesh/mediadrop/internal/models"
)

const mib = 1024 * 1024

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		size, chunk int64
		want        int
	}{
		{0, 6 * mib, 0},
		{1, 6 * mib, 1},
		{6 * mib, 6 * mib, 1},
		{6*mib + 1, 6 * mib, 2},
		{20 * mib, 6 * mib, 4},
		{10, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalChunks(tt.size, tt.chunk), "size=%d chunk=%d", tt.size, tt.chunk)
	}
}

func TestPlanTwentyMiBInSixMiBChunks(t *testing.T) {
	c := NewChunker(6 * mib)
	ranges := c.Plan(20 * mib)

	require.Len(t, ranges, 4)
	wantLens := []int64{6 * mib, 6 * mib, 6 * mib, 2 * mib}
	var sum int64
	for i, r := range ranges {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, wantLens[i], r.Len())
		assert.Equal(t, sum, r.Start, "ranges must be contiguous")
		sum += r.Len()
	}
	assert.Equal(t, int64(20*mib), sum)
}

func TestReadChunkRoundTrip(t *testing.T) {
	src := make([]byte, 1000)
	_, err := rand.Read(src)
	require.NoError(t, err)

	c := NewChunker(333)
	var rebuilt bytes.Buffer
	for _, r := range c.Plan(int64(len(src))) {
		chunk, err := c.ReadChunk(bytes.NewReader(src), "s1", r)
		require.NoError(t, err)
		assert.Equal(t, "s1", chunk.SessionID)
		assert.True(t, VerifyChunkHash(chunk.Payload, chunk.Hash))
		rebuilt.Write(chunk.Payload)
	}

	assert.Equal(t, src, rebuilt.Bytes())
}

func TestReadChunkShortSource(t *testing.T) {
	c := NewChunker(10)
	_, err := c.ReadChunk(strings.NewReader("abc"), "s1", models.ByteRange{Index: 0, Start: 0, End: 10})
	assert.Error(t, err)
}

func TestVerifyChunkHash(t *testing.T) {
	data := []byte("chunk payload")
	assert.True(t, VerifyChunkHash(data, ComputeHash(data)))
	assert.False(t, VerifyChunkHash(data, ComputeHash([]byte("other"))))
}

func TestCopyExact(t *testing.T) {
	var buf bytes.Buffer
	n, err := CopyExact(&buf, strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = CopyExact(&bytes.Buffer{}, strings.NewReader("hello"), 4)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = CopyExact(&bytes.Buffer{}, strings.NewReader("hi"), 4)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}
