package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/maneesh/mediadrop/internal/models"
)

// ErrLengthMismatch is returned when a stream yields a different byte count than declared.
var ErrLengthMismatch = errors.New("chunk length mismatch")

// Chunker splits files into fixed-size byte ranges
type Chunker struct {
	chunkSize int64
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int64) *Chunker {
	return &Chunker{
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the configured chunk size in bytes
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// TotalChunks returns ceil(size/chunkSize). A non-positive size yields 0.
func TotalChunks(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Plan partitions a file of the given size into ordered ranges
// [i*chunkSize, min((i+1)*chunkSize, size)).
func (c *Chunker) Plan(size int64) []models.ByteRange {
	total := TotalChunks(size, c.chunkSize)
	ranges := make([]models.ByteRange, 0, total)
	for i := 0; i < total; i++ {
		start := int64(i) * c.chunkSize
		end := start + c.chunkSize
		if end > size {
			end = size
		}
		ranges = append(ranges, models.ByteRange{Index: i, Start: start, End: end})
	}
	return ranges
}

// ReadChunk loads one planned range from src and hashes it.
func (c *Chunker) ReadChunk(src io.ReaderAt, sessionID string, r models.ByteRange) (*models.Chunk, error) {
	buf := make([]byte, r.Len())
	n, err := io.ReadFull(io.NewSectionReader(src, r.Start, r.Len()), buf)
	if err != nil {
		return nil, fmt.Errorf("error reading chunk %d: %w", r.Index, err)
	}

	return &models.Chunk{
		SessionID: sessionID,
		Range:     r,
		Payload:   buf[:n],
		Hash:      ComputeHash(buf[:n]),
	}, nil
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChunkHash verifies that chunk data matches the expected hash
func VerifyChunkHash(data []byte, expectedHash string) bool {
	actualHash := ComputeHash(data)
	return actualHash == expectedHash
}

// CopyExact copies r to w and fails unless exactly want bytes were read.
func CopyExact(w io.Writer, r io.Reader, want int64) (int64, error) {
	n, err := io.Copy(w, io.LimitReader(r, want+1))
	if err != nil {
		return n, err
	}
	if n != want {
		return n, fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, n, want)
	}
	return n, nil
}
