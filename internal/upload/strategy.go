package upload

import (
	"errors"
	"fmt"

	"github.com/maneesh/mediadrop/internal/chunker"
	"github.com/maneesh/mediadrop/internal/models"
)

// ResumableUnit is the granularity resumable segment sizes must be a multiple of.
const ResumableUnit = 256 * 1024

const mib = int64(1024 * 1024)

// Strategy is one of the three transmission methods.
type Strategy int

const (
	Direct Strategy = iota + 1
	FixedChunk
	ResumableProtocol
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case FixedChunk:
		return "fixed_chunk"
	case ResumableProtocol:
		return "resumable"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Thresholds drive strategy selection. DirectMaxBytes and ResumableMinBytes
// are inclusive bounds. ServerBodyLimit is the request-body ceiling of the
// server and is independent of DirectMaxBytes.
type Thresholds struct {
	DirectMaxBytes     int64
	ChunkSize          int64
	ServerBodyLimit    int64
	ResumableMinBytes  int64
	ResumableChunkSize int64
	ResumableAvailable bool
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DirectMaxBytes:     6 * mib,
		ChunkSize:          6 * mib,
		ServerBodyLimit:    10 * mib,
		ResumableMinBytes:  100 * mib,
		ResumableChunkSize: 6 * mib,
		ResumableAvailable: true,
	}
}

// Validate checks the invariants between the limits.
func (t Thresholds) Validate() error {
	var errs []error
	if t.DirectMaxBytes <= 0 {
		errs = append(errs, errors.New("direct max must be positive"))
	}
	if t.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}
	if t.ServerBodyLimit > 0 && t.ChunkSize > t.ServerBodyLimit {
		errs = append(errs, fmt.Errorf("chunk size %d exceeds server body limit %d", t.ChunkSize, t.ServerBodyLimit))
	}
	if t.ResumableAvailable && (t.ResumableChunkSize <= 0 || t.ResumableChunkSize%ResumableUnit != 0) {
		errs = append(errs, fmt.Errorf("resumable chunk size must be a positive multiple of %d", ResumableUnit))
	}
	return errors.Join(errs...)
}

// directLimit is the largest size a single request can carry.
func (t Thresholds) directLimit() int64 {
	if t.ServerBodyLimit > 0 && t.ServerBodyLimit < t.DirectMaxBytes {
		return t.ServerBodyLimit
	}
	return t.DirectMaxBytes
}

// Decision is the outcome of strategy selection for one file.
type Decision struct {
	Strategy    Strategy
	ContentType string
	FileType    models.FileType
	ChunkSize   int64
	TotalChunks int
}

// Selector picks an upload strategy. It holds no mutable state.
type Selector struct {
	thresholds Thresholds
}

// NewSelector creates a selector over t.
func NewSelector(t Thresholds) *Selector {
	return &Selector{thresholds: t}
}

// Thresholds returns the limits the selector routes on.
func (s *Selector) Thresholds() Thresholds {
	return s.thresholds
}

// Strategy routes on size alone: size <= min(DirectMaxBytes, ServerBodyLimit)
// is Direct, size >= ResumableMinBytes is ResumableProtocol when available,
// anything else FixedChunk.
func (s *Selector) Strategy(size int64) Strategy {
	t := s.thresholds
	switch {
	case size <= t.directLimit():
		return Direct
	case t.ResumableAvailable && t.ResumableMinBytes > 0 && size >= t.ResumableMinBytes:
		return ResumableProtocol
	default:
		return FixedChunk
	}
}

// Select never fails. An empty mime hint is inferred from the file name and
// falls back to a generic binary type.
func (s *Selector) Select(size int64, fileName, mimeHint string) Decision {
	ct := InferContentType(fileName, mimeHint)
	d := Decision{
		Strategy:    s.Strategy(size),
		ContentType: ct,
		FileType:    FileTypeOf(ct),
	}

	switch d.Strategy {
	case FixedChunk:
		d.ChunkSize = s.thresholds.ChunkSize
	case ResumableProtocol:
		d.ChunkSize = s.thresholds.ResumableChunkSize
	default:
		d.ChunkSize = size
	}
	d.TotalChunks = chunker.TotalChunks(size, d.ChunkSize)
	return d
}
