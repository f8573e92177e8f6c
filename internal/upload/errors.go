package upload

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStrategyUnresolved = errors.New("upload strategy unresolved")
	ErrChunkPersist       = errors.New("chunk persist failed")
	ErrIncompleteSession  = errors.New("upload incomplete, please retry")
	ErrPermanentWrite     = errors.New("permanent storage write failed")
	ErrTimeout            = errors.New("upload timed out, try a smaller file or direct upload")
	ErrUnsupportedMedia   = errors.New("unsupported media type")
	ErrRetriesExhausted   = errors.New("chunk retries exhausted")
	ErrSessionMismatch    = errors.New("chunk does not match session declaration")
	ErrSessionNotFound    = errors.New("upload session not found")
	ErrAssemblyInProgress = errors.New("session is being assembled")
	ErrInvalidRequest     = errors.New("invalid upload request")
	ErrChecksumMismatch   = errors.New("chunk checksum mismatch")
	ErrObjectExists       = errors.New("object already exists")
)

// Error carries the context needed to report and retry a failed upload.
// ChunkIndex is -1 when the failure is not tied to a single chunk.
type Error struct {
	Kind        error
	SessionID   string
	ChunkIndex  int
	TotalChunks int
	Missing     []int
	Progress    float64
	Err         error
}

// NewError builds a session-level error.
func NewError(kind error, sessionID string, err error) *Error {
	return &Error{Kind: kind, SessionID: sessionID, ChunkIndex: -1, Err: err}
}

// NewChunkError builds an error tied to chunk index of total.
func NewChunkError(kind error, sessionID string, index, total int, err error) *Error {
	return &Error{Kind: kind, SessionID: sessionID, ChunkIndex: index, TotalChunks: total, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.ChunkIndex >= 0 && e.TotalChunks > 0 {
		fmt.Fprintf(&b, ": failed at chunk %d of %d", e.ChunkIndex+1, e.TotalChunks)
	}
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session %s)", e.SessionID)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " missing chunks %v", e.Missing)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// RetrySameSession reports whether the caller can retry with the same
// session id instead of starting a new upload.
func (e *Error) RetrySameSession() bool {
	switch e.Kind {
	case ErrChunkPersist, ErrIncompleteSession, ErrPermanentWrite,
		ErrTimeout, ErrRetriesExhausted, ErrAssemblyInProgress, ErrChecksumMismatch:
		return true
	}
	return false
}

// RetrySameSession reports err's retry class; plain errors are not retryable.
func RetrySameSession(err error) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.RetrySameSession()
	}
	return false
}

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var ue *Error
	ok := errors.As(err, &ue)
	return ue, ok
}
