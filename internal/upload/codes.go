package upload

import (
	"errors"
	"net/http"
)

// Wire codes carried in the error envelope.
const (
	CodeChunkPersist       = "CHUNK_PERSIST_FAILED"
	CodeIncompleteSession  = "INCOMPLETE_SESSION"
	CodePermanentWrite     = "PERMANENT_WRITE_FAILED"
	CodeUnsupportedMedia   = "UNSUPPORTED_MEDIA"
	CodeSessionMismatch    = "SESSION_MISMATCH"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeAssemblyInProgress = "ASSEMBLY_IN_PROGRESS"
	CodeChecksumMismatch   = "CHECKSUM_MISMATCH"
	CodeObjectExists       = "OBJECT_EXISTS"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeTimeout            = "TIMEOUT"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

var kindTable = []struct {
	kind   error
	code   string
	status int
}{
	{ErrChunkPersist, CodeChunkPersist, http.StatusServiceUnavailable},
	{ErrIncompleteSession, CodeIncompleteSession, http.StatusConflict},
	{ErrPermanentWrite, CodePermanentWrite, http.StatusBadGateway},
	{ErrUnsupportedMedia, CodeUnsupportedMedia, http.StatusUnsupportedMediaType},
	{ErrSessionMismatch, CodeSessionMismatch, http.StatusConflict},
	{ErrSessionNotFound, CodeSessionNotFound, http.StatusNotFound},
	{ErrAssemblyInProgress, CodeAssemblyInProgress, http.StatusConflict},
	{ErrChecksumMismatch, CodeChecksumMismatch, http.StatusUnprocessableEntity},
	{ErrObjectExists, CodeObjectExists, http.StatusConflict},
	{ErrInvalidRequest, CodeInvalidRequest, http.StatusBadRequest},
	{ErrTimeout, CodeTimeout, http.StatusGatewayTimeout},
}

// Classify maps err to its HTTP status and wire code. Unknown errors are
// internal.
func Classify(err error) (int, string) {
	for _, k := range kindTable {
		if errors.Is(err, k.kind) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// KindForCode is the inverse of Classify for clients decoding an envelope.
// It returns nil for codes with no sentinel.
func KindForCode(code string) error {
	for _, k := range kindTable {
		if k.code == code {
			return k.kind
		}
	}
	return nil
}
