package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maneesh/mediadrop/internal/auth"
	"github.com/maneesh/mediadrop/internal/coordinator"
	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/storage"
	"github.com/maneesh/mediadrop/internal/upload"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, models.ErrorResponse{
		Success: false,
		Error:   models.ErrorBody{Code: code, Message: message, Details: details},
	})
}

// writeError maps err onto the error envelope. Upload errors carry their
// session context in details.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		writeErrorCode(w, http.StatusRequestEntityTooLarge, upload.CodePayloadTooLarge, "request body too large",
			map[string]any{"limit": maxBytes.Limit})
		return
	case errors.Is(err, storage.ErrRecordNotFound):
		writeErrorCode(w, http.StatusNotFound, upload.CodeNotFound, "record not found", nil)
		return
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		writeErrorCode(w, http.StatusUnauthorized, upload.CodeUnauthorized, err.Error(), nil)
		return
	}

	status, code := upload.Classify(err)
	details := map[string]any{}
	if ue, ok := upload.AsError(err); ok {
		if ue.SessionID != "" {
			details["sessionId"] = ue.SessionID
		}
		if ue.ChunkIndex >= 0 {
			details["chunkIndex"] = ue.ChunkIndex
		}
		if ue.TotalChunks > 0 {
			details["totalChunks"] = ue.TotalChunks
		}
		if len(ue.Missing) > 0 {
			details["missing"] = ue.Missing
		}
		details["retrySameSession"] = ue.RetrySameSession()
	}
	if fields := coordinator.FieldErrors(err); len(fields) > 0 {
		details["field_errors"] = fields
	}
	if len(details) == 0 {
		details = nil
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		message = "internal error"
	}
	writeErrorCode(w, status, code, message, details)
}

// Unauthorized renders auth middleware rejections in the envelope.
func Unauthorized(w http.ResponseWriter, _ *http.Request, err error) {
	writeErrorCode(w, http.StatusUnauthorized, upload.CodeUnauthorized, err.Error(), nil)
}
