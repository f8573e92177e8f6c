package models

// ChunkResponse answers POST /upload/chunk. Complete is true only on the
// response to the final chunk, together with FileURL and Path.
type ChunkResponse struct {
	Success    bool   `json:"success"`
	Complete   bool   `json:"complete"`
	ChunkIndex int    `json:"chunkIndex"`
	SessionID  string `json:"sessionId"`
	FileURL    string `json:"fileUrl,omitempty"`
	Path       string `json:"path,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// SessionRequest is the body of POST /upload/sessions.
type SessionRequest struct {
	SessionID   string   `json:"sessionId"`
	FileName    string   `json:"fileName"`
	TotalSize   int64    `json:"totalSize"`
	TotalChunks int      `json:"totalChunks"`
	MimeType    string   `json:"mimeType"`
	FileType    FileType `json:"fileType"`
	Bucket      string   `json:"bucket"`
	Path        string   `json:"path"`
}

// SessionResponse describes a session to clients.
type SessionResponse struct {
	Success     bool          `json:"success"`
	SessionID   string        `json:"sessionId"`
	Kind        SessionKind   `json:"kind"`
	Status      SessionStatus `json:"status"`
	FileName    string        `json:"fileName"`
	TotalChunks int           `json:"totalChunks"`
	TotalSize   int64         `json:"totalSize"`
	Received    []int         `json:"received"`
	Missing     []int         `json:"missing"`
	Progress    float64       `json:"progress"`
	Bucket      string        `json:"bucket"`
	Path        string        `json:"path"`
	Failure     string        `json:"failure,omitempty"`
	Result      *UploadResult `json:"result,omitempty"`
}

// NewSessionResponse projects a session onto its wire form.
func NewSessionResponse(s *UploadSession) SessionResponse {
	received := s.ReceivedIndices()
	missing := s.Missing()
	if missing == nil {
		missing = []int{}
	}
	return SessionResponse{
		Success:     true,
		SessionID:   s.ID,
		Kind:        s.Kind,
		Status:      s.Status,
		FileName:    s.FileName,
		TotalChunks: s.DeclaredTotalChunks,
		TotalSize:   s.DeclaredTotalSize,
		Received:    received,
		Missing:     missing,
		Progress:    s.Progress(),
		Bucket:      s.TargetBucket,
		Path:        s.TargetPath,
		Failure:     s.FailureReason,
		Result:      s.Result,
	}
}

// DirectResponse answers PUT /upload/direct.
type DirectResponse struct {
	Success     bool   `json:"success"`
	FileURL     string `json:"fileUrl"`
	Path        string `json:"path"`
	Bucket      string `json:"bucket"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// AssembleResponse answers POST /upload/sessions/{id}/assemble.
type AssembleResponse struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"sessionId"`
	FileURL     string `json:"fileUrl"`
	Path        string `json:"path"`
	Bucket      string `json:"bucket"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// LimitsResponse advertises the server's strategy thresholds.
type LimitsResponse struct {
	DirectMaxBytes     int64  `json:"directMaxBytes"`
	ChunkSizeBytes     int64  `json:"chunkSizeBytes"`
	ServerBodyLimit    int64  `json:"serverBodyLimitBytes"`
	ResumableMinBytes  int64  `json:"resumableMinBytes"`
	ResumableChunkSize int64  `json:"resumableChunkSizeBytes"`
	ResumableEnabled   bool   `json:"resumableEnabled"`
	ResumablePath      string `json:"resumablePath,omitempty"`
}

// CreateRecordRequest is the body of POST /media.
type CreateRecordRequest struct {
	Title         string   `json:"title" validate:"required,max=255"`
	Description   string   `json:"description" validate:"max=2000"`
	FileType      FileType `json:"fileType" validate:"required,oneof=video photo"`
	Bucket        string   `json:"bucket" validate:"required,max=63"`
	StoragePath   string   `json:"storagePath" validate:"required,max=1024,objectpath"`
	PublicURL     string   `json:"publicUrl" validate:"max=2048"`
	ThumbnailPath string   `json:"thumbnailPath" validate:"omitempty,max=1024,objectpath"`
	ThumbnailURL  string   `json:"thumbnailUrl" validate:"max=2048"`
	ContentType   string   `json:"contentType" validate:"omitempty,max=255"`
	FileSize      int64    `json:"fileSize" validate:"gte=0"`
}

// RecordListResponse answers GET /media.
type RecordListResponse struct {
	Success bool           `json:"success"`
	Records []*MediaRecord `json:"records"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is returned by every failing endpoint.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}
