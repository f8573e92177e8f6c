package models

import (
	"sort"
	"time"
)

// FileType is the media family an upload belongs to.
type FileType string

const (
	FileTypeVideo FileType = "video"
	FileTypePhoto FileType = "photo"
)

// Valid reports whether t is a known media family.
func (t FileType) Valid() bool {
	return t == FileTypeVideo || t == FileTypePhoto
}

// SessionStatus is the lifecycle state of an upload session.
type SessionStatus string

const (
	StatusOpen       SessionStatus = "open"
	StatusAssembling SessionStatus = "assembling"
	StatusComplete   SessionStatus = "complete"
	StatusFailed     SessionStatus = "failed"
)

// SessionKind records which transmission path fed a session.
type SessionKind string

const (
	KindChunked   SessionKind = "chunked"
	KindResumable SessionKind = "resumable"
)

// UploadSession is the server-side record correlating all chunks of one file.
// Everything except Received, Status, FailureReason, Result and UpdatedAt is
// fixed at creation.
type UploadSession struct {
	ID                  string        `json:"id"`
	Kind                SessionKind   `json:"kind"`
	FileName            string        `json:"fileName"`
	DeclaredTotalSize   int64         `json:"declaredTotalSize"`
	DeclaredTotalChunks int           `json:"declaredTotalChunks"`
	MimeType            string        `json:"mimeType"`
	FileType            FileType      `json:"fileType"`
	TargetBucket        string        `json:"targetBucket"`
	TargetPath          string        `json:"targetPath"`
	Received            map[int]int64 `json:"received,omitempty"`
	Status              SessionStatus `json:"status"`
	FailureReason       string        `json:"failureReason,omitempty"`
	Result              *UploadResult `json:"result,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// ReceivedIndices returns the persisted chunk indices in ascending order.
func (s *UploadSession) ReceivedIndices() []int {
	out := make([]int, 0, len(s.Received))
	for idx := range s.Received {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Missing lists the indices in [0, DeclaredTotalChunks) not yet received.
func (s *UploadSession) Missing() []int {
	var out []int
	for i := 0; i < s.DeclaredTotalChunks; i++ {
		if _, ok := s.Received[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// ReceivedBytes sums the recorded chunk lengths.
func (s *UploadSession) ReceivedBytes() int64 {
	var total int64
	for _, n := range s.Received {
		total += n
	}
	return total
}

// IsFinalIndex reports whether idx is the chunk that triggers reassembly.
func (s *UploadSession) IsFinalIndex(idx int) bool {
	return idx == s.DeclaredTotalChunks-1
}

// Progress is the received share of declared chunks as a percentage.
func (s *UploadSession) Progress() float64 {
	if s.Status == StatusComplete {
		return 100
	}
	if s.DeclaredTotalChunks == 0 {
		return 0
	}
	p := float64(len(s.Received)) / float64(s.DeclaredTotalChunks) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Clone returns a deep copy safe to mutate.
func (s *UploadSession) Clone() *UploadSession {
	c := *s
	c.Received = make(map[int]int64, len(s.Received))
	for k, v := range s.Received {
		c.Received[k] = v
	}
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return &c
}

// ByteRange is a half-open [Start, End) slice of the source file.
type ByteRange struct {
	Index int   `json:"index"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len is the number of bytes covered.
func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

// Chunk is one byte range of a source file bound to its session.
type Chunk struct {
	SessionID string
	Range     ByteRange
	Payload   []byte
	Hash      string
}

// UploadResult is the terminal artifact of an upload.
// Thumbnails belong to the MediaRecord a result is published as.
type UploadResult struct {
	PublicURL   string `json:"publicUrl"`
	StoragePath string `json:"storagePath"`
	Bucket      string `json:"bucket"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
}

// MediaRecord is the persisted metadata for a published media item.
type MediaRecord struct {
	ID            string    `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Description   string    `json:"description" db:"description"`
	FileType      FileType  `json:"fileType" db:"file_type"`
	Bucket        string    `json:"bucket" db:"bucket"`
	StoragePath   string    `json:"storagePath" db:"storage_path"`
	PublicURL     string    `json:"publicUrl" db:"public_url"`
	ThumbnailPath string    `json:"thumbnailPath" db:"thumbnail_path"`
	ThumbnailURL  string    `json:"thumbnailUrl" db:"thumbnail_url"`
	ContentType   string    `json:"contentType" db:"content_type"`
	FileSize      int64     `json:"fileSize" db:"file_size"`
	Views         int64     `json:"views" db:"views"`
	CreatedAt     time.Time `json:"createdAt" db:"-"`
	CreatedAtUnix int64     `json:"-" db:"created_at"`
}
