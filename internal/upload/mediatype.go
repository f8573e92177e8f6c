package upload

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maneesh/mediadrop/internal/models"
)

// DefaultContentType is used when neither hint, extension nor content identify a type.
const DefaultContentType = "application/octet-stream"

// Mobile browsers often omit the type for these, and the platform mime
// tables on slim containers lack most of them.
var extensionTypes = map[string]string{
	".mov":  "video/quicktime",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".3gp":  "video/3gpp",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".avif": "image/avif",
}

// InferContentType resolves a content type from the hint, then the file
// extension. The result is never blank.
func InferContentType(fileName, hint string) string {
	if ct := normalize(hint); ct != "" {
		return ct
	}
	if ct := byExtension(fileName); ct != "" {
		return ct
	}
	return DefaultContentType
}

// ResolveContentType is InferContentType with content sniffing of head
// before the generic fallback.
func ResolveContentType(fileName, hint string, head []byte) string {
	ct := InferContentType(fileName, hint)
	if ct != DefaultContentType || len(head) == 0 {
		return ct
	}
	if detected := mimetype.Detect(head); detected != nil {
		return normalize(detected.String())
	}
	return DefaultContentType
}

// Allowed reports whether ct is a video or image type.
func Allowed(ct string) bool {
	return strings.HasPrefix(ct, "video/") || strings.HasPrefix(ct, "image/")
}

// CheckMedia resolves the content type and rejects anything but video and images.
func CheckMedia(fileName, hint string, head []byte) (string, models.FileType, error) {
	ct := ResolveContentType(fileName, hint, head)
	if !Allowed(ct) {
		return ct, "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedMedia, ct, fileName)
	}
	return ct, FileTypeOf(ct), nil
}

// FileTypeOf maps a content type to its media family. Non-video types map to photo.
func FileTypeOf(ct string) models.FileType {
	if strings.HasPrefix(ct, "video/") {
		return models.FileTypeVideo
	}
	return models.FileTypePhoto
}

// Extension picks the extension for a stored object: the file's own
// extension when present, else one derived from ct.
func Extension(fileName, ct string) string {
	if ext := strings.ToLower(filepath.Ext(fileName)); ext != "" {
		return ext
	}
	if m := mimetype.Lookup(ct); m != nil {
		return m.Extension()
	}
	if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func byExtension(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return ""
	}
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	return normalize(mime.TypeByExtension(ext))
}

func normalize(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}
