package media

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"myndiary/pkg/domain"
)

// Category names a logical bucket of uploaded media.
type Category string

const (
	CategoryImages Category = "images"
	CategoryAudio  Category = "audio"
	CategoryVideo  Category = "video"
)

const (
	MaxImageBytes int64 = 5 * 1024 * 1024
	MaxAVBytes    int64 = 10 * 1024 * 1024
)

var (
	ErrUnknownCategory  = fmt.Errorf("%w: unknown media category", domain.ErrValidation)
	ErrUnsupportedType  = fmt.Errorf("%w: unsupported media type", domain.ErrValidation)
	ErrInvalidExtension = fmt.Errorf("%w: invalid file extension", domain.ErrValidation)
	ErrTooLarge         = fmt.Errorf("%w: file too large", domain.ErrValidation)
	ErrEmptyFile        = fmt.Errorf("%w: file is empty", domain.ErrValidation)
)

// extensions maps every accepted MIME type to the extension used for stored objects.
var extensions = map[Category]map[string]string{
	CategoryImages: {
		"image/jpeg":    "jpg",
		"image/jpg":     "jpg",
		"image/png":     "png",
		"image/gif":     "gif",
		"image/webp":    "webp",
		"image/svg+xml": "svg",
	},
	CategoryAudio: {
		"audio/mpeg": "mp3",
		"audio/mp4":  "m4a",
		"audio/wav":  "wav",
	},
	CategoryVideo: {
		"video/mp4":       "mp4",
		"video/quicktime": "mov",
		"video/webm":      "webm",
	},
}

var imageFilenameExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {},
}

// Upload is a client-supplied file. ContentType and Filename are untrusted.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Validated is an upload that passed every check, ready for the object store.
type Validated struct {
	Upload
	Category    Category
	ContentType string
	Extension   string
	ObjectName  string
}

// ParseCategory accepts the bucket names used by the API.
func ParseCategory(value string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(value))); c {
	case CategoryImages, CategoryAudio, CategoryVideo:
		return c, true
	default:
		return "", false
	}
}

// EntryType is the diary entry type a category produces.
func (c Category) EntryType() domain.EntryType {
	switch c {
	case CategoryImages:
		return domain.EntryImage
	case CategoryAudio:
		return domain.EntryAudio
	case CategoryVideo:
		return domain.EntryVideo
	default:
		return domain.EntryText
	}
}

// MaxBytes is the size ceiling of the category.
func (c Category) MaxBytes() int64 {
	if c == CategoryImages {
		return MaxImageBytes
	}
	return MaxAVBytes
}

// AllowedTypes lists the accepted MIME types of the category, sorted.
func (c Category) AllowedTypes() []string {
	out := make([]string, 0, len(extensions[c]))
	for ct := range extensions[c] {
		out = append(out, ct)
	}
	sort.Strings(out)
	return out
}

// CategoryFor maps a MIME prefix to a category.
func CategoryFor(contentType string) (Category, bool) {
	ct := normalizeType(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return CategoryImages, true
	case strings.HasPrefix(ct, "audio/"):
		return CategoryAudio, true
	case strings.HasPrefix(ct, "video/"):
		return CategoryVideo, true
	default:
		return "", false
	}
}

// GuessContentType is a best-effort correction for clients that report an
// empty or generic type. Validate never calls it.
func GuessContentType(filename, declared string) string {
	ct := normalizeType(declared)
	if ct != "" && ct != "application/octet-stream" && ct != "application/json" {
		return ct
	}
	if byExt := normalizeType(mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))); byExt != "" {
		return byExt
	}
	return ct
}

// Validate checks u against the allow-list of category and names the object.
func Validate(u Upload, category Category) (Validated, error) {
	allowed, ok := extensions[category]
	if !ok {
		return Validated{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	ct := normalizeType(u.ContentType)
	if category == CategoryImages {
		if !strings.HasPrefix(ct, "image/") {
			return Validated{}, fmt.Errorf("%w: file %q is not a valid image, got type %q", ErrUnsupportedType, u.Filename, u.ContentType)
		}
		fileExt := strings.ToLower(filepath.Ext(u.Filename))
		if _, ok := imageFilenameExtensions[fileExt]; !ok {
			return Validated{}, fmt.Errorf("%w: %q, allowed: .jpg, .jpeg, .png, .gif, .webp, .svg", ErrInvalidExtension, fileExt)
		}
	}
	ext, ok := allowed[ct]
	if !ok {
		return Validated{}, fmt.Errorf("%w for %s: allowed %s, got %q", ErrUnsupportedType, category, strings.Join(category.AllowedTypes(), ", "), u.ContentType)
	}
	if u.Size <= 0 {
		return Validated{}, ErrEmptyFile
	}
	if limit := category.MaxBytes(); u.Size > limit {
		return Validated{}, fmt.Errorf("%w: maximum size is %dMB", ErrTooLarge, limit/(1024*1024))
	}
	return Validated{
		Upload:      u,
		Category:    category,
		ContentType: ct,
		Extension:   ext,
		ObjectName:  uuid.NewString() + "." + ext,
	}, nil
}

func normalizeType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
