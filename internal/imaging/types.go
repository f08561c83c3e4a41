// Package imaging renders uploaded product images into a fixed matrix of
// resized, re-encoded variants stored in object storage.
package imaging

import (
	"time"

	"github.com/cockroachdb/errors"
)

// SizeClass names one row of the size matrix.
type SizeClass string

const (
	SizeThumbnail SizeClass = "thumbnail"
	SizeSmall     SizeClass = "small"
	SizeMedium    SizeClass = "medium"
	SizeLarge     SizeClass = "large"
	SizeOriginal  SizeClass = "original"
)

// Fit controls how a source is mapped onto a size class box.
type Fit string

const (
	// FitCover crops to fill the box exactly.
	FitCover Fit = "cover"
	// FitInside scales to fit within the box, preserving aspect ratio.
	FitInside Fit = "inside"
)

type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// Ext is the file extension used in storage paths.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// SizeSpec is one size class with its bounding box.
type SizeSpec struct {
	Class  SizeClass
	Width  int
	Height int
	Fit    Fit
}

// DefaultMatrix lists the size classes from smallest to largest. The last
// entry is the catch-all and is never skipped.
var DefaultMatrix = []SizeSpec{
	{Class: SizeThumbnail, Width: 150, Height: 150, Fit: FitCover},
	{Class: SizeSmall, Width: 300, Height: 300, Fit: FitCover},
	{Class: SizeMedium, Width: 600, Height: 600, Fit: FitInside},
	{Class: SizeLarge, Width: 1200, Height: 1200, Fit: FitInside},
	{Class: SizeOriginal, Width: 2048, Height: 2048, Fit: FitInside},
}

// Encoding qualities.
const (
	WebPQuality = 80
	WebPMethod  = 6 // slowest, smallest
	JPEGQuality = 85
)

const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultCacheControl   = "public, max-age=31536000, immutable"
	DefaultConcurrency    = 3
	DefaultMaxPixels      = 40_000_000
)

// AllowedTypes is the upload MIME allow-list.
var AllowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/avif"}

// File is an uploaded source image.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Variant is one stored (size class, format) rendition.
type Variant struct {
	Size   SizeClass `json:"size"`
	Format Format    `json:"format"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Bytes  int64     `json:"bytes"`
	Path   string    `json:"path"`
	URL    string    `json:"url"`
}

// SkippedVariant records a rendition that failed to encode or upload.
type SkippedVariant struct {
	Size   SizeClass `json:"size"`
	Format Format    `json:"format"`
	Reason string    `json:"reason"`
}

// Result is the outcome of processing one uploaded file.
type Result struct {
	OriginalImage    string           `json:"originalImage"`
	Variants         []Variant        `json:"variants"`
	TotalSize        int64            `json:"totalSize"`
	ProcessingTime   time.Duration    `json:"-"`
	ProcessingTimeMs int64            `json:"processingTimeMs"`
	Skipped          []SkippedVariant `json:"skipped,omitempty"`
}

// Find returns the variant for a size class and format.
func (r *Result) Find(size SizeClass, format Format) (Variant, bool) {
	for _, v := range r.Variants {
		if v.Size == size && v.Format == format {
			return v, true
		}
	}
	return Variant{}, false
}

var (
	// ErrInvalidImage is the sentinel behind every ValidationError.
	ErrInvalidImage = errors.New("invalid image")
	// ErrNoVariants means the whole matrix produced nothing.
	ErrNoVariants = errors.New("image processing produced no variants")
)

// ValidationError is an upload rejection reported to the caller as is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid image: " + e.Reason }

func (e *ValidationError) Unwrap() error { return ErrInvalidImage }

// IsValidation reports whether err is an upload rejection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidImage)
}
