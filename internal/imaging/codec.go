package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"slices"

	"github.com/cockroachdb/errors"
	imgops "github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	xwebp "golang.org/x/image/webp"
)

// Validate checks presence, size and sniffed type, returning the detected
// MIME type.
func Validate(file *File, maxBytes int64) (string, error) {
	if file == nil || len(file.Data) == 0 {
		return "", &ValidationError{Reason: "no file provided"}
	}
	if maxBytes > 0 && int64(len(file.Data)) > maxBytes {
		return "", &ValidationError{Reason: fmt.Sprintf("file is %d bytes, limit is %d", len(file.Data), maxBytes)}
	}
	mime := mimetype.Detect(file.Data)
	for _, allowed := range AllowedTypes {
		if mime.Is(allowed) {
			return allowed, nil
		}
	}
	return "", &ValidationError{Reason: fmt.Sprintf("unsupported type %s", mime.String())}
}

func decodeConfig(data []byte, mime string) (image.Config, error) {
	r := bytes.NewReader(data)
	switch mime {
	case "image/webp":
		return xwebp.DecodeConfig(r)
	case "image/avif":
		return avif.DecodeConfig(r)
	case "image/png":
		return png.DecodeConfig(r)
	default:
		return jpeg.DecodeConfig(r)
	}
}

// decode reads the header first and refuses sources above maxPixels, so an
// upload that is small on disk cannot expand into a huge bitmap.
func decode(data []byte, mime string, maxPixels int64) (image.Image, error) {
	cfg, err := decodeConfig(data, mime)
	if err != nil {
		return nil, &ValidationError{Reason: "cannot decode " + mime + ": " + err.Error()}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > maxPixels {
		return nil, &ValidationError{Reason: fmt.Sprintf("image is %dx%d, limit is %d pixels", cfg.Width, cfg.Height, maxPixels)}
	}

	var img image.Image
	switch mime {
	case "image/webp":
		img, err = xwebp.Decode(bytes.NewReader(data))
	case "image/avif":
		img, err = avif.Decode(bytes.NewReader(data))
	default:
		img, err = imgops.Decode(bytes.NewReader(data), imgops.AutoOrientation(true))
	}
	if err != nil {
		return nil, &ValidationError{Reason: "cannot decode " + mime + ": " + err.Error()}
	}
	return img, nil
}

// shouldSkip reports whether the source is below the class box in both
// dimensions. The catch-all class is never skipped.
func shouldSkip(spec SizeSpec, src image.Rectangle, catchAll bool) bool {
	if catchAll {
		return false
	}
	return src.Dx() < spec.Width && src.Dy() < spec.Height
}

// resize maps src onto the class box without ever upscaling.
func resize(src image.Image, spec SizeSpec) *image.NRGBA {
	b := src.Bounds()
	switch spec.Fit {
	case FitCover:
		w, h := min(spec.Width, b.Dx()), min(spec.Height, b.Dy())
		return imgops.Fill(src, w, h, imgops.Center, imgops.Lanczos)
	default:
		return imgops.Fit(src, spec.Width, spec.Height, imgops.Lanczos)
	}
}

func enhance(img *image.NRGBA) *image.NRGBA {
	return normalize(imgops.Sharpen(img, 0.5))
}

// normalize stretches luminance so the darkest pixel maps to black and the
// brightest to white.
func normalize(img *image.NRGBA) *image.NRGBA {
	lo, hi := uint8(255), uint8(0)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		if img.Pix[i+3] == 0 {
			continue
		}
		y, _, _ := color.RGBToYCbCr(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
		lo, hi = min(lo, y), max(hi, y)
	}
	if hi <= lo || (lo == 0 && hi == 255) {
		return img
	}
	scale := 255 / float64(hi-lo)
	stretch := func(v uint8) uint8 {
		f := (float64(v) - float64(lo)) * scale
		return uint8(min(max(f, 0), 255) + 0.5)
	}
	return imgops.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: stretch(c.R), G: stretch(c.G), B: stretch(c.B), A: c.A}
	})
}

func encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatWebP:
		err = webp.Encode(&buf, img, webp.Options{Quality: WebPQuality, Method: WebPMethod})
	case FormatJPEG:
		err = imgops.Encode(&buf, img, imgops.JPEG, imgops.JPEGQuality(JPEGQuality))
	case FormatPNG:
		err = imgops.Encode(&buf, img, imgops.PNG, imgops.PNGCompressionLevel(png.BestCompression))
	default:
		return nil, errors.Newf("unknown format %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", format)
	}
	return buf.Bytes(), nil
}

// formatsFor picks the encodings for each applicable class: WebP always,
// JPEG for the two largest, PNG only when enabled.
func formatsFor(applicable []SizeClass, emitPNG bool) map[SizeClass][]Format {
	out := make(map[SizeClass][]Format, len(applicable))
	for i, class := range applicable {
		formats := []Format{FormatWebP}
		if i >= len(applicable)-2 {
			formats = append(formats, FormatJPEG)
		}
		if emitPNG {
			formats = append(formats, FormatPNG)
		}
		out[class] = slices.Clip(formats)
	}
	return out
}
