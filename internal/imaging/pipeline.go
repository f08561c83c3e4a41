package imaging

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/muandane/special-stack/storefront/internal/storage"
)

// Processor turns uploaded product images into stored variants.
type Processor struct {
	store          storage.ObjectStore
	logger         *slog.Logger
	matrix         []SizeSpec
	maxUploadBytes int64
	maxPixels      int64
	cacheControl   string
	concurrency    int
	emitPNG        bool
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMatrix replaces the size classes; the last entry is the catch-all.
func WithMatrix(matrix []SizeSpec) Option {
	return func(p *Processor) {
		if len(matrix) > 0 {
			p.matrix = matrix
		}
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxUploadBytes = n
		}
	}
}

// WithMaxPixels bounds the decoded size of a source image.
func WithMaxPixels(n int64) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}

func WithCacheControl(v string) Option {
	return func(p *Processor) {
		if v != "" {
			p.cacheControl = v
		}
	}
}

// WithConcurrency bounds how many size classes are processed at once.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPNG additionally emits a PNG for every produced size.
func WithPNG(enabled bool) Option {
	return func(p *Processor) { p.emitPNG = enabled }
}

func NewProcessor(store storage.ObjectStore, opts ...Option) *Processor {
	p := &Processor{
		store:          store,
		logger:         slog.Default(),
		matrix:         DefaultMatrix,
		maxUploadBytes: DefaultMaxUploadBytes,
		maxPixels:      DefaultMaxPixels,
		cacheControl:   DefaultCacheControl,
		concurrency:    DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ObjectPath is the storage path of one variant.
func ObjectPath(productID string, imageIndex int, size SizeClass, format Format) string {
	return fmt.Sprintf("%s%d_%s.%s", productPrefix(productID), imageIndex, size, format.Ext())
}

func productPrefix(productID string) string {
	return "products/" + productID + "/"
}

// classOutcome is what one size class produced.
type classOutcome struct {
	variants []Variant
	skipped  []SkippedVariant
}

// ProcessProductImage validates file, renders every applicable size class and
// uploads the encodings. Validation failures return a *ValidationError before
// any work is done. A failed variant is skipped; ErrNoVariants is returned
// only when nothing at all was stored.
func (p *Processor) ProcessProductImage(ctx context.Context, file *File, productID string, imageIndex int) (*Result, error) {
	start := time.Now()
	if productID == "" {
		return nil, &ValidationError{Reason: "product id is required"}
	}
	if imageIndex < 0 {
		return nil, &ValidationError{Reason: "image index must not be negative"}
	}
	mime, err := Validate(file, p.maxUploadBytes)
	if err != nil {
		return nil, err
	}
	src, err := decode(file.Data, mime, p.maxPixels)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With("product_id", productID, "image_index", imageIndex)
	bounds := src.Bounds()

	var applicable []SizeSpec
	var classes []SizeClass
	for i, spec := range p.matrix {
		if shouldSkip(spec, bounds, i == len(p.matrix)-1) {
			logger.Debug("size class skipped, source too small",
				"size", spec.Class,
				"source_width", bounds.Dx(),
				"source_height", bounds.Dy(),
			)
			continue
		}
		applicable = append(applicable, spec)
		classes = append(classes, spec.Class)
	}
	formats := formatsFor(classes, p.emitPNG)

	outcomes := make([]classOutcome, len(applicable))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, spec := range applicable {
		g.Go(func() error {
			outcomes[i] = p.renderClass(gctx, logger, src, spec, formats[spec.Class], productID, imageIndex)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{}
	for _, o := range outcomes {
		result.Variants = append(result.Variants, o.variants...)
		result.Skipped = append(result.Skipped, o.skipped...)
	}
	if len(result.Variants) == 0 {
		logger.Error("image processing produced no variants", "skipped", len(result.Skipped))
		return nil, errors.Wrapf(ErrNoVariants, "product %s image %d", productID, imageIndex)
	}
	for _, v := range result.Variants {
		result.TotalSize += v.Bytes
	}
	result.OriginalImage = pickOriginal(result.Variants)
	result.ProcessingTime = time.Since(start)
	result.ProcessingTimeMs = result.ProcessingTime.Milliseconds()

	logger.Info("image processed",
		"variants", len(result.Variants),
		"skipped", len(result.Skipped),
		"total_size", result.TotalSize,
		"duration", result.ProcessingTime.String(),
	)
	return result, nil
}

func (p *Processor) renderClass(ctx context.Context, logger *slog.Logger, src image.Image, spec SizeSpec, formats []Format, productID string, imageIndex int) classOutcome {
	var out classOutcome
	img := enhance(resize(src, spec))
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	for _, format := range formats {
		skip := func(err error) {
			logger.Warn("variant skipped", "size", spec.Class, "format", format, "error", err)
			out.skipped = append(out.skipped, SkippedVariant{Size: spec.Class, Format: format, Reason: err.Error()})
		}
		data, err := encode(img, format)
		if err != nil {
			skip(err)
			continue
		}
		path := ObjectPath(productID, imageIndex, spec.Class, format)
		if err := p.store.Upload(ctx, path, data, format.ContentType(), p.cacheControl); err != nil {
			skip(err)
			continue
		}
		out.variants = append(out.variants, Variant{
			Size:   spec.Class,
			Format: format,
			Width:  w,
			Height: h,
			Bytes:  int64(len(data)),
			Path:   path,
			URL:    p.store.PublicURL(path),
		})
	}
	return out
}

// pickOriginal prefers the original class, then large, then whatever came
// first. WebP wins within a class.
func pickOriginal(variants []Variant) string {
	for _, class := range []SizeClass{SizeOriginal, SizeLarge} {
		var found *Variant
		for i := range variants {
			if variants[i].Size != class {
				continue
			}
			if found == nil || variants[i].Format == FormatWebP {
				found = &variants[i]
			}
		}
		if found != nil {
			return found.URL
		}
	}
	return variants[0].URL
}

// CleanupProductImages deletes every stored variant of a product. Removal
// failures are logged and returned; nothing is retried.
func (p *Processor) CleanupProductImages(ctx context.Context, productID string) (int, error) {
	if productID == "" {
		return 0, errors.New("product id is required")
	}
	logger := p.logger.With("product_id", productID)
	paths, err := p.store.List(ctx, productPrefix(productID))
	if err != nil {
		logger.Error("failed to list product images", "error", err)
		return 0, errors.Wrapf(err, "list images of product %s", productID)
	}
	if len(paths) == 0 {
		return 0, nil
	}
	if err := p.store.Remove(ctx, paths); err != nil {
		logger.Warn("product image cleanup incomplete", "paths", len(paths), "error", err)
		return len(paths), errors.Wrapf(err, "remove images of product %s", productID)
	}
	logger.Info("product images removed", "paths", len(paths))
	return len(paths), nil
}
