package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"encoding/binary"
	"hash/crc32"
	"image/jpeg"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gen2brain/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xwebp "golang.org/x/image/webp"

	"github.com/muandane/special-stack/storefront/internal/storage"
)

// flakyStore fails uploads whose path matches fail.
type flakyStore struct {
	*storage.Memory
	fail    func(path string) bool
	uploads atomic.Int64
	listErr error
}

func newFlakyStore(fail func(string) bool) *flakyStore {
	return &flakyStore{Memory: storage.NewMemory("https://cdn.test"), fail: fail}
}

func (s *flakyStore) Upload(ctx context.Context, path string, data []byte, contentType, cacheControl string) error {
	s.uploads.Add(1)
	if s.fail != nil && s.fail(path) {
		return errors.Newf("upload %s: storage unavailable", path)
	}
	return s.Memory.Upload(ctx, path, data, contentType, cacheControl)
}

func (s *flakyStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Memory.List(ctx, prefix)
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func jpegFile(t *testing.T, w, h int) *File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}))
	return &File{Name: "upload.jpg", ContentType: "image/jpeg", Data: buf.Bytes()}
}

func sizes(r *Result) map[SizeClass][]Format {
	out := map[SizeClass][]Format{}
	for _, v := range r.Variants {
		out[v.Size] = append(out[v.Size], v.Format)
	}
	return out
}

func TestProcessMatrixComplete(t *testing.T) {
	store := newFlakyStore(nil)
	p := NewProcessor(store)

	result, err := p.ProcessProductImage(context.Background(), jpegFile(t, 2000, 2000), "p1", 0)
	require.NoError(t, err)

	assert.Equal(t, map[SizeClass][]Format{
		SizeThumbnail: {FormatWebP},
		SizeSmall:     {FormatWebP},
		SizeMedium:    {FormatWebP},
		SizeLarge:     {FormatWebP, FormatJPEG},
		SizeOriginal:  {FormatWebP, FormatJPEG},
	}, sizes(result))
	assert.Empty(t, result.Skipped)

	dims := map[SizeClass][2]int{
		SizeThumbnail: {150, 150},
		SizeSmall:     {300, 300},
		SizeMedium:    {600, 600},
		SizeLarge:     {1200, 1200},
		SizeOriginal:  {2000, 2000},
	}
	var total int64
	for _, v := range result.Variants {
		assert.Equal(t, dims[v.Size], [2]int{v.Width, v.Height}, "%s/%s", v.Size, v.Format)
		assert.Equal(t, ObjectPath("p1", 0, v.Size, v.Format), v.Path)
		assert.Equal(t, "https://cdn.test/"+v.Path, v.URL)
		obj, ok := store.Get(v.Path)
		require.True(t, ok, v.Path)
		assert.Equal(t, v.Format.ContentType(), obj.ContentType)
		assert.Equal(t, DefaultCacheControl, obj.CacheControl)
		assert.EqualValues(t, len(obj.Data), v.Bytes)
		total += v.Bytes
	}
	assert.Equal(t, total, result.TotalSize)
	assert.Equal(t, "https://cdn.test/products/p1/0_original.webp", result.OriginalImage)
	assert.Equal(t, result.ProcessingTime.Milliseconds(), result.ProcessingTimeMs)
}

func TestProcessNeverUpscales(t *testing.T) {
	store := newFlakyStore(nil)
	p := NewProcessor(store)

	result, err := p.ProcessProductImage(context.Background(), jpegFile(t, 800, 500), "p2", 1)
	require.NoError(t, err)

	got := sizes(result)
	assert.NotContains(t, got, SizeLarge)
	assert.Equal(t, []Format{FormatWebP, FormatJPEG}, got[SizeMedium], "medium is now among the two largest")
	assert.Equal(t, []Format{FormatWebP, FormatJPEG}, got[SizeOriginal])

	for _, v := range result.Variants {
		assert.LessOrEqual(t, v.Width, 800)
		assert.LessOrEqual(t, v.Height, 500)
	}
	medium, ok := result.Find(SizeMedium, FormatWebP)
	require.True(t, ok)
	assert.Equal(t, [2]int{600, 375}, [2]int{medium.Width, medium.Height})
	original, ok := result.Find(SizeOriginal, FormatWebP)
	require.True(t, ok)
	assert.Equal(t, [2]int{800, 500}, [2]int{original.Width, original.Height})
}

func TestProcessTinySourceKeepsCatchAll(t *testing.T) {
	p := NewProcessor(newFlakyStore(nil))

	result, err := p.ProcessProductImage(context.Background(), jpegFile(t, 100, 80), "p3", 0)
	require.NoError(t, err)
	assert.Equal(t, map[SizeClass][]Format{SizeOriginal: {FormatWebP, FormatJPEG}}, sizes(result))
}

func TestProcessCoverClampsToSource(t *testing.T) {
	p := NewProcessor(newFlakyStore(nil))

	result, err := p.ProcessProductImage(context.Background(), jpegFile(t, 100, 400), "p4", 0)
	require.NoError(t, err)

	thumb, ok := result.Find(SizeThumbnail, FormatWebP)
	require.True(t, ok)
	assert.Equal(t, [2]int{100, 150}, [2]int{thumb.Width, thumb.Height})
	small, ok := result.Find(SizeSmall, FormatWebP)
	require.True(t, ok)
	assert.Equal(t, [2]int{100, 300}, [2]int{small.Width, small.Height})
}

func TestProcessZeroVariantsFails(t *testing.T) {
	store := newFlakyStore(func(string) bool { return true })
	p := NewProcessor(store)

	result, err := p.ProcessProductImage(context.Background(), jpegFile(t, 400, 400), "p5", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoVariants))
	assert.False(t, errors.Is(err, ErrInvalidImage))
	assert.Nil(t, result)
	assert.Positive(t, store.uploads.Load(), "every variant was attempted")
}

func TestProcessSkipsFailedVariants(t *testing.T) {
	store := newFlakyStore(func(path string) bool { return strings.Contains(path, "_original.") })
	p := NewProcessor(store)

	result, err := p.ProcessProductImage(context.Background(), jpegFile(t, 1400, 1400), "p6", 2)
	require.NoError(t, err)

	assert.NotContains(t, sizes(result), SizeOriginal)
	assert.Len(t, result.Skipped, 2)
	for _, s := range result.Skipped {
		assert.Equal(t, SizeOriginal, s.Size)
		assert.Contains(t, s.Reason, "storage unavailable")
	}
	assert.Equal(t, "https://cdn.test/products/p6/2_large.webp", result.OriginalImage)
}

func TestProcessWebPSourceAndPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, gradient(320, 320), webp.Options{Quality: 90}))
	store := newFlakyStore(nil)
	p := NewProcessor(store, WithPNG(true))

	result, err := p.ProcessProductImage(context.Background(), &File{Name: "a.webp", Data: buf.Bytes()}, "p7", 0)
	require.NoError(t, err)

	got := sizes(result)
	assert.Equal(t, []Format{FormatWebP, FormatPNG}, got[SizeThumbnail])
	assert.Equal(t, []Format{FormatWebP, FormatJPEG, FormatPNG}, got[SizeSmall])
	assert.Equal(t, []Format{FormatWebP, FormatJPEG, FormatPNG}, got[SizeOriginal])
	_, ok := store.Get("products/p7/0_small.png")
	assert.True(t, ok)
}

func TestProcessValidation(t *testing.T) {
	tests := []struct {
		name   string
		file   *File
		reason string
	}{
		{"absent", nil, "no file"},
		{"empty", &File{Name: "x.jpg"}, "no file"},
		{"too large", &File{Data: bytes.Repeat([]byte{0xff}, 2048)}, "limit is 1024"},
		{"text", &File{Data: []byte("just some text, definitely not an image")}, "unsupported type text/plain"},
		{"gif", &File{Data: []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")}, "unsupported type image/gif"},
		{"corrupt jpeg", &File{Data: append([]byte{0xff, 0xd8, 0xff, 0xe0}, bytes.Repeat([]byte{1}, 64)...)}, "cannot decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFlakyStore(nil)
			p := NewProcessor(store, WithMaxUploadBytes(1024))

			_, err := p.ProcessProductImage(context.Background(), tt.file, "p", 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidImage))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Reason, tt.reason)
			assert.Zero(t, store.uploads.Load(), "no partial work")
		})
	}

	_, err := NewProcessor(newFlakyStore(nil)).ProcessProductImage(context.Background(), jpegFile(t, 10, 10), "", 0)
	assert.True(t, errors.Is(err, ErrInvalidImage))
}

func TestCleanupProductImages(t *testing.T) {
	store := newFlakyStore(nil)
	p := NewProcessor(store)
	ctx := context.Background()

	_, err := p.ProcessProductImage(ctx, jpegFile(t, 200, 200), "p8", 0)
	require.NoError(t, err)
	_, err = p.ProcessProductImage(ctx, jpegFile(t, 200, 200), "p8", 1)
	require.NoError(t, err)
	_, err = p.ProcessProductImage(ctx, jpegFile(t, 200, 200), "p80", 0)
	require.NoError(t, err)
	before := store.Len()

	n, err := p.CleanupProductImages(ctx, "p8")
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Equal(t, before-n, store.Len())

	left, err := store.List(ctx, "products/")
	require.NoError(t, err)
	for _, path := range left {
		assert.True(t, strings.HasPrefix(path, "products/p80/"), path)
	}

	n, err = p.CleanupProductImages(ctx, "p8")
	require.NoError(t, err)
	assert.Zero(t, n)

	store.listErr = errors.New("bucket offline")
	_, err = p.CleanupProductImages(ctx, "p80")
	assert.ErrorContains(t, err, "bucket offline")
}

func TestNormalizeStretchesContrast(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 150, G: 150, B: 150, A: 255})

	out := normalize(img)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), out.NRGBAAt(1, 0).R)
	assert.Equal(t, uint8(255), out.NRGBAAt(1, 0).A)
}

func TestFormatsFor(t *testing.T) {
	got := formatsFor([]SizeClass{SizeThumbnail, SizeSmall, SizeMedium}, false)
	assert.Equal(t, []Format{FormatWebP}, got[SizeThumbnail])
	assert.Equal(t, []Format{FormatWebP, FormatJPEG}, got[SizeSmall])
	assert.Equal(t, []Format{FormatWebP, FormatJPEG}, got[SizeMedium])
	assert.Equal(t, "jpg", FormatJPEG.Ext())
	assert.Equal(t, "products/x/3_small.webp", ObjectPath("x", 3, SizeSmall, FormatWebP))
}

// pngHeader is a PNG signature plus an RGBA IHDR chunk: enough for the type
// sniff and the dimension read, with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 6

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestProcessRejectsOversizedDimensions(t *testing.T) {
	tests := []struct {
		name string
		file *File
		opts []Option
	}{
		{"30000x30000 png header", &File{Name: "huge.png", Data: pngHeader(30000, 30000)}, nil},
		{"jpeg over a custom budget", jpegFile(t, 200, 200), []Option{WithMaxPixels(10_000)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFlakyStore(nil)
			p := NewProcessor(store, tt.opts...)

			_, err := p.ProcessProductImage(context.Background(), tt.file, "p", 0)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Contains(t, verr.Reason, "pixels")
			assert.Zero(t, store.uploads.Load())
		})
	}

	result, err := NewProcessor(newFlakyStore(nil), WithMaxPixels(10_000)).
		ProcessProductImage(context.Background(), jpegFile(t, 100, 100), "p", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Variants)
}

func TestEncodeWebPRoundTrips(t *testing.T) {
	data, err := encode(gradient(64, 48), FormatWebP)
	require.NoError(t, err)
	cfg, err := xwebp.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}
