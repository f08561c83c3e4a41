package storage

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muandane/special-stack/storefront/internal/config"
)

// fakeS3 answers the handful of S3 calls the adapter makes.
type fakeS3 struct {
	mu      sync.Mutex
	puts    map[string]http.Header
	bodies  map[string][]byte
	deletes []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPut:
		body, err := readPutBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/images/")
		f.puts[key] = r.Header.Clone()
		f.bodies[key] = body
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var contents strings.Builder
		for key := range f.bodies {
			if strings.HasPrefix(key, prefix) {
				fmt.Fprintf(&contents, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", key, len(f.bodies[key]))
			}
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`+
			`<Name>images</Name><Prefix>%s</Prefix><IsTruncated>false</IsTruncated>%s</ListBucketResult>`,
			prefix, contents.String())
	case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		body, _ := io.ReadAll(r.Body)
		f.deletes = append(f.deletes, string(body))
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></DeleteResult>`)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

// readPutBody returns the object payload, undoing the aws-chunked framing
// minio-go uses for streaming-signed uploads over plain HTTP.
func readPutBody(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return io.ReadAll(r.Body)
	}
	var out bytes.Buffer
	br := bufio.NewReader(r.Body)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

func newFakeMinio(t *testing.T) (*fakeS3, *Minio) {
	t.Helper()
	fake := &fakeS3{puts: map[string]http.Header{}, bodies: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	m, err := NewMinio(&config.StorageConfig{
		Endpoint:        u.Host,
		AccessKeyID:     "test",
		SecretAccessKey: "testtesttest",
		Bucket:          "images",
		Region:          "us-east-1",
		PublicBaseURL:   "https://cdn.example.com/images/",
	})
	require.NoError(t, err)
	return fake, m
}

func TestNewMinioRequiresBucket(t *testing.T) {
	_, err := NewMinio(&config.StorageConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestMinioPublicURL(t *testing.T) {
	_, m := newFakeMinio(t)
	assert.Equal(t,
		"https://cdn.example.com/images/products/p%201/0_small.webp",
		m.PublicURL("products/p 1/0_small.webp"))
}

func TestMinioUploadAndList(t *testing.T) {
	fake, m := newFakeMinio(t)
	ctx := context.Background()

	require.NoError(t, m.Upload(ctx, "products/p1/0_small.webp", []byte("webp"), "image/webp", "public, max-age=60"))
	require.NoError(t, m.Upload(ctx, "products/p1/0_large.jpg", []byte("jpeg"), "image/jpeg", "public, max-age=60"))
	require.NoError(t, m.Upload(ctx, "products/p2/0_small.webp", []byte("other"), "image/webp", ""))

	hdr := fake.puts["products/p1/0_small.webp"]
	require.NotNil(t, hdr)
	assert.Equal(t, "image/webp", hdr.Get("Content-Type"))
	assert.Equal(t, "public, max-age=60", hdr.Get("Cache-Control"))
	assert.Equal(t, []byte("webp"), fake.bodies["products/p1/0_small.webp"])
	if decoded := hdr.Get("X-Amz-Decoded-Content-Length"); decoded != "" {
		assert.Equal(t, "4", decoded)
	}

	paths, err := m.List(ctx, "products/p1/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"products/p1/0_small.webp", "products/p1/0_large.jpg"}, paths)
}

func TestMinioRemove(t *testing.T) {
	fake, m := newFakeMinio(t)
	ctx := context.Background()

	require.NoError(t, m.Remove(ctx, nil))
	assert.Empty(t, fake.deletes)

	require.NoError(t, m.Remove(ctx, []string{"products/p1/0_small.webp", "products/p1/0_large.jpg"}))
	require.NotEmpty(t, fake.deletes)
	joined := strings.Join(fake.deletes, "")
	assert.Contains(t, joined, "products/p1/0_small.webp")
	assert.Contains(t, joined, "products/p1/0_large.jpg")
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory("http://localhost/images/")
	ctx := context.Background()

	data := []byte("abc")
	require.NoError(t, m.Upload(ctx, "products/1/0_small.webp", data, "image/webp", "max-age=1"))
	data[0] = 'z'
	require.NoError(t, m.Upload(ctx, "products/10/0_small.webp", []byte("x"), "image/webp", ""))

	obj, ok := m.Get("products/1/0_small.webp")
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), obj.Data, "upload keeps its own copy")
	assert.Equal(t, "image/webp", obj.ContentType)
	assert.Equal(t, "http://localhost/images/products/1/0_small.webp", m.PublicURL("products/1/0_small.webp"))

	paths, err := m.List(ctx, "products/1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"products/1/0_small.webp"}, paths)

	require.NoError(t, m.Remove(ctx, append(paths, "missing")))
	assert.Equal(t, 1, m.Len())
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(fmt.Errorf("boom")))
}

func TestReadPutBodyChunked(t *testing.T) {
	framed := "4;chunk-signature=abc\r\nwebp\r\n3;chunk-signature=def\r\n-42\r\n0;chunk-signature=ghi\r\n\r\n"
	req := httptest.NewRequest(http.MethodPut, "/images/a", strings.NewReader(framed))
	req.Header.Set("X-Amz-Content-Sha256", "STREAMING-AWS4-HMAC-SHA256-PAYLOAD")
	body, err := readPutBody(req)
	require.NoError(t, err)
	assert.Equal(t, []byte("webp-42"), body)

	plain := httptest.NewRequest(http.MethodPut, "/images/a", strings.NewReader("raw"))
	body, err = readPutBody(plain)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), body)
}
