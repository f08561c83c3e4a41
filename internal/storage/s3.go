package storage

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/muandane/special-stack/storefront/internal/config"
)

// ObjectStore is the blob storage the image pipeline writes variants to.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType, cacheControl string) error
	// PublicURL returns the URL clients fetch path from.
	PublicURL(path string) string
	// List returns every object path under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Remove deletes paths; missing objects are not an error.
	Remove(ctx context.Context, paths []string) error
}

// Minio is an ObjectStore backed by an S3-compatible bucket.
type Minio struct {
	client    *minio.Client
	bucket    string
	publicURL string
	timeout   time.Duration
}

var _ ObjectStore = (*Minio)(nil)

// NewMinio initializes the MinIO client with the provided configuration.
func NewMinio(cfg *config.StorageConfig) (*Minio, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize minio client")
	}
	return NewMinioWithClient(client, cfg), nil
}

// NewMinioWithClient wraps a pre-configured client.
func NewMinioWithClient(client *minio.Client, cfg *config.StorageConfig) *Minio {
	public := strings.TrimRight(cfg.PublicBaseURL, "/")
	if public == "" {
		public = strings.TrimRight(client.EndpointURL().String(), "/") + "/" + cfg.Bucket
	}
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Minio{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: public,
		timeout:   timeout,
	}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *Minio) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return errors.Wrapf(err, "check bucket %s", m.bucket)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, "create bucket %s", m.bucket)
	}
	return nil
}

func (m *Minio) Upload(ctx context.Context, path string, data []byte, contentType, cacheControl string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.client.PutObject(
		ctx,
		m.bucket,
		path,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType, CacheControl: cacheControl},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to store object %s", path)
	}
	return nil
}

func (m *Minio) PublicURL(path string) string {
	return joinURL(m.publicURL, path)
}

// joinURL appends an object path to base, escaping each segment.
func joinURL(base, path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return base + "/" + strings.Join(segments, "/")
}

func (m *Minio) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	var paths []string
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, errors.Wrapf(object.Err, "list %s", prefix)
		}
		paths = append(paths, object.Key)
	}
	return paths, nil
}

func (m *Minio) Remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	objects := make(chan minio.ObjectInfo, len(paths))
	for _, p := range paths {
		objects <- minio.ObjectInfo{Key: p}
	}
	close(objects)

	var errs error
	for rerr := range m.client.RemoveObjects(ctx, m.bucket, objects, minio.RemoveObjectsOptions{}) {
		if IsNotFound(rerr.Err) {
			continue
		}
		errs = errors.CombineErrors(errs, errors.Wrapf(rerr.Err, "remove %s", rerr.ObjectName))
	}
	return errs
}

// IsNotFound reports whether err is a missing-object response.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
