package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/kebairia/mybak/internal/config"
	"github.com/kebairia/mybak/internal/logger"
)

// GCSAPI is the part of the Cloud Storage client GCS depends on.
type GCSAPI interface {
	BucketAttrs(ctx context.Context, bucket string) (*gcs.BucketAttrs, error)
	CreateBucket(ctx context.Context, bucket, project string, attrs *gcs.BucketAttrs) error
	NewWriter(ctx context.Context, bucket, name string, attrs gcs.ObjectAttrs) io.WriteCloser
	ObjectAttrs(ctx context.Context, bucket, name string) (*gcs.ObjectAttrs, error)
	Close() error
}

// gcsClient adapts *gcs.Client to GCSAPI.
type gcsClient struct {
	client *gcs.Client
}

func (c gcsClient) BucketAttrs(ctx context.Context, bucket string) (*gcs.BucketAttrs, error) {
	return c.client.Bucket(bucket).Attrs(ctx)
}

func (c gcsClient) CreateBucket(ctx context.Context, bucket, project string, attrs *gcs.BucketAttrs) error {
	return c.client.Bucket(bucket).Create(ctx, project, attrs)
}

func (c gcsClient) NewWriter(ctx context.Context, bucket, name string, attrs gcs.ObjectAttrs) io.WriteCloser {
	w := c.client.Bucket(bucket).Object(name).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.Metadata = attrs.Metadata
	return w
}

func (c gcsClient) ObjectAttrs(ctx context.Context, bucket, name string) (*gcs.ObjectAttrs, error) {
	return c.client.Bucket(bucket).Object(name).Attrs(ctx)
}

func (c gcsClient) Close() error { return c.client.Close() }

// GCS uploads to Google Cloud Storage. The run container maps to a bucket.
type GCS struct {
	api GCSAPI
	cfg config.GCSConfig
	log logger.Logger
}

var (
	_ Provider  = (*GCS)(nil)
	_ io.Closer = (*GCS)(nil)
)

// NewGCSClient creates a client from a service account file when
// configured, otherwise from application default credentials.
func NewGCSClient(ctx context.Context, cfg config.GCSConfig) (GCSAPI, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create gcs client: %v", ErrTargetFailed, err)
	}
	return gcsClient{client: client}, nil
}

// NewGCS returns a GCS provider over api.
func NewGCS(api GCSAPI, cfg config.GCSConfig, log logger.Logger) *GCS {
	if log == nil {
		log = logger.Nop()
	}
	return &GCS{api: api, cfg: cfg, log: log}
}

func (p *GCS) Name() string { return config.ProviderGCS }

// EnsureTarget creates the bucket in the configured project if missing.
func (p *GCS) EnsureTarget(ctx context.Context, bucket string) error {
	_, err := p.api.BucketAttrs(ctx, bucket)
	if err == nil {
		p.log.Debug("bucket already exists", "bucket", bucket)
		return nil
	}
	if !errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("%w: bucket attrs %s: %v", ErrTargetFailed, bucket, err)
	}
	if err := p.api.CreateBucket(ctx, bucket, p.cfg.Project, &gcs.BucketAttrs{Location: p.cfg.Location}); err != nil {
		return fmt.Errorf("%w: create bucket %s: %v", ErrTargetFailed, bucket, err)
	}
	p.log.Info("bucket created", "bucket", bucket, "project", p.cfg.Project)
	return nil
}

// Upload copies r into a new object.
func (p *GCS) Upload(ctx context.Context, bucket, name string, r io.Reader, _ int64) (string, error) {
	w := p.api.NewWriter(ctx, bucket, name, gcs.ObjectAttrs{
		ContentType: ContentType(name),
		Metadata:    map[string]string{"created-by": "mybak"},
	})
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("%w: %s/%s: %v", ErrUploadFailed, bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrUploadFailed, bucket, name, err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, name), nil
}

// Confirm compares the remote object size with size.
func (p *GCS) Confirm(ctx context.Context, bucket, name string, size int64) error {
	attrs, err := p.api.ObjectAttrs(ctx, bucket, name)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrNotConfirmed, bucket, name, err)
	}
	return confirmSize(name, size, attrs.Size)
}

// Close releases the underlying client.
func (p *GCS) Close() error {
	return p.api.Close()
}
