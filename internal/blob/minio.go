// Package blob stores uploaded document files in S3-compatible object
// storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

const defaultOpTimeout = 30 * time.Second

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ConfigFromEnv reads object storage settings from environment variables.
// DOCUCHAT_S3_ENDPOINT, DOCUCHAT_S3_ACCESS_KEY, DOCUCHAT_S3_SECRET_KEY,
// DOCUCHAT_S3_BUCKET (default: docuchat-documents), DOCUCHAT_S3_USE_SSL.
func ConfigFromEnv() Config {
	bucket := os.Getenv("DOCUCHAT_S3_BUCKET")
	if bucket == "" {
		bucket = "docuchat-documents"
	}
	return Config{
		Endpoint:  os.Getenv("DOCUCHAT_S3_ENDPOINT"),
		AccessKey: os.Getenv("DOCUCHAT_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("DOCUCHAT_S3_SECRET_KEY"),
		Bucket:    bucket,
		UseSSL:    strings.EqualFold(os.Getenv("DOCUCHAT_S3_USE_SSL"), "true"),
	}
}

// Enabled reports whether the config points at a reachable endpoint.
func (c Config) Enabled() bool { return c.Endpoint != "" }

// Client wraps a MinIO client scoped to a single bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

// NewClient connects to the object store and ensures the bucket exists.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("blob: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("blob: bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: connect: %w", err)
	}

	c := &Client{mc: mc, bucket: cfg.Bucket}
	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("blob: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		// Another instance may have created it concurrently.
		exists, checkErr := c.mc.BucketExists(ctx, c.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("blob: create bucket: %w", err)
	}
	return nil
}

// Put uploads an object. Size may be -1 when unknown.
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("blob: put %s: %w", key, err)
	}
	return nil
}

// Get returns a reader over the object body. The caller must close it.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blob: get %s: %w", key, err)
	}
	// GetObject is lazy; a Stat forces the first request so a missing key
	// surfaces here instead of on the first Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, wrapMinioErr(key, err)
	}
	return obj, nil
}

// Stat returns the object size.
func (c *Client) Stat(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	info, err := c.mc.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, wrapMinioErr(key, err)
	}
	return info.Size, nil
}

// Remove deletes the object. Removing a missing key is not an error.
func (c *Client) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("blob: remove %s: %w", key, err)
	}
	return nil
}

func wrapMinioErr(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("blob: %s: %w", key, err)
}
