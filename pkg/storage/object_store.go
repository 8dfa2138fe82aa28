package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Buckets holding diary media.
const (
	BucketImages = "images"
	BucketAudio  = "audio"
	BucketVideo  = "video"
)

// DefaultBuckets are created at startup when missing.
var DefaultBuckets = []string{BucketImages, BucketAudio, BucketVideo}

const cacheControl = "max-age=3600"

// ObjectStore stores media objects and resolves their public URLs.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (string, error)
	PublicURL(bucket, key string) string
}

// MinioConfig configures MinioStore.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicBaseURL prefixes returned URLs; defaults to the endpoint.
	PublicBaseURL string
	Buckets       []string
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client  *minio.Client
	baseURL string
	buckets map[string]struct{}
}

// NewMinioStore connects to MinIO, ensures every bucket exists and allows
// anonymous reads on them.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	known := make(map[string]struct{}, len(buckets))
	for _, bucket := range buckets {
		if err := ensurePublicBucket(ctx, client, bucket); err != nil {
			return nil, err
		}
		known[bucket] = struct{}{}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = scheme + "://" + cfg.Endpoint
	}
	return &MinioStore{client: client, baseURL: baseURL, buckets: known}, nil
}

func ensurePublicBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	if err := client.SetBucketPolicy(ctx, bucket, publicReadPolicy(bucket)); err != nil {
		return fmt.Errorf("set bucket policy %s: %w", bucket, err)
	}
	return nil
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}

// Put uploads an object and returns its public URL.
func (m *MinioStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (string, error) {
	if _, ok := m.buckets[bucket]; !ok {
		return "", fmt.Errorf("unknown bucket %q", bucket)
	}
	_, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return m.PublicURL(bucket, key), nil
}

// PublicURL is <base>/<bucket>/<key>.
func (m *MinioStore) PublicURL(bucket, key string) string {
	return publicURL(m.baseURL, bucket, key)
}

func publicURL(baseURL, bucket, key string) string {
	return baseURL + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(key)
}
