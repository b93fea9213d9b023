package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig describes an S3-compatible endpoint reached through minio-go.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// MinioStore implements Store on top of a MinIO (or any S3-compatible) bucket.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	region        string
	publicBaseURL string
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore validates the configuration and constructs the client. It does not
// contact the endpoint; call EnsureBucket for that.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("objectstore: minio endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("objectstore: minio access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, ErrMissingBucket
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to initialize minio client: %w", err)
	}

	publicBaseURL := strings.TrimSpace(cfg.PublicBaseURL)
	if publicBaseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBaseURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, bucket)
	}

	return &MinioStore{
		client:        client,
		bucket:        bucket,
		region:        cfg.Region,
		publicBaseURL: publicBaseURL,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("objectstore: failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("objectstore: failed to create bucket: %w", err)
	}
	return nil
}

func (m *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return ErrMissingKey
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("objectstore: failed to put object %s: %w", key, err)
	}
	return nil
}

func (m *MinioStore) Remove(ctx context.Context, keys []string) error {
	targets := compactKeys(keys)
	if len(targets) == 0 {
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(targets))
	for _, key := range targets {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	var failed []string
	var causes []error
	for removeErr := range m.client.RemoveObjects(ctx, m.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if removeErr.Err == nil {
			continue
		}
		failed = append(failed, removeErr.ObjectName)
		causes = append(causes, fmt.Errorf("%s: %w", removeErr.ObjectName, removeErr.Err))
	}
	if len(failed) > 0 {
		return &RemoveError{Keys: failed, Cause: errors.Join(causes...)}
	}
	if err := ctx.Err(); err != nil {
		return &RemoveError{Keys: targets, Cause: err}
	}
	return nil
}

func (m *MinioStore) PublicURL(key string) string {
	return joinPublicURL(m.publicBaseURL, key)
}
