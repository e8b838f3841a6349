package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

var ErrObjectNotFound = errors.New("object not found")

// MinIOClient stores datasets, artifacts and logs in a single bucket.
type MinIOClient struct {
	client *minio.Client
	bucket string
}

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// NewMinIOClientFromK8s creates a MinIO client using credentials from a Kubernetes secret
// with the keys endpoint, accesskey and secretkey.
func NewMinIOClientFromK8s(ctx context.Context, k8sClient kubernetes.Interface, namespace, secretName string, cfg MinIOConfig) (*MinIOClient, error) {
	secret, err := k8sClient.CoreV1().Secrets(namespace).Get(ctx, secretName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", secretName, err)
	}

	cfg.Endpoint = string(secret.Data["endpoint"])
	cfg.AccessKey = string(secret.Data["accesskey"])
	cfg.SecretKey = string(secret.Data["secretkey"])

	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%s is missing required fields (endpoint, accesskey, secretkey)", secretName)
	}

	zap.S().Infow("MinIO credentials loaded from secret", "namespace", namespace, "secret", secretName, "endpoint", cfg.Endpoint)
	return NewMinIOClient(cfg)
}

// NewMinIOClient creates a MinIO client with explicit configuration
func NewMinIOClient(cfg MinIOConfig) (*MinIOClient, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &MinIOClient{client: minioClient, bucket: cfg.Bucket}, nil
}

// Bucket returns the bucket all keys live in.
func (m *MinIOClient) Bucket() string {
	return m.bucket
}

// EnsureBucket creates the bucket if it doesn't exist
func (m *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	zap.S().Infow("creating MinIO bucket", "bucket", m.bucket)
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Upload stores data under key
func (m *MinIOClient) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	info, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	zap.S().Debugw("object uploaded", "bucket", m.bucket, "key", key, "size", info.Size)
	return nil
}

// Download reads the whole object at key
func (m *MinIOClient) Download(ctx context.Context, key string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the object at key
func (m *MinIOClient) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	zap.S().Debugw("object deleted", "bucket", m.bucket, "key", key)
	return nil
}

// PresignedURL returns a time limited GET URL for key
func (m *MinIOClient) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// List returns the keys under prefix
func (m *MinIOClient) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
