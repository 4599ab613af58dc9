package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// MinioConfig holds connection settings for a MinIO (or S3-compatible)
// backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioStore maps each tenant to its own bucket, created lazily on first
// write.
type MinioStore struct {
	client *minio.Client

	mu      sync.Mutex
	buckets map[string]bool
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore connects to the given endpoint. The connection is lazy;
// errors surface on first use.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeBackendUnreachable, "creating minio client", err)
	}
	return &MinioStore{
		client:  client,
		buckets: make(map[string]bool),
	}, nil
}

// bucketName normalizes a tenant id for S3 bucket naming rules.
func bucketName(tenantID string) string {
	return strings.ToLower(strings.ReplaceAll(tenantID, "_", "-"))
}

func (s *MinioStore) ensureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	known := s.buckets[bucket]
	s.mu.Unlock()
	if known {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeBackendUnreachable, "checking bucket", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "creating bucket", err)
		}
	}

	s.mu.Lock()
	s.buckets[bucket] = true
	s.mu.Unlock()
	return nil
}

func (s *MinioStore) Put(ctx context.Context, tenantID, name string, r io.Reader) error {
	bucket := bucketName(tenantID)
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return err
	}
	if _, err := s.client.PutObject(ctx, bucket, name, r, -1, minio.PutObjectOptions{}); err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "uploading object", err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, tenantID, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucketName(tenantID), name, minio.GetObjectOptions{})
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeBackendUnreachable, "fetching object", err)
	}
	// GetObject is lazy, so probe the stream before handing it out.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil, pipeerrors.New(pipeerrors.ErrCodeBlobNotFound,
				fmt.Sprintf("object %s/%s not found", tenantID, name), err)
		}
		return nil, pipeerrors.New(pipeerrors.ErrCodeBackendUnreachable, "statting object", err)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, tenantID, name string) error {
	err := s.client.RemoveObject(ctx, bucketName(tenantID), name, minio.RemoveObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil
		}
		return pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "deleting object", err)
	}
	return nil
}

func (s *MinioStore) Exists(ctx context.Context, tenantID, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucketName(tenantID), name, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return false, nil
		}
		return false, pipeerrors.New(pipeerrors.ErrCodeBackendUnreachable, "statting object", err)
	}
	return true, nil
}

func (s *MinioStore) Close() error { return nil }
