package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vforwater/geoapi"
)

var _ Store = (*S3)(nil)

// S3Config holds the connection settings for an S3-compatible artifact
// bucket.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3 stores artifacts as objects in an S3-compatible bucket via the
// MinIO client. References are object keys.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 connects to the endpoint and ensures the bucket exists.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("geoapi/artifact: s3 endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("geoapi/artifact: s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("geoapi/artifact: bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("geoapi/artifact: make bucket: %w", err)
		}
	}

	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// NewS3WithClient wraps an existing MinIO client. The bucket must
// already exist.
func NewS3WithClient(client *minio.Client, bucket string) (*S3, error) {
	if client == nil {
		return nil, errors.New("geoapi/artifact: minio client is required")
	}
	return &S3{client: client, bucket: bucket}, nil
}

// Put uploads the payload under key.
func (s *S3) Put(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	ref := key + ".json"
	_, err := s.client.PutObject(ctx, s.bucket, ref, r, size, minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("geoapi/artifact: put %s: %w", ref, err)
	}
	return ref, nil
}

// Get opens the object behind ref.
func (s *S3) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("geoapi/artifact: get %s: %w", ref, err)
	}
	// GetObject is lazy; Stat surfaces missing keys now rather than on
	// first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, geoapi.ErrNotFound
		}
		return nil, fmt.Errorf("geoapi/artifact: stat %s: %w", ref, err)
	}
	return obj, nil
}

// Remove deletes the object behind ref.
func (s *S3) Remove(ctx context.Context, ref string) error {
	_, err := s.client.StatObject(ctx, s.bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return geoapi.ErrNotFound
		}
		return fmt.Errorf("geoapi/artifact: stat %s: %w", ref, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("geoapi/artifact: remove %s: %w", ref, err)
	}
	return nil
}
