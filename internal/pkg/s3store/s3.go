package s3store

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/pkg/oss"
)

// Store S3 兼容对象存储，OSS 未配置时使用
type Store struct {
	client        *minio.Client
	bucket        string
	endpoint      string
	useSSL        bool
	publicBaseURL string
}

func New(cfg *config.S3Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &Store{
		client:        client,
		bucket:        cfg.Bucket,
		endpoint:      cfg.Endpoint,
		useSSL:        cfg.UseSSL,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// EnsureBucket 桶不存在时创建
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

func (s *Store) UploadBlob(ctx context.Context, data []byte, contentType, fileName, folder string, tags []string) (string, error) {
	key := oss.ObjectKey(folder, fileName, contentType)

	opts := minio.PutObjectOptions{ContentType: contentType}
	if len(tags) > 0 {
		opts.UserMetadata = map[string]string{"tags": strings.Join(tags, ",")}
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}
	return s.URL(key), nil
}

// URL 对象的公开访问地址
func (s *Store) URL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, key)
}
