package oss

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/kanchana_server/config"
)

type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// UploadBlob 上传生成的图片，tags 写入对象元数据
func (c *Client) UploadBlob(ctx context.Context, data []byte, contentType, fileName, folder string, tags []string) (string, error) {
	objectKey := ObjectKey(folder, fileName, contentType)

	options := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(contentType),
	}
	if len(tags) > 0 {
		options = append(options, oss.Meta("tags", strings.Join(tags, ",")))
	}

	if err := c.bucket.PutObject(objectKey, bytes.NewReader(data), options...); err != nil {
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, c.client.Config.Endpoint, objectKey)
}

// ObjectKey 拼接 folder/fileName 并按 Content-Type 补全扩展名
func ObjectKey(folder, fileName, contentType string) string {
	name := fileName
	if path.Ext(name) == "" {
		name += extForContentType(contentType)
	}
	return path.Join(strings.Trim(folder, "/"), name)
}

func extForContentType(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
