// Package storage holds backup archives in S3-compatible object storage.
// Daemons upload directly through presigned multipart URLs; the panel only
// brokers the upload and cleans up after it.
package storage

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultPartSize is the largest part S3 accepts.
const DefaultPartSize int64 = 5 * 1024 * 1024 * 1024

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
	PartSize  int64
	URLExpiry time.Duration
}

type Client struct {
	core   *minio.Core
	config Config
}

// Upload is what a daemon needs to push one archive.
type Upload struct {
	UploadID string   `json:"upload_id"`
	PartSize int64    `json:"part_size"`
	Parts    []string `json:"parts"`
}

// Part is a completed part as reported back by the daemon.
type Part struct {
	ETag       string `json:"etag"`
	PartNumber int    `json:"part_number"`
}

func NewClient(cfg Config) (*Client, error) {
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = time.Hour
	}
	return &Client{core: core, config: cfg}, nil
}

// EnsureBucket creates the backup bucket on first start.
func (c *Client) EnsureBucket(ctx context.Context) error {
	name := c.config.Bucket
	exists, err := c.core.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", name, err)
	}
	if exists {
		return nil
	}
	region := c.config.Region
	if region == "" {
		region = "us-east-1"
	}
	if err := c.core.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	log.Printf("storage: created bucket %s", name)
	return nil
}

func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.core.BucketExists(ctx, c.config.Bucket)
	return err
}

// PartCount is how many parts of partSize cover size bytes. An empty
// archive still needs one part.
func PartCount(size, partSize int64) int {
	if size <= 0 || partSize <= 0 {
		return 1
	}
	n := size / partSize
	if size%partSize != 0 {
		n++
	}
	return int(n)
}

// BeginUpload starts a multipart upload for key and presigns one PUT URL per
// part.
func (c *Client) BeginUpload(ctx context.Context, key string, size int64) (*Upload, error) {
	bucket := c.config.Bucket
	uploadID, err := c.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{ContentType: "application/x-gzip"})
	if err != nil {
		return nil, fmt.Errorf("start upload %s: %w", key, err)
	}

	n := PartCount(size, c.config.PartSize)
	up := &Upload{UploadID: uploadID, PartSize: c.config.PartSize, Parts: make([]string, 0, n)}
	for i := 1; i <= n; i++ {
		params := url.Values{}
		params.Set("partNumber", strconv.Itoa(i))
		params.Set("uploadId", uploadID)
		u, err := c.core.Presign(ctx, http.MethodPut, bucket, key, c.config.URLExpiry, params)
		if err != nil {
			c.core.AbortMultipartUpload(ctx, bucket, key, uploadID)
			return nil, fmt.Errorf("presign part %d of %s: %w", i, key, err)
		}
		up.Parts = append(up.Parts, u.String())
	}
	return up, nil
}

func (c *Client) CompleteUpload(ctx context.Context, key, uploadID string, parts []Part) error {
	complete := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		complete[i] = minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag}
	}
	if _, err := c.core.CompleteMultipartUpload(ctx, c.config.Bucket, key, uploadID, complete, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("complete upload %s: %w", key, err)
	}
	return nil
}

func (c *Client) AbortUpload(ctx context.Context, key, uploadID string) error {
	if err := c.core.AbortMultipartUpload(ctx, c.config.Bucket, key, uploadID); err != nil {
		return fmt.Errorf("abort upload %s: %w", key, err)
	}
	return nil
}

// PresignDownload returns a short-lived GET URL the daemon restores from.
func (c *Client) PresignDownload(ctx context.Context, key string) (string, error) {
	u, err := c.core.PresignedGetObject(ctx, c.config.Bucket, key, c.config.URLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign download %s: %w", key, err)
	}
	return u.String(), nil
}

func (c *Client) Remove(ctx context.Context, key string) error {
	return c.core.RemoveObject(ctx, c.config.Bucket, key, minio.RemoveObjectOptions{})
}

func (c *Client) Endpoint() string {
	return c.config.Endpoint
}
