// Package remote uploads evidence payloads to S3-compatible object storage.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sentinel/internal/config"
)

// Client stores evidence payloads and documents under incident keys.
// Implementations must be safe for concurrent use.
type Client interface {
	// PutFile uploads a local file and returns the remote URI.
	PutFile(ctx context.Context, key, localPath, contentType string) (string, error)
	// PutDocument uploads an in-memory JSON document and returns the remote
	// URI.
	PutDocument(ctx context.Context, key string, body []byte) (string, error)
}

// Key builds the canonical object key for a piece of session evidence.
func Key(sessionID, evidenceID, suffix string) string {
	name := evidenceID + suffix
	return path.Join("incidents", sessionID, name)
}

type s3Client struct {
	api     *s3.Client
	bucket  string
	timeout time.Duration
}

// NewS3Client builds a client for the configured bucket. A non-empty
// endpoint overrides the AWS default, which is how MinIO and other
// S3-compatible stores are addressed.
func NewS3Client(ctx context.Context, cfg config.Upload) (Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("upload bucket is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load object storage config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &s3Client{api: api, bucket: cfg.Bucket, timeout: timeout}, nil
}

func (c *s3Client) PutFile(ctx context.Context, key, localPath, contentType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open payload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return c.uri(key), nil
}

func (c *s3Client) PutDocument(ctx context.Context, key string, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put document %s: %w", key, err)
	}
	return c.uri(key), nil
}

func (c *s3Client) uri(key string) string {
	return fmt.Sprintf("s3://%s/%s", c.bucket, key)
}
