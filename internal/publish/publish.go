// Package publish uploads finished reports to S3-compatible object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures an Uploader
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to object names, e.g. "reports/daily"
	Prefix string
	UseSSL bool
	Region string
}

// Uploader copies report files into a bucket
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
}

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".db":   "application/vnd.sqlite3",
}

// New creates an uploader. No request is made until Upload.
func New(opts Options) (*Uploader, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("publish endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("publish bucket is required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &Uploader{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

// ObjectName returns the key a local file is uploaded under
func (u *Uploader) ObjectName(file string) string {
	return path.Join(u.prefix, filepath.Base(file))
}

// Upload copies file into the bucket and returns its object name
func (u *Uploader) Upload(ctx context.Context, file string) (string, error) {
	name := u.ObjectName(file)

	contentType, ok := contentTypes[strings.ToLower(filepath.Ext(file))]
	if !ok {
		contentType = "application/octet-stream"
	}

	info, err := u.client.FPutObject(ctx, u.bucket, name, file, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to %s/%s: %w", file, u.bucket, name, err)
	}

	slog.Info("Published report", "bucket", u.bucket, "object", name, "size", info.Size)
	return name, nil
}
