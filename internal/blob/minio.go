// Package blob stores completion attachments in S3-compatible object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxAttachmentSize is the upload ceiling, checked before any bytes are sent.
const MaxAttachmentSize = 10 * 1024 * 1024

var (
	ErrTooLarge        = errors.New("attachment exceeds 10MB limit")
	ErrUnsupportedType = errors.New("attachment type not allowed")
)

// allowedTypes maps permitted file extensions to the content type stored
// with the object.
var allowedTypes = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	store := &Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// ValidateAttachment checks size and type before any upload happens. An
// invalid file is rejected here so nothing is ever written for it.
func ValidateAttachment(filename string, size int64) (contentType string, err error) {
	if size > MaxAttachmentSize {
		return "", ErrTooLarge
	}
	ext := strings.ToLower(path.Ext(filename))
	contentType, ok := allowedTypes[ext]
	if !ok {
		return "", ErrUnsupportedType
	}
	return contentType, nil
}

// Upload stores a validated attachment under <taskID>/<unix-millis><ext> and
// returns the public URL.
func (s *Store) Upload(ctx context.Context, taskID, filename string, size int64, body io.Reader) (string, error) {
	contentType, err := ValidateAttachment(filename, size)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(path.Ext(filename))
	key := fmt.Sprintf("%s/%d%s", taskID, time.Now().UnixMilli(), ext)

	_, err = s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key), nil
}

// Remove deletes an object by its key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return nil
}
