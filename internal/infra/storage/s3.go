package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sifan077/PowerCMS/config"
	"go.uber.org/zap"
)

// s3Uploader stores files in S3 compatible storage (AWS, R2, MinIO).
type s3Uploader struct {
	client   *s3.Client
	bucket   string
	baseURL  string
	basePath string
}

// NewS3 builds an S3 uploader from cfg.
func NewS3(cfg config.S3Config, logger *zap.Logger) (Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("uploads.s3.bucket is required for s3 driver")
	}

	client := s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	baseURL := strings.TrimRight(cfg.CDNURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.Bucket)
	}

	logger.Info("s3 upload storage initialized",
		zap.String("bucket", cfg.Bucket),
		zap.String("endpoint", cfg.Endpoint),
	)

	return &s3Uploader{
		client:   client,
		bucket:   cfg.Bucket,
		baseURL:  baseURL,
		basePath: strings.Trim(cfg.BasePath, "/"),
	}, nil
}

func (u *s3Uploader) key(dir, name string) string {
	return path.Join(u.basePath, cleanDir(dir), name)
}

func (u *s3Uploader) Save(ctx context.Context, obj Object) (string, error) {
	if err := CheckImage(obj.Filename); err != nil {
		return "", err
	}
	key := u.key(obj.Dir, objectName(obj.Field, obj.Filename, time.Now()))

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   obj.Body,
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if obj.Size > 0 {
		input.ContentLength = aws.Int64(obj.Size)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return u.baseURL + "/" + key, nil
}

func (u *s3Uploader) Delete(ctx context.Context, ref string) error {
	key, ok := strings.CutPrefix(ref, u.baseURL+"/")
	if !ok || key == "" {
		return fmt.Errorf("%w: %s", ErrForeignReference, ref)
	}

	if _, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}
