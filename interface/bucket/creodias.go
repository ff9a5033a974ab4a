package bucket

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// CreodiasBucket implements service.Bucket for the S3-compatible object storage of CreoDIAS
type CreodiasBucket struct {
	name string
	mc   *minio.Client
}

// NewCreodiasBucket creates a client on the endpoint (e.g. https://s3.waw2-1.cloudferro.com)
func NewCreodiasBucket(name string, cfg Config) (*CreodiasBucket, error) {
	endpoint, secure := cfg.Endpoint, true
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint, secure = u.Host, u.Scheme != "http"
	}
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &CreodiasBucket{name: name, mc: mc}, nil
}

// Name implements service.Bucket
func (b *CreodiasBucket) Name() string { return b.name }

// URI implements service.Bucket
func (b *CreodiasBucket) URI(key string) string { return joinURI("s3", b.name, key) }

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Exists implements service.Bucket
func (b *CreodiasBucket) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := b.mc.StatObject(ctx, b.name, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, service.MakeTemporary(fmt.Errorf("Exists[%s]: %w", b.URI(key), err))
	}
	return true, nil
}

// List implements service.Bucket
func (b *CreodiasBucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for object := range b.mc.ListObjects(ctx, b.name, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, service.MakeTemporary(fmt.Errorf("List[%s]: %w", b.URI(prefix), object.Err))
		}
		if !strings.HasSuffix(object.Key, "/") {
			keys = append(keys, object.Key)
		}
	}
	return keys, nil
}

// Download implements service.Bucket
func (b *CreodiasBucket) Download(ctx context.Context, key, localPath string) error {
	if err := service.MkParentDir(localPath); err != nil {
		return err
	}
	if err := b.mc.FGetObject(ctx, b.name, key, localPath, minio.GetObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			os.Remove(localPath)
			return service.ErrFileNotFound{File: b.URI(key)}
		}
		return fmt.Errorf("download file %s: %w", b.URI(key), err)
	}
	return nil
}

// Upload implements service.Bucket
func (b *CreodiasBucket) Upload(ctx context.Context, localPath, key string) error {
	if _, err := b.mc.FPutObject(ctx, b.name, key, localPath, minio.PutObjectOptions{}); err != nil {
		return service.MakeTemporary(fmt.Errorf("upload file %s: %w", b.URI(key), err))
	}
	return nil
}
