package bucket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/ewoc-classif/service"
	"google.golang.org/api/iterator"
)

// GSBucket implements service.Bucket for Google Cloud Storage
type GSBucket struct {
	name   string
	bucket *storage.BucketHandle
}

// NewGSBucket uses the application default credentials
func NewGSBucket(ctx context.Context, name string) (*GSBucket, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGSBucket: %w", err)
	}
	return &GSBucket{name: name, bucket: client.Bucket(name)}, nil
}

// Name implements service.Bucket
func (b *GSBucket) Name() string { return b.name }

// URI implements service.Bucket
func (b *GSBucket) URI(key string) string { return joinURI("gs", b.name, key) }

// Exists implements service.Bucket
func (b *GSBucket) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := b.bucket.Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("Exists[%s]: %w", b.URI(key), err)
	}
	return true, nil
}

// List implements service.Bucket
func (b *GSBucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List[%s]: %w", b.URI(prefix), err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Download implements service.Bucket
func (b *GSBucket) Download(ctx context.Context, key, localPath string) error {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return service.ErrFileNotFound{File: b.URI(key)}
		}
		return fmt.Errorf("Download[%s]: %w", b.URI(key), err)
	}
	defer r.Close()
	if err := service.MkParentDir(localPath); err != nil {
		return err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("Download.Create: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return service.MakeTemporary(fmt.Errorf("Download[%s].Copy: %w", b.URI(key), err))
	}
	return f.Close()
}

// Upload implements service.Bucket
func (b *GSBucket) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("Upload.Open: %w", err)
	}
	defer f.Close()
	w := b.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return service.MakeTemporary(fmt.Errorf("Upload[%s].Copy: %w", b.URI(key), err))
	}
	if err := w.Close(); err != nil {
		return service.MakeTemporary(fmt.Errorf("Upload[%s].Close: %w", b.URI(key), err))
	}
	return nil
}
