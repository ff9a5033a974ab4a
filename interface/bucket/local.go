package bucket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/airbusgeo/ewoc-classif/service"
)

// LocalBucket implements service.Bucket on a local directory
type LocalBucket struct {
	name string
	root string
}

// NewLocalBucket creates the directory root/name if needed
func NewLocalBucket(root, name string) (*LocalBucket, error) {
	if root == "" {
		return nil, service.MakeConfigurationError(fmt.Errorf("local bucket: missing root directory"))
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("NewLocalBucket: %w", err)
	}
	return &LocalBucket{name: name, root: dir}, nil
}

// Name implements service.Bucket
func (b *LocalBucket) Name() string { return b.name }

// URI implements service.Bucket
func (b *LocalBucket) URI(key string) string {
	return "file://" + b.path(key)
}

func (b *LocalBucket) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

// Exists implements service.Bucket
func (b *LocalBucket) Exists(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Exists[%s]: %w", key, err)
	}
	return !info.IsDir(), nil
}

// List implements service.Bucket
func (b *LocalBucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("List[%s]: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Download implements service.Bucket
func (b *LocalBucket) Download(ctx context.Context, key, localPath string) error {
	if ok, err := b.Exists(ctx, key); err != nil {
		return err
	} else if !ok {
		return service.ErrFileNotFound{File: b.URI(key)}
	}
	return copyFile(b.path(key), localPath)
}

// Upload implements service.Bucket
func (b *LocalBucket) Upload(ctx context.Context, localPath, key string) error {
	return copyFile(localPath, b.path(key))
}

func copyFile(src, dst string) error {
	if err := service.MkParentDir(dst); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copyFile.Open: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("copyFile.Create: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copyFile.Copy: %w", err)
	}
	return out.Close()
}
