package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Bucket is an object storage bucket
type Bucket interface {
	// Name of the bucket
	Name() string
	// URI returns the canonical uri of the key (e.g. s3://bucket/key)
	URI(key string) string
	// Exists returns false if the key does not exist
	Exists(ctx context.Context, key string) (bool, error)
	// List returns all the keys with the prefix
	List(ctx context.Context, prefix string) ([]string, error)
	// Download the key to a local file, creating the parent directories
	// Raise ErrFileNotFound
	Download(ctx context.Context, key, localPath string) error
	// Upload the local file to the key
	Upload(ctx context.Context, localPath, key string) error
}

// Object layout of the product bucket
const (
	PrefixBlocks        = "blocks"
	PrefixExitLogs      = "exitlogs"
	PrefixProcLogs      = "proclogs"
	PrefixBlockFeatures = "block_features"
)

// ProductKey joins the production id and the elements to form a key of the product bucket
func ProductKey(productionID string, elem ...string) string {
	return path.Join(append([]string{productionID}, elem...)...)
}

// TileBlocksKey is the prefix of the blocks of a tile for a season: {production_id}/blocks/{tile}/{year}_{season}
func TileBlocksKey(productionID, tile string, year int, season string) string {
	return ProductKey(productionID, PrefixBlocks, tile, fmt.Sprintf("%d_%s", year, season))
}

// UploadDir uploads all the files of localDir under the prefix, keeping the tree structure.
// A non-existing directory is not an error. It returns the number of uploaded files.
func UploadDir(ctx context.Context, bucket Bucket, localDir, prefix string) (int, error) {
	var files []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("UploadDir.Walk[%s]: %w", localDir, err)
	}
	for i, f := range files {
		rel, err := filepath.Rel(localDir, f)
		if err != nil {
			return i, fmt.Errorf("UploadDir: %w", err)
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		if err := bucket.Upload(ctx, f, key); err != nil {
			return i, fmt.Errorf("UploadDir[%s]: %w", bucket.URI(key), err)
		}
	}
	return len(files), nil
}

// DownloadPrefix downloads all the objects with the prefix into localDir, the key being relative to trimPrefix.
// Up to parallelism objects are downloaded at the same time. It returns the number of downloaded files.
func DownloadPrefix(ctx context.Context, bucket Bucket, prefix, trimPrefix, localDir string, parallelism int) (int, error) {
	keys, err := bucket.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("DownloadPrefix.List[%s]: %w", bucket.URI(prefix), err)
	}
	if parallelism < 1 {
		parallelism = 1
	}
	trimPrefix = strings.TrimSuffix(trimPrefix, "/") + "/"
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	n := 0
	for _, key := range keys {
		key := key
		if strings.HasSuffix(key, "/") {
			continue
		}
		n++
		localPath := filepath.Join(localDir, filepath.FromSlash(strings.TrimPrefix(key, trimPrefix)))
		g.Go(func() error {
			if err := bucket.Download(gctx, key, localPath); err != nil {
				return fmt.Errorf("DownloadPrefix: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return n, nil
}

// MkParentDir creates the parent directories of the file
func MkParentDir(file string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return MakeTemporary(fmt.Errorf("mkdir %s: %w", filepath.Dir(file), err))
	}
	return nil
}
