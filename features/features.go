// Package features checks and fetches the features already computed for a block
package features

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"go.uber.org/zap"
)

// Kind of feature artifact
type Kind string

const (
	KindCropland   Kind = "cropland"
	KindCroptype   Kind = "croptype"
	KindIrrigation Kind = "irrigation"
)

// Artifact is a feature raster of a block, relative to the features directory
type Artifact struct {
	Kind Kind
	// RelPath is the path relative to the features directory (and to {pid}/block_features in the bucket)
	RelPath string
}

// seasonTag is the tag of the directory of the features of a kind
func seasonTag(kind Kind, season common.Season) string {
	switch kind {
	case KindCropland:
		return string(common.SeasonAnnual)
	case KindIrrigation:
		return string(season) + "_irr"
	}
	return string(season)
}

// ArtifactOf returns the artifact of the features of a block:
// blocks/{tile}/{year}_{tag}/features_{kind}/{tile}_{aez}_{block:03d}_features.tif
func ArtifactOf(kind Kind, tile string, year int, season common.Season, aez, block int) Artifact {
	return Artifact{
		Kind: kind,
		RelPath: path.Join(service.PrefixBlocks, tile, fmt.Sprintf("%d_%s", year, seasonTag(kind, season)),
			"features_"+string(kind), fmt.Sprintf("%s_%d_%03d_features.tif", tile, aez, block)),
	}
}

// Expected returns the artifacts needed to reuse the features of a block for the season
func Expected(tile string, year int, season common.Season, aez, block int) []Artifact {
	if season == common.SeasonAnnual {
		return []Artifact{ArtifactOf(KindCropland, tile, year, season, aez, block)}
	}
	return []Artifact{
		ArtifactOf(KindCroptype, tile, year, season, aez, block),
		ArtifactOf(KindIrrigation, tile, year, season, aez, block),
	}
}

// Key returns the key of the artifact in the product bucket
func (a Artifact) Key(productionID string) string {
	return service.ProductKey(productionID, service.PrefixBlockFeatures, a.RelPath)
}

// Resolver fetches the features already computed from the product bucket
type Resolver struct {
	Bucket service.Bucket
}

// Resolve downloads the features of the block that exist in the product bucket into featuresDir
// and returns true if all the expected features are available.
// Absence or failure is logged, never returned: the features will be computed.
func (r Resolver) Resolve(ctx context.Context, tile string, year int, season common.Season, block int, productionID string, aez int, featuresDir string) bool {
	reused := true
	for _, a := range Expected(tile, year, season, aez, block) {
		key := a.Key(productionID)
		logger := log.Logger(ctx).With(zap.String("features", r.Bucket.URI(key)))
		localPath := filepath.Join(featuresDir, filepath.FromSlash(a.RelPath))
		if _, err := os.Stat(localPath); err == nil {
			logger.Debug("features already available locally")
			continue
		}
		exists, err := r.Bucket.Exists(ctx, key)
		if err != nil {
			logger.Warn("unable to check the features", zap.Error(err))
			reused = false
			continue
		}
		if !exists {
			logger.Info("no features found: they will be computed")
			reused = false
			continue
		}
		if err := r.Bucket.Download(ctx, key, localPath); err != nil {
			logger.Warn("unable to download the features", zap.Error(err))
			reused = false
			continue
		}
		logger.Info("features downloaded", zap.String("path", localPath))
	}
	return reused
}

// UploadBlock uploads the features of a block computed in featuresDir to the product bucket.
// It returns the number of uploaded artifacts.
func UploadBlock(ctx context.Context, bucket service.Bucket, featuresDir, productionID, tile string, year int, season common.Season, aez, block int) (int, error) {
	n := 0
	for _, a := range Expected(tile, year, season, aez, block) {
		localPath := filepath.Join(featuresDir, filepath.FromSlash(a.RelPath))
		if _, err := os.Stat(localPath); err != nil {
			continue
		}
		if err := bucket.Upload(ctx, localPath, a.Key(productionID)); err != nil {
			return n, fmt.Errorf("features.UploadBlock[%s]: %w", bucket.URI(a.Key(productionID)), err)
		}
		n++
	}
	return n, nil
}
