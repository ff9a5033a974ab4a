package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"go.uber.org/zap"
)

// StacPattern matches the STAC metadata files produced by the engine
const StacPattern = "*metadata_*.json"

// placeholder of the owner in the STAC files produced by the engine
const ownerPlaceholder = "0000"

// RewriteSTAC updates all the STAC files found in dir:
// the local paths (prefixed by dir) are replaced by root, the product is made public
// and the placeholder owner is replaced by owner.
// It returns the list of the STAC files.
func RewriteSTAC(ctx context.Context, root, dir, owner string) ([]string, error) {
	files, err := service.FindFiles(dir, StacPattern)
	if err != nil {
		return nil, fmt.Errorf("RewriteSTAC: %w", err)
	}
	root = strings.TrimSuffix(root, "/")
	dir = strings.TrimSuffix(dir, "/")
	for _, file := range files {
		if err := rewriteSTACFile(ctx, file, root, dir, owner); err != nil {
			return nil, fmt.Errorf("RewriteSTAC: %w", err)
		}
	}
	return files, nil
}

func rewriteSTACFile(ctx context.Context, file, root, dir, owner string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	logger := log.Logger(ctx).With(zap.String("stac", filepath.Base(file)))

	replaceHref := func(v interface{}) {
		if m, ok := v.(map[string]interface{}); ok {
			if href, ok := m["href"].(string); ok {
				m["href"] = strings.ReplaceAll(href, dir, root)
			}
		}
	}
	if links, ok := doc["links"].([]interface{}); ok {
		for _, link := range links {
			if m, ok := link.(map[string]interface{}); ok && m["rel"] == "self" {
				replaceHref(m)
			}
		}
	}
	if assets, ok := doc["assets"].(map[string]interface{}); ok {
		for _, asset := range assets {
			replaceHref(asset)
		}
	}

	if props, ok := doc["properties"].(map[string]interface{}); ok {
		switch props["public"] {
		case "false":
			props["public"] = "true"
			logger.Debug("public set to true")
		case false:
			props["public"] = true
			logger.Debug("public set to true")
		}
		if users, ok := props["users"].([]interface{}); ok && len(users) == 1 && users[0] == ownerPlaceholder {
			props["users"] = []interface{}{owner}
			logger.Debug("users set to " + owner)
		}
		if id, ok := props["tile_collection_id"].(string); ok && strings.HasSuffix(id, "_"+ownerPlaceholder) {
			props["tile_collection_id"] = strings.TrimSuffix(id, ownerPlaceholder) + owner
			logger.Debug("tile_collection_id set to " + props["tile_collection_id"].(string))
		}
	}

	if b, err = json.MarshalIndent(doc, "", "  "); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	return os.WriteFile(file, b, 0644)
}
