package catalog

import (
	"context"
)

// Notifier publishes a product, described by its STAC metadata file, to the catalog
type Notifier interface {
	Notify(ctx context.Context, stacPath string) error
}
