package pipeline

import (
	"context"
	"fmt"

	"github.com/airbusgeo/ewoc-classif/classif"
	"github.com/airbusgeo/ewoc-classif/collection"
	"github.com/airbusgeo/ewoc-classif/engine"
	"github.com/airbusgeo/ewoc-classif/interface/bucket"
	"github.com/airbusgeo/ewoc-classif/interface/catalog/vdm"
	"github.com/airbusgeo/ewoc-classif/interface/database/pg"
	"github.com/airbusgeo/ewoc-classif/service/log"
)

// Setup gathers the options of the binaries that are not part of the settings
type Setup struct {
	// DBConnection enables the block ledger
	DBConnection string
	// Docker is used if Settings.EngineImage is defined
	Docker engine.DockerConfig
	// NoCatalog disables the notification of the catalog
	NoCatalog bool
	TempDir   string
}

// New connects the collaborators of the pipeline from the settings.
// The returned function releases them.
func New(ctx context.Context, settings classif.Settings, setup Setup) (*Pipeline, func(), error) {
	closers := []func(){}
	release := func() {
		for _, c := range closers {
			c()
		}
	}
	cfg := bucket.Config{
		Endpoint:        settings.S3Endpoint,
		AccessKeyID:     settings.S3AccessKeyID,
		SecretAccessKey: settings.S3SecretAccessKey,
		LocalRoot:       settings.LocalBucketRoot,
	}
	product, err := bucket.New(ctx, settings.CloudProvider, settings.ProductBucket, cfg)
	if err != nil {
		return nil, release, fmt.Errorf("pipeline.New[%s].%w", settings.ProductBucket, err)
	}
	ard, err := bucket.New(ctx, settings.CloudProvider, settings.ARDBucket, cfg)
	if err != nil {
		return nil, release, fmt.Errorf("pipeline.New[%s].%w", settings.ARDBucket, err)
	}
	aux, err := bucket.New(ctx, settings.CloudProvider, settings.AuxBucket, cfg)
	if err != nil {
		return nil, release, fmt.Errorf("pipeline.New[%s].%w", settings.AuxBucket, err)
	}

	p := &Pipeline{
		Settings: settings,
		Product:  product,
		Indexer:  &collection.Indexer{ARD: ard, Aux: aux},
		TempDir:  setup.TempDir,
	}

	if settings.EngineImage != "" {
		setup.Docker.Image = settings.EngineImage
		if setup.Docker.Command == "" {
			setup.Docker.Command = settings.EngineCommand
		}
		if p.Engine, err = engine.NewDockerEngine(ctx, setup.Docker); err != nil {
			return nil, release, fmt.Errorf("pipeline.New.%w", err)
		}
		log.Logger(ctx).Sugar().Infof("engine: docker image %s", settings.EngineImage)
	} else {
		p.Engine = engine.NewCommandEngine(settings.EngineCommand)
		log.Logger(ctx).Sugar().Infof("engine: command %s", settings.EngineCommand)
	}

	if !setup.NoCatalog && settings.CatalogHost != "" {
		p.Notifier = vdm.New(settings.CatalogHost, settings.CatalogUserInfo)
	}

	if setup.DBConnection != "" {
		ledger, err := pg.New(ctx, setup.DBConnection)
		if err != nil {
			return nil, release, fmt.Errorf("pipeline.New.%w", err)
		}
		closers = append(closers, func() { ledger.Close() })
		p.Ledger = ledger
	}
	return p, release, nil
}
