// Package pipeline composes the preparation of the inputs, the configuration and the orchestrators
// for the three invocations: whole tile (RunClassif), single block (GenerateBlock) and mosaic (GenerateProducts)
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airbusgeo/ewoc-classif/classif"
	"github.com/airbusgeo/ewoc-classif/collection"
	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/engine"
	"github.com/airbusgeo/ewoc-classif/features"
	"github.com/airbusgeo/ewoc-classif/interface/catalog"
	"github.com/airbusgeo/ewoc-classif/processor"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExtraCroptypeYear is the year for which the additional croptypes (sunflower, rapeseed) are classified
const ExtraCroptypeYear = 2022

// Pipeline holds the collaborators of the invocations
type Pipeline struct {
	Settings classif.Settings
	Engine   engine.Engine
	Product  service.Bucket
	// Indexer derives the collections that are not supplied. Optional.
	Indexer *collection.Indexer
	// Optional
	Notifier catalog.Notifier
	Ledger   processor.Ledger
	// TempDir is the parent of the working directories (default: os.TempDir())
	TempDir string
}

// Request of an invocation
type Request struct {
	Tile         string
	ProductionID common.ProductionID
	// Blocks to process (RunClassif), empty for the whole tile
	Blocks   []int
	Detector common.Detector
	Year     int
	Season   common.Season
	Models   common.Models
	Inputs   common.Inputs
	// UseExistingFeatures downloads the features already computed instead of computing them
	UseExistingFeatures bool
	// Postprocess only runs the mosaic (RunClassif)
	Postprocess bool
	Upload      bool
	Clean       bool
	UploadLogs  bool
	// OutDir is the working directory. Default: {TempDir}/{tile}_{6 random hex}
	OutDir string
	// Processing window, default: common.ProcessingWindow(Season, Year)
	Start, End time.Time
}

// NewRequest returns a request with the default options
func NewRequest(tile string, productionID common.ProductionID, detector common.Detector, year int, season common.Season) Request {
	return Request{
		Tile:         tile,
		ProductionID: productionID,
		Detector:     detector,
		Year:         year,
		Season:       season,
		Models:       common.DefaultModels(),
		Upload:       true,
		Clean:        true,
	}
}

// workspace is the prepared working directory of an invocation
type workspace struct {
	uid         string
	outDir      string
	configPath  string
	featuresDir string
	aez         int
	config      classif.Config
}

func newUID(tile string) string {
	return tile + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
}

// prepare creates the working directory, the collection indexes and the config file.
// The returned cleanup function must be called whatever the result.
func (p *Pipeline) prepare(ctx context.Context, req Request, block int) (workspace, func(), error) {
	noop := func() {}
	aez, err := req.ProductionID.AEZ()
	if err != nil {
		return workspace{}, noop, service.MakeConfigurationError(err)
	}
	ws := workspace{uid: newUID(req.Tile), outDir: req.OutDir, aez: aez}
	if ws.outDir == "" {
		tmp := p.TempDir
		if tmp == "" {
			tmp = os.TempDir()
		}
		ws.outDir = filepath.Join(tmp, ws.uid)
	}
	if err := os.MkdirAll(ws.outDir, 0755); err != nil {
		return ws, noop, service.MakeTemporary(fmt.Errorf("mkdir %s: %w", ws.outDir, err))
	}
	cleanup := func() {
		if !req.Clean {
			return
		}
		log.Logger(ctx).Info("cleaning the output folder " + ws.outDir)
		if err := os.RemoveAll(ws.outDir); err != nil {
			log.Logger(ctx).Warn("unable to clean the output folder", zap.Error(err))
		}
		if cwd, err := os.Getwd(); err == nil {
			if _, err := service.RemoveWithSuffix(cwd, req.Tile+".tif"); err != nil {
				log.Logger(ctx).Warn("unable to remove the temporary files", zap.Error(err))
			}
		}
	}

	ws.featuresDir = filepath.Join(ws.outDir, "block_features")
	if err := os.MkdirAll(ws.featuresDir, 0755); err != nil {
		return ws, cleanup, service.MakeTemporary(fmt.Errorf("mkdir %s: %w", ws.featuresDir, err))
	}

	inputs, noSAR, noTIR, err := p.collections(ctx, req, ws, block)
	if err != nil {
		return ws, cleanup, err
	}

	ws.config, err = classif.BuildConfig(classif.ConfigRequest{
		Detector:            req.Detector,
		Year:                req.Year,
		Season:              req.Season,
		ProductionID:        req.ProductionID,
		Models:              req.Models,
		Inputs:              inputs,
		FeaturesDir:         ws.featuresDir,
		NoTIR:               noTIR,
		NoSAR:               noSAR,
		UseExistingFeatures: req.UseExistingFeatures,
		AddExtraCroptype:    req.Year == ExtraCroptypeYear,
		ModelsRoot:          p.Settings.ModelsRoot,
		DevMode:             p.Settings.DevMode,
	})
	if err != nil {
		return ws, cleanup, err
	}
	ws.config.ApplyDataFolder(ctx, req.Inputs.DataFolder)
	ws.configPath = filepath.Join(ws.outDir, ws.uid+"_ewoc_config.json")
	if err := ws.config.Save(ws.configPath); err != nil {
		return ws, cleanup, err
	}
	log.Logger(ctx).Info("config file saved", zap.String("config", ws.configPath), zap.Bool("no_sar", noSAR), zap.Bool("no_tir", noTIR))
	return ws, cleanup, nil
}

// collections returns the references of the input collections, deriving the missing ones,
// and whether SAR or TIR are degraded on the block (or the whole tile if block < 0)
func (p *Pipeline) collections(ctx context.Context, req Request, ws workspace, block int) (map[string]string, bool, bool, error) {
	refs := map[string]*string{
		common.CollectionOptical: &req.Inputs.OpticalCSV,
		common.CollectionSAR:     &req.Inputs.SARCSV,
		common.CollectionTIR:     &req.Inputs.TIRCSV,
		common.CollectionMeteo:   &req.Inputs.AgERA5CSV,
	}
	suppliedTIR := req.Inputs.TIRCSV != ""
	for _, name := range []string{common.CollectionOptical, common.CollectionSAR, common.CollectionTIR, common.CollectionMeteo} {
		if *refs[name] != "" {
			continue
		}
		if p.Indexer == nil {
			return nil, false, false, service.MakeConfigurationError(fmt.Errorf("no %s collection and no ARD bucket", name))
		}
		var c collection.Collection
		var err error
		if name == common.CollectionMeteo {
			c, err = p.Indexer.AgERA5Collection(ctx)
		} else {
			c, err = p.Indexer.ARDCollection(ctx, name, req.Tile, req.ProductionID.String())
		}
		if err != nil {
			return nil, false, false, fmt.Errorf("collections: %w", err)
		}
		file := filepath.Join(ws.outDir, fmt.Sprintf("%s_satio_%s.csv", ws.uid, satioName(name)))
		if err := c.Write(file); err != nil {
			return nil, false, false, fmt.Errorf("collections: %w", err)
		}
		*refs[name] = file
	}

	inputs := map[string]string{common.CollectionDEM: classif.DefaultDEM}
	for name, ref := range refs {
		inputs[name] = *ref
	}

	start, end := req.Start, req.End
	if start.IsZero() || end.IsZero() {
		var err error
		if start, end, err = common.ProcessingWindow(req.Season, req.Year); err != nil {
			return nil, false, false, service.MakeConfigurationError(err)
		}
	}
	checker := collection.Checker{BlockSize: p.Settings.BlockSize}
	degraded := func(name string, threshold int) bool {
		c, err := collection.Read(inputs[name])
		if err != nil {
			log.Logger(ctx).Warn("unable to read the collection", zap.String("collection", name), zap.Error(err))
			return true
		}
		return checker.Check(ctx, c, name, start, end, req.Tile, block, threshold, collection.DefaultMinSize)
	}

	noTIR := false
	if suppliedTIR {
		if n, err := collection.CountRows(inputs[common.CollectionTIR]); err != nil || n <= 1 {
			log.Logger(ctx).Sugar().Warnf("TIR ARD is empty for the tile %s: no irrigation computed", req.Tile)
			noTIR = true
		}
	}
	noTIR = noTIR || degraded(common.CollectionTIR, p.Settings.MaxGapTIR)
	noSAR := degraded(common.CollectionSAR, p.Settings.MaxGapSAR)
	if degraded(common.CollectionOptical, p.Settings.MaxGapOptical) {
		log.Logger(ctx).Warn("the optical collection is degraded")
	}
	return inputs, noSAR, noTIR, nil
}

func satioName(collection string) string {
	if collection == common.CollectionMeteo {
		return "agera5"
	}
	return strings.ToLower(collection)
}

func (p *Pipeline) blockOrchestrator() *processor.BlockOrchestrator {
	o := processor.NewBlockOrchestrator(p.Engine, p.Product, p.Settings.BlockSize)
	o.Features = &features.Resolver{Bucket: p.Product}
	o.Ledger = p.Ledger
	return o
}

func (p *Pipeline) mosaicOrchestrator() *processor.MosaicOrchestrator {
	m := processor.NewMosaicOrchestrator(p.Engine, p.Product, p.Notifier)
	m.Ledger = p.Ledger
	return m
}

// RunClassif classifies the blocks of a tile, or only mosaics the tile if req.Postprocess
func (p *Pipeline) RunClassif(ctx context.Context, req Request) error {
	ctx = log.With(log.With(ctx, "tile", req.Tile), "production_id", req.ProductionID.String())
	block := -1
	if len(req.Blocks) == 1 {
		block = req.Blocks[0]
	}
	ws, cleanup, err := p.prepare(ctx, req, block)
	defer cleanup()
	if err != nil {
		return &service.OperationError{Op: "RunClassif", Tile: req.Tile, ProductionID: req.ProductionID.String(), Err: err}
	}

	if req.Postprocess {
		return p.mosaicOrchestrator().PostprocessMosaic(ctx, req.Tile, req.ProductionID.String(), ws.configPath, ws.outDir, ws.aez)
	}
	report := p.blockOrchestrator().Run(ctx, req.Tile, ws.configPath, req.ProductionID.String(), ws.outDir, ws.aez, req.Blocks,
		processor.BlockOptions{Upload: req.Upload, Clean: req.Clean, UploadLogs: req.UploadLogs})
	if !report.OK() {
		err := report.Err
		if err == nil {
			err = fmt.Errorf("%w: %v", processor.ErrBlocksFailed, report.Failed())
		}
		return &service.OperationError{Op: "RunClassif", Tile: req.Tile, ProductionID: req.ProductionID.String(), Err: err}
	}
	return nil
}

// GenerateBlock classifies one block of a tile and returns the status of the engine.
// A failure of the engine is returned as an error, a skipped block is not uploaded.
func (p *Pipeline) GenerateBlock(ctx context.Context, req Request, block int) (engine.Status, error) {
	ctx = log.With(log.With(log.With(ctx, "tile", req.Tile), "production_id", req.ProductionID.String()), "block", block)
	opError := func(err error) error {
		return &service.OperationError{Op: "GenerateBlock", Tile: req.Tile, ProductionID: req.ProductionID.String(), Err: err}
	}
	ws, cleanup, err := p.prepare(ctx, req, block)
	defer cleanup()
	if err != nil {
		return engine.Failure(-1), opError(err)
	}
	pid := req.ProductionID.String()

	reused := false
	if req.UseExistingFeatures {
		reused = (&features.Resolver{Bucket: p.Product}).Resolve(ctx, req.Tile, req.Year, req.Season, block, pid, ws.aez, ws.featuresDir)
	}
	status, err := p.Engine.RunTile(ctx, engine.ClassifyBlock(req.Tile, ws.configPath, ws.outDir, block, ws.aez))
	if err != nil {
		return status, opError(err)
	}
	switch status.Outcome {
	case engine.OutcomeFailure:
		return status, opError(fmt.Errorf("engine returned %s", status))
	case engine.OutcomeSkip:
		log.Logger(ctx).Info("block skipped: no cropland-relevant data")
		return status, nil
	}
	if !req.Upload {
		return status, nil
	}
	n, err := service.UploadDir(ctx, p.Product, filepath.Join(ws.outDir, processor.DirBlocks), service.ProductKey(pid, service.PrefixBlocks))
	if err != nil {
		return status, opError(err)
	}
	log.Logger(ctx).Sugar().Infof("uploaded %d files to %s", n, p.Product.URI(service.ProductKey(pid, service.PrefixBlocks)))
	if req.UploadLogs {
		for dir, prefix := range map[string]string{processor.DirExitLogs: service.PrefixExitLogs, processor.DirProcLogs: service.PrefixProcLogs} {
			if _, err := service.UploadDir(ctx, p.Product, filepath.Join(ws.outDir, dir), service.ProductKey(pid, prefix)); err != nil {
				return status, opError(err)
			}
		}
	}
	if !reused {
		if _, err := features.UploadBlock(ctx, p.Product, ws.featuresDir, pid, req.Tile, req.Year, req.Season, ws.aez, block); err != nil {
			return status, opError(err)
		}
	}
	return status, nil
}

// GenerateProducts mosaics the blocks of a tile already classified and publishes the products
func (p *Pipeline) GenerateProducts(ctx context.Context, req Request) error {
	ctx = log.With(log.With(ctx, "tile", req.Tile), "production_id", req.ProductionID.String())
	req.UseExistingFeatures = false
	ws, cleanup, err := p.prepare(ctx, req, -1)
	defer cleanup()
	if err != nil {
		return &service.OperationError{Op: "GenerateProducts", Tile: req.Tile, ProductionID: req.ProductionID.String(), Err: err}
	}
	return p.mosaicOrchestrator().PostprocessMosaic(ctx, req.Tile, req.ProductionID.String(), ws.configPath, ws.outDir, ws.aez)
}
