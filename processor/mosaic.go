package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/airbusgeo/ewoc-classif/classif"
	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/engine"
	"github.com/airbusgeo/ewoc-classif/interface/catalog"
	db "github.com/airbusgeo/ewoc-classif/interface/database"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"go.uber.org/zap"
)

var (
	// ErrNoBlocks is returned when no block of the tile is available in the product bucket
	ErrNoBlocks = errors.New("no block to mosaic")
	// ErrEmptyMosaic is returned when the engine did not produce any file
	ErrEmptyMosaic = errors.New("mosaic is empty")
	// ErrBlocksPending is returned when some blocks of the tile are still being processed
	ErrBlocksPending = errors.New("blocks still processing")
)

// MosaicOrchestrator assembles the blocks of a tile and publishes the products
type MosaicOrchestrator struct {
	Engine engine.Engine
	Bucket service.Bucket
	// Optional
	Notifier    catalog.Notifier
	Ledger      Ledger
	Parallelism int
}

// NewMosaicOrchestrator creates a mosaic orchestrator. notifier may be nil.
func NewMosaicOrchestrator(e engine.Engine, bucket service.Bucket, notifier catalog.Notifier) *MosaicOrchestrator {
	return &MosaicOrchestrator{Engine: e, Bucket: bucket, Notifier: notifier, Parallelism: 10}
}

// PostprocessMosaic downloads the blocks of the tile, runs the engine in mosaic mode,
// publishes the mosaic in the product bucket and notifies the catalog.
func (m *MosaicOrchestrator) PostprocessMosaic(ctx context.Context, tile, productionID, configPath, outDir string, aez int) (err error) {
	ctx = log.With(log.With(ctx, "tile", tile), "production_id", productionID)
	opError := func(op string, err error) error {
		return &service.OperationError{Op: op, Tile: tile, ProductionID: productionID, Err: err}
	}

	cfg, err := classif.LoadConfig(configPath)
	if err != nil {
		return opError("Mosaic", err)
	}
	year, season := cfg.Parameters.Year, cfg.Parameters.Season
	owner, err := common.ProductionID(productionID).Owner()
	if err != nil {
		return opError("Mosaic", service.MakeConfigurationError(err))
	}
	if err := m.start(ctx, productionID, tile, cfg); err != nil {
		return opError("Mosaic", err)
	}
	defer func() {
		if err != nil {
			m.record(ctx, productionID, tile, cfg, common.StatusFAILED, -1, err.Error())
		} else {
			m.record(ctx, productionID, tile, cfg, common.StatusDONE, 0, "")
		}
	}()

	// Download the blocks
	prefix := service.TileBlocksKey(productionID, tile, year, string(season))
	n, err := service.DownloadPrefix(ctx, m.Bucket, prefix, productionID, outDir, m.Parallelism)
	if err != nil {
		return opError("Download", err)
	}
	if n == 0 {
		return opError("Download", fmt.Errorf("%w: %s", ErrNoBlocks, m.Bucket.URI(prefix)))
	}
	log.Logger(ctx).Sugar().Infof("%d files downloaded from %s", n, m.Bucket.URI(prefix))

	// Mosaic
	status, err := m.Engine.RunTile(ctx, engine.Mosaic(tile, configPath, outDir, aez))
	if err != nil {
		return opError("Mosaic", err)
	}
	if status.Outcome != engine.OutcomeSuccess {
		return opError("Mosaic", fmt.Errorf("engine returned %s", status))
	}
	cogDir := filepath.Join(outDir, DirCogs, tile, fmt.Sprintf("%d_%s", year, season))
	ok, err := service.HasFiles(cogDir)
	if err != nil {
		return opError("Mosaic", err)
	}
	if !ok {
		log.Logger(ctx).Error("engine succeeded but did not produce any file", zap.String("dir", cogDir))
		return opError("Mosaic", fmt.Errorf("%w: %s", ErrEmptyMosaic, cogDir))
	}

	// Publish
	cogsDir := filepath.Join(outDir, DirCogs)
	stacs, err := RewriteSTAC(ctx, m.Bucket.URI(productionID), cogsDir, owner)
	if err != nil {
		return opError("Mosaic", err)
	}
	if n, err = service.UploadDir(ctx, m.Bucket, cogsDir, productionID); err != nil {
		return opError("Upload", err)
	}
	log.Logger(ctx).Sugar().Infof("%d files uploaded to %s", n, m.Bucket.URI(productionID))

	m.notify(ctx, stacs)
	return nil
}

// notify the catalog of each product. Failures are only logged.
func (m *MosaicOrchestrator) notify(ctx context.Context, stacs []string) {
	if m.Notifier == nil {
		return
	}
	for _, stac := range stacs {
		if err := m.Notifier.Notify(ctx, stac); err != nil {
			log.Logger(ctx).Error("catalog notification failed", zap.String("stac", stac), zap.Error(err))
		}
	}
}

// start records the mosaic as PENDING.
// If the ledger supports transactions, the blocks of the tile must all be DONE (or never recorded).
func (m *MosaicOrchestrator) start(ctx context.Context, productionID, tile string, cfg classif.Config) error {
	ldb, ok := m.Ledger.(db.LedgerDBBackend)
	if !ok {
		m.record(ctx, productionID, tile, cfg, common.StatusPENDING, 0, "")
		return nil
	}
	year, season := cfg.Parameters.Year, cfg.Parameters.Season
	return db.UnitOfWork(ctx, ldb, func(tx db.LedgerTxBackend) error {
		status, err := tx.BlocksStatus(ctx, productionID, tile, year, season)
		if err != nil {
			return fmt.Errorf("BlocksStatus: %w", err)
		}
		if status.Total() > 0 {
			switch status.TileStatus() {
			case common.StatusDONE:
			case common.StatusFAILED:
				return service.MakeFatal(fmt.Errorf("%w: %d/%d", ErrBlocksFailed, status.Failed, status.Total()))
			default:
				return service.MakeTemporary(fmt.Errorf("%w: %d/%d", ErrBlocksPending, status.Pending+status.Retry+status.New, status.Total()))
			}
		}
		return tx.RecordBlock(ctx, db.Block{
			ProductionID: productionID,
			Tile:         tile,
			Year:         year,
			Season:       season,
			Block:        db.MosaicBlock,
			Status:       common.StatusPENDING,
		})
	})
}

func (m *MosaicOrchestrator) record(ctx context.Context, productionID, tile string, cfg classif.Config, status common.Status, code int, message string) {
	if m.Ledger == nil {
		return
	}
	if err := m.Ledger.RecordBlock(ctx, db.Block{
		ProductionID: productionID,
		Tile:         tile,
		Year:         cfg.Parameters.Year,
		Season:       cfg.Parameters.Season,
		Block:        db.MosaicBlock,
		Status:       status,
		ExitCode:     code,
		Message:      message,
	}); err != nil {
		log.Logger(ctx).Warn("unable to record the mosaic", zap.Error(err))
	}
}
