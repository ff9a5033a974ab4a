package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/airbusgeo/ewoc-classif/classif"
	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/engine"
	"github.com/airbusgeo/ewoc-classif/features"
	db "github.com/airbusgeo/ewoc-classif/interface/database"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"go.uber.org/zap"
)

// Local layout of the output directory of the engine
const (
	DirBlocks   = "blocks"
	DirCogs     = "cogs"
	DirExitLogs = "exitlogs"
	DirProcLogs = "proclogs"
)

// LoopPolicy defines when the processing of the blocks is interrupted
type LoopPolicy struct {
	// StopOnException stops the loop after a block that raised an error
	StopOnException bool
	// StopOnFailureCode stops the loop after a block whose exit code is a failure
	StopOnFailureCode bool
}

// DefaultLoopPolicy stops on errors, but not on failure codes, so that the other blocks of the tile can be salvaged
var DefaultLoopPolicy = LoopPolicy{StopOnException: true, StopOnFailureCode: false}

// Ledger records the status of the blocks
type Ledger interface {
	RecordBlock(ctx context.Context, block db.Block) error
}

// BlockOptions of ProcessBlocks
type BlockOptions struct {
	Upload     bool
	Clean      bool
	UploadLogs bool
}

// DefaultBlockOptions uploads the blocks and cleans the output directory, but not the logs
func DefaultBlockOptions() BlockOptions {
	return BlockOptions{Upload: true, Clean: true}
}

// BlockResult is the outcome of a block
type BlockResult struct {
	Block  int
	Status engine.Status
	// Err is set if the block raised an error (the status is a failure)
	Err error
}

// Report of ProcessBlocks
type Report struct {
	Results []BlockResult
	// Err is set if no block could be attempted
	Err error
}

// OK returns true if at least one block was attempted and all of them succeeded or have been skipped
func (r Report) OK() bool {
	if r.Err != nil || len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Err != nil || !res.Status.OK() {
			return false
		}
	}
	return true
}

// Failed returns the blocks that failed
func (r Report) Failed() []int {
	var failed []int
	for _, res := range r.Results {
		if res.Err != nil || !res.Status.OK() {
			failed = append(failed, res.Block)
		}
	}
	return failed
}

// BlockOrchestrator runs the engine on the blocks of a tile
type BlockOrchestrator struct {
	Engine    engine.Engine
	Bucket    service.Bucket
	BlockSize int
	Policy    LoopPolicy
	// Optional
	Features *features.Resolver
	Ledger   Ledger
}

// NewBlockOrchestrator creates an orchestrator with the default loop policy
func NewBlockOrchestrator(e engine.Engine, bucket service.Bucket, blockSize int) *BlockOrchestrator {
	return &BlockOrchestrator{Engine: e, Bucket: bucket, BlockSize: blockSize, Policy: DefaultLoopPolicy}
}

// ProcessBlocks classifies the blocks of the tile and returns true if all the blocks succeeded or have been skipped.
// If blockIDs is empty, all the blocks of the tile are processed.
func (o *BlockOrchestrator) ProcessBlocks(ctx context.Context, tile, configPath, productionID, outDir string, aez int, blockIDs []int, opts BlockOptions) bool {
	return o.Run(ctx, tile, configPath, productionID, outDir, aez, blockIDs, opts).OK()
}

// Run is ProcessBlocks, returning the detailed report
func (o *BlockOrchestrator) Run(ctx context.Context, tile, configPath, productionID, outDir string, aez int, blockIDs []int, opts BlockOptions) Report {
	ctx = log.With(log.With(ctx, "tile", tile), "production_id", productionID)
	logger := log.Logger(ctx)

	blocks := blockIDs
	if len(blocks) == 0 {
		var err error
		if blocks, err = common.BlockRange(o.BlockSize); err != nil {
			logger.Error("no block processed", zap.Error(err))
			return Report{Err: service.MakeConfigurationError(err)}
		}
	}
	cfg, err := classif.LoadConfig(configPath)
	if err != nil {
		logger.Error("no block processed", zap.Error(err))
		return Report{Err: err}
	}
	logger.Sugar().Infof("processing %d blocks", len(blocks))

	report := Report{}
	for _, block := range blocks {
		bctx := log.With(ctx, "block", block)
		o.record(bctx, productionID, tile, cfg, block, common.StatusPENDING, 0, "")
		status, err := o.processBlock(bctx, tile, configPath, productionID, outDir, aez, block, cfg, opts)
		report.Results = append(report.Results, BlockResult{Block: block, Status: status, Err: err})

		switch {
		case err != nil:
			log.Logger(bctx).Error("block failed", zap.Error(err))
			o.record(bctx, productionID, tile, cfg, block, common.StatusFAILED, status.Code, err.Error())
		case !status.OK():
			log.Logger(bctx).Sugar().Warnf("block failed with code %d", status.Code)
			o.record(bctx, productionID, tile, cfg, block, common.StatusFAILED, status.Code, status.String())
		default:
			log.Logger(bctx).Info("block " + status.String())
			o.record(bctx, productionID, tile, cfg, block, common.StatusDONE, status.Code, status.String())
		}

		if (err != nil && o.Policy.StopOnException) || (err == nil && !status.OK() && o.Policy.StopOnFailureCode) {
			logger.Sugar().Warnf("processing interrupted after block %d", block)
			break
		}
	}
	if failed := report.Failed(); len(failed) > 0 {
		logger.Sugar().Errorf("%d blocks failed: %v", len(failed), failed)
	}
	return report
}

func (o *BlockOrchestrator) processBlock(ctx context.Context, tile, configPath, productionID, outDir string, aez, block int, cfg classif.Config, opts BlockOptions) (status engine.Status, err error) {
	if opts.Clean {
		defer func() {
			if e := os.RemoveAll(filepath.Join(outDir, DirBlocks)); e != nil {
				log.Logger(ctx).Warn("unable to clean the block", zap.Error(e))
			}
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			status, err = engine.Failure(-1), fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return engine.Failure(-1), service.MakeTemporary(fmt.Errorf("mkdir %s: %w", outDir, err))
	}

	p := cfg.Parameters
	reused := false
	if p.UseExistingFeatures && o.Features != nil {
		reused = o.Features.Resolve(ctx, tile, p.Year, p.Season, block, productionID, aez, p.FeaturesDir)
	}

	if status, err = o.Engine.RunTile(ctx, engine.ClassifyBlock(tile, configPath, outDir, block, aez)); err != nil {
		return status, err
	}
	if status.Outcome != engine.OutcomeSuccess || !opts.Upload {
		return status, nil
	}

	n, err := service.UploadDir(ctx, o.Bucket, filepath.Join(outDir, DirBlocks), service.ProductKey(productionID, service.PrefixBlocks))
	if err != nil {
		return status, uploadError(tile, productionID, err)
	}
	log.Logger(ctx).Sugar().Infof("uploaded %d files to %s", n, o.Bucket.URI(service.ProductKey(productionID, service.PrefixBlocks)))
	if opts.UploadLogs {
		if err := uploadLogs(ctx, o.Bucket, outDir, productionID); err != nil {
			return status, uploadError(tile, productionID, err)
		}
	}
	if p.SaveFeatures && !reused && p.FeaturesDir != "" {
		if _, err := features.UploadBlock(ctx, o.Bucket, p.FeaturesDir, productionID, tile, p.Year, p.Season, aez, block); err != nil {
			return status, uploadError(tile, productionID, err)
		}
	}
	return status, nil
}

func (o *BlockOrchestrator) record(ctx context.Context, productionID, tile string, cfg classif.Config, block int, status common.Status, code int, message string) {
	if o.Ledger == nil {
		return
	}
	if err := o.Ledger.RecordBlock(ctx, db.Block{
		ProductionID: productionID,
		Tile:         tile,
		Year:         cfg.Parameters.Year,
		Season:       cfg.Parameters.Season,
		Block:        block,
		Status:       status,
		ExitCode:     code,
		Message:      message,
	}); err != nil {
		log.Logger(ctx).Warn("unable to record the block", zap.Error(err))
	}
}

func uploadLogs(ctx context.Context, bucket service.Bucket, outDir, productionID string) error {
	for dir, prefix := range map[string]string{DirExitLogs: service.PrefixExitLogs, DirProcLogs: service.PrefixProcLogs} {
		if _, err := service.UploadDir(ctx, bucket, filepath.Join(outDir, dir), service.ProductKey(productionID, prefix)); err != nil {
			return err
		}
	}
	return nil
}

func uploadError(tile, productionID string, err error) error {
	return &service.OperationError{Op: "Upload", Tile: tile, ProductionID: productionID, Err: err}
}

// ErrBlocksFailed is returned when at least one block failed
var ErrBlocksFailed = errors.New("blocks failed")
