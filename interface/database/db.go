package db

import (
	"context"
	"fmt"

	"github.com/airbusgeo/ewoc-classif/common"
)

// MosaicBlock is the block id of the record of the mosaic of a tile
const MosaicBlock = -1

// Block is the record of the processing of one block (or of the mosaic) of a tile
type Block struct {
	ProductionID string        `json:"production_id"`
	Tile         string        `json:"tile"`
	Year         int           `json:"year"`
	Season       common.Season `json:"season"`
	Block        int           `json:"block"`
	Status       common.Status `json:"status"`
	ExitCode     int           `json:"exit_code"`
	Message      string        `json:"message"`
	TryCount     int           `json:"try_count"`
}

type ErrAlreadyExists struct {
	Type, ID string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Type, e.ID)
}

type ErrNotFound struct {
	Type, ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.ID)
}

type LedgerTxBackend interface {
	LedgerBackend
	// Must be call to apply transaction
	Commit() error
	// Might be called to cancel the transaction (no effect if commit has already be done)
	Rollback() error
}

type LedgerDBBackend interface {
	LedgerBackend
	StartTransaction(ctx context.Context) (LedgerTxBackend, error)
}

type Status struct {
	New, Pending, Done, Retry, Failed int64
}

// Set the number of occurences for a given status
func (s *Status) Set(status common.Status, nb int64) {
	switch status {
	case common.StatusNEW:
		s.New = nb
	case common.StatusPENDING:
		s.Pending = nb
	case common.StatusDONE:
		s.Done = nb
	case common.StatusRETRY:
		s.Retry = nb
	case common.StatusFAILED:
		s.Failed = nb
	}
}

// Total number of blocks
func (s Status) Total() int64 {
	return s.New + s.Pending + s.Done + s.Retry + s.Failed
}

// TileStatus aggregates the status of the blocks of a tile
// Priority: RETRY>PENDING>NEW>FAILED>DONE
func (s Status) TileStatus() common.Status {
	switch {
	case s.Retry > 0:
		return common.StatusRETRY
	case s.Pending > 0:
		return common.StatusPENDING
	case s.New > 0:
		return common.StatusNEW
	case s.Failed > 0:
		return common.StatusFAILED
	case s.Done > 0:
		return common.StatusDONE
	}
	return common.StatusNEW
}

type LedgerBackend interface {
	// RecordBlock creates or updates the record of a block. The try count is incremented when the block is set PENDING.
	RecordBlock(ctx context.Context, block Block) error
	// Block returns the record of a block. May return ErrNotFound
	Block(ctx context.Context, productionID, tile string, year int, season common.Season, block int) (Block, error)
	// Blocks returns the records fitting the given parameters
	// tile [optional=""] tile pattern (* and ? are supported)
	// status [optional=""] status of the block
	Blocks(ctx context.Context, productionID, tile, status string, page, limit int) ([]Block, error)
	// BlocksStatus returns the number of blocks of the tile per status
	BlocksStatus(ctx context.Context, productionID, tile string, year int, season common.Season) (Status, error)
	// DeleteBlocks deletes all the records of a tile
	DeleteBlocks(ctx context.Context, productionID, tile string) (int64, error)
}

// UnitOfWork runs a function and commit the database at the end or rollback if the function returns an error
func UnitOfWork(ctx context.Context, db LedgerDBBackend, f func(tx LedgerTxBackend) error) (err error) {
	// Start transaction
	txn, err := db.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("uow.starttransaction: %w", err)
	}

	// Rollback if not successful
	defer func() {
		if e := txn.Rollback(); err == nil {
			err = e
		}
	}()

	// Execute function
	if err = f(txn); err != nil {
		return fmt.Errorf("uow.%w", err)
	}

	return txn.Commit()
}
