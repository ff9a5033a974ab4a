package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/airbusgeo/ewoc-classif/common"
	db "github.com/airbusgeo/ewoc-classif/interface/database"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/lib/pq"
)

// pgInterface allows to use either a sql.DB or a sql.Tx
type pgInterface interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// BackendTx implements LedgerTxBackend
type BackendTx struct {
	*sql.Tx
	Backend
}

// BackendDB implements LedgerDBBackend
type BackendDB struct {
	*sql.DB
	Backend
}

// Backend implements LedgerBackend
type Backend struct {
	pgInterface
}

/* http://www.postgresql.org/docs/9.3/static/errcodes-appendix.html */
const (
	noError             = "00000"
	connectionFailure   = "08006"
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
	invalidTextRepr     = "22P02"

	notPqError = "X"
)

func pqErrorCode(err error) pq.ErrorCode {
	if err == nil {
		return noError
	}
	var pqerr *pq.Error
	if errors.As(err, &pqerr) {
		return pqerr.Code
	}
	return notPqError
}

// wrapError qualifies the error: connection failures are temporary
func wrapError(err error, format string, args ...interface{}) error {
	err = fmt.Errorf(format+": %w", append(args, err)...)
	if pqErrorCode(errors.Unwrap(err)) == connectionFailure {
		return service.MakeTemporary(err)
	}
	return err
}

// New creates a new backend using Postgres
func New(ctx context.Context, dbConnection string) (*BackendDB, error) {
	sqldb, err := sql.Open("postgres", dbConnection)
	if err != nil {
		return nil, fmt.Errorf("sql.open: %w", err)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("pg.New.Ping: %w", err))
	}
	return &BackendDB{sqldb, Backend{pgInterface: sqldb}}, nil
}

// StartTransaction implements LedgerDBBackend
func (bdb BackendDB) StartTransaction(ctx context.Context) (db.LedgerTxBackend, error) {
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return BackendTx{}, err
	}
	return BackendTx{tx, Backend{pgInterface: tx}}, nil
}

// Rollback overloads sql.Tx.Rollback to be idempotent
func (btx BackendTx) Rollback() error {
	err := btx.Tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// RecordBlock implements LedgerBackend
func (b Backend) RecordBlock(ctx context.Context, block db.Block) error {
	tries := 0
	if block.Status == common.StatusPENDING {
		tries = 1
	}
	_, err := b.ExecContext(ctx,
		"INSERT INTO ewoc_blocks (production_id, tile, year, season, block, status, exit_code, message, try_count)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)"+
			" ON CONFLICT (production_id, tile, year, season, block) DO UPDATE SET"+
			" status = EXCLUDED.status, exit_code = EXCLUDED.exit_code, message = EXCLUDED.message, updated_at = now(),"+
			" try_count = ewoc_blocks.try_count + EXCLUDED.try_count",
		block.ProductionID, block.Tile, block.Year, string(block.Season), block.Block, block.Status.String(), block.ExitCode, block.Message, tries)
	switch pqErrorCode(err) {
	case noError:
		return nil
	case invalidTextRepr:
		return fmt.Errorf("RecordBlock: invalid status %s: %w", block.Status, err)
	default:
		return wrapError(err, "RecordBlock[%s/%s/%d]", block.ProductionID, block.Tile, block.Block)
	}
}

const blockColumns = "production_id, tile, year, season, block, status, exit_code, message, try_count"

func scanBlock(row interface{ Scan(dest ...interface{}) error }) (db.Block, error) {
	var b db.Block
	var season string
	err := row.Scan(&b.ProductionID, &b.Tile, &b.Year, &season, &b.Block, &b.Status, &b.ExitCode, &b.Message, &b.TryCount)
	b.Season = common.Season(season)
	return b, err
}

// Block implements LedgerBackend
func (b Backend) Block(ctx context.Context, productionID, tile string, year int, season common.Season, block int) (db.Block, error) {
	blk, err := scanBlock(b.QueryRowContext(ctx,
		"SELECT "+blockColumns+" FROM ewoc_blocks WHERE production_id = $1 AND tile = $2 AND year = $3 AND season = $4 AND block = $5",
		productionID, tile, year, string(season), block))
	if errors.Is(err, sql.ErrNoRows) {
		return blk, db.ErrNotFound{Type: "block", ID: fmt.Sprintf("%s/%s/%d_%s/%d", productionID, tile, year, season, block)}
	}
	if err != nil {
		return blk, wrapError(err, "Block.Scan")
	}
	return blk, nil
}

// Blocks implements LedgerBackend
func (b Backend) Blocks(ctx context.Context, productionID, tile, status string, page, limit int) ([]db.Block, error) {
	wc := joinClause{}
	wc.append("production_id = $%d", productionID)
	if tile != "" {
		tile, operator := parseLike(tile)
		wc.append("tile "+operator+" $%d", tile)
	}
	if status != "" {
		wc.append("status = $%d", status)
	}
	rows, err := b.QueryContext(ctx, "SELECT "+blockColumns+" FROM ewoc_blocks"+wc.WhereClause()+
		" ORDER BY tile, year, season, block"+limitOffsetClause(page, limit), wc.Parameters...)
	if err != nil {
		return nil, wrapError(err, "Blocks.QueryContext")
	}
	defer rows.Close()
	blocks := []db.Block{}
	for rows.Next() {
		blk, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("Blocks.Scan: %w", err)
		}
		blocks = append(blocks, blk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Blocks.rows.err: %w", err)
	}
	return blocks, nil
}

// BlocksStatus implements LedgerBackend
func (b Backend) BlocksStatus(ctx context.Context, productionID, tile string, year int, season common.Season) (db.Status, error) {
	status := db.Status{}
	rows, err := b.QueryContext(ctx,
		"SELECT status, count(*) FROM ewoc_blocks WHERE production_id = $1 AND tile = $2 AND year = $3 AND season = $4 AND block <> $5 GROUP BY status",
		productionID, tile, year, string(season), db.MosaicBlock)
	if err != nil {
		return status, wrapError(err, "BlocksStatus.QueryContext")
	}
	defer rows.Close()
	for rows.Next() {
		var s common.Status
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return status, fmt.Errorf("BlocksStatus.Scan: %w", err)
		}
		status.Set(s, n)
	}
	if err := rows.Err(); err != nil {
		return status, fmt.Errorf("BlocksStatus.rows.err: %w", err)
	}
	return status, nil
}

// DeleteBlocks implements LedgerBackend
func (b Backend) DeleteBlocks(ctx context.Context, productionID, tile string) (int64, error) {
	res, err := b.ExecContext(ctx, "DELETE FROM ewoc_blocks WHERE production_id = $1 AND tile = $2", productionID, tile)
	if err != nil {
		return 0, wrapError(err, "DeleteBlocks.ExecContext")
	}
	return res.RowsAffected()
}
