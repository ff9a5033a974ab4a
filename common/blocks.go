package common

import (
	"fmt"

	"github.com/go-spatial/geom"
)

// TileSize is the side of a tile in meters
const TileSize = 109800.

// Supported block sizes (in pixels)
const (
	BlockSize512  = 512
	BlockSize1024 = 1024
)

// ErrUnsupportedBlockSize is returned for block sizes other than 512 and 1024
type ErrUnsupportedBlockSize struct {
	Size int
}

func (e ErrUnsupportedBlockSize) Error() string {
	return fmt.Sprintf("unsupported block size: %d", e.Size)
}

// BlocksPerSide returns the number of blocks along a side of the tile
func BlocksPerSide(blockSize int) (int, error) {
	switch blockSize {
	case BlockSize512:
		return 22, nil
	case BlockSize1024:
		return 11, nil
	}
	return 0, ErrUnsupportedBlockSize{blockSize}
}

// BlockRange returns all the block ids of a tile: 0..483 for 512, 0..120 for 1024
func BlockRange(blockSize int) ([]int, error) {
	n, err := BlocksPerSide(blockSize)
	if err != nil {
		return nil, err
	}
	ids := make([]int, n*n)
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}

// BlockExtent returns the extent of the block given the extent of the tile.
// Blocks are numbered row-major from the upper-left corner.
func BlockExtent(tile geom.Extent, blockSize, block int) (geom.Extent, error) {
	n, err := BlocksPerSide(blockSize)
	if err != nil {
		return geom.Extent{}, err
	}
	if block < 0 || block >= n*n {
		return geom.Extent{}, fmt.Errorf("block %d out of range [0, %d]", block, n*n-1)
	}
	row, col := block/n, block%n
	dx, dy := tile.XSpan()/float64(n), tile.YSpan()/float64(n)
	return geom.Extent{
		tile.MinX() + float64(col)*dx,
		tile.MaxY() - float64(row+1)*dy,
		tile.MinX() + float64(col+1)*dx,
		tile.MaxY() - float64(row)*dy,
	}, nil
}
