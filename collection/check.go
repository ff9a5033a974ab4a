package collection

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"github.com/go-spatial/geom"
	"go.uber.org/zap"
)

// DefaultMinSize is the minimum number of acquisitions of a usable collection
const DefaultMinSize = 2

// Stats of the temporal coverage of a collection (gaps in days)
type Stats struct {
	Size     int
	GapStart int
	GapEnd   int
	MaxGap   int
}

// Checker checks the completeness of the collections over the blocks of a tile
type Checker struct {
	BlockSize int
}

func days(d time.Duration) int {
	return int(math.Max(0, math.Floor(d.Hours()/24)))
}

// Measure returns the coverage of the (sorted) collection over [start, end]
func Measure(c Collection, start, end time.Time) Stats {
	if len(c) == 0 {
		gap := days(end.Sub(start))
		return Stats{GapStart: gap, GapEnd: gap, MaxGap: gap}
	}
	s := Stats{
		Size:     len(c),
		GapStart: days(c[0].Date.Sub(start)),
		GapEnd:   days(end.Sub(c[len(c)-1].Date)),
	}
	for i := 1; i < len(c); i++ {
		if gap := days(c[i].Date.Sub(c[i-1].Date)); gap > s.MaxGap {
			s.MaxGap = gap
		}
	}
	return s
}

// Restrict returns the acquisitions of the tile whose bounds intersect the block extent
// and whose date is in [start-1day, end+1day). The result is sorted by date.
// If block is negative, the whole tile is kept.
func (ch Checker) Restrict(c Collection, start, end time.Time, tile string, block int) (Collection, error) {
	var blockExtent *geom.Extent
	if block >= 0 {
		if tileExtent := c.tileExtent(tile); tileExtent != nil {
			e, err := common.BlockExtent(*tileExtent, ch.BlockSize, block)
			if err != nil {
				return nil, err
			}
			blockExtent = &e
		}
	}
	from, to := start.AddDate(0, 0, -1), end.AddDate(0, 0, 1)
	var res Collection
	for _, a := range c {
		if a.Tile != "" && tile != "" && a.Tile != tile {
			continue
		}
		if a.Date.Before(from) || !a.Date.Before(to) {
			continue
		}
		if blockExtent != nil && a.Bounds != nil && !intersects(*blockExtent, *a.Bounds) {
			continue
		}
		res = append(res, a)
	}
	res.Sort()
	return res, nil
}

// Check returns true if the collection is degraded, i.e. it cannot be trusted on the block
// over the window [start, end]: less than minSize acquisitions, or a gap greater than failThreshold days.
// Each triggering condition is logged as a warning.
func (ch Checker) Check(ctx context.Context, c Collection, name string, start, end time.Time, tile string, block, failThreshold, minSize int) bool {
	logger := log.Logger(ctx).With(zap.String("collection", name), zap.String("tile", tile), zap.Int("block", block))
	restricted, err := ch.Restrict(c, start, end, tile, block)
	if err != nil {
		logger.Warn("unable to restrict the collection to the block", zap.Error(err))
		return true
	}
	if strings.EqualFold(name, common.CollectionTIR) {
		restricted = withData(restricted)
	}
	stats := Measure(restricted, start, end)

	degraded := false
	if stats.Size < minSize {
		logger.Sugar().Warnf("%s collection is too small: %d acquisitions (< %d)", name, stats.Size, minSize)
		degraded = true
	}
	if stats.GapStart > failThreshold {
		logger.Sugar().Warnf("%s collection starts too late: %d days after %s (> %d)", name, stats.GapStart, start.Format("2006-01-02"), failThreshold)
		degraded = true
	}
	if stats.GapEnd > failThreshold {
		logger.Sugar().Warnf("%s collection ends too early: %d days before %s (> %d)", name, stats.GapEnd, end.Format("2006-01-02"), failThreshold)
		degraded = true
	}
	if stats.MaxGap > failThreshold {
		logger.Sugar().Warnf("%s collection has a gap of %d days (> %d)", name, stats.MaxGap, failThreshold)
		degraded = true
	}
	return degraded
}

func withData(c Collection) Collection {
	var res Collection
	for _, a := range c {
		if !a.NoData {
			res = append(res, a)
		}
	}
	return res
}

// tileExtent returns the union of the bounds of the acquisitions of the tile, nil if unknown
func (c Collection) tileExtent(tile string) *geom.Extent {
	var e *geom.Extent
	for _, a := range c {
		if a.Bounds == nil || (a.Tile != "" && tile != "" && a.Tile != tile) {
			continue
		}
		if e == nil {
			b := *a.Bounds
			e = &b
			continue
		}
		*e = geom.Extent{
			math.Min(e.MinX(), a.Bounds.MinX()), math.Min(e.MinY(), a.Bounds.MinY()),
			math.Max(e.MaxX(), a.Bounds.MaxX()), math.Max(e.MaxY(), a.Bounds.MaxY()),
		}
	}
	return e
}

func intersects(a, b geom.Extent) bool {
	return a.MinX() < b.MaxX() && b.MinX() < a.MaxX() && a.MinY() < b.MaxY() && b.MinY() < a.MaxY()
}
