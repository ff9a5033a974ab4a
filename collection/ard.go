package collection

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
)

// Levels of the ARD products, by collection
var levels = map[string]string{
	common.CollectionOptical: "L2A",
	common.CollectionSAR:     "SIGMA0",
	common.CollectionTIR:     "L2SP",
	common.CollectionMeteo:   "DAILY",
}

var tileRe = regexp.MustCompile(`^(\d{1,2})([C-X])([A-Z]{2})$`)

// TilePrefix returns the path of a tile in the ARD bucket: 31TCJ => 31/T/CJ
func TilePrefix(tile string) (string, error) {
	m := tileRe.FindStringSubmatch(strings.ToUpper(tile))
	if m == nil {
		return "", fmt.Errorf("invalid tile id: %s", tile)
	}
	return path.Join(m[1], m[2], m[3]), nil
}

// TileEPSG returns the UTM projection of the tile
func TileEPSG(tile string) (int, error) {
	m := tileRe.FindStringSubmatch(strings.ToUpper(tile))
	if m == nil {
		return 0, fmt.Errorf("invalid tile id: %s", tile)
	}
	zone, _ := strconv.Atoi(m[1])
	if m[2] >= "N" {
		return 32600 + zone, nil
	}
	return 32700 + zone, nil
}

var dateRe = regexp.MustCompile(`^\d{8}$`)

// Indexer derives the collections from the ARD and auxiliary-data buckets
type Indexer struct {
	ARD service.Bucket
	Aux service.Bucket
}

// ARDCollection lists the products of a kind (OPTICAL, SAR or TIR) of the tile in the ARD bucket
// Layout: {production_id}/{kind}/{zone}/{band}/{square}/{year}/{yyyymmdd}/{product}/...
func (ix Indexer) ARDCollection(ctx context.Context, kind, tile, productionID string) (Collection, error) {
	tilePrefix, err := TilePrefix(tile)
	if err != nil {
		return nil, service.MakeConfigurationError(err)
	}
	epsg, _ := TileEPSG(tile)
	prefix := path.Join(productionID, kind, tilePrefix) + "/"
	keys, err := ix.ARD.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("ARDCollection.%w", err)
	}
	c := index(keys, prefix, func(date time.Time, product string) Acquisition {
		return Acquisition{
			Date:  date,
			Tile:  tile,
			Level: levels[kind],
			Path:  ix.ARD.URI(prefix + product),
			EPSG:  epsg,
		}
	})
	log.Logger(ctx).Sugar().Debugf("%d %s acquisitions found in %s", len(c), kind, ix.ARD.URI(prefix))
	return c, nil
}

// AgERA5Collection lists the daily meteo products of the auxiliary bucket: AgERA5/{year}/{yyyymmdd}/...
func (ix Indexer) AgERA5Collection(ctx context.Context) (Collection, error) {
	prefix := "AgERA5/"
	keys, err := ix.Aux.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("AgERA5Collection.%w", err)
	}
	return index(keys, prefix, func(date time.Time, product string) Acquisition {
		return Acquisition{
			Date:  date,
			Level: levels[common.CollectionMeteo],
			Path:  ix.Aux.URI(prefix + product),
		}
	}), nil
}

// index groups the keys by product: the first directory after the date directory
// (or the date directory itself, if there is no product directory)
func index(keys []string, prefix string, newAcquisition func(date time.Time, product string) Acquisition) Collection {
	var c Collection
	seen := service.StringSet{}
	for _, key := range keys {
		parts := strings.Split(strings.TrimPrefix(key, prefix), "/")
		for i, p := range parts {
			if !dateRe.MatchString(p) || i+1 >= len(parts) {
				continue
			}
			date, err := time.Parse("20060102", p)
			if err != nil {
				break
			}
			end := i + 1
			if i+2 < len(parts) {
				end = i + 2
			}
			product := path.Join(parts[:end]...)
			if !seen.Exists(product) {
				seen.Push(product)
				c = append(c, newAcquisition(date, product))
			}
			break
		}
	}
	c.Sort()
	return c
}
