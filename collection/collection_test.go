package collection

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/airbusgeo/ewoc-classif/interface/bucket"
	"github.com/go-spatial/geom"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// series returns acquisitions every step days from start, n times
func series(start time.Time, step, n int) Collection {
	var c Collection
	for i := 0; i < n; i++ {
		c = append(c, Acquisition{Date: start.AddDate(0, 0, i*step), Tile: "31TCJ"})
	}
	return c
}

const satioCSV = `date,tile,level,path,epsg,bounds
2021-01-05,31TCJ,L2A,s3://ewoc-ard-data/p/OPTICAL/31/T/CJ/2021/20210105/S2B,32631,"(300000, 4490200, 409800, 4600000)"
20210110,31TCJ,L2A,s3://ewoc-ard-data/p/OPTICAL/31/T/CJ/2021/20210110/S2A,32631,"(300000, 4490200, 409800, 4600000)"
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(satioCSV))
	if err != nil {
		t.Fatal(err)
	}
	if len(c) != 2 {
		t.Fatalf("expected 2 acquisitions, got %d", len(c))
	}
	if !c[1].Date.Equal(date(2021, 1, 10)) || c[0].EPSG != 32631 || c[0].Bounds == nil || c[0].Bounds.MaxX() != 409800 {
		t.Errorf("unexpected acquisitions: %+v", c)
	}

	file := filepath.Join(t.TempDir(), "satio_optical.csv")
	if err := c.Write(file); err != nil {
		t.Fatal(err)
	}
	if n, err := CountRows(file); err != nil || n != 2 {
		t.Errorf("expected 2 rows, got %d (%v)", n, err)
	}
	c2, err := Read(file)
	if err != nil || len(c2) != 2 || c2[1].Path != c[1].Path || *c2[0].Bounds != *c[0].Bounds {
		t.Errorf("unexpected collection read back: %+v (%v)", c2, err)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse(strings.NewReader("tile,path\n31TCJ,x\n")); err == nil {
		t.Error("expected missing date column error")
	}
	if _, err := Parse(strings.NewReader("date,bounds\n2021-01-01,\"(1, 2, 3)\"\n")); err == nil {
		t.Error("expected bounds error")
	}
	if c, err := Parse(strings.NewReader("")); err != nil || len(c) != 0 {
		t.Errorf("expected an empty collection, got %v (%v)", c, err)
	}
}

func TestMeasure(t *testing.T) {
	start, end := date(2021, 1, 1), date(2021, 12, 31)
	s := Measure(series(date(2021, 1, 11), 30, 12), start, end)
	if s.Size != 12 || s.GapStart != 10 || s.MaxGap != 30 || s.GapEnd != 24 {
		t.Errorf("unexpected stats: %+v", s)
	}
	s = Measure(nil, start, end)
	if s.Size != 0 || s.GapStart != 364 || s.MaxGap != 364 {
		t.Errorf("unexpected stats of an empty collection: %+v", s)
	}
	// the day before the window is floored to 0
	if s = Measure(series(date(2020, 12, 31), 1, 2), start, end); s.GapStart != 0 {
		t.Errorf("expected gapstart 0, got %d", s.GapStart)
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	ch := Checker{BlockSize: 512}
	start, end := date(2021, 1, 1), date(2021, 12, 31)

	full := series(date(2021, 1, 1), 6, 61)
	if ch.Check(ctx, full, "SAR", start, end, "31TCJ", 0, 60, DefaultMinSize) {
		t.Error("a complete collection must not be degraded")
	}

	// one acquisition covering the window is degraded
	if !ch.Check(ctx, series(date(2021, 6, 1), 1, 1), "TIR", start, end, "31TCJ", 0, 400, DefaultMinSize) {
		t.Error("a collection with only 1 acquisition must be degraded")
	}

	// a 90 days gap
	gappy := append(series(date(2021, 1, 1), 10, 10), series(date(2021, 6, 1), 10, 22)...)
	if !ch.Check(ctx, gappy, "SAR", start, end, "31TCJ", 0, 60, DefaultMinSize) {
		t.Error("a collection with a gap > threshold must be degraded")
	}

	// acquisitions of another tile or outside the window are ignored
	other := series(date(2021, 1, 1), 6, 61)
	for i := range other {
		other[i].Tile = "31TCK"
	}
	outside := append(other, series(date(2019, 1, 1), 6, 61)...)
	if !ch.Check(ctx, outside, "OPTICAL", start, end, "31TCJ", -1, 60, DefaultMinSize) {
		t.Error("acquisitions of another tile or year must be ignored")
	}
}

func TestCheckTIRNoData(t *testing.T) {
	ch := Checker{BlockSize: 512}
	start, end := date(2021, 1, 1), date(2021, 12, 31)
	c := series(date(2021, 1, 1), 6, 61)
	if ch.Check(context.Background(), c, "TIR", start, end, "31TCJ", 3, 60, DefaultMinSize) {
		t.Fatal("expected a complete collection")
	}
	for i := 10; i < 30; i++ {
		c[i].NoData = true
	}
	if !ch.Check(context.Background(), c, "TIR", start, end, "31TCJ", 3, 60, DefaultMinSize) {
		t.Error("no-data TIR acquisitions must be dropped")
	}
	if ch.Check(context.Background(), c, "SAR", start, end, "31TCJ", 3, 60, DefaultMinSize) {
		t.Error("no-data flag only applies to TIR")
	}
}

func TestCheckMonotonic(t *testing.T) {
	ctx := context.Background()
	ch := Checker{BlockSize: 1024}
	start, end := date(2021, 1, 1), date(2021, 12, 31)
	collections := []Collection{
		nil,
		series(date(2021, 3, 1), 45, 6),
		series(date(2021, 1, 1), 12, 31),
		append(series(date(2021, 1, 1), 5, 10), series(date(2021, 8, 1), 5, 30)...),
	}
	for i, c := range collections {
		previous := true
		for threshold := 0; threshold <= 400; threshold += 5 {
			degraded := ch.Check(ctx, c, "SAR", start, end, "31TCJ", 0, threshold, DefaultMinSize)
			if degraded && !previous {
				t.Errorf("collection %d: degraded at threshold %d but ok at a lower threshold", i, threshold)
			}
			previous = degraded
		}
	}
}

func TestCheckBlockExtent(t *testing.T) {
	ch := Checker{BlockSize: 1024}
	tileBounds := geom.Extent{300000, 4490200, 409800, 4600000}
	// acquisitions covering only the lower-right corner of the tile
	corner := geom.Extent{400000, 4490200, 409800, 4500000}
	c := series(date(2021, 1, 1), 6, 61)
	for i := range c {
		b := corner
		if i == 0 {
			b = tileBounds
		}
		c[i].Bounds = &b
	}
	start, end := date(2021, 1, 1), date(2021, 12, 31)
	if restricted, err := ch.Restrict(c, start, end, "31TCJ", 0); err != nil || len(restricted) != 1 {
		t.Errorf("upper-left block: expected 1 acquisition, got %d (%v)", len(restricted), err)
	}
	if restricted, err := ch.Restrict(c, start, end, "31TCJ", 120); err != nil || len(restricted) != 61 {
		t.Errorf("lower-right block: expected 61 acquisitions, got %d (%v)", len(restricted), err)
	}
}

func TestIndexer(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	ard, _ := bucket.NewLocalBucket(root, "ewoc-ard-data")
	aux, _ := bucket.NewLocalBucket(root, "ewoc-aux-data")
	src := filepath.Join(t.TempDir(), "band.tif")
	os.WriteFile(src, []byte("x"), 0644)
	for _, key := range []string{
		"p_1_2/OPTICAL/31/T/CJ/2021/20210110/S2A_20210110/B02.tif",
		"p_1_2/OPTICAL/31/T/CJ/2021/20210110/S2A_20210110/B03.tif",
		"p_1_2/OPTICAL/31/T/CJ/2021/20210105/S2B_20210105/B02.tif",
		"p_1_2/OPTICAL/31/T/CK/2021/20210105/S2B_20210105/B02.tif",
		"AgERA5/2021/20210101/AgERA5_tmean_20210101.tif",
		"AgERA5/2021/20210102/AgERA5_tmean_20210102.tif",
	} {
		var b = ard
		if strings.HasPrefix(key, "AgERA5") {
			b = aux
		}
		if err := b.Upload(ctx, src, key); err != nil {
			t.Fatal(err)
		}
	}
	ix := Indexer{ARD: ard, Aux: aux}
	c, err := ix.ARDCollection(ctx, "OPTICAL", "31TCJ", "p_1_2")
	if err != nil {
		t.Fatal(err)
	}
	if len(c) != 2 || !c[0].Date.Equal(date(2021, 1, 5)) || c[0].EPSG != 32631 || !strings.HasSuffix(c[1].Path, "20210110/S2A_20210110") {
		t.Errorf("unexpected collection: %+v", c)
	}
	meteo, err := ix.AgERA5Collection(ctx)
	if err != nil || len(meteo) != 2 || !strings.HasSuffix(meteo[0].Path, "AgERA5/2021/20210101") {
		t.Errorf("unexpected meteo collection: %+v (%v)", meteo, err)
	}
	if _, err := ix.ARDCollection(ctx, "SAR", "bad", "p_1_2"); err == nil {
		t.Error("expected an invalid tile error")
	}
}
