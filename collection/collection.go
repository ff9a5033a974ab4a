package collection

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom"
)

// Acquisition is a dated product of a collection
type Acquisition struct {
	Date   time.Time
	Tile   string
	Level  string
	Path   string
	EPSG   int
	Bounds *geom.Extent // nil if unknown (the acquisition covers the whole tile)
	NoData bool
}

// Collection is a time series of acquisitions, as indexed in a satio csv file
type Collection []Acquisition

var header = []string{"date", "tile", "level", "path", "epsg", "bounds", "nodata"}

// Sort sorts the collection by date
func (c Collection) Sort() {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Date.Before(c[j].Date) })
}

// Read a satio csv file. The columns are identified by the header.
func Read(file string) (Collection, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("collection.Read: %w", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("collection.Read[%s]: %w", file, err)
	}
	return c, nil
}

// Parse a satio csv stream
func Parse(r io.Reader) (Collection, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	head, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range head {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["date"]; !ok {
		return nil, fmt.Errorf("header: missing date column")
	}
	get := func(record []string, name string) string {
		if i, ok := cols[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	var c Collection
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		a := Acquisition{
			Tile:  get(record, "tile"),
			Level: get(record, "level"),
			Path:  get(record, "path"),
		}
		if a.Date, err = dateparse.ParseIn(get(record, "date"), time.UTC); err != nil {
			return nil, fmt.Errorf("line %d: date: %w", line, err)
		}
		if epsg := get(record, "epsg"); epsg != "" {
			if a.EPSG, err = strconv.Atoi(epsg); err != nil {
				return nil, fmt.Errorf("line %d: epsg: %w", line, err)
			}
		}
		if a.Bounds, err = parseBounds(get(record, "bounds")); err != nil {
			return nil, fmt.Errorf("line %d: bounds: %w", line, err)
		}
		if nodata := get(record, "nodata"); nodata != "" {
			if a.NoData, err = strconv.ParseBool(nodata); err != nil {
				return nil, fmt.Errorf("line %d: nodata: %w", line, err)
			}
		}
		c = append(c, a)
	}
	return c, nil
}

// Write the collection as a satio csv file
func (c Collection) Write(file string) error {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("collection.Write: %w", err)
	}
	w := csv.NewWriter(f)
	w.Write(header)
	for _, a := range c {
		epsg := ""
		if a.EPSG != 0 {
			epsg = strconv.Itoa(a.EPSG)
		}
		w.Write([]string{a.Date.Format("2006-01-02"), a.Tile, a.Level, a.Path, epsg, formatBounds(a.Bounds), strconv.FormatBool(a.NoData)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("collection.Write[%s]: %w", file, err)
	}
	return f.Close()
}

// CountRows returns the number of rows of a csv file (header excluded)
func CountRows(file string) (int, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, fmt.Errorf("CountRows: %w", err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	n := -1
	for {
		if _, err := reader.Read(); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return 0, fmt.Errorf("CountRows[%s]: %w", file, err)
		}
		n++
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// parseBounds parses "(minx, miny, maxx, maxy)" or "[minx, miny, maxx, maxy]"
func parseBounds(s string) (*geom.Extent, error) {
	s = strings.Trim(s, "()[] ")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("expecting 4 values, got %d", len(parts))
	}
	var e geom.Extent
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		e[i] = v
	}
	return &e, nil
}

func formatBounds(e *geom.Extent) string {
	if e == nil {
		return ""
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return fmt.Sprintf("(%s, %s, %s, %s)", f(e.MinX()), f(e.MinY()), f(e.MaxX()), f(e.MaxY()))
}
