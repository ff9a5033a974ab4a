package common

import (
	"fmt"
	"strings"
	"time"
)

// Detector is the kind of classifier to run
type Detector string

const (
	DetectorCropland Detector = "cropland"
	DetectorCroptype Detector = "croptype"
)

// ParseDetector returns the detector from the user input
func ParseDetector(s string) (Detector, error) {
	switch d := Detector(strings.ToLower(s)); d {
	case DetectorCropland, DetectorCroptype:
		return d, nil
	}
	return "", fmt.Errorf("unsupported detector: %s", s)
}

// Season of the classification
type Season string

const (
	SeasonAnnual  Season = "annual"
	SeasonSummer1 Season = "summer1"
	SeasonSummer2 Season = "summer2"
	SeasonWinter  Season = "winter"
)

// ParseSeason returns the season from the user input
func ParseSeason(s string) (Season, error) {
	switch season := Season(strings.ToLower(s)); season {
	case SeasonAnnual, SeasonSummer1, SeasonSummer2, SeasonWinter:
		return season, nil
	}
	return "", fmt.Errorf("unsupported season: %s", s)
}

// ProcessingWindow returns the default [start, end] acquisition window of a season ending in year
func ProcessingWindow(season Season, year int) (time.Time, time.Time, error) {
	date := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	switch season {
	case SeasonAnnual:
		return date(year, time.January, 1), date(year, time.December, 31), nil
	case SeasonSummer1:
		return date(year, time.March, 1), date(year, time.September, 30), nil
	case SeasonSummer2:
		return date(year, time.June, 1), date(year, time.December, 31), nil
	case SeasonWinter:
		return date(year-1, time.October, 1), date(year, time.July, 31), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("ProcessingWindow: unsupported season: %s", season)
}

// Collection kinds, as used in the engine configuration inputs
const (
	CollectionOptical = "OPTICAL"
	CollectionSAR     = "SAR"
	CollectionTIR     = "TIR"
	CollectionDEM     = "DEM"
	CollectionMeteo   = "METEO"
)
