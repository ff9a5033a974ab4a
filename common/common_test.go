package common

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-spatial/geom"
)

func TestAEZ(t *testing.T) {
	for id, expected := range map[ProductionID]int{
		"c728b264-5c97-4f4c-81fe-1500d4c4dfbd_7005_20220926141535": 7005,
		"my_user_42_20220926141535":                                42,
		"x_0_1":                                                    0,
	} {
		if aez, err := id.AEZ(); err != nil {
			t.Errorf("%s: %v", id, err)
		} else if aez != expected {
			t.Errorf("%s: expected %d, got %d", id, expected, aez)
		}
	}
}

func TestAEZMalformed(t *testing.T) {
	for _, id := range []ProductionID{"", "7005_20220926", "run_zone_20220926", "run__20220926", "run_-3_20220926", "run_+12_20220926", "run_1 2_20220926", "run_0x1F_20220926"} {
		_, err := id.AEZ()
		if !errors.As(err, &ErrMalformedProductionID{}) {
			t.Errorf("%q: expected ErrMalformedProductionID, got %v", id, err)
		}
	}
}

func TestOwner(t *testing.T) {
	if owner, err := ProductionID("c728b264_user_7005_20220926141535").Owner(); err != nil || owner != "c728b264_user" {
		t.Errorf("expected c728b264_user, got %s (%v)", owner, err)
	}
	if owner, err := OwnerFromRoot("s3://ewoc-prd/c728b264_7005_20220926141535/"); err != nil || owner != "c728b264" {
		t.Errorf("expected c728b264, got %s (%v)", owner, err)
	}
	if _, err := OwnerFromRoot("s3://ewoc-prd/c728b264"); err == nil {
		t.Error("expected an error")
	}
}

func TestBlockRange(t *testing.T) {
	for size, count := range map[int]int{512: 484, 1024: 121} {
		ids, err := BlockRange(size)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != count || ids[0] != 0 || ids[len(ids)-1] != count-1 {
			t.Errorf("%d: expected ids 0..%d, got %d ids", size, count-1, len(ids))
		}
	}
	for _, size := range []int{0, 256, 513, 2048} {
		if ids, err := BlockRange(size); err == nil || len(ids) != 0 {
			t.Errorf("%d: expected an error", size)
		}
	}
}

func TestBlockExtent(t *testing.T) {
	tile := geom.Extent{300000, 4490200, 409800, 4600000}
	first, err := BlockExtent(tile, 1024, 0)
	if err != nil {
		t.Fatal(err)
	}
	if first.MinX() != 300000 || first.MaxY() != 4600000 || math.Abs(first.XSpan()-109800./11) > 1e-6 {
		t.Errorf("unexpected first block extent: %v", first)
	}
	last, err := BlockExtent(tile, 1024, 120)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(last.MaxX()-409800) > 1e-6 || math.Abs(last.MinY()-4490200) > 1e-6 {
		t.Errorf("unexpected last block extent: %v", last)
	}
	if _, err := BlockExtent(tile, 1024, 121); err == nil {
		t.Error("expected out of range error")
	}
}

func TestProcessingWindow(t *testing.T) {
	start, end, err := ProcessingWindow(SeasonWinter, 2021)
	if err != nil {
		t.Fatal(err)
	}
	if !start.Equal(time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2021, 7, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected winter window: %v %v", start, end)
	}
	if _, _, err := ProcessingWindow("spring", 2021); err == nil {
		t.Error("expected an error")
	}
}

func TestParse(t *testing.T) {
	if d, err := ParseDetector("CropType"); err != nil || d != DetectorCroptype {
		t.Errorf("expected croptype, got %s (%v)", d, err)
	}
	if _, err := ParseDetector("irrigation"); err == nil {
		t.Error("expected an error")
	}
	if s, err := ParseSeason("summer2"); err != nil || s != SeasonSummer2 {
		t.Errorf("expected summer2, got %s (%v)", s, err)
	}
}

func TestStatus(t *testing.T) {
	s, err := StatusString("DONE")
	if err != nil || s != StatusDONE || !s.Final() {
		t.Errorf("expected final DONE, got %v (%v)", s, err)
	}
	if StatusRETRY.Final() {
		t.Error("RETRY is not final")
	}
}
