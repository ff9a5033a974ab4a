package pipeline

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/service"
)

// SetFlags configures the flags of a request.
// The returned function must be called after flag.Parse() to validate and complete the request.
func (r *Request) SetFlags(fs *flag.FlagSet) func() error {
	r.Models = common.DefaultModels()
	var pid, detector, season string
	var noUpload, noClean bool
	fs.StringVar(&r.Tile, "tile", "", "tile id (e.g. 31TCJ)")
	fs.StringVar(&pid, "production-id", "", "production id ({owner}_{aez}_{timestamp})")
	fs.StringVar(&detector, "detector", string(common.DetectorCropland), "cropland or croptype")
	fs.StringVar(&season, "season", string(common.SeasonAnnual), "annual, summer1, summer2 or winter")
	fs.IntVar(&r.Year, "year", 2021, "year of the end of the season")
	fs.StringVar(&r.Models.Cropland, "cropland-model-version", r.Models.Cropland, "version of the cropland models")
	fs.StringVar(&r.Models.Croptype, "croptype-model-version", r.Models.Croptype, "version of the croptype models")
	fs.StringVar(&r.Models.Irrigation, "irrigation-model-version", r.Models.Irrigation, "version of the irrigation models")
	fs.StringVar(&r.Inputs.OpticalCSV, "optical-csv", "", "satio csv of the optical collection (default: indexed from the ARD bucket)")
	fs.StringVar(&r.Inputs.SARCSV, "sar-csv", "", "satio csv of the SAR collection (default: indexed from the ARD bucket)")
	fs.StringVar(&r.Inputs.TIRCSV, "tir-csv", "", "satio csv of the TIR collection (default: indexed from the ARD bucket)")
	fs.StringVar(&r.Inputs.AgERA5CSV, "agera5-csv", "", "satio csv of the AgERA5 collection (default: indexed from the aux bucket)")
	fs.StringVar(&r.Inputs.DataFolder, "data-folder", "", "local folder of the auxiliary data (DEM, cropland masks)")
	fs.BoolVar(&r.UseExistingFeatures, "use-existing-features", false, "reuse the features already computed")
	fs.BoolVar(&noUpload, "no-upload", false, "do not upload the results")
	fs.BoolVar(&noClean, "no-clean", false, "keep the working directory")
	fs.BoolVar(&r.UploadLogs, "upload-logs", false, "upload the logs of the engine")
	fs.StringVar(&r.OutDir, "out-dir", "", "working directory (default: a temporary directory)")

	return func() error {
		var err error
		r.Upload, r.Clean = !noUpload, !noClean
		r.ProductionID = common.ProductionID(pid)
		if r.Tile == "" {
			err = service.MergeErrors(true, err, service.MakeConfigurationError(fmt.Errorf("missing tile flag")))
		}
		if pid == "" {
			err = service.MergeErrors(true, err, service.MakeConfigurationError(fmt.Errorf("missing production-id flag")))
		}
		if d, e := common.ParseDetector(detector); e != nil {
			err = service.MergeErrors(true, err, service.MakeConfigurationError(e))
		} else {
			r.Detector = d
		}
		if s, e := common.ParseSeason(season); e != nil {
			err = service.MergeErrors(true, err, service.MakeConfigurationError(e))
		} else {
			r.Season = s
		}
		return err
	}
}

// ParseBlocks parses a comma-separated list of block ids
func ParseBlocks(s string) ([]int, error) {
	var blocks []int
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b == "" {
			continue
		}
		id, err := strconv.Atoi(b)
		if err != nil || id < 0 {
			return nil, service.MakeConfigurationError(fmt.Errorf("invalid block id: %s", b))
		}
		blocks = append(blocks, id)
	}
	return blocks, nil
}
