package common

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

const (
	ResultTypeBlock  = "block"
	ResultTypeMosaic = "mosaic"
)

// Models versions of the classifiers
type Models struct {
	Cropland   string `json:"cropland"`
	Croptype   string `json:"croptype"`
	Irrigation string `json:"irrigation"`
}

// DefaultModels returns the default versions of the models
func DefaultModels() Models {
	return Models{Cropland: "v700", Croptype: "v720", Irrigation: "v420"}
}

// Inputs are the references to the collections, empty to derive them from the ARD bucket
type Inputs struct {
	OpticalCSV string `json:"optical_csv,omitempty"`
	SARCSV     string `json:"sar_csv,omitempty"`
	TIRCSV     string `json:"tir_csv,omitempty"`
	AgERA5CSV  string `json:"agera5_csv,omitempty"`
	DataFolder string `json:"data_folder,omitempty"`
}

// BlockJob is the payload of a job: the classification of blocks of a tile, or the mosaic of a tile.
type BlockJob struct {
	ID                  string       `json:"id"`
	Tile                string       `json:"tile"`
	ProductionID        ProductionID `json:"production_id"`
	Blocks              []int        `json:"blocks,omitempty"`
	Detector            Detector     `json:"detector"`
	Season              Season       `json:"season"`
	Year                int          `json:"year"`
	Models              Models       `json:"models"`
	Inputs              Inputs       `json:"inputs,omitempty"`
	UseExistingFeatures bool         `json:"use_existing_features"`
	Mosaic              bool         `json:"mosaic"`
	NotifyCatalog       bool         `json:"notify_catalog"`
	UploadLogs          bool         `json:"upload_logs"`
}

// ResultType returns the type of the result of the job
func (j BlockJob) ResultType() string {
	if j.Mosaic {
		return ResultTypeMosaic
	}
	return ResultTypeBlock
}

type Result struct {
	Type    string `json:"type"` // block (ResultTypeBlock) or mosaic (ResultTypeMosaic)
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Value implements the driver.Value interface
func (m Models) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface.
func (m *Models) Scan(value interface{}) error {
	if value == nil {
		*m = Models{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &m)
}
