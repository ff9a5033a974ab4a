package classif

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"go.uber.org/zap"
)

const (
	modelFamily      = "WorldCerealPixelCatBoost"
	modelDetector    = "detector_" + modelFamily
	opticalSuffix    = "-OPTICAL"
	annualCropland   = "annualcropland"
	irrigationModel  = "irrigation"
	auxDataNamespace = "s3://ewoc-aux-data"
)

// FilterSettings of the post-classification majority filter
type FilterSettings struct {
	KernelSize    int     `json:"kernelsize"`
	ConfThreshold float64 `json:"conf_threshold"`
}

// Parameters of the processing engine
type Parameters struct {
	Year                int               `json:"year"`
	Season              common.Season     `json:"season"`
	FeatureSettings     common.Detector   `json:"featuresettings"`
	SaveConfidence      bool              `json:"save_confidence"`
	SaveFeatures        bool              `json:"save_features"`
	LocalModels         bool              `json:"localmodels"`
	Segment             bool              `json:"segment"`
	DecisionThreshold   float64           `json:"decision_threshold"`
	FilterSettings      FilterSettings    `json:"filtersettings"`
	FeaturesDir         string            `json:"features_dir"`
	UseExistingFeatures bool              `json:"use_existing_features"`
	ActiveMarker        bool              `json:"active_marker,omitempty"`
	CroplandMask        string            `json:"cropland_mask,omitempty"`
	Irrigation          *bool             `json:"irrigation,omitempty"`
	IrrParameters       string            `json:"irrparameters,omitempty"`
	IrrModels           map[string]string `json:"irrmodels,omitempty"`
}

// Config is the configuration file handed to the processing engine
type Config struct {
	Parameters Parameters        `json:"parameters"`
	Inputs     map[string]string `json:"inputs"`
	Models     map[string]string `json:"models"`
}

// ConfigRequest gathers all the inputs of BuildConfig
type ConfigRequest struct {
	Detector     common.Detector
	Year         int
	Season       common.Season
	ProductionID common.ProductionID
	Models       common.Models
	// Inputs maps a collection name (common.Collection*) to its reference
	Inputs              map[string]string
	FeaturesDir         string
	NoTIR               bool
	NoSAR               bool
	UseExistingFeatures bool
	AddExtraCroptype    bool
	ModelsRoot          string
	DevMode             bool
}

// croptypeModels returns the croptype classifiers of the season
func croptypeModels(season common.Season, extra bool) ([]string, error) {
	switch season {
	case common.SeasonSummer1:
		if extra {
			return []string{"maize", "springcereals", "sunflower"}, nil
		}
		return []string{"maize", "springcereals"}, nil
	case common.SeasonSummer2:
		return []string{"maize"}, nil
	case common.SeasonWinter:
		if extra {
			return []string{"wintercereals", "rapeseed"}, nil
		}
		return []string{"wintercereals"}, nil
	}
	return nil, service.MakeConfigurationError(fmt.Errorf("no croptype model for season %s", season))
}

func modelURI(root, version, name, suffix string, withConfig bool) string {
	uri := fmt.Sprintf("%s/models/%s/%s/%s_%s_%s%s", strings.TrimSuffix(root, "/"), modelFamily, version, name, modelDetector, version, suffix)
	if withConfig {
		uri += "/config.json"
	}
	return uri
}

// BuildConfig builds the configuration of the processing engine.
// It does not depend on anything else than the request.
func BuildConfig(req ConfigRequest) (Config, error) {
	root := req.ModelsRoot
	if root == "" {
		root = DefaultModelsRoot
	}
	optical := ""
	if req.NoSAR {
		optical = opticalSuffix
	}
	inputs := make(map[string]string, len(req.Inputs))
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	if req.NoTIR {
		delete(inputs, common.CollectionTIR)
	}
	if req.NoSAR {
		delete(inputs, common.CollectionSAR)
	}

	params := Parameters{
		Year:                req.Year,
		Season:              req.Season,
		FeatureSettings:     req.Detector,
		SaveConfidence:      true,
		SaveFeatures:        true,
		LocalModels:         true,
		Segment:             false,
		DecisionThreshold:   0.7,
		FeaturesDir:         req.FeaturesDir,
		UseExistingFeatures: req.UseExistingFeatures,
	}
	models := map[string]string{}

	switch req.Detector {
	case common.DetectorCropland:
		params.LocalModels = false
		params.FilterSettings = FilterSettings{KernelSize: 3, ConfThreshold: 0.85}
		models[annualCropland] = modelURI(root, req.Models.Cropland, "cropland", "-realms"+optical, false)
	case common.DetectorCroptype:
		croptypes, err := croptypeModels(req.Season, req.AddExtraCroptype)
		if err != nil {
			return Config{}, fmt.Errorf("BuildConfig: %w", err)
		}
		params.FilterSettings = FilterSettings{KernelSize: 7, ConfThreshold: 0.75}
		params.ActiveMarker = true
		params.CroplandMask = CroplandMaskRoot(req.DevMode) + "/" + req.ProductionID.String()
		irrigation := !req.NoTIR
		params.Irrigation = &irrigation
		if irrigation {
			params.IrrParameters = irrigationModel
			params.IrrModels = map[string]string{
				irrigationModel: modelURI(root, req.Models.Irrigation, irrigationModel, "", true),
			}
		}
		for _, name := range croptypes {
			models[name] = modelURI(root, req.Models.Croptype, name, optical, true)
		}
	default:
		return Config{}, service.MakeConfigurationError(fmt.Errorf("BuildConfig: unsupported detector: %s", req.Detector))
	}
	return Config{Parameters: params, Inputs: inputs, Models: models}, nil
}

// ApplyDataFolder redirects the auxiliary data (DEM and cropland mask) to a local folder
func (c *Config) ApplyDataFolder(ctx context.Context, folder string) {
	if folder == "" {
		return
	}
	if dem, ok := c.Inputs[common.CollectionDEM]; ok {
		c.Inputs[common.CollectionDEM] = strings.Replace(dem, auxDataNamespace, strings.TrimSuffix(folder, "/"), 1)
		log.Logger(ctx).Debug("DEM redirected", zap.String("from", dem), zap.String("to", c.Inputs[common.CollectionDEM]))
	}
	if c.Parameters.FeatureSettings == common.DetectorCroptype && c.Parameters.CroplandMask != "" {
		old := c.Parameters.CroplandMask
		c.Parameters.CroplandMask = filepath.Join(folder, path.Base(old))
		log.Logger(ctx).Debug("cropland mask redirected", zap.String("from", old), zap.String("to", c.Parameters.CroplandMask))
	}
}

// Marshal returns the indented json representation of the config
func (c Config) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "    ")
}

// Save writes the config to file
func (c Config) Save(file string) error {
	b, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("Config.Save: %w", err)
	}
	if err := service.MkParentDir(file); err != nil {
		return fmt.Errorf("Config.Save: %w", err)
	}
	if err := os.WriteFile(file, b, 0644); err != nil {
		return fmt.Errorf("Config.Save: %w", err)
	}
	return nil
}

// LoadConfig reads the config file
func LoadConfig(file string) (Config, error) {
	var c Config
	b, err := os.ReadFile(file)
	if err != nil {
		return c, fmt.Errorf("LoadConfig: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("LoadConfig[%s]: %w", file, err)
	}
	return c, nil
}
