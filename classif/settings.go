package classif

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/service"
)

// DefaultModelsRoot is the public artifact host of the models
const DefaultModelsRoot = "https://artifactory.vgt.vito.be:443/auxdata-public/worldcereal"

// DefaultDEM is the reference of the digital elevation model
const DefaultDEM = "s3://ewoc-aux-data/CopDEM_20m"

// Settings is the environment of the pipeline
type Settings struct {
	CloudProvider string
	BlockSize     int
	ModelsRoot    string
	DevMode       bool

	// Gap tolerances (days) of the collections
	MaxGapSAR     int
	MaxGapTIR     int
	MaxGapOptical int

	ProductBucket string
	ARDBucket     string
	AuxBucket     string

	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	LocalBucketRoot   string

	CatalogHost     string
	CatalogUserInfo string

	EngineCommand string
	EngineImage   string
}

// DefaultSettings returns the settings used when no environment is defined
func DefaultSettings() Settings {
	return Settings{
		CloudProvider: "aws",
		BlockSize:     common.BlockSize512,
		ModelsRoot:    DefaultModelsRoot,
		MaxGapSAR:     60,
		MaxGapTIR:     60,
		MaxGapOptical: 60,
		ProductBucket: "ewoc-prd",
		ARDBucket:     "ewoc-ard-data",
		AuxBucket:     "ewoc-aux-data",
		EngineCommand: "ewoc_run_tile",
	}
}

// Getenv returns the value of the environment variable, or def if not set
func Getenv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

// ParseBool parses a boolean environment value: y, yes, t, true, on, 1 or n, no, f, false, off, 0 (case-insensitive)
func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "y", "yes", "t", "true", "on", "1":
		return true, nil
	case "n", "no", "f", "false", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid truth value %q", v)
}

// SettingsFromEnv reads the settings from the environment variables:
// EWOC_CLOUD_PROVIDER, EWOC_BLOCKSIZE, EWOC_MODELS_DIR_ROOT, EWOC_DEV_MODE,
// EWOC_COLL_MAXGAP_{SAR,TIR,OPTICAL}, EWOC_{PRD,ARD,AUX}_BUCKET, EWOC_S3_*, EWOC_LOCAL_BUCKETS,
// VDM_HOST, VDM_USERINFO, EWOC_ENGINE_CMD, EWOC_ENGINE_IMAGE
func SettingsFromEnv() (Settings, error) {
	s := DefaultSettings()
	var err error
	atoi := func(key string, def int) int {
		v, e := strconv.Atoi(Getenv(key, strconv.Itoa(def)))
		if e != nil {
			err = service.MergeErrors(true, err, service.MakeConfigurationError(fmt.Errorf("%s: %w", key, e)))
		}
		return v
	}
	s.CloudProvider = strings.ToLower(Getenv("EWOC_CLOUD_PROVIDER", s.CloudProvider))
	s.BlockSize = atoi("EWOC_BLOCKSIZE", s.BlockSize)
	s.ModelsRoot = Getenv("EWOC_MODELS_DIR_ROOT", s.ModelsRoot)
	devMode, e := ParseBool(Getenv("EWOC_DEV_MODE", "false"))
	if e != nil {
		err = service.MergeErrors(true, err, service.MakeConfigurationError(fmt.Errorf("EWOC_DEV_MODE: %w", e)))
	}
	s.DevMode = devMode
	s.MaxGapSAR = atoi("EWOC_COLL_MAXGAP_SAR", s.MaxGapSAR)
	s.MaxGapTIR = atoi("EWOC_COLL_MAXGAP_TIR", s.MaxGapTIR)
	s.MaxGapOptical = atoi("EWOC_COLL_MAXGAP_OPTICAL", s.MaxGapOptical)
	if s.DevMode {
		s.ProductBucket += "-dev"
	}
	s.ProductBucket = Getenv("EWOC_PRD_BUCKET", s.ProductBucket)
	s.ARDBucket = Getenv("EWOC_ARD_BUCKET", s.ARDBucket)
	s.AuxBucket = Getenv("EWOC_AUX_BUCKET", s.AuxBucket)
	s.S3Endpoint = Getenv("EWOC_S3_ENDPOINT", s.S3Endpoint)
	s.S3AccessKeyID = Getenv("EWOC_S3_ACCESS_KEY_ID", s.S3AccessKeyID)
	s.S3SecretAccessKey = Getenv("EWOC_S3_SECRET_ACCESS_KEY", s.S3SecretAccessKey)
	s.LocalBucketRoot = Getenv("EWOC_LOCAL_BUCKETS", s.LocalBucketRoot)
	s.CatalogHost = Getenv("VDM_HOST", s.CatalogHost)
	s.CatalogUserInfo = Getenv("VDM_USERINFO", s.CatalogUserInfo)
	s.EngineCommand = Getenv("EWOC_ENGINE_CMD", s.EngineCommand)
	s.EngineImage = Getenv("EWOC_ENGINE_IMAGE", s.EngineImage)
	return s, err
}

// CroplandMaskRoot returns the namespace of the cropland masks (dev or prod)
func CroplandMaskRoot(devMode bool) string {
	if devMode {
		return "s3://ewoc-prd-dev"
	}
	return "s3://ewoc-prd"
}
