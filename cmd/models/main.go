package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/models"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type config struct {
	Root     string
	BaseURL  string
	Versions common.Models
	Archive  bool
	Output   string
}

func newAppConfig() (*config, error) {
	config := config{Versions: common.DefaultModels()}
	flag.StringVar(&config.Root, "root", "", "local folder of the models (a models/ folder is created inside)")
	flag.StringVar(&config.BaseURL, "base-url", models.DefaultBaseURL, "url of the models on the artifact host")
	flag.StringVar(&config.Versions.Cropland, "cropland-model-version", config.Versions.Cropland, "version of the cropland models")
	flag.StringVar(&config.Versions.Croptype, "croptype-model-version", config.Versions.Croptype, "version of the croptype models")
	flag.StringVar(&config.Versions.Irrigation, "irrigation-model-version", config.Versions.Irrigation, "version of the irrigation models")
	flag.BoolVar(&config.Archive, "archive", false, "create a tar.gz archive of the models")
	flag.StringVar(&config.Output, "output", "", "path of the archive (default: {root}/models.tar.gz)")
	verbose := flag.Bool("v", false, "set log level to info")
	veryVerbose := flag.Bool("vv", false, "set log level to debug")
	flag.Parse()

	log.SetVerbosity(*verbose, *veryVerbose)
	if config.Root == "" {
		return nil, fmt.Errorf("missing root flag")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Logger(ctx).Warn("unable to load .env", zap.Error(err))
	}
	if err := run(ctx); err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	f := models.NewFetcher(config.Root)
	f.BaseURL = config.BaseURL
	if err := f.Fetch(ctx, config.Versions); err != nil {
		return err
	}
	if config.Archive {
		if _, err := f.Archive(ctx, config.Output); err != nil {
			return err
		}
	}
	return nil
}
