package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/airbusgeo/ewoc-classif/classif"
	"github.com/airbusgeo/ewoc-classif/pipeline"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type config struct {
	Request pipeline.Request
	Block   int
	Setup   pipeline.Setup
}

func newAppConfig() (*config, error) {
	config := config{}
	complete := config.Request.SetFlags(flag.CommandLine)
	flag.IntVar(&config.Block, "block", -1, "id of the block to process")
	flag.StringVar(&config.Setup.DBConnection, "db-connection", "", "database connection of the block ledger (optional)")
	flag.StringVar(&config.Setup.TempDir, "tmp-dir", "", "parent of the working directories (default: system temporary directory)")
	dockerEnvs := config.Setup.Docker.SetFlags()
	verbose := flag.Bool("v", false, "set log level to info")
	veryVerbose := flag.Bool("vv", false, "set log level to debug")
	flag.Parse()

	log.SetVerbosity(*verbose, *veryVerbose)
	if *dockerEnvs != "" {
		config.Setup.Docker.Envs = strings.Split(*dockerEnvs, ",")
	}
	if err := complete(); err != nil {
		return nil, err
	}
	if config.Block < 0 {
		return nil, fmt.Errorf("missing block flag")
	}
	config.Setup.NoCatalog = true
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
	settings, err := classif.SettingsFromEnv()
	if err != nil {
		return err
	}
	p, release, err := pipeline.New(ctx, settings, config.Setup)
	defer release()
	if err != nil {
		return err
	}
	status, err := p.GenerateBlock(ctx, config.Request, config.Block)
	if err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("block %d of %s: %s", config.Block, config.Request.Tile, status)
	return nil
}
