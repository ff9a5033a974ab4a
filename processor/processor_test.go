package processor_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/airbusgeo/ewoc-classif/classif"
	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/features"
	"github.com/airbusgeo/ewoc-classif/interface/bucket"
	db "github.com/airbusgeo/ewoc-classif/interface/database"
	"github.com/airbusgeo/ewoc-classif/processor"
	"github.com/airbusgeo/ewoc-classif/service"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const (
	tile = "31TCJ"
	pid  = "c728b264_46172_20220405"
	aez  = 46172
)

func writeFile(file, content string) {
	Expect(os.MkdirAll(filepath.Dir(file), 0755)).To(Succeed())
	Expect(os.WriteFile(file, []byte(content), 0644)).To(Succeed())
}

var _ = Describe("Processor", func() {
	var (
		workdir, outDir, configPath, featuresDir string
		prdBucket                                *bucket.LocalBucket
		fake                                     *FakeEngine
		ledger                                   *FakeLedger
	)

	BeforeEach(func() {
		var err error
		workdir, err = os.MkdirTemp("", "processor")
		Expect(err).NotTo(HaveOccurred())
		outDir = filepath.Join(workdir, "out")
		featuresDir = filepath.Join(outDir, "block_features")
		prdBucket, err = bucket.NewLocalBucket(filepath.Join(workdir, "buckets"), "ewoc-prd")
		Expect(err).NotTo(HaveOccurred())

		cfg, err := classif.BuildConfig(classif.ConfigRequest{
			Detector:     common.DetectorCropland,
			Year:         2021,
			Season:       common.SeasonAnnual,
			ProductionID: pid,
			Models:       common.DefaultModels(),
			Inputs:       map[string]string{common.CollectionOptical: "optical.csv"},
			FeaturesDir:  featuresDir,
		})
		Expect(err).NotTo(HaveOccurred())
		configPath = filepath.Join(workdir, tile+"_abcdef_ewoc_config.json")
		Expect(cfg.Save(configPath)).To(Succeed())

		fake = &FakeEngine{Codes: map[int]int{}, Errors: map[int]error{}, Panics: map[int]bool{}, Year: 2021, Season: "annual"}
		ledger = &FakeLedger{}
	})

	AfterEach(func() {
		os.RemoveAll(workdir)
	})

	blockKey := func(block string) string {
		return service.TileBlocksKey(pid, tile, 2021, "annual") + "/" + tile + "_" + block + ".tif"
	}
	exists := func(key string) bool {
		ok, err := prdBucket.Exists(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		return ok
	}

	Describe("processing blocks", func() {
		var orchestrator *processor.BlockOrchestrator

		BeforeEach(func() {
			orchestrator = processor.NewBlockOrchestrator(fake, prdBucket, common.BlockSize512)
			orchestrator.Ledger = ledger
		})

		Context("when a block is skipped and another one fails", func() {
			It("should process all the blocks and fail", func() {
				fake.Codes[7] = 1
				fake.Codes[8] = 2
				ok := orchestrator.ProcessBlocks(ctx, tile, configPath, pid, outDir, aez, []int{7, 8, 9}, processor.DefaultBlockOptions())
				Expect(ok).To(BeFalse())
				Expect(fake.Blocks()).To(Equal([]int{7, 8, 9}))
				Expect(exists(blockKey("007"))).To(BeFalse())
				Expect(exists(blockKey("008"))).To(BeFalse())
				Expect(exists(blockKey("009"))).To(BeTrue())
				Expect(ledger.Blocks[7].Status).To(Equal(common.StatusDONE))
				Expect(ledger.Blocks[8].Status).To(Equal(common.StatusFAILED))
				Expect(ledger.Blocks[8].ExitCode).To(Equal(2))
				Expect(ledger.Blocks[9].Status).To(Equal(common.StatusDONE))
				_, err := os.Stat(filepath.Join(outDir, processor.DirBlocks))
				Expect(os.IsNotExist(err)).To(BeTrue())
			})
		})

		Context("when all the blocks succeed or are skipped", func() {
			It("should succeed", func() {
				fake.Codes[2] = 1
				report := orchestrator.Run(ctx, tile, configPath, pid, outDir, aez, []int{1, 2, 3}, processor.DefaultBlockOptions())
				Expect(report.OK()).To(BeTrue())
				Expect(report.Failed()).To(BeEmpty())
				Expect(report.Results).To(HaveLen(3))
				Expect(exists(blockKey("001"))).To(BeTrue())
				Expect(exists(blockKey("003"))).To(BeTrue())
			})
		})

		Context("when a block raises an error", func() {
			It("should stop processing the next blocks", func() {
				fake.Errors[8] = errors.New("engine unavailable")
				ok := orchestrator.ProcessBlocks(ctx, tile, configPath, pid, outDir, aez, []int{7, 8, 9}, processor.DefaultBlockOptions())
				Expect(ok).To(BeFalse())
				Expect(fake.Blocks()).To(Equal([]int{7, 8}))
				Expect(ledger.Blocks).NotTo(HaveKey(9))
			})
			It("should recover from a panic", func() {
				fake.Panics[7] = true
				report := orchestrator.Run(ctx, tile, configPath, pid, outDir, aez, []int{7, 8}, processor.DefaultBlockOptions())
				Expect(report.OK()).To(BeFalse())
				Expect(report.Results).To(HaveLen(1))
				Expect(report.Results[0].Err).To(HaveOccurred())
			})
			It("should continue if the policy allows it", func() {
				orchestrator.Policy.StopOnException = false
				fake.Errors[8] = errors.New("engine unavailable")
				Expect(orchestrator.ProcessBlocks(ctx, tile, configPath, pid, outDir, aez, []int{7, 8, 9}, processor.DefaultBlockOptions())).To(BeFalse())
				Expect(fake.Blocks()).To(Equal([]int{7, 8, 9}))
			})
		})

		Context("when the policy stops on failure codes", func() {
			It("should stop after the first failure", func() {
				orchestrator.Policy.StopOnFailureCode = true
				fake.Codes[7] = 1
				fake.Codes[8] = 3
				report := orchestrator.Run(ctx, tile, configPath, pid, outDir, aez, []int{7, 8, 9}, processor.DefaultBlockOptions())
				Expect(report.OK()).To(BeFalse())
				Expect(report.Failed()).To(Equal([]int{8}))
				Expect(fake.Blocks()).To(Equal([]int{7, 8}))
			})
		})

		Context("when no block is given", func() {
			It("should process the whole tile", func() {
				orchestrator.BlockSize = common.BlockSize1024
				for i := 0; i <= 120; i++ {
					fake.Codes[i] = 1
				}
				Expect(orchestrator.ProcessBlocks(ctx, tile, configPath, pid, outDir, aez, nil, processor.DefaultBlockOptions())).To(BeTrue())
				Expect(fake.Requests).To(HaveLen(121))
			})
			It("should fail on an unsupported block size without processing any block", func() {
				orchestrator.BlockSize = 256
				report := orchestrator.Run(ctx, tile, configPath, pid, outDir, aez, nil, processor.DefaultBlockOptions())
				Expect(report.OK()).To(BeFalse())
				Expect(errors.Is(report.Err, service.ErrConfiguration)).To(BeTrue())
				Expect(fake.Requests).To(BeEmpty())
			})
		})

		Context("when the config file is missing", func() {
			It("should fail without processing any block", func() {
				Expect(orchestrator.ProcessBlocks(ctx, tile, filepath.Join(workdir, "none.json"), pid, outDir, aez, []int{1}, processor.DefaultBlockOptions())).To(BeFalse())
				Expect(fake.Requests).To(BeEmpty())
			})
		})

		Context("with upload options", func() {
			It("should not upload the blocks if upload is disabled", func() {
				opts := processor.DefaultBlockOptions()
				opts.Upload = false
				Expect(orchestrator.ProcessBlocks(ctx, tile, configPath, pid, outDir, aez, []int{1}, opts)).To(BeTrue())
				Expect(exists(blockKey("001"))).To(BeFalse())
			})
			It("should keep the blocks if clean is disabled", func() {
				opts := processor.DefaultBlockOptions()
				opts.Clean = false
				Expect(orchestrator.ProcessBlocks(ctx, tile, configPath, pid, outDir, aez, []int{1}, opts)).To(BeTrue())
				_, err := os.Stat(filepath.Join(outDir, processor.DirBlocks, tile, "2021_annual", tile+"_001.tif"))
				Expect(err).NotTo(HaveOccurred())
			})
			It("should upload the logs", func() {
				writeFile(filepath.Join(outDir, processor.DirExitLogs, "31TCJ_001.log"), "exit")
				writeFile(filepath.Join(outDir, processor.DirProcLogs, "31TCJ_001.log"), "proc")
				opts := processor.DefaultBlockOptions()
				opts.UploadLogs = true
				Expect(orchestrator.ProcessBlocks(ctx, tile, configPath, pid, outDir, aez, []int{1}, opts)).To(BeTrue())
				Expect(exists(pid + "/exitlogs/31TCJ_001.log")).To(BeTrue())
				Expect(exists(pid + "/proclogs/31TCJ_001.log")).To(BeTrue())
			})
			It("should upload the computed features", func() {
				a := features.ArtifactOf(features.KindCropland, tile, 2021, common.SeasonAnnual, aez, 1)
				writeFile(filepath.Join(featuresDir, filepath.FromSlash(a.RelPath)), "features")
				Expect(orchestrator.ProcessBlocks(ctx, tile, configPath, pid, outDir, aez, []int{1}, processor.DefaultBlockOptions())).To(BeTrue())
				Expect(exists(a.Key(pid))).To(BeTrue())
			})
		})
	})

	Describe("mosaicking a tile", func() {
		var (
			orchestrator *processor.MosaicOrchestrator
			notifier     *FakeNotifier
			cogDir       string
		)

		BeforeEach(func() {
			notifier = &FakeNotifier{}
			orchestrator = processor.NewMosaicOrchestrator(fake, prdBucket, notifier)
			orchestrator.Ledger = ledger
			cogDir = filepath.Join(outDir, processor.DirCogs, tile, "2021_annual")

			// Blocks previously uploaded
			src := filepath.Join(workdir, "block.tif")
			writeFile(src, "block")
			for _, b := range []string{"001", "002"} {
				Expect(prdBucket.Upload(ctx, src, blockKey(b))).To(Succeed())
			}
		})

		stacDoc := func(dir string) map[string]interface{} {
			return map[string]interface{}{
				"links": []interface{}{
					map[string]interface{}{"rel": "self", "href": dir + "/31TCJ/2021_annual/31TCJ_metadata_cropland.json"},
					map[string]interface{}{"rel": "parent", "href": dir + "/collection.json"},
				},
				"assets": map[string]interface{}{
					"cropland": map[string]interface{}{"href": dir + "/31TCJ/2021_annual/31TCJ_cropland.tif"},
				},
				"properties": map[string]interface{}{
					"public":             "false",
					"users":              []interface{}{"0000"},
					"tile_collection_id": "31TCJ_2021_annual_0000",
				},
			}
		}

		Context("when the engine produces the mosaic", func() {
			BeforeEach(func() {
				fake.Mosaic = func(dir string) error {
					Expect(filepath.Join(dir, processor.DirBlocks, tile, "2021_annual", "31TCJ_001.tif")).To(BeAnExistingFile())
					b, err := json.Marshal(stacDoc(filepath.Join(dir, processor.DirCogs)))
					Expect(err).NotTo(HaveOccurred())
					writeFile(filepath.Join(dir, processor.DirCogs, tile, "2021_annual", "31TCJ_cropland.tif"), "cog")
					writeFile(filepath.Join(dir, processor.DirCogs, tile, "2021_annual", "31TCJ_metadata_cropland.json"), string(b))
					return nil
				}
			})

			It("should publish the mosaic", func() {
				Expect(orchestrator.PostprocessMosaic(ctx, tile, pid, configPath, outDir, aez)).To(Succeed())
				Expect(fake.Requests).To(HaveLen(1))
				Expect(fake.Requests[0].Postprocess).To(BeTrue())
				Expect(fake.Requests[0].Process).To(BeFalse())
				Expect(fake.Requests[0].Blocks).To(BeEmpty())

				Expect(exists(pid + "/31TCJ/2021_annual/31TCJ_cropland.tif")).To(BeTrue())
				Expect(exists(pid + "/31TCJ/2021_annual/31TCJ_metadata_cropland.json")).To(BeTrue())
				Expect(notifier.Notified).To(HaveLen(1))
				Expect(ledger.Blocks[db.MosaicBlock].Status).To(Equal(common.StatusDONE))

				b, err := os.ReadFile(filepath.Join(cogDir, "31TCJ_metadata_cropland.json"))
				Expect(err).NotTo(HaveOccurred())
				root := prdBucket.URI(pid)
				var doc map[string]interface{}
				Expect(json.Unmarshal(b, &doc)).To(Succeed())
				Expect(doc).To(Equal(map[string]interface{}{
					"links": []interface{}{
						map[string]interface{}{"rel": "self", "href": root + "/31TCJ/2021_annual/31TCJ_metadata_cropland.json"},
						map[string]interface{}{"rel": "parent", "href": filepath.Join(outDir, processor.DirCogs) + "/collection.json"},
					},
					"assets": map[string]interface{}{
						"cropland": map[string]interface{}{"href": root + "/31TCJ/2021_annual/31TCJ_cropland.tif"},
					},
					"properties": map[string]interface{}{
						"public":             "true",
						"users":              []interface{}{"c728b264"},
						"tile_collection_id": "31TCJ_2021_annual_c728b264",
					},
				}))
			})

			It("should not fail if the catalog is unavailable", func() {
				notifier.Fail = true
				Expect(orchestrator.PostprocessMosaic(ctx, tile, pid, configPath, outDir, aez)).To(Succeed())
				Expect(notifier.Notified).To(HaveLen(1))
			})
		})

		Context("when the ledger tracks the blocks of the tile", func() {
			var ledgerDB *FakeLedgerDB
			record := func(block int, status common.Status) {
				Expect(ledgerDB.RecordBlock(ctx, db.Block{ProductionID: pid, Tile: tile, Year: 2021, Season: common.SeasonAnnual, Block: block, Status: status})).To(Succeed())
			}

			BeforeEach(func() {
				ledgerDB = &FakeLedgerDB{}
				orchestrator.Ledger = ledgerDB
				fake.Mosaic = func(dir string) error {
					writeFile(filepath.Join(dir, processor.DirCogs, tile, "2021_annual", "31TCJ_cropland.tif"), "cog")
					return nil
				}
			})

			It("should mosaic when all the blocks are done", func() {
				record(1, common.StatusDONE)
				record(2, common.StatusDONE)
				Expect(orchestrator.PostprocessMosaic(ctx, tile, pid, configPath, outDir, aez)).To(Succeed())
				Expect(ledgerDB.Commits).To(Equal(1))
				Expect(ledgerDB.FakeLedger.Blocks[db.MosaicBlock].Status).To(Equal(common.StatusDONE))
			})

			It("should refuse to mosaic when a block failed", func() {
				record(1, common.StatusDONE)
				record(2, common.StatusFAILED)
				err := orchestrator.PostprocessMosaic(ctx, tile, pid, configPath, outDir, aez)
				Expect(errors.Is(err, processor.ErrBlocksFailed)).To(BeTrue())
				Expect(service.Fatal(err)).To(BeTrue())
				Expect(fake.Requests).To(BeEmpty())
				Expect(ledgerDB.FakeLedger.Blocks).NotTo(HaveKey(db.MosaicBlock))
			})

			It("should wait for the blocks still processing", func() {
				record(1, common.StatusDONE)
				record(2, common.StatusPENDING)
				err := orchestrator.PostprocessMosaic(ctx, tile, pid, configPath, outDir, aez)
				Expect(errors.Is(err, processor.ErrBlocksPending)).To(BeTrue())
				Expect(service.Temporary(err)).To(BeTrue())
				Expect(fake.Requests).To(BeEmpty())
			})

			It("should mosaic blocks that were not recorded", func() {
				Expect(orchestrator.PostprocessMosaic(ctx, tile, pid, configPath, outDir, aez)).To(Succeed())
				Expect(fake.Requests).To(HaveLen(1))
			})
		})

		Context("when the engine succeeds without producing any file", func() {
			It("should fail", func() {
				err := orchestrator.PostprocessMosaic(ctx, tile, pid, configPath, outDir, aez)
				Expect(errors.Is(err, processor.ErrEmptyMosaic)).To(BeTrue())
				var opErr *service.OperationError
				Expect(errors.As(err, &opErr)).To(BeTrue())
				Expect(opErr.Tile).To(Equal(tile))
				Expect(notifier.Notified).To(BeEmpty())
				Expect(ledger.Blocks[db.MosaicBlock].Status).To(Equal(common.StatusFAILED))
			})
		})

		Context("when the engine fails", func() {
			It("should fail", func() {
				fake.MosaicCode = 2
				Expect(orchestrator.PostprocessMosaic(ctx, tile, pid, configPath, outDir, aez)).NotTo(Succeed())
			})
		})

		Context("when no block is available", func() {
			It("should fail without running the engine", func() {
				err := orchestrator.PostprocessMosaic(ctx, "31TCK", pid, configPath, outDir, aez)
				Expect(errors.Is(err, processor.ErrNoBlocks)).To(BeTrue())
				Expect(fake.Requests).To(BeEmpty())
			})
		})
	})

	Describe("rewriting STAC files", func() {
		It("should ignore the other files", func() {
			writeFile(filepath.Join(workdir, "cogs", "31TCJ", "other.json"), `{"properties":{"public":"false"}}`)
			files, err := processor.RewriteSTAC(ctx, "s3://ewoc-prd/"+pid, filepath.Join(workdir, "cogs"), "c728b264")
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(BeEmpty())
		})
		It("should rewrite every occurrence of the local directory", func() {
			cogs := filepath.Join(workdir, "cogs")
			writeFile(filepath.Join(cogs, "31TCJ", "31TCJ_metadata_x.json"),
				`{"assets":{"x":{"href":"`+cogs+`/31TCJ/x.tif?src=`+cogs+`/31TCJ/x.tif"}},"properties":{"public":"false"}}`)
			files, err := processor.RewriteSTAC(ctx, "s3://ewoc-prd/"+pid, cogs, "c728b264")
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))
			b, err := os.ReadFile(files[0])
			Expect(err).NotTo(HaveOccurred())
			var doc map[string]interface{}
			Expect(json.Unmarshal(b, &doc)).To(Succeed())
			root := "s3://ewoc-prd/" + pid
			Expect(doc["assets"]).To(Equal(map[string]interface{}{
				"x": map[string]interface{}{"href": root + "/31TCJ/x.tif?src=" + root + "/31TCJ/x.tif"},
			}))
		})
		It("should fail on an invalid file", func() {
			writeFile(filepath.Join(workdir, "cogs", "31TCJ", "31TCJ_metadata_x.json"), `{`)
			_, err := processor.RewriteSTAC(ctx, "s3://ewoc-prd/"+pid, filepath.Join(workdir, "cogs"), "c728b264")
			Expect(err).To(HaveOccurred())
		})
	})
})
