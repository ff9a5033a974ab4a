// Package engine drives the external classification and mosaic engine
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Outcome of a call to the engine
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSkip
	OutcomeFailure
)

// Status is the status returned by the engine: Success (0), Skip (1, no cropland-relevant data) or Failure(code)
type Status struct {
	Outcome Outcome
	Code    int
}

var (
	Success = Status{Outcome: OutcomeSuccess, Code: 0}
	Skip    = Status{Outcome: OutcomeSkip, Code: 1}
)

// Failure returns a failure status with the exit code of the engine
func Failure(code int) Status {
	return Status{Outcome: OutcomeFailure, Code: code}
}

// StatusFromCode converts an exit code of the engine
func StatusFromCode(code int) Status {
	switch code {
	case 0:
		return Success
	case 1:
		return Skip
	}
	return Failure(code)
}

// OK returns whether the status does not fail the pipeline
func (s Status) OK() bool {
	return s.Outcome != OutcomeFailure
}

func (s Status) String() string {
	switch s.Outcome {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkip:
		return "skip"
	}
	return fmt.Sprintf("failure(%d)", s.Code)
}

// Request to run the engine on a tile.
// Blocks is empty to process the whole tile (or in mosaic mode).
type Request struct {
	Tile        string
	ConfigPath  string
	OutDir      string
	Blocks      []int
	Process     bool
	Postprocess bool
	AEZ         int
}

// ClassifyBlock returns the request to classify one block
func ClassifyBlock(tile, configPath, outDir string, block, aez int) Request {
	return Request{Tile: tile, ConfigPath: configPath, OutDir: outDir, Blocks: []int{block}, Process: true, AEZ: aez}
}

// Mosaic returns the request to mosaic the blocks of a tile already processed
func Mosaic(tile, configPath, outDir string, aez int) Request {
	return Request{Tile: tile, ConfigPath: configPath, OutDir: outDir, Process: false, Postprocess: true, AEZ: aez}
}

// Args returns the command line arguments of the request
func (r Request) Args() []string {
	args := []string{
		"--tile", r.Tile,
		"--config", r.ConfigPath,
		"--outdir", r.OutDir,
		"--aez", strconv.Itoa(r.AEZ),
	}
	if len(r.Blocks) > 0 {
		blocks := make([]string, len(r.Blocks))
		for i, b := range r.Blocks {
			blocks[i] = strconv.Itoa(b)
		}
		args = append(args, "--blocks", strings.Join(blocks, ","))
	}
	if !r.Process {
		args = append(args, "--no-process")
	}
	if r.Postprocess {
		args = append(args, "--postprocess")
	}
	return args
}

// Engine is the external processing engine.
// An error is returned if the engine could not be run, otherwise the status reflects the exit code.
type Engine interface {
	RunTile(ctx context.Context, req Request) (Status, error)
}
