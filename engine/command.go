package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/airbusgeo/ewoc-classif/service/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CommandEngine runs the engine as a local command
type CommandEngine struct {
	Command string
	// Args are prepended to the arguments of the request
	Args []string
	// Env is appended to the environment of the current process
	Env []string
}

// NewCommandEngine creates an engine running the command
func NewCommandEngine(command string, args ...string) *CommandEngine {
	return &CommandEngine{Command: command, Args: args}
}

// RunTile implements Engine
func (e *CommandEngine) RunTile(ctx context.Context, req Request) (Status, error) {
	args := append(append([]string{}, e.Args...), req.Args()...)
	cmd := exec.Command(e.Command, args...)
	cmd.Env = append(os.Environ(), e.Env...)

	filter := &LogFilter{}
	log.Logger(ctx).Debug("run engine", zap.String("cmd", e.Command), zap.Strings("args", args))
	code, err := log.Exec(ctx, cmd, log.StdoutLevel(zapcore.DebugLevel), log.StdoutFilter(filter), log.StderrFilter(filter))
	if err != nil {
		return Failure(code), filter.WrapError(fmt.Errorf("CommandEngine.RunTile[%s]: %w", req.Tile, err))
	}
	status := StatusFromCode(code)
	if !status.OK() {
		if lastError := filter.LastError(); lastError != "" {
			log.Logger(ctx).Sugar().Warnf("engine exited with code %d: %s", code, lastError)
		}
	}
	return status, nil
}
