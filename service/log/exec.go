package log

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type execOption struct {
	outl, errl zapcore.Level
	outf, errf Filter
}

// ExecOption is an option that can be passed to Exec()
type ExecOption func(eo *execOption)

// StdoutLevel sets the level at which stdout should be logged
func StdoutLevel(l zapcore.Level) ExecOption {
	return func(eo *execOption) {
		eo.outl = l
	}
}

// StderrLevel sets the level at which stderr should be logged
func StderrLevel(l zapcore.Level) ExecOption {
	return func(eo *execOption) {
		eo.errl = l
	}
}

// Filter receives a message and the default level and returns a modified message with a new level
// if the last result is true, the msg is ignored
type Filter interface {
	Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool)
}

// StdoutFilter sets a function that modify a stdout message or change its level
func StdoutFilter(f Filter) ExecOption {
	return func(eo *execOption) {
		eo.outf = f
	}
}

// StderrFilter sets a function that modify a stderr message or change its level
func StderrFilter(f Filter) ExecOption {
	return func(eo *execOption) {
		eo.errf = f
	}
}

// Exec runs the command, sending its stdout and stderr to log.Logger(ctx)
// (at Info and Warn level by default) when cmd.Stdout or cmd.Stderr are not set.
// It returns the exit code of the command. A non-zero exit code is not an error:
// the error is only set if the command could not be started or did not exit normally.
// On ctx cancellation, the cmd is killed and ctx.Err() is returned.
func Exec(ctx context.Context, cmd *exec.Cmd, options ...ExecOption) (int, error) {
	opts := execOption{
		outl: zapcore.InfoLevel,
		errl: zapcore.WarnLevel,
	}
	for _, eo := range options {
		eo(&opts)
	}

	logger := Logger(ctx)
	var readers []io.Reader
	var writers []*lineLogger

	if cmd.Stdout == nil {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return -1, fmt.Errorf("get stdout pipe: %w", err)
		}
		readers, writers = append(readers, stdout), append(writers, &lineLogger{logger, opts.outl, opts.outf})
	}
	if cmd.Stderr == nil {
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return -1, fmt.Errorf("get stderr pipe: %w", err)
		}
		readers, writers = append(readers, stderr), append(writers, &lineLogger{logger, opts.errl, opts.errf})
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("cmd.start: %w", err)
	}

	logwg := sync.WaitGroup{}
	for i := range readers {
		logwg.Add(1)
		go func(r io.Reader, l *lineLogger) {
			defer logwg.Done()
			LogLines(r, l.Print)
		}(readers[i], writers[i])
	}

	done := make(chan error, 1)
	go func() {
		// stdout/stderr must be consumed before Wait
		logwg.Wait()
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if err := cmd.Process.Kill(); err != nil {
			logger.Sugar().Warnf("kill: %v", err)
		}
		<-done
		return -1, ctx.Err()
	case err := <-done:
		return exitCode(err)
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// LogLines sends each line read from sr to print. Too long lines are clipped.
func LogLines(sr io.Reader, print func(string)) {
	r := bufio.NewReader(sr)
	insideTooLongLine := false
	for {
		line, err := r.ReadSlice('\n')
		if err == io.EOF {
			if !insideTooLongLine && len(line) > 0 {
				print(string(line))
			}
			return
		}
		if err != nil && err != bufio.ErrBufferFull {
			return
		}
		switch {
		case insideTooLongLine:
			insideTooLongLine = err != nil
		case err == bufio.ErrBufferFull:
			print(fmt.Sprintf("%s ...[Message clipped]", line))
			insideTooLongLine = true
		case len(line) > 0:
			print(string(line))
		}
	}
}

type lineLogger struct {
	*zap.Logger
	level  zapcore.Level
	filter Filter
}

func (l lineLogger) Print(msg string) {
	level := l.level
	if l.filter != nil {
		var ignore bool
		if msg, level, ignore = l.filter.Filter(msg, level); ignore {
			return
		}
	}
	if ce := l.Check(level, msg); ce != nil {
		ce.Write()
	}
}

// LinePrinter returns a function logging each line at level (or the level returned by the filter)
func LinePrinter(ctx context.Context, level zapcore.Level, filter Filter) func(string) {
	return lineLogger{Logger(ctx), level, filter}.Print
}
