package log

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

type recordFilter struct {
	lines []string
}

func (f *recordFilter) Filter(msg string, level zapcore.Level) (string, zapcore.Level, bool) {
	f.lines = append(f.lines, strings.TrimSpace(msg))
	return msg, level, true
}

func TestExecExitCode(t *testing.T) {
	ctx := context.Background()
	for script, expected := range map[string]int{"exit 0": 0, "exit 1": 1, "exit 3": 3} {
		code, err := Exec(ctx, exec.Command("sh", "-c", script))
		if err != nil {
			t.Errorf("%s: %v", script, err)
		}
		if code != expected {
			t.Errorf("%s: expected %d, got %d", script, expected, code)
		}
	}
}

func TestExecNotFound(t *testing.T) {
	if _, err := Exec(context.Background(), exec.Command("/nonexistent/ewoc_run_tile")); err == nil {
		t.Error("expected an error")
	}
}

func TestExecLogs(t *testing.T) {
	out, errf := &recordFilter{}, &recordFilter{}
	code, err := Exec(context.Background(), exec.Command("sh", "-c", "echo hello; echo world >&2"), StdoutFilter(out), StderrFilter(errf))
	if err != nil || code != 0 {
		t.Fatalf("unexpected result %d: %v", code, err)
	}
	if len(out.lines) != 1 || out.lines[0] != "hello" {
		t.Errorf("unexpected stdout: %v", out.lines)
	}
	if len(errf.lines) != 1 || errf.lines[0] != "world" {
		t.Errorf("unexpected stderr: %v", errf.lines)
	}
}

func TestExecCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Exec(ctx, exec.Command("sleep", "10")); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
