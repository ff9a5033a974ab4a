package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/airbusgeo/ewoc-classif/service"
	"go.uber.org/zap/zapcore"
)

func TestStatusFromCode(t *testing.T) {
	tests := []struct {
		code    int
		outcome Outcome
		ok      bool
		str     string
	}{
		{0, OutcomeSuccess, true, "success"},
		{1, OutcomeSkip, true, "skip"},
		{2, OutcomeFailure, false, "failure(2)"},
		{-1, OutcomeFailure, false, "failure(-1)"},
		{137, OutcomeFailure, false, "failure(137)"},
	}
	for _, tt := range tests {
		s := StatusFromCode(tt.code)
		if s.Outcome != tt.outcome || s.OK() != tt.ok || s.String() != tt.str || s.Code != tt.code {
			t.Errorf("%d: got %+v", tt.code, s)
		}
	}
}

func TestRequestArgs(t *testing.T) {
	args := ClassifyBlock("31TCJ", "/w/config.json", "/w/out", 7, 46172).Args()
	expected := []string{"--tile", "31TCJ", "--config", "/w/config.json", "--outdir", "/w/out", "--aez", "46172", "--blocks", "7"}
	if !reflect.DeepEqual(args, expected) {
		t.Errorf("got %v", args)
	}
	args = Mosaic("31TCJ", "/w/config.json", "/w/out", 46172).Args()
	expected = []string{"--tile", "31TCJ", "--config", "/w/config.json", "--outdir", "/w/out", "--aez", "46172", "--no-process", "--postprocess"}
	if !reflect.DeepEqual(args, expected) {
		t.Errorf("got %v", args)
	}
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(file, []byte("#!/bin/sh\n"+content), 0755); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestCommandEngine(t *testing.T) {
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "args")
	for code, expected := range map[string]Status{"0": Success, "1": Skip, "3": Failure(3)} {
		e := NewCommandEngine(writeScript(t, `echo "$@" > `+out+"\nexit "+code))
		s, err := e.RunTile(ctx, ClassifyBlock("31TCJ", "config.json", "outdir", 12, 1))
		if err != nil {
			t.Fatal(err)
		}
		if s != expected {
			t.Errorf("code %s: got %v", code, s)
		}
		b, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(b), "--tile 31TCJ") || !strings.Contains(string(b), "--blocks 12") {
			t.Errorf("args: %s", b)
		}
	}
}

func TestCommandEngineNotFound(t *testing.T) {
	e := NewCommandEngine(filepath.Join(t.TempDir(), "none"))
	s, err := e.RunTile(context.Background(), Mosaic("31TCJ", "config.json", "outdir", 1))
	if err == nil || s.OK() {
		t.Errorf("expected an error, got %v", s)
	}
}

func TestCommandEngineCancel(t *testing.T) {
	ctx, cncl := context.WithCancel(context.Background())
	cncl()
	e := NewCommandEngine(writeScript(t, "sleep 10"))
	if _, err := e.RunTile(ctx, Mosaic("31TCJ", "config.json", "outdir", 1)); err == nil {
		t.Error("expected an error")
	}
}

func TestLogFilter(t *testing.T) {
	f := &LogFilter{}
	if _, level, _ := f.Filter("WARNING: few acquisitions\n", zapcore.InfoLevel); level != zapcore.WarnLevel {
		t.Errorf("level: %v", level)
	}
	if _, _, ignore := f.Filter("  \n", zapcore.InfoLevel); !ignore {
		t.Error("empty lines must be ignored")
	}
	if err := f.WrapError(errors.New("failed")); err.Error() != "failed" {
		t.Errorf("got %v", err)
	}
	if msg, level, _ := f.Filter("ERROR: Temporary failure in name resolution\n", zapcore.InfoLevel); level != zapcore.ErrorLevel || msg != "ERROR: Temporary failure in name resolution" {
		t.Errorf("got %s %v", msg, level)
	}
	err := f.WrapError(errors.New("failed"))
	if !service.Temporary(err) || !strings.Contains(err.Error(), "name resolution") {
		t.Errorf("got %v", err)
	}
	f.Filter("FATAL: no model", zapcore.InfoLevel)
	if err := f.WrapError(errors.New("failed")); !service.Fatal(err) {
		t.Errorf("expected a fatal error, got %v", err)
	}
	if f.WrapError(nil) != nil {
		t.Error("nil must stay nil")
	}
}
