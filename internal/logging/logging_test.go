package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: "DEBUG", want: zapcore.DebugLevel},
		{in: " warn ", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "loud", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %v err %v", tc.in, got, err)
		}
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nox.log")
	logger, err := New(Options{Level: "warn", File: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("rollup healed")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") || !strings.Contains(out, "rollup healed") {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestVerboseForcesDebug(t *testing.T) {
	logger, err := New(Options{Level: "error", File: filepath.Join(t.TempDir(), "x.log"), Verbose: true})
	if err != nil {
		t.Fatal(err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("verbose should enable debug")
	}
	if OrNop(nil) == nil {
		t.Fatal("OrNop returned nil")
	}
}
