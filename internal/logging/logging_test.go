package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComponentPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkd.log")
	f := NewFactory(Options{File: path})
	defer f.Close()

	f.Component("engine").Printf("pass complete")
	f.Component("queue").Printf("entry enqueued")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[engine] ") || !strings.Contains(out, "pass complete") {
		t.Errorf("missing engine line in %q", out)
	}
	if !strings.Contains(out, "[queue] ") {
		t.Errorf("missing queue prefix in %q", out)
	}
}

func TestStderrFallback(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	if f.w != os.Stderr {
		t.Error("empty File should log to stderr")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
