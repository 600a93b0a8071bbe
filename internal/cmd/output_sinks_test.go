package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quotapilot/quotapilot/internal/output"
)

func TestOutputExtension(t *testing.T) {
	if ext := outputExtension(output.FormatJSON); ext != "json" {
		t.Fatalf("expected json extension, got %q", ext)
	}
	if ext := outputExtension(output.FormatTable); ext != "txt" {
		t.Fatalf("expected txt extension, got %q", ext)
	}
}

func TestResolveSinkStdout(t *testing.T) {
	sink, err := resolveSink("", "", "status", output.FormatTable)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sink.close() // nolint:errcheck

	if sink.writer != os.Stdout {
		t.Fatalf("expected stdout sink for empty flags")
	}
}

func TestResolveSinkOutDir(t *testing.T) {
	dir := t.TempDir()

	sink, err := resolveSink("", dir, "status", output.FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	want := filepath.Join(dir, "status.json")
	if sink.path != want {
		t.Fatalf("expected sink path %q, got %q", want, sink.path)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
}

func TestResolveSinkMutuallyExclusive(t *testing.T) {
	if _, err := resolveSink("out.json", t.TempDir(), "status", output.FormatJSON); err == nil {
		t.Fatalf("expected error when both --out and --out-dir are set")
	}
}
