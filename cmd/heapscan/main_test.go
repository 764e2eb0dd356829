// ABOUTME: Tests for the heapscan command's config handling and report output
// ABOUTME: Runs the command pipeline against copies of the shared fixtures

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/snapshot"
)

// copyFixture copies a fixture into a temp dir of its own.
func copyFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", name))
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDecodeConfig(t *testing.T) {
	f, err := os.Open(filepath.Join("..", "..", "testdata", "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	cfg, err := decodeConfig(f)
	if err != nil {
		t.Fatalf("decodeConfig failed: %v", err)
	}
	if !cfg.GC.Debug || cfg.GC.Workers != 4 || cfg.GC.MarkStackChunk != 16 {
		t.Errorf("Unexpected gc config: %+v", cfg.GC)
	}
	if cfg.Heap.AllocSpaceSize != heap.Size(8<<20) {
		t.Errorf("alloc_space_size = %v, want 8MB", cfg.Heap.AllocSpaceSize)
	}
	if cfg.Heap.LargeObjectThreshold != heap.Size(12<<10) {
		t.Errorf("large_object_threshold = %v, want 12KB", cfg.Heap.LargeObjectThreshold)
	}
}

func TestDecodeConfigErrors(t *testing.T) {
	for _, input := range []string{
		"gc:\n  wrokers: 2\n",
		"gc:\n  workers: -2\n",
		"heap:\n  alloc_space_size: 0\n",
	} {
		if _, err := decodeConfig(strings.NewReader(input)); err == nil {
			t.Errorf("decodeConfig(%q) should fail", input)
		}
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	opts := options{
		configPath: filepath.Join("..", "..", "testdata", "config.yaml"),
		workers:    7,
	}
	gcCfg, heapCfg, err := loadConfig(opts)
	if err != nil {
		t.Fatal(err)
	}
	if gcCfg.Workers != 7 {
		t.Errorf("Workers = %d, want the flag value 7", gcCfg.Workers)
	}
	if heapCfg.LargeObjectSpaceSize != heap.Size(8<<20) {
		t.Errorf("large_object_space_size = %v, want 8MB", heapCfg.LargeObjectSpaceSize)
	}

	gcCfg, _, err = loadConfig(options{debug: true})
	if err != nil {
		t.Fatal(err)
	}
	if !gcCfg.Debug {
		t.Error("-debug should enable debug checks")
	}

	if _, _, err := loadConfig(options{configPath: "does-not-exist.yaml"}); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}

func TestRun(t *testing.T) {
	path := copyFixture(t, "simple.json")
	var out bytes.Buffer
	opts := options{verify: true, why: 5, maxPaths: 3, retained: 3, debug: true}
	if err := run(context.Background(), path, opts, &out, false); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Marking",
		"references:  1 cleared, 0 finalizable",
		"Spaces",
		"alloc space main",
		"Verification",
		"ok",
		"Paths to roots for",
		"(com.example.Node)",
		"class com.example.Cache",
		"<- static @32",
		"retains ",
		"kept alive by",
		"(com.example.Node[])",
		"Top retainers",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "\x1b[") {
		t.Error("Output should not be colored")
	}
}

func TestRunColor(t *testing.T) {
	path := copyFixture(t, "simple.yaml")
	var out bytes.Buffer
	if err := run(context.Background(), path, options{verify: true}, &out, true); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), ansiBold+"Marking"+ansiReset) {
		t.Errorf("Expected a bold heading:\n%q", out.String())
	}
	if !strings.Contains(out.String(), ansiGreen+"ok"+ansiReset) {
		t.Errorf("Expected a green verification result:\n%q", out.String())
	}
}

func TestRunRetainedOnly(t *testing.T) {
	path := copyFixture(t, "simple.yaml")
	var out bytes.Buffer
	if err := run(context.Background(), path, options{retained: 2}, &out, false); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	got := out.String()
	if strings.Contains(got, "Paths to roots") {
		t.Errorf("Did not ask for paths:\n%s", got)
	}
	i := strings.Index(got, "Top retainers")
	if i < 0 {
		t.Fatalf("Output missing top retainers:\n%s", got)
	}
	if lines := strings.Count(strings.TrimSpace(got[i:]), "\n"); lines != 2 {
		t.Errorf("Expected 2 retainers, got %d:\n%s", lines, got[i:])
	}
}

func TestRunWhyUnmarked(t *testing.T) {
	path := copyFixture(t, "simple.json")
	var out bytes.Buffer
	if err := run(context.Background(), path, options{why: 7, maxPaths: 1}, &out, false); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "not marked") {
		t.Errorf("Expected object 7 to be reported as not marked:\n%s", out.String())
	}
}

func TestRunErrors(t *testing.T) {
	path := copyFixture(t, "simple.json")
	err := run(context.Background(), path, options{why: 42}, &bytes.Buffer{}, false)
	if !errors.Is(err, snapshot.ErrUnknownObject) {
		t.Errorf("Expected ErrUnknownObject, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.txt")
	if err := os.WriteFile(bad, []byte("not a snapshot"), 0644); err != nil {
		t.Fatal(err)
	}
	err = run(context.Background(), bad, options{}, &bytes.Buffer{}, false)
	if !errors.Is(err, snapshot.ErrNoParser) {
		t.Errorf("Expected ErrNoParser, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = run(ctx, path, options{}, &bytes.Buffer{}, false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRunLocksSnapshotInPlace(t *testing.T) {
	path := copyFixture(t, "simple.json")
	if err := run(context.Background(), path, options{}, &bytes.Buffer{}, false); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the snapshot in its directory, got %d entries", len(entries))
	}

	writer := flock.New(path)
	if err := writer.Lock(); err != nil {
		t.Fatal(err)
	}
	defer writer.Unlock()
	err = run(context.Background(), path, options{}, &bytes.Buffer{}, false)
	if err == nil || !strings.Contains(err.Error(), "is being written") {
		t.Errorf("Expected a busy snapshot error, got %v", err)
	}
}
