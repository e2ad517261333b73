package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
strategy: BINPACK
target-file-size-bytes: 536870912
max-file-group-size-bytes: 107374182400
max-concurrent-file-group-actions: 4
partial-progress:
  enabled: true
  max-commits: 10
scan:
  source: local
  path: /data/warehouse
audit-log:
  enabled: true
  path: /var/run/compactor/audit.ndjson.zst
`)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Strategy != "BINPACK" {
		t.Fatalf("expected BINPACK, got %s", loaded.Strategy)
	}
	if loaded.Planner.TargetFileSize != 536870912 {
		t.Fatalf("unexpected target file size: %d", loaded.Planner.TargetFileSize)
	}
	if !loaded.Orchestrator.PartialProgressEnabled || loaded.Orchestrator.MaxCommits != 10 {
		t.Fatalf("unexpected orchestrator config: %+v", loaded.Orchestrator)
	}
	if loaded.Scan.Source != "local" || loaded.Scan.Path != "/data/warehouse" {
		t.Fatalf("unexpected scan config: %+v", loaded.Scan)
	}
}

func TestLoadParsesStorageZOrderColumns(t *testing.T) {
	path := writeConfig(t, `
target-file-size-bytes: 1000
max-file-group-size-bytes: 10000
max-concurrent-file-group-actions: 1
storage:
  bucket-url: mem://
  prefix: out/
  zorder-columns:
    - name: id
      kind: int64
    - name: label
      kind: string
      width: 16
`)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Storage.BucketURL != "mem://" || loaded.Storage.Prefix != "out/" {
		t.Fatalf("unexpected storage config: %+v", loaded.Storage)
	}
	if len(loaded.Storage.ZOrderColumns) != 2 {
		t.Fatalf("expected 2 zorder columns, got %d", len(loaded.Storage.ZOrderColumns))
	}
	if loaded.Storage.ZOrderColumns[1].Width != 16 {
		t.Fatalf("unexpected width: %+v", loaded.Storage.ZOrderColumns[1])
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
strategy: BINPACK
target-file-size-bytes: 1000
max-file-group-size-bytes: 10000
max-concurrent-file-group-actions: 1
not-a-real-option: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for an unknown config key")
	}
}

func TestLoadRejectsInvalidPlannerConfig(t *testing.T) {
	path := writeConfig(t, `
target-file-size-bytes: 0
max-file-group-size-bytes: 0
max-concurrent-file-group-actions: 1
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected a validation error for zero-valued planner config")
	}
}

func TestLoadRejectsPartialProgressWithoutMaxCommits(t *testing.T) {
	path := writeConfig(t, `
target-file-size-bytes: 1000
max-file-group-size-bytes: 10000
max-concurrent-file-group-actions: 1
partial-progress:
  enabled: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected a validation error for partial progress without max-commits")
	}
}
