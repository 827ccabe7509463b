package tsdb

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.IndexStep != DefaultIndexStep {
		t.Errorf("expected index step %d, got %d", DefaultIndexStep, cfg.IndexStep)
	}
	if cfg.SplitIndexGT != DefaultSplitIndexGT {
		t.Errorf("expected split threshold %d, got %d", DefaultSplitIndexGT, cfg.SplitIndexGT)
	}
	if cfg.Backup.RetentionCount != 10 {
		t.Errorf("expected retention 10, got %d", cfg.Backup.RetentionCount)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsdb.yaml")
	doc := `
index_step: 1024
split_index_gt: 4096
container:
  cache_kb: 8192
  journal_mode: DELETE
backup:
  compression: true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IndexStep != 1024 {
		t.Errorf("index_step = %d, want 1024", cfg.IndexStep)
	}
	if cfg.SplitIndexGT != 4096 {
		t.Errorf("split_index_gt = %d, want 4096", cfg.SplitIndexGT)
	}
	if !cfg.Backup.Compression {
		t.Error("backup compression should be on")
	}

	cc := cfg.ContainerConfig()
	if cc.CacheKB != 8192 || cc.JournalMode != "DELETE" {
		t.Errorf("container config not applied: %+v", cc)
	}
	// Unset fields keep their defaults.
	if cc.Synchronous != "NORMAL" {
		t.Errorf("expected default synchronous NORMAL, got %q", cc.Synchronous)
	}
}

func TestConfig_Apply(t *testing.T) {
	s := createPriceSeries(t, "s")
	cfg := DefaultConfig()
	cfg.IndexStep = 2
	cfg.SplitIndexGT = 4
	cfg.Apply(s)

	if s.indexStep != 2 || s.splitIndexGT != 4 {
		t.Errorf("knobs not applied: step %d, split %d", s.indexStep, s.splitIndexGT)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
