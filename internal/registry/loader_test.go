package registry

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func touch(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
}

func TestScanWeights_SingleFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "model.safetensors", 10)
	touch(t, dir, "config.json", 2)
	touch(t, dir, "tokenizer.json", 2)
	if err := os.Mkdir(filepath.Join(dir, "pytorch_model.bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := ScanWeights(dir)
	if err != nil { t.Fatalf("scan error: %v", err) }
	if !w.Found() || len(w.Files) != 1 {
		t.Fatalf("expected 1 weight file, got %+v", w.Files)
	}
	if w.Files[0].Format != "safetensors" || w.Files[0].Size != 10 {
		t.Fatalf("unexpected file: %+v", w.Files[0])
	}
	if w.TotalBytes() != 10 { t.Fatalf("total=%d", w.TotalBytes()) }
}

func TestScanWeights_ShardSets(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "model-00001-of-00003.safetensors", 1)
	touch(t, dir, "model-00003-of-00003.safetensors", 1)
	touch(t, dir, "pytorch_model-00001-of-00002.bin", 1)
	touch(t, dir, "pytorch_model-00002-of-00002.bin", 1)
	touch(t, dir, "model.safetensors.index.json", 1)
	w, err := ScanWeights(dir)
	if err != nil { t.Fatalf("scan error: %v", err) }
	if len(w.Files) != 4 { t.Fatalf("expected 4 files, got %d", len(w.Files)) }
	if w.Files[0].Name != "model-00001-of-00003.safetensors" { t.Fatalf("not sorted: %v", w.Files[0].Name) }
	if len(w.ShardSets) != 2 { t.Fatalf("expected 2 shard sets, got %+v", w.ShardSets) }
	st := w.ShardSets[0]
	if st.Prefix != "model" || st.Complete() || len(st.Missing) != 1 || st.Missing[0] != 2 {
		t.Fatalf("unexpected safetensors set: %+v", st)
	}
	if bin := w.ShardSets[1]; bin.Prefix != "pytorch_model" || !bin.Complete() {
		t.Fatalf("unexpected bin set: %+v", bin)
	}
}

func TestScanWeights_ImplausibleShardTotal(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "model-00001-of-300000000.safetensors", 1)
	touch(t, dir, "model-00009-of-00004.bin", 1)
	w, err := ScanWeights(dir)
	if err != nil { t.Fatalf("scan error: %v", err) }
	if !w.Found() || len(w.ShardSets) != 2 { t.Fatalf("unexpected scan: %+v", w) }
	for _, set := range w.ShardSets {
		if !set.Implausible || set.Complete() || len(set.Missing) != 0 || set.MissingCount != 0 {
			t.Fatalf("expected implausible set without missing list: %+v", set)
		}
	}
}

func TestScanWeights_LargeGapListIsCapped(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "model-00001-of-05000.safetensors", 1)
	w, err := ScanWeights(dir)
	if err != nil { t.Fatalf("scan error: %v", err) }
	set := w.ShardSets[0]
	if set.Implausible || set.MissingCount != 4999 || len(set.Missing) != maxListedMissing || set.Missing[0] != 2 {
		t.Fatalf("unexpected set: total=%d count=%d listed=%d", set.Total, set.MissingCount, len(set.Missing))
	}
}

func TestScanWeights_MissingDir(t *testing.T) {
	if _, err := ScanWeights(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestScanWeights_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	sub := filepath.Join(home, "models")
	if err := os.MkdirAll(sub, 0o755); err != nil { t.Fatal(err) }
	touch(t, sub, "pytorch_model.bin", 3)
	w, err := ScanWeights("~/models")
	if err != nil { t.Fatalf("scan: %v", err) }
	if w.Dir != sub || len(w.Files) != 1 {
		t.Fatalf("unexpected scan: %+v", w)
	}
}
