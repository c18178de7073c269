package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "model_name: m1\nmodel_path: /tmp/m\nmax_model_len: 4096\ngpu_memory_utilization: 0.8\nmax_num_seqs: 4\ntensor_parallel_size: 2\ntrust_remote_code: false\nport: 9000\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.ModelName != "m1" || cfg.ModelPath != "/tmp/m" || cfg.MaxModelLen != 4096 || cfg.GPUMemoryUtilization != 0.8 || cfg.MaxNumSeqs != 4 || cfg.TensorParallelSize != 2 || cfg.Port != 9000 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.TrustRemoteCode == nil || *cfg.TrustRemoteCode {
		t.Fatalf("expected trust_remote_code=false, got %v", cfg.TrustRemoteCode)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"model_name":"m2","model_path":"/m","max_model_len":42,"max_num_seqs":2,"extra_args":["--enforce-eager"]}`)
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.ModelName != "m2" || cfg.ModelPath != "/m" || cfg.MaxModelLen != 42 || cfg.MaxNumSeqs != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.ExtraArgs) != 1 || cfg.ExtraArgs[0] != "--enforce-eager" {
		t.Fatalf("extra args: %v", cfg.ExtraArgs)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "model_name=\"m3\"\nmodel_path=\"/x\"\ngpu_memory_utilization=0.5\nhost=\"127.0.0.1\"\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.ModelName != "m3" || cfg.ModelPath != "/x" || cfg.GPUMemoryUtilization != 0.5 || cfg.Host != "127.0.0.1" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil { t.Fatalf("expected error on empty path") }
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil { t.Fatalf("expected unsupported extension error") }
}

func TestEncodeRoundTripFormats(t *testing.T) {
	cfg := Defaults()
	for _, f := range []string{"yaml", "json", "toml"} {
		b, err := Encode(cfg, f)
		if err != nil { t.Fatalf("%s: %v", f, err) }
		p := writeTempFile(t, t.TempDir(), "cfg."+f, string(b))
		got, err := Load(p)
		if err != nil { t.Fatalf("%s reload: %v", f, err) }
		if got.ModelName != cfg.ModelName || got.MaxModelLen != cfg.MaxModelLen || got.Port != cfg.Port {
			t.Fatalf("%s: unexpected reload %+v", f, got)
		}
	}
	b, err := Encode(cfg, "env")
	if err != nil { t.Fatalf("env: %v", err) }
	if !strings.Contains(string(b), "MODEL_NAME=rednote-hilab/dots.ocr") {
		t.Fatalf("env output: %s", b)
	}
	if _, err := Encode(cfg, "xml"); err == nil { t.Fatalf("expected unsupported format error") }
}
