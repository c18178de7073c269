package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestResolve_DefaultsAndDerived(t *testing.T) {
	cfg, err := Resolve("", mapLookup(nil))
	if err != nil { t.Fatalf("resolve: %v", err) }
	if cfg.ModelName != DefaultModelName || cfg.ModelPath != DefaultModelPath {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TokenizerPath != DefaultModelPath {
		t.Fatalf("tokenizer path should default to model path, got %q", cfg.TokenizerPath)
	}
	if cfg.ServedModelName != DefaultModelName {
		t.Fatalf("served model name should default to model name, got %q", cfg.ServedModelName)
	}
	if !cfg.TrustsRemoteCode() {
		t.Fatalf("trust remote code should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "model_path: /from/file\nmax_num_seqs: 8\n")
	env := map[string]string{
		EnvModelPath:            "/from/env",
		EnvGPUMemoryUtilization: "0.75",
		EnvTrustRemoteCode:      "no",
		EnvAPIKeyAlt:            "secret",
		EnvExtraArgs:            "--enforce-eager  --disable-log-requests",
	}
	cfg, err := Resolve(p, mapLookup(env))
	if err != nil { t.Fatalf("resolve: %v", err) }
	if cfg.ModelPath != "/from/env" { t.Fatalf("model path=%q", cfg.ModelPath) }
	if cfg.MaxNumSeqs != 8 { t.Fatalf("max num seqs=%d", cfg.MaxNumSeqs) }
	if cfg.GPUMemoryUtilization != 0.75 { t.Fatalf("gpu util=%g", cfg.GPUMemoryUtilization) }
	if cfg.TrustsRemoteCode() { t.Fatalf("expected trust remote code disabled") }
	if cfg.APIKey != "secret" { t.Fatalf("api key=%q", cfg.APIKey) }
	if len(cfg.ExtraArgs) != 2 || cfg.ExtraArgs[1] != "--disable-log-requests" {
		t.Fatalf("extra args=%v", cfg.ExtraArgs)
	}
	if cfg.TokenizerPath != "/from/env" { t.Fatalf("tokenizer path=%q", cfg.TokenizerPath) }
}

func TestFromEnv_MalformedValuesAreNamed(t *testing.T) {
	env := map[string]string{
		EnvMaxModelLen:     "lots",
		EnvPort:            "eighty",
		EnvTrustRemoteCode: "maybe",
		EnvModelName:       "still-applied",
	}
	cfg, err := FromEnv(Defaults(), mapLookup(env))
	if err == nil { t.Fatalf("expected error") }
	for _, name := range []string{EnvMaxModelLen, EnvPort, EnvTrustRemoteCode} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error %q should mention %s", err, name)
		}
	}
	if cfg.ModelName != "still-applied" { t.Fatalf("well-formed values should still apply: %+v", cfg) }
}

func TestValidate_ReportsAllViolations(t *testing.T) {
	cfg := Config{GPUMemoryUtilization: 1.5, Port: 70000}
	err := cfg.Validate()
	if err == nil { t.Fatalf("expected validation error") }
	msg := err.Error()
	for _, want := range []string{"model name", "model path", "max model len", "gpu memory utilization", "max num seqs", "tensor parallel size", "port"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("missing %q in %q", want, msg)
		}
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"1", "TRUE", "yes", "On"} {
		if v, err := ParseBool(s); err != nil || !v { t.Fatalf("%q -> %v %v", s, v, err) }
	}
	for _, s := range []string{"0", "false", "NO", "off"} {
		if v, err := ParseBool(s); err != nil || v { t.Fatalf("%q -> %v %v", s, v, err) }
	}
	if _, err := ParseBool("perhaps"); err == nil { t.Fatalf("expected error") }
}

func TestEnvironAndRedacted(t *testing.T) {
	cfg := Defaults().withDerived()
	cfg.APIKey = "k"
	env := strings.Join(cfg.Environ(), "\n")
	for _, want := range []string{"MAX_MODEL_LEN=8192", "GPU_MEMORY_UTILIZATION=0.9", "TRUST_REMOTE_CODE=true", "VLLM_API_KEY=k"} {
		if !strings.Contains(env, want) { t.Fatalf("missing %s in\n%s", want, env) }
	}
	if r := cfg.Redacted(); r.APIKey != "****" || cfg.APIKey != "k" {
		t.Fatalf("redaction: %q / %q", r.APIKey, cfg.APIKey)
	}
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, ".env")
	if err := os.WriteFile(p, []byte("OCRDEPLOY_TEST_A=file\nOCRDEPLOY_TEST_B=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OCRDEPLOY_TEST_A", "process")
	// register B for cleanup, then clear it so the file can set it
	t.Setenv("OCRDEPLOY_TEST_B", "")
	_ = os.Unsetenv("OCRDEPLOY_TEST_B")

	got, err := LoadDotEnv(filepath.Join(d, "missing.env"), p)
	if err != nil { t.Fatalf("load: %v", err) }
	if got != p { t.Fatalf("loaded %q, want %q", got, p) }
	if v := os.Getenv("OCRDEPLOY_TEST_A"); v != "process" { t.Fatalf("A=%q", v) }
	if v := os.Getenv("OCRDEPLOY_TEST_B"); v != "file" { t.Fatalf("B=%q", v) }

	if got, err := LoadDotEnv(filepath.Join(d, "nope")); err != nil || got != "" {
		t.Fatalf("expected no-op, got %q %v", got, err)
	}
}

func TestLookup_ConfigOverFallback(t *testing.T) {
	cfg := Defaults()
	cfg.ModelPath = "/from/config"
	cfg = cfg.withDerived()
	lookup := cfg.Lookup(mapLookup(map[string]string{EnvModelPath: "/from/env", "OTHER": "x"}))
	if v, ok := lookup(EnvModelPath); !ok || v != "/from/config" {
		t.Fatalf("model path: %q %v", v, ok)
	}
	if v, ok := lookup(EnvTokenizerPath); !ok || v != "/from/config" {
		t.Fatalf("derived tokenizer path: %q %v", v, ok)
	}
	if v, ok := lookup("OTHER"); !ok || v != "x" {
		t.Fatalf("fallback: %q %v", v, ok)
	}
	if _, ok := lookup(EnvAPIKey); ok {
		t.Fatalf("unset api key should fall through to the fallback")
	}
}
