// Package launcher starts and supervises the external vLLM OpenAI-compatible
// server for the configured model.
package launcher

import (
	"strconv"

	"ocrdeploy/internal/config"
)

// DefaultCommand runs the vLLM OpenAI API server module.
var DefaultCommand = []string{"python3", "-m", "vllm.entrypoints.openai.api_server"}

// Args renders cfg as vLLM server flags.
func Args(cfg config.Config) []string {
	tok := cfg.TokenizerPath
	if tok == "" {
		tok = cfg.ModelPath
	}
	served := cfg.ServedModelName
	if served == "" {
		served = cfg.ModelName
	}
	args := []string{
		"--model", cfg.ModelPath,
		"--served-model-name", served,
		"--tokenizer", tok,
		"--max-model-len", strconv.Itoa(cfg.MaxModelLen),
		"--gpu-memory-utilization", strconv.FormatFloat(cfg.GPUMemoryUtilization, 'f', -1, 64),
		"--max-num-seqs", strconv.Itoa(cfg.MaxNumSeqs),
		"--tensor-parallel-size", strconv.Itoa(cfg.TensorParallelSize),
	}
	if cfg.TrustsRemoteCode() {
		args = append(args, "--trust-remote-code")
	}
	args = append(args, "--host", cfg.Host, "--port", strconv.Itoa(cfg.Port))
	if cfg.APIKey != "" {
		args = append(args, "--api-key", cfg.APIKey)
	}
	if cfg.Dtype != "" {
		args = append(args, "--dtype", cfg.Dtype)
	}
	return append(args, cfg.ExtraArgs...)
}

// Argv is the full command line: prefix (DefaultCommand when empty) plus Args.
func Argv(prefix []string, cfg config.Config) []string {
	if len(prefix) == 0 {
		prefix = DefaultCommand
	}
	return append(append([]string(nil), prefix...), Args(cfg)...)
}

// Redact masks the value following --api-key for logging.
func Redact(argv []string) []string {
	out := append([]string(nil), argv...)
	for i := 0; i+1 < len(out); i++ {
		if out[i] == "--api-key" {
			out[i+1] = "****"
		}
	}
	return out
}
