package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds the settings passed through to the inference runtime.
// Zero values mean "unspecified" and are replaced by Defaults during Resolve.
type Config struct {
	ModelName            string   `json:"model_name" yaml:"model_name" toml:"model_name"`
	ModelPath            string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	TokenizerPath        string   `json:"tokenizer_path,omitempty" yaml:"tokenizer_path,omitempty" toml:"tokenizer_path,omitempty"`
	ServedModelName      string   `json:"served_model_name,omitempty" yaml:"served_model_name,omitempty" toml:"served_model_name,omitempty"`
	MaxModelLen          int      `json:"max_model_len" yaml:"max_model_len" toml:"max_model_len"`
	GPUMemoryUtilization float64  `json:"gpu_memory_utilization" yaml:"gpu_memory_utilization" toml:"gpu_memory_utilization"`
	MaxNumSeqs           int      `json:"max_num_seqs" yaml:"max_num_seqs" toml:"max_num_seqs"`
	TensorParallelSize   int      `json:"tensor_parallel_size" yaml:"tensor_parallel_size" toml:"tensor_parallel_size"`
	TrustRemoteCode      *bool    `json:"trust_remote_code,omitempty" yaml:"trust_remote_code,omitempty" toml:"trust_remote_code,omitempty"`
	Host                 string   `json:"host" yaml:"host" toml:"host"`
	Port                 int      `json:"port" yaml:"port" toml:"port"`
	APIKey               string   `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	Dtype                string   `json:"dtype,omitempty" yaml:"dtype,omitempty" toml:"dtype,omitempty"`
	ExtraArgs            []string `json:"extra_args,omitempty" yaml:"extra_args,omitempty" toml:"extra_args,omitempty"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Encode renders cfg in the given format (yaml, json or toml).
func Encode(cfg Config, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml", "":
		return yaml.Marshal(cfg)
	case "json":
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case "toml":
		return toml.Marshal(cfg)
	case "env":
		return []byte(strings.Join(cfg.Environ(), "\n") + "\n"), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
