package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables understood by the runtime and the tooling.
const (
	EnvModelName            = "MODEL_NAME"
	EnvModelPath            = "MODEL_PATH"
	EnvTokenizerPath        = "TOKENIZER_PATH"
	EnvServedModelName      = "SERVED_MODEL_NAME"
	EnvMaxModelLen          = "MAX_MODEL_LEN"
	EnvGPUMemoryUtilization = "GPU_MEMORY_UTILIZATION"
	EnvMaxNumSeqs           = "MAX_NUM_SEQS"
	EnvTensorParallelSize   = "TENSOR_PARALLEL_SIZE"
	EnvTrustRemoteCode      = "TRUST_REMOTE_CODE"
	EnvHost                 = "HOST"
	EnvPort                 = "PORT"
	EnvAPIKey               = "VLLM_API_KEY"
	EnvAPIKeyAlt            = "API_KEY"
	EnvDtype                = "DTYPE"
	EnvExtraArgs            = "VLLM_EXTRA_ARGS"
)

const (
	DefaultModelName            = "rednote-hilab/dots.ocr"
	DefaultModelPath            = "/models/DotsOCR"
	DefaultMaxModelLen          = 8192
	DefaultGPUMemoryUtilization = 0.90
	DefaultMaxNumSeqs           = 16
	DefaultTensorParallelSize   = 1
	DefaultHost                 = "0.0.0.0"
	DefaultPort                 = 8000
)

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	trust := true
	return Config{
		ModelName:            DefaultModelName,
		ModelPath:            DefaultModelPath,
		MaxModelLen:          DefaultMaxModelLen,
		GPUMemoryUtilization: DefaultGPUMemoryUtilization,
		MaxNumSeqs:           DefaultMaxNumSeqs,
		TensorParallelSize:   DefaultTensorParallelSize,
		TrustRemoteCode:      &trust,
		Host:                 DefaultHost,
		Port:                 DefaultPort,
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Merge overlays non-zero fields of o onto c.
func (c Config) Merge(o Config) Config {
	if o.ModelName != "" {
		c.ModelName = o.ModelName
	}
	if o.ModelPath != "" {
		c.ModelPath = o.ModelPath
	}
	if o.TokenizerPath != "" {
		c.TokenizerPath = o.TokenizerPath
	}
	if o.ServedModelName != "" {
		c.ServedModelName = o.ServedModelName
	}
	if o.MaxModelLen != 0 {
		c.MaxModelLen = o.MaxModelLen
	}
	if o.GPUMemoryUtilization != 0 {
		c.GPUMemoryUtilization = o.GPUMemoryUtilization
	}
	if o.MaxNumSeqs != 0 {
		c.MaxNumSeqs = o.MaxNumSeqs
	}
	if o.TensorParallelSize != 0 {
		c.TensorParallelSize = o.TensorParallelSize
	}
	if o.TrustRemoteCode != nil {
		v := *o.TrustRemoteCode
		c.TrustRemoteCode = &v
	}
	if o.Host != "" {
		c.Host = o.Host
	}
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.APIKey != "" {
		c.APIKey = o.APIKey
	}
	if o.Dtype != "" {
		c.Dtype = o.Dtype
	}
	if len(o.ExtraArgs) > 0 {
		c.ExtraArgs = append([]string(nil), o.ExtraArgs...)
	}
	return c
}

// FromEnv overlays environment variables onto base. Malformed values are
// collected and returned together; well-formed ones are still applied.
func FromEnv(base Config, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	var errs []error
	cfg := base
	if v, ok := get(EnvModelName); ok {
		cfg.ModelName = v
	}
	if v, ok := get(EnvModelPath); ok {
		cfg.ModelPath = v
	}
	if v, ok := get(EnvTokenizerPath); ok {
		cfg.TokenizerPath = v
	}
	if v, ok := get(EnvServedModelName); ok {
		cfg.ServedModelName = v
	}
	if v, ok := get(EnvMaxModelLen); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", EnvMaxModelLen, v))
		} else {
			cfg.MaxModelLen = n
		}
	}
	if v, ok := get(EnvGPUMemoryUtilization); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid number %q", EnvGPUMemoryUtilization, v))
		} else {
			cfg.GPUMemoryUtilization = f
		}
	}
	if v, ok := get(EnvMaxNumSeqs); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", EnvMaxNumSeqs, v))
		} else {
			cfg.MaxNumSeqs = n
		}
	}
	if v, ok := get(EnvTensorParallelSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", EnvTensorParallelSize, v))
		} else {
			cfg.TensorParallelSize = n
		}
	}
	if v, ok := get(EnvTrustRemoteCode); ok {
		b, err := ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTrustRemoteCode, err))
		} else {
			cfg.TrustRemoteCode = &b
		}
	}
	if v, ok := get(EnvHost); ok {
		cfg.Host = v
	}
	if v, ok := get(EnvPort); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", EnvPort, v))
		} else {
			cfg.Port = n
		}
	}
	if v, ok := get(EnvAPIKey); ok {
		cfg.APIKey = v
	} else if v, ok := get(EnvAPIKeyAlt); ok {
		cfg.APIKey = v
	}
	if v, ok := get(EnvDtype); ok {
		cfg.Dtype = v
	}
	if v, ok := get(EnvExtraArgs); ok {
		cfg.ExtraArgs = strings.Fields(v)
	}
	return cfg, errors.Join(errs...)
}

// ParseBool accepts 1/0, true/false, yes/no and on/off in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on", "y", "t":
		return true, nil
	case "0", "false", "no", "off", "n", "f":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

// Resolve builds the effective configuration: defaults, then the optional
// file at path, then the environment. Derived fields are filled afterwards.
func Resolve(path string, lookup LookupFunc) (Config, error) {
	cfg := Defaults()
	if path != "" {
		fileCfg, err := Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = cfg.Merge(fileCfg)
	}
	cfg, err := FromEnv(cfg, lookup)
	if err != nil {
		return cfg, err
	}
	return cfg.withDerived(), nil
}

func (c Config) withDerived() Config {
	if c.TokenizerPath == "" {
		c.TokenizerPath = c.ModelPath
	}
	if c.ServedModelName == "" {
		c.ServedModelName = c.ModelName
	}
	return c
}

// TrustsRemoteCode reports the effective TRUST_REMOTE_CODE value (default true).
func (c Config) TrustsRemoteCode() bool {
	if c.TrustRemoteCode == nil {
		return true
	}
	return *c.TrustRemoteCode
}

// Validate checks value ranges and reports every violation.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ModelName) == "" {
		errs = append(errs, errors.New("model name is required"))
	}
	if strings.TrimSpace(c.ModelPath) == "" {
		errs = append(errs, errors.New("model path is required"))
	}
	if c.MaxModelLen <= 0 {
		errs = append(errs, fmt.Errorf("max model len must be positive, got %d", c.MaxModelLen))
	}
	if c.GPUMemoryUtilization <= 0 || c.GPUMemoryUtilization > 1 {
		errs = append(errs, fmt.Errorf("gpu memory utilization must be in (0, 1], got %g", c.GPUMemoryUtilization))
	}
	if c.MaxNumSeqs <= 0 {
		errs = append(errs, fmt.Errorf("max num seqs must be positive, got %d", c.MaxNumSeqs))
	}
	if c.TensorParallelSize < 1 {
		errs = append(errs, fmt.Errorf("tensor parallel size must be >= 1, got %d", c.TensorParallelSize))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	return errors.Join(errs...)
}

// Environ renders the configuration as KEY=VALUE pairs for a child process.
func (c Config) Environ() []string {
	env := []string{
		EnvModelName + "=" + c.ModelName,
		EnvModelPath + "=" + c.ModelPath,
		EnvTokenizerPath + "=" + c.TokenizerPath,
		EnvServedModelName + "=" + c.ServedModelName,
		EnvMaxModelLen + "=" + strconv.Itoa(c.MaxModelLen),
		EnvGPUMemoryUtilization + "=" + strconv.FormatFloat(c.GPUMemoryUtilization, 'f', -1, 64),
		EnvMaxNumSeqs + "=" + strconv.Itoa(c.MaxNumSeqs),
		EnvTensorParallelSize + "=" + strconv.Itoa(c.TensorParallelSize),
		EnvTrustRemoteCode + "=" + strconv.FormatBool(c.TrustsRemoteCode()),
		EnvHost + "=" + c.Host,
		EnvPort + "=" + strconv.Itoa(c.Port),
	}
	if c.APIKey != "" {
		env = append(env, EnvAPIKey+"="+c.APIKey)
	}
	if c.Dtype != "" {
		env = append(env, EnvDtype+"="+c.Dtype)
	}
	if len(c.ExtraArgs) > 0 {
		env = append(env, EnvExtraArgs+"="+strings.Join(c.ExtraArgs, " "))
	}
	return env
}

// Lookup returns a LookupFunc that answers from Environ first and falls back
// to fallback (os.LookupEnv when nil), i.e. what a child process would see.
func (c Config) Lookup(fallback LookupFunc) LookupFunc {
	if fallback == nil {
		fallback = os.LookupEnv
	}
	env := make(map[string]string)
	for _, kv := range c.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return func(k string) (string, bool) {
		if v, ok := env[k]; ok {
			return v, true
		}
		return fallback(k)
	}
}

// Redacted returns a copy safe for printing.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "****"
	}
	return c
}

// LoadDotEnv loads the first existing file among paths into the process
// environment. Variables that are already set win over the file. It returns
// the path that was loaded, or "" when none existed.
func LoadDotEnv(paths ...string) (string, error) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return p, fmt.Errorf("load %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}
