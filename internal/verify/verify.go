// Package verify checks that a model directory is ready to be served:
// required environment variables, tokenizer/config files, weights, and a
// parseable config.json.
package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ocrdeploy/internal/common/fsutil"
	"ocrdeploy/internal/config"
	"ocrdeploy/internal/registry"
)

// Status of a single check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one named verification step.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Section groups related checks.
type Section struct {
	Name   string  `json:"name"`
	Checks []Check `json:"checks"`
}

// Passed reports whether no check in the section failed. Warnings pass.
func (s Section) Passed() bool {
	for _, c := range s.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

func (s *Section) add(name string, st Status, format string, a ...any) {
	s.Checks = append(s.Checks, Check{Name: name, Status: st, Detail: fmt.Sprintf(format, a...)})
}

// Report is the full verification result.
type Report struct {
	ModelPath string           `json:"model_path"`
	Sections  []Section        `json:"sections"`
	Weights   registry.Weights `json:"weights"`
	Model     *ModelConfig     `json:"model,omitempty"`
}

// Passed reports whether every section passed.
func (r Report) Passed() bool {
	for _, s := range r.Sections {
		if !s.Passed() {
			return false
		}
	}
	return true
}

// Failures returns the failed checks across all sections.
func (r Report) Failures() []Check {
	var out []Check
	for _, s := range r.Sections {
		for _, c := range s.Checks {
			if c.Status == StatusFail {
				out = append(out, c)
			}
		}
	}
	return out
}

// ModelConfig is the subset of a Hugging Face config.json that is reported.
type ModelConfig struct {
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures"`
	VocabSize     *int     `json:"vocab_size,omitempty"`
}

// Architecture returns the first declared architecture or "unknown".
func (m ModelConfig) Architecture() string {
	if len(m.Architectures) == 0 || m.Architectures[0] == "" {
		return "unknown"
	}
	return m.Architectures[0]
}

// Defaults for Options.
var (
	DefaultRequiredEnv   = []string{config.EnvModelName, config.EnvModelPath, config.EnvTokenizerPath}
	DefaultRequiredFiles = []string{"config.json", "tokenizer.json", "tokenizer_config.json"}
)

// Options configures Run. Zero values use the defaults above and the
// process environment.
type Options struct {
	// ModelPath overrides MODEL_PATH.
	ModelPath     string
	Lookup        config.LookupFunc
	RequiredEnv   []string
	RequiredFiles []string
}

func (o Options) withDefaults() Options {
	if o.Lookup == nil {
		o.Lookup = os.LookupEnv
	}
	if o.RequiredEnv == nil {
		o.RequiredEnv = DefaultRequiredEnv
	}
	if o.RequiredFiles == nil {
		o.RequiredFiles = DefaultRequiredFiles
	}
	if o.ModelPath == "" {
		if v, ok := o.Lookup(config.EnvModelPath); ok && strings.TrimSpace(v) != "" {
			o.ModelPath = strings.TrimSpace(v)
		} else {
			o.ModelPath = config.DefaultModelPath
		}
	}
	return o
}

// Run executes all sections in order: environment, model files, model configuration.
func Run(opts Options) Report {
	opts = opts.withDefaults()
	dir, err := fsutil.ExpandHome(opts.ModelPath)
	if err != nil {
		dir = opts.ModelPath
	}
	r := Report{ModelPath: dir}
	r.Sections = append(r.Sections, CheckEnvironment(opts.Lookup, opts.RequiredEnv))
	files, weights := CheckModelFiles(dir, opts.RequiredFiles)
	r.Sections = append(r.Sections, files)
	r.Weights = weights
	cfgSection, mc := CheckModelConfig(dir)
	r.Sections = append(r.Sections, cfgSection)
	r.Model = mc
	return r
}

// CheckEnvironment fails for every variable that is unset or empty.
func CheckEnvironment(lookup config.LookupFunc, vars []string) Section {
	s := Section{Name: "Environment Variables"}
	for _, k := range vars {
		v, ok := lookup(k)
		if ok && strings.TrimSpace(v) != "" {
			s.add(k, StatusOK, "%s", v)
			continue
		}
		s.add(k, StatusFail, "not set")
	}
	return s
}

// CheckModelFiles checks the directory, the required files (warnings only)
// and the weights (at least one weight file is mandatory).
func CheckModelFiles(dir string, required []string) (Section, registry.Weights) {
	s := Section{Name: "Model Files"}
	if !fsutil.IsDir(dir) {
		s.add("model_dir", StatusFail, "model directory does not exist: %s", dir)
		return s, registry.Weights{Dir: dir}
	}
	s.add("model_dir", StatusOK, "%s", dir)
	for _, f := range required {
		if fsutil.IsFile(filepath.Join(dir, f)) {
			s.add(f, StatusOK, "found")
		} else {
			s.add(f, StatusWarn, "missing")
		}
	}
	w, err := registry.ScanWeights(dir)
	if err != nil {
		s.add("weights", StatusFail, "scan: %v", err)
		return s, registry.Weights{Dir: dir}
	}
	if !w.Found() {
		s.add("weights", StatusFail, "no model weights found")
		return s, w
	}
	first := w.Files[0]
	for _, f := range w.Files {
		if f.ShardTotal == 0 || f.Shard == 1 {
			first = f
			break
		}
	}
	s.add("weights", StatusOK, "found model weights: %s (%d files)", first.Name, len(w.Files))
	for _, set := range w.ShardSets {
		switch {
		case set.Implausible:
			s.add("weights_shards", StatusWarn, "%s %s checkpoint has an implausible shard set %v", set.Prefix, set.Format, set.Present)
		case !set.Complete():
			more := ""
			if set.MissingCount > len(set.Missing) {
				more = fmt.Sprintf(" (+%d more)", set.MissingCount-len(set.Missing))
			}
			s.add("weights_shards", StatusWarn, "%s %s checkpoint missing %d of %d shards %v%s", set.Prefix, set.Format, set.MissingCount, set.Total, set.Missing, more)
		}
	}
	return s, w
}

// CheckModelConfig parses config.json and reports model type, architecture and vocabulary size.
func CheckModelConfig(dir string) (Section, *ModelConfig) {
	s := Section{Name: "Model Configuration"}
	p := filepath.Join(dir, "config.json")
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.add("config.json", StatusFail, "config.json not found")
		} else {
			s.add("config.json", StatusFail, "error reading config: %v", err)
		}
		return s, nil
	}
	var mc ModelConfig
	if err := json.Unmarshal(b, &mc); err != nil {
		s.add("config.json", StatusFail, "failed to parse config.json: %v", err)
		return s, nil
	}
	if mc.ModelType == "" {
		mc.ModelType = "unknown"
	}
	s.add("config.json", StatusOK, "model configuration loaded successfully")
	s.add("model_type", StatusOK, "%s", mc.ModelType)
	s.add("architecture", StatusOK, "%s", mc.Architecture())
	if mc.VocabSize != nil {
		s.add("vocab_size", StatusOK, "%d", *mc.VocabSize)
	}
	return s, &mc
}

// Render writes a human-readable report.
func (r Report) Render(w io.Writer) {
	fmt.Fprintf(w, "Verifying model in: %s\n", r.ModelPath)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	for i, s := range r.Sections {
		fmt.Fprintf(w, "\n%d. %s:\n", i+1, s.Name)
		for _, c := range s.Checks {
			fmt.Fprintf(w, "  [%-4s] %s: %s\n", strings.ToUpper(string(c.Status)), c.Name, c.Detail)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	if r.Passed() {
		fmt.Fprintln(w, "All verifications passed. Model is ready for deployment.")
		return
	}
	fmt.Fprintln(w, "Some verifications failed. Model deployment may not work correctly.")
}
