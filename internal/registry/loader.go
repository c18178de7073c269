package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"ocrdeploy/internal/common/fsutil"
)

// Single-file weight names recognized in a Hugging Face model directory.
var singleWeightNames = map[string]string{
	"pytorch_model.bin": "bin",
	"model.safetensors": "safetensors",
}

// shardPattern matches e.g. model-00001-of-00004.safetensors.
var shardPattern = regexp.MustCompile(`^(pytorch_model|model)-(\d+)-of-(\d+)\.(bin|safetensors)$`)

const (
	// MaxShardTotal bounds the shard count taken from a file name. Larger
	// totals mark the set implausible instead of being enumerated.
	MaxShardTotal = 10000
	// maxListedMissing caps ShardSet.Missing; MissingCount has the full count.
	maxListedMissing = 32
)

// WeightFile is one weight file found on disk.
type WeightFile struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Format string `json:"format"`
	// Shard index and total for sharded checkpoints; zero otherwise.
	Shard      int `json:"shard,omitempty"`
	ShardTotal int `json:"shard_total,omitempty"`
}

// ShardSet groups the shards of one sharded checkpoint.
type ShardSet struct {
	Prefix  string `json:"prefix"`
	Format  string `json:"format"`
	Total   int    `json:"total"`
	Present []int  `json:"present"`
	// Missing lists the first absent shard numbers, at most maxListedMissing.
	Missing      []int `json:"missing,omitempty"`
	MissingCount int   `json:"missing_count,omitempty"`
	// Implausible is set when the total is out of range or a shard number
	// exceeds it. Missing shards are not computed then.
	Implausible bool `json:"implausible,omitempty"`
}

// Complete reports whether every shard of the set is on disk.
func (s ShardSet) Complete() bool { return !s.Implausible && s.MissingCount == 0 }

// Weights is the result of scanning a model directory.
type Weights struct {
	Dir       string       `json:"dir"`
	Files     []WeightFile `json:"files"`
	ShardSets []ShardSet   `json:"shard_sets,omitempty"`
}

// Found reports whether at least one weight file exists.
func (w Weights) Found() bool { return len(w.Files) > 0 }

// TotalBytes sums the sizes of all weight files.
func (w Weights) TotalBytes() int64 {
	var n int64
	for _, f := range w.Files {
		n += f.Size
	}
	return n
}

// ScanWeights lists weight files in dir (non-recursive), sorted by name.
func ScanWeights(dir string) (Weights, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return Weights{}, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return Weights{}, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return Weights{}, fmt.Errorf("read dir: %w", err)
	}
	out := Weights{Dir: abs}
	sets := map[string]*ShardSet{}
	for _, e := range entries {
		if e.IsDir() { continue }
		name := e.Name()
		wf := WeightFile{Name: name, Path: filepath.Join(abs, name)}
		if format, ok := singleWeightNames[name]; ok {
			wf.Format = format
		} else if m := shardPattern.FindStringSubmatch(name); m != nil {
			idx, ierr := strconv.Atoi(m[2])
			total, terr := strconv.Atoi(m[3])
			bad := ierr != nil || terr != nil || total < 1 || total > MaxShardTotal || idx < 1 || idx > total
			if terr != nil || total > MaxShardTotal {
				total = 0
			}
			wf.Format = m[4]
			wf.Shard = idx
			wf.ShardTotal = total
			key := m[1] + "/" + m[3] + "/" + m[4]
			s := sets[key]
			if s == nil {
				s = &ShardSet{Prefix: m[1], Format: m[4], Total: total}
				sets[key] = s
			}
			s.Implausible = s.Implausible || bad
			s.Present = append(s.Present, idx)
		} else {
			continue
		}
		if info, err := e.Info(); err == nil {
			wf.Size = info.Size()
		}
		out.Files = append(out.Files, wf)
	}
	sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].Name < out.Files[j].Name })
	for _, s := range sets {
		sort.Ints(s.Present)
		if !s.Implausible {
			have := make(map[int]bool, len(s.Present))
			for _, i := range s.Present { have[i] = true }
			s.MissingCount = s.Total - len(have)
			for i := 1; i <= s.Total && len(s.Missing) < maxListedMissing; i++ {
				if !have[i] { s.Missing = append(s.Missing, i) }
			}
		}
		out.ShardSets = append(out.ShardSets, *s)
	}
	sort.Slice(out.ShardSets, func(i, j int) bool {
		a, b := out.ShardSets[i], out.ShardSets[j]
		if a.Prefix != b.Prefix { return a.Prefix < b.Prefix }
		return a.Format < b.Format
	})
	return out, nil
}
