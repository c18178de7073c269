// Package smoketest runs a sequence of checks against a deployed
// OpenAI-compatible OCR endpoint: health, model info, optional text
// completion, OCR and a small performance run.
package smoketest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"ocrdeploy/internal/common/fsutil"
	"ocrdeploy/internal/config"
	"ocrdeploy/internal/endpoint"
	"ocrdeploy/pkg/types"
)

// Test names, also used as metric labels.
const (
	TestHealth      = "health"
	TestModels      = "model_info"
	TestText        = "text_completion"
	TestOCR         = "ocr"
	TestPerformance = "performance"
)

const (
	fallbackOCRPrompt = "Please extract text from the following image description: A document with the text 'Hello World' written in Arial font."
	textPrompt        = "Hello, how are you?"
	perfPrompt        = "Test request %d: Please respond with a simple acknowledgment."
	temperature       = 0.1
)

// Options controls which tests run and their limits.
type Options struct {
	Model string
	// ImagePath is a local file or http(s) URL. Empty or missing files fall
	// back to a text-only OCR prompt.
	ImagePath           string
	OCRPrompt           string
	IncludeText         bool
	SkipPerformance     bool
	PerformanceRequests int
	Concurrency         int

	HealthTimeout     time.Duration
	ModelsTimeout     time.Duration
	CompletionTimeout time.Duration
	OCRTimeout        time.Duration
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = config.DefaultModelName
	}
	if o.OCRPrompt == "" {
		o.OCRPrompt = endpoint.DefaultOCRPrompt
	}
	if o.PerformanceRequests <= 0 {
		o.PerformanceRequests = 3
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = 30 * time.Second
	}
	if o.ModelsTimeout <= 0 {
		o.ModelsTimeout = 30 * time.Second
	}
	if o.CompletionTimeout <= 0 {
		o.CompletionTimeout = 60 * time.Second
	}
	if o.OCRTimeout <= 0 {
		o.OCRTimeout = 120 * time.Second
	}
	return o
}

// Result is the outcome of one test.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// PerfStats summarizes the performance test.
type PerfStats struct {
	Requests  int           `json:"requests"`
	Succeeded int           `json:"succeeded"`
	Average   time.Duration `json:"avg_ns"`
	P50       time.Duration `json:"p50_ns"`
	P95       time.Duration `json:"p95_ns"`
	Max       time.Duration `json:"max_ns"`
}

// Summary aggregates all results.
type Summary struct {
	Results     []Result   `json:"results"`
	Passed      int        `json:"passed"`
	Total       int        `json:"total"`
	Performance *PerfStats `json:"performance,omitempty"`
}

// OK reports whether every test passed.
func (s Summary) OK() bool { return s.Total > 0 && s.Passed == s.Total }

// Suite runs the tests against one client.
type Suite struct {
	client  *endpoint.Client
	opts    Options
	log     zerolog.Logger
	reg     *prometheus.Registry
	latency *prometheus.HistogramVec
	outcome *prometheus.CounterVec
}

// New builds a Suite. Metrics are registered on a private registry.
func New(c *endpoint.Client, opts Options, logger zerolog.Logger) *Suite {
	s := &Suite{
		client: c,
		opts:   opts.withDefaults(),
		log:    logger,
		reg:    prometheus.NewRegistry(),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ocrdeploy",
				Subsystem: "smoketest",
				Name:      "request_duration_seconds",
				Help:      "Latency of requests issued by the endpoint test suite",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"test"},
		),
		outcome: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ocrdeploy",
				Subsystem: "smoketest",
				Name:      "requests_total",
				Help:      "Requests issued by the endpoint test suite",
			},
			[]string{"test", "result"},
		),
	}
	s.reg.MustRegister(s.latency, s.outcome)
	return s
}

// Registry exposes the suite metrics.
func (s *Suite) Registry() *prometheus.Registry { return s.reg }

// Options returns the effective options.
func (s *Suite) Options() Options { return s.opts }

func (s *Suite) observe(test string, d time.Duration, err error) {
	s.latency.WithLabelValues(test).Observe(d.Seconds())
	res := "ok"
	if err != nil {
		res = "error"
	}
	s.outcome.WithLabelValues(test, res).Inc()
}

// Run executes the enabled tests in order and returns the summary.
func (s *Suite) Run(ctx context.Context) Summary {
	var sum Summary
	add := func(r Result) {
		sum.Results = append(sum.Results, r)
		if r.Passed {
			sum.Passed++
		}
	}
	add(s.Health(ctx))
	add(s.ModelInfo(ctx))
	if s.opts.IncludeText {
		add(s.TextCompletion(ctx))
	}
	add(s.OCR(ctx))
	if !s.opts.SkipPerformance {
		r, stats := s.Performance(ctx)
		add(r)
		sum.Performance = &stats
	}
	sum.Total = len(sum.Results)
	return sum
}

func (s *Suite) finish(name string, start time.Time, err error, detail string) Result {
	r := Result{Name: name, Passed: err == nil, Detail: detail, Duration: time.Since(start)}
	if err != nil {
		if r.Detail == "" {
			r.Detail = err.Error()
		}
		if endpoint.IsStatus(err, http.StatusUnauthorized) {
			r.Detail += " (check --api-key)"
		}
		s.log.Error().Str("test", name).Dur("dur", r.Duration).Err(err).Msg("test failed")
		return r
	}
	s.log.Info().Str("test", name).Dur("dur", r.Duration).Msg("test passed")
	return r
}

// Health checks GET /health.
func (s *Suite) Health(ctx context.Context) Result {
	s.log.Info().Str("test", TestHealth).Msg("testing health check")
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, s.opts.HealthTimeout)
	defer cancel()
	err := s.client.Health(hctx)
	s.observe(TestHealth, time.Since(start), err)
	return s.finish(TestHealth, start, err, "")
}

// ModelInfo checks GET /v1/models and logs the served models.
func (s *Suite) ModelInfo(ctx context.Context) Result {
	s.log.Info().Str("test", TestModels).Msg("testing model info")
	start := time.Now()
	mctx, cancel := context.WithTimeout(ctx, s.opts.ModelsTimeout)
	defer cancel()
	list, raw, err := s.client.Models(mctx)
	s.observe(TestModels, time.Since(start), err)
	if err != nil {
		return s.finish(TestModels, start, err, "")
	}
	s.log.Debug().RawJSON("body", bytes.TrimSpace(raw)).Msg("model list response")
	ids := list.IDs()
	s.log.Info().Strs("models", ids).Msg("model info retrieved")
	detail := "models: " + strings.Join(ids, ", ")
	if !contains(ids, s.opts.Model) {
		s.log.Warn().Str("model", s.opts.Model).Strs("served", ids).Msg("requested model is not listed by the endpoint")
	}
	return s.finish(TestModels, start, nil, detail)
}

// TextCompletion sends a plain chat message.
func (s *Suite) TextCompletion(ctx context.Context) Result {
	s.log.Info().Str("test", TestText).Msg("testing text completion")
	req := types.ChatCompletionRequest{
		Model:       s.opts.Model,
		Messages:    []types.ChatMessage{{Role: "user", Content: types.TextContent(textPrompt)}},
		MaxTokens:   100,
		Temperature: temperature,
	}
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, s.opts.CompletionTimeout)
	defer cancel()
	resp, err := s.client.ChatCompletion(cctx, req)
	s.observe(TestText, time.Since(start), err)
	if err != nil {
		return s.finish(TestText, start, err, "")
	}
	return s.finish(TestText, start, nil, "response: "+resp.FirstContent())
}

// imageRef resolves the configured image, or "" for the text fallback.
func (s *Suite) imageRef() (string, error) {
	p := strings.TrimSpace(s.opts.ImagePath)
	if p == "" {
		return "", nil
	}
	local := !endpoint.IsRemoteImage(p) && !strings.HasPrefix(p, "data:")
	if local && !fsutil.IsFile(p) {
		s.log.Warn().Str("image", p).Msg("image not found, using text prompt")
		return "", nil
	}
	return endpoint.ImageRef(p)
}

// OCR sends the image (or the text fallback) and reports the extracted text.
// With an image, an empty completion fails the test.
func (s *Suite) OCR(ctx context.Context) Result {
	start := time.Now()
	ref, err := s.imageRef()
	if err != nil {
		return s.finish(TestOCR, start, fmt.Errorf("error preparing image: %w", err), "")
	}
	var req types.ChatCompletionRequest
	if ref == "" {
		s.log.Info().Str("test", TestOCR).Msg("testing OCR with text prompt (no image provided)")
		req = types.ChatCompletionRequest{
			Model:       s.opts.Model,
			Messages:    []types.ChatMessage{{Role: "user", Content: types.TextContent(fallbackOCRPrompt)}},
			MaxTokens:   200,
			Temperature: temperature,
		}
	} else {
		s.log.Info().Str("test", TestOCR).Str("image", s.opts.ImagePath).Msg("testing OCR with image")
		req = endpoint.OCRRequest(s.opts.Model, s.opts.OCRPrompt, ref, endpoint.DefaultOCRMaxTokens)
	}
	start = time.Now()
	octx, cancel := context.WithTimeout(ctx, s.opts.OCRTimeout)
	defer cancel()
	resp, err := s.client.ChatCompletion(octx, req)
	s.observe(TestOCR, time.Since(start), err)
	if err != nil {
		return s.finish(TestOCR, start, err, "")
	}
	text := resp.FirstContent()
	if ref != "" && strings.TrimSpace(text) == "" {
		return s.finish(TestOCR, start, endpoint.ErrEmptyContent, "")
	}
	return s.finish(TestOCR, start, nil, "extracted text: "+text)
}

// Performance issues PerformanceRequests completions with at most
// Concurrency in flight. It passes only if every request succeeds.
func (s *Suite) Performance(ctx context.Context) (Result, PerfStats) {
	n := s.opts.PerformanceRequests
	s.log.Info().Str("test", TestPerformance).Int("requests", n).Int("concurrency", s.opts.Concurrency).Msg("testing performance")
	start := time.Now()

	var (
		mu    sync.Mutex
		durs  []time.Duration
		wg    sync.WaitGroup
		slots = make(chan struct{}, s.opts.Concurrency)
	)
	for i := 1; i <= n; i++ {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-slots }()
			req := types.ChatCompletionRequest{
				Model:       s.opts.Model,
				Messages:    []types.ChatMessage{{Role: "user", Content: types.TextContent(fmt.Sprintf(perfPrompt, i))}},
				MaxTokens:   50,
				Temperature: temperature,
			}
			rctx, cancel := context.WithTimeout(ctx, s.opts.CompletionTimeout)
			defer cancel()
			t0 := time.Now()
			_, err := s.client.ChatCompletion(rctx, req)
			d := time.Since(t0)
			s.observe(TestPerformance, d, err)
			if err != nil {
				s.log.Warn().Int("request", i).Err(err).Msg("performance request failed")
				return
			}
			s.log.Debug().Int("request", i).Dur("dur", d).Msg("performance request completed")
			mu.Lock()
			durs = append(durs, d)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	stats := computeStats(n, durs)
	detail := fmt.Sprintf("successful requests: %d/%d", stats.Succeeded, n)
	if stats.Succeeded > 0 {
		detail += fmt.Sprintf(", average response time: %.2fs", stats.Average.Seconds())
	}
	var err error
	switch {
	case stats.Succeeded == 0:
		err = fmt.Errorf("no successful requests")
	case stats.Succeeded < n:
		err = fmt.Errorf("%d of %d requests failed", n-stats.Succeeded, n)
	}
	r := s.finish(TestPerformance, start, err, detail)
	return r, stats
}

func computeStats(requests int, durs []time.Duration) PerfStats {
	st := PerfStats{Requests: requests, Succeeded: len(durs)}
	if len(durs) == 0 {
		return st
	}
	sorted := append([]time.Duration(nil), durs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	st.Average = total / time.Duration(len(sorted))
	st.P50 = percentile(sorted, 0.50)
	st.P95 = percentile(sorted, 0.95)
	st.Max = sorted[len(sorted)-1]
	return st
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(p*float64(len(sorted)) + 0.999999)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Render writes a human-readable summary.
func (s Summary) Render(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	for _, r := range s.Results {
		mark := "PASS"
		if !r.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "[%s] %-16s %8.2fs  %s\n", mark, r.Name, r.Duration.Seconds(), r.Detail)
	}
	if p := s.Performance; p != nil && p.Succeeded > 0 {
		fmt.Fprintf(w, "performance: avg=%.2fs p50=%.2fs p95=%.2fs max=%.2fs\n",
			p.Average.Seconds(), p.P50.Seconds(), p.P95.Seconds(), p.Max.Seconds())
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Test Results: %d/%d tests passed\n", s.Passed, s.Total)
	if s.OK() {
		fmt.Fprintln(w, "All tests passed! Endpoint is working correctly.")
		return
	}
	fmt.Fprintln(w, "Some tests failed. Please check the logs above.")
}

// WriteMetrics dumps the suite metrics in Prometheus text format to path.
func (s *Suite) WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, s.reg)
}
