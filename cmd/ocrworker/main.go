package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ocrdeploy/internal/config"
	"ocrdeploy/internal/endpoint"
	"ocrdeploy/internal/httpapi"
	"ocrdeploy/internal/worker"
)

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if n, err := strconv.Atoi(envOr(key, "")); err == nil {
		return n
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	if b, err := config.ParseBool(envOr(key, "")); err == nil {
		return b
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envOr(key, "")); err == nil {
		return d
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	// Flags with environment variable defaults
	addr := flag.String("addr", envOr("OCR_WORKER_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	upstream := flag.String("upstream", envOr("OCR_UPSTREAM_URL", ""), "OpenAI-compatible endpoint used for OCR (empty disables OCR)")
	apiKey := flag.String("api-key", envOr(config.EnvAPIKey, envOr(config.EnvAPIKeyAlt, "")), "Bearer token for the upstream endpoint")
	model := flag.String("model", envOr(config.EnvServedModelName, envOr(config.EnvModelName, config.DefaultModelName)), "Model id sent upstream")
	ocrDefault := flag.Bool("ocr-default", envBoolOr("OCR_DEFAULT", false), "Run OCR for image jobs that do not set input.ocr")
	ocrTimeout := flag.Duration("ocr-timeout", envDurationOr("OCR_TIMEOUT", 120*time.Second), "Upstream OCR request timeout")
	maxTokens := flag.Int("max-tokens", envIntOr("OCR_MAX_TOKENS", endpoint.DefaultOCRMaxTokens), "max_tokens for OCR completions")
	workers := flag.Int("workers", envIntOr("OCR_WORKERS", 1), "Concurrent async job workers")
	depth := flag.Int("queue-depth", envIntOr("OCR_QUEUE_DEPTH", 64), "Maximum queued async jobs before /run returns 429")
	ttl := flag.Duration("job-ttl", envDurationOr("OCR_JOB_TTL", 10*time.Minute), "How long finished async jobs stay queryable")
	maxBody := flag.Int64("max-body-bytes", int64(envIntOr("OCR_MAX_BODY_BYTES", int(httpapi.DefaultMaxBodyBytes))), "Maximum JSON request body size")
	jobTimeout := flag.Duration("job-timeout", envDurationOr("OCR_JOB_TIMEOUT", 0), "Timeout for /runsync jobs (0 disables)")
	corsEnabled := flag.Bool("cors-enabled", envBoolOr("OCR_CORS_ENABLED", false), "Enable CORS")
	corsOrigins := flag.String("cors-origins", envOr("OCR_CORS_ORIGINS", ""), "Comma-separated allowed origins")
	logLevel := flag.String("log-level", envOr("OCR_LOG_LEVEL", "info"), "Process log level: debug|info|warn|error")
	httpLogLevel := flag.String("http-log-level", envOr("OCR_HTTP_LOG_LEVEL", ""), "Default per-request log level: off|error|info|debug")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(strings.ToLower(*logLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("service", "ocrworker").Logger()
	httpapi.SetLogger(log)
	if *httpLogLevel != "" {
		httpapi.SetDefaultLogLevel(*httpLogLevel)
	}

	opts := []worker.Option{worker.WithLogger(log)}
	if *upstream != "" {
		copts := []endpoint.Option{endpoint.WithUserAgent("ocrworker")}
		if *apiKey != "" {
			copts = append(copts, endpoint.WithAPIKey(*apiKey))
		}
		client := endpoint.New(*upstream, copts...)
		opts = append(opts,
			worker.WithRecognizer(&endpoint.Recognizer{Client: client, Model: *model, MaxTokens: *maxTokens}, *ocrDefault),
			worker.WithOCRTimeout(*ocrTimeout),
		)
		log.Info().Str("upstream", client.BaseURL()).Str("model", *model).Bool("ocr_default", *ocrDefault).Msg("ocr enabled")
	}
	h, err := worker.NewHandler(opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build handler")
	}
	queue := worker.NewQueue(h, worker.QueueOptions{Workers: *workers, Depth: *depth, TTL: *ttl}, log)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetMaxBodyBytes(*maxBody)
	httpapi.SetJobTimeout(*jobTimeout)
	httpapi.SetCORSOptions(*corsEnabled, splitCSV(*corsOrigins), nil, nil)
	httpapi.SetQueueStats(queue.Stats)

	mux := httpapi.NewMux(worker.NewService(h, queue))
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("addr", *addr).Int("workers", *workers).Int("queue_depth", *depth).Msg("ocrworker listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	cancelBase()
	if err := queue.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("queue drain interrupted")
	}
}
