package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// FAKE_VLLM_MODE selects the behavior: "" serves normally, "oom" fails like a
// CUDA allocation error, "hang" never answers /health, "ignore-term" ignores SIGTERM.
func main() {
	var (
		model, served, tokenizer, host, dtype, apiKey string
		port, maxLen, maxSeqs, tp                    int
		gpuUtil                                      float64
		trust                                        bool
	)
	flag.StringVar(&model, "model", "", "")
	flag.StringVar(&served, "served-model-name", "", "")
	flag.StringVar(&tokenizer, "tokenizer", "", "")
	flag.IntVar(&maxLen, "max-model-len", 0, "")
	flag.Float64Var(&gpuUtil, "gpu-memory-utilization", 0, "")
	flag.IntVar(&maxSeqs, "max-num-seqs", 0, "")
	flag.IntVar(&tp, "tensor-parallel-size", 1, "")
	flag.BoolVar(&trust, "trust-remote-code", false, "")
	flag.StringVar(&host, "host", "127.0.0.1", "")
	flag.IntVar(&port, "port", 0, "")
	flag.StringVar(&apiKey, "api-key", "", "")
	flag.StringVar(&dtype, "dtype", "", "")
	flag.Parse()

	mode := os.Getenv("FAKE_VLLM_MODE")
	if mode == "oom" {
		fmt.Fprintln(os.Stderr, "torch.OutOfMemoryError: CUDA out of memory. Tried to allocate 2.00 GiB")
		os.Exit(1)
	}
	if os.Getenv("MODEL_NAME") == "" {
		fmt.Fprintln(os.Stderr, "MODEL_NAME not exported")
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if mode == "hang" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"object":"list","data":[{"id":%q,"object":"model","max_model_len":%d}]}`, served, maxLen)
	})
	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	if mode == "ignore-term" {
		signal.Ignore(syscall.SIGTERM)
		signal.Notify(sigCh, syscall.SIGINT)
	} else {
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	}
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
