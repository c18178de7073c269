// Package httpapi exposes the OCR worker over HTTP: synchronous and async
// job submission, job status, health/readiness and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocrdeploy/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *worker.Service implements it.
type Service interface {
	Decode(raw []byte) (types.JobRequest, error)
	Handle(ctx context.Context, req types.JobRequest) types.JobResult
	Submit(req types.JobRequest) (types.JobResult, error)
	Get(id string) (types.JobResult, error)
	Ready(ctx context.Context) bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "Authorization", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)

	health := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
	r.Get("/health", health)
	r.Get("/healthz", health)

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if svc.Ready(ctx) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream not ready"))
	})

	r.Post("/runsync", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lvl := requestLogLevel(r)
		req, ok := decodeJob(w, r, svc, lvl, start)
		if !ok {
			return
		}
		if lvl >= LevelDebug {
			zlog.Debug().Str("job", req.ID).Bool("image", req.Input.HasImage()).Msg("job start")
		}
		ctx, cancel := jobContext(r.Context())
		defer cancel()
		res := svc.Handle(ctx, req)
		if r.Context().Err() != nil {
			// client went away
			return
		}
		countJob("sync", res.Status)
		writeJSON(w, http.StatusOK, res)
		var jobErr error
		if res.Error != "" {
			jobErr = errors.New(res.Error)
		}
		logJob(r, lvl, start, http.StatusOK, res.ID, jobErr)
	})

	r.Post("/run", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lvl := requestLogLevel(r)
		req, ok := decodeJob(w, r, svc, lvl, start)
		if !ok {
			return
		}
		res, err := svc.Submit(req)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("queue_full")
			}
			writeJSONError(w, status, err.Error())
			logJob(r, lvl, start, status, req.ID, err)
			return
		}
		countJob("async", res.Status)
		writeJSON(w, http.StatusOK, types.JobResult{ID: res.ID, Status: res.Status})
		logJob(r, lvl, start, http.StatusOK, res.ID, nil)
	})

	r.Get("/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJob checks the content type, reads the size-limited body and decodes
// the job. On failure it writes the error response and returns false.
func decodeJob(w http.ResponseWriter, r *http.Request, svc Service, lvl LogLevel, start time.Time) (types.JobRequest, bool) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return types.JobRequest{}, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		// Oversized bodies also land here; report 400 without size details.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		logJob(r, lvl, start, http.StatusBadRequest, "", err)
		return types.JobRequest{}, false
	}
	req, err := svc.Decode(raw)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, err.Error())
		logJob(r, lvl, start, status, "", err)
		return types.JobRequest{}, false
	}
	return req, true
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
