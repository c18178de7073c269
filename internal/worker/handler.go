// Package worker implements the serverless OCR job handler and a bounded
// asynchronous job queue in front of it.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"ocrdeploy/internal/endpoint"
	"ocrdeploy/pkg/types"
)

// Handler outputs.
const (
	EchoPrefix      = "Echo test: "
	ImageReceived   = "Image received successfully"
	NoPromptGiven   = "No prompt provided"
	NoValidInput    = "Handler is working but no valid input provided"
	imageErrPrefix  = "Error processing image: "
	ocrErrPrefix    = "Error running OCR: "
	defaultOCRLimit = 120 * time.Second
)

// Recognizer extracts text from an image. *endpoint.Recognizer implements it.
type Recognizer interface {
	Recognize(ctx context.Context, prompt, imageURL string) (string, error)
	Ready(ctx context.Context) bool
}

var _ Recognizer = (*endpoint.Recognizer)(nil)

// Handler processes one job at a time. It is safe for concurrent use.
type Handler struct {
	ocr        Recognizer
	ocrDefault bool
	ocrTimeout time.Duration
	schema     *gojsonschema.Schema
	log        zerolog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithRecognizer enables upstream OCR. When byDefault is true, image jobs run
// OCR unless the input sets "ocr": false.
func WithRecognizer(r Recognizer, byDefault bool) Option {
	return func(h *Handler) {
		h.ocr = r
		h.ocrDefault = byDefault
	}
}

// WithOCRTimeout bounds each upstream OCR call.
func WithOCRTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.ocrTimeout = d
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l zerolog.Logger) Option { return func(h *Handler) { h.log = l } }

// NewHandler compiles the job schema and applies opts.
func NewHandler(opts ...Option) (*Handler, error) {
	s, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile job schema: %w", err)
	}
	h := &Handler{schema: s, ocrTimeout: defaultOCRLimit, log: zerolog.Nop()}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Decode validates a raw job envelope and assigns an id when missing.
func (h *Handler) Decode(raw []byte) (types.JobRequest, error) {
	req, err := decode(h.schema, raw)
	if err != nil {
		return req, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req, nil
}

// Ready reports whether the handler can serve OCR jobs. Without a recognizer
// it is always ready.
func (h *Handler) Ready(ctx context.Context) bool {
	if h.ocr == nil {
		return true
	}
	return h.ocr.Ready(ctx)
}

// Handle runs req synchronously and returns a COMPLETED or FAILED result.
func (h *Handler) Handle(ctx context.Context, req types.JobRequest) types.JobResult {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	start := time.Now()
	out, err := h.process(ctx, req.Input)
	res := types.JobResult{ID: req.ID, ExecutionTime: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = types.JobFailed
		res.Error = err.Error()
		h.log.Warn().Str("job", req.ID).Err(err).Msg("job failed")
		return res
	}
	res.Status = types.JobCompleted
	res.Output = out
	h.log.Debug().Str("job", req.ID).Int64("ms", res.ExecutionTime).Msg("job completed")
	return res
}

func (h *Handler) wantsOCR(in types.JobInput) bool {
	if h.ocr == nil {
		return false
	}
	if in.OCR != nil {
		return *in.OCR
	}
	return h.ocrDefault
}

type jobError string

func (e jobError) Error() string { return string(e) }

func (h *Handler) process(ctx context.Context, in types.JobInput) (any, error) {
	if in.HasPrompt() && !in.HasImage() {
		return EchoPrefix + in.PromptText(), nil
	}
	if !in.HasImage() {
		return NoValidInput, nil
	}

	img, err := decodeImage(in.ImageData())
	if err != nil {
		return nil, jobError(imageErrPrefix + err.Error())
	}
	info := types.ImageInfo{
		Message:   ImageReceived,
		ImageSize: [2]int{img.Width, img.Height},
		ImageMode: img.Mode,
		Format:    img.Format,
		Prompt:    NoPromptGiven,
	}
	if in.HasPrompt() {
		info.Prompt = in.PromptText()
	}
	if !h.wantsOCR(in) {
		return info, nil
	}

	prompt := in.PromptText()
	if prompt == "" {
		prompt = endpoint.DefaultOCRPrompt
	}
	octx, cancel := context.WithTimeout(ctx, h.ocrTimeout)
	defer cancel()
	text, err := h.ocr.Recognize(octx, prompt, img.DataURL())
	if err != nil {
		return nil, jobError(ocrErrPrefix + err.Error())
	}
	info.Text = text
	return info, nil
}
