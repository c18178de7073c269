package types

// Job status values reported by the worker.
const (
	JobInQueue    = "IN_QUEUE"
	JobInProgress = "IN_PROGRESS"
	JobCompleted  = "COMPLETED"
	JobFailed     = "FAILED"
)

// JobRequest is the envelope accepted by the serverless worker.
type JobRequest struct {
	// Optional job id. Generated when omitted.
	// example: 6f1c2a0e-4a8b-4a7e-9a77-2f6b4d0b3c11
	ID    string   `json:"id,omitempty"`
	Input JobInput `json:"input"`
}

// JobInput carries the handler input. Prompt and Image are pointers because
// the handler branches on which keys were sent, not on their values.
type JobInput struct {
	// Prompt text. Without an image the worker echoes it back.
	// example: Please extract all text from this image.
	Prompt *string `json:"prompt,omitempty" example:"Please extract all text from this image."`
	// Base64 encoded image bytes (raw base64 or a data: URL).
	Image *string `json:"image,omitempty"`
	// Run OCR through the upstream model when one is configured.
	OCR *bool `json:"ocr,omitempty"`
}

// HasPrompt reports whether the prompt key was sent, even if empty.
func (in JobInput) HasPrompt() bool { return in.Prompt != nil }

// HasImage reports whether the image key was sent, even if empty.
func (in JobInput) HasImage() bool { return in.Image != nil }

// PromptText returns the prompt, or "" when absent.
func (in JobInput) PromptText() string {
	if in.Prompt == nil {
		return ""
	}
	return *in.Prompt
}

// ImageData returns the image payload, or "" when absent.
func (in JobInput) ImageData() string {
	if in.Image == nil {
		return ""
	}
	return *in.Image
}

// JobResult is returned by /runsync and /status/{id}.
type JobResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	// Milliseconds spent waiting in the queue.
	DelayTime int64 `json:"delayTime,omitempty"`
	// Milliseconds spent executing the handler.
	ExecutionTime int64 `json:"executionTime,omitempty"`
}

// ImageInfo is the handler output for image jobs.
type ImageInfo struct {
	// example: Image received successfully
	Message string `json:"message" example:"Image received successfully"`
	// Width and height in pixels.
	// example: [1024,768]
	ImageSize [2]int `json:"image_size"`
	// Pixel mode using PIL names (L, RGB, RGBA, CMYK, P, ...).
	// example: RGB
	ImageMode string `json:"image_mode" example:"RGB"`
	// Detected container format.
	// example: png
	Format string `json:"format,omitempty" example:"png"`
	Prompt string `json:"prompt"`
	// Extracted text, present when OCR ran upstream.
	Text string `json:"text,omitempty"`
}
