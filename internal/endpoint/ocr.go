package endpoint

import (
	"context"
	"errors"

	"ocrdeploy/pkg/types"
)

// Default OCR prompt and sampling used by the tooling.
const (
	DefaultOCRPrompt      = "Please extract all text from this image."
	DefaultOCRMaxTokens   = 500
	DefaultOCRTemperature = 0.1
)

// ErrEmptyContent is returned when a completion has no text in choices[0].
var ErrEmptyContent = errors.New("completion returned no content")

// OCRRequest builds a chat completion request asking model to read imageURL.
func OCRRequest(model, prompt, imageURL string, maxTokens int) types.ChatCompletionRequest {
	if prompt == "" {
		prompt = DefaultOCRPrompt
	}
	if maxTokens <= 0 {
		maxTokens = DefaultOCRMaxTokens
	}
	return types.ChatCompletionRequest{
		Model: model,
		Messages: []types.ChatMessage{{
			Role:    "user",
			Content: types.ImageContent(prompt, imageURL),
		}},
		MaxTokens:   maxTokens,
		Temperature: DefaultOCRTemperature,
	}
}

// Recognizer runs OCR against an inference endpoint for a fixed model.
type Recognizer struct {
	Client    *Client
	Model     string
	MaxTokens int
}

// Recognize sends imageURL (an http(s) or data URL) with prompt and returns
// the extracted text. An empty completion is reported as ErrEmptyContent.
func (r *Recognizer) Recognize(ctx context.Context, prompt, imageURL string) (string, error) {
	resp, err := r.Client.ChatCompletion(ctx, OCRRequest(r.Model, prompt, imageURL, r.MaxTokens))
	if err != nil {
		return "", err
	}
	text := resp.FirstContent()
	if text == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

// Ready reports whether the endpoint currently answers /health.
func (r *Recognizer) Ready(ctx context.Context) bool {
	return r.Client.Health(ctx) == nil
}
