package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Content part types understood by OpenAI-compatible servers.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ChatCompletionRequest is the payload for POST /v1/chat/completions.
type ChatCompletionRequest struct {
	// Model identifier as served by the runtime.
	// example: rednote-hilab/dots.ocr
	Model string `json:"model" example:"rednote-hilab/dots.ocr"`
	// Conversation so far. For OCR this is a single user message with an image part.
	Messages []ChatMessage `json:"messages"`
	// Maximum number of new tokens to generate.
	// example: 500
	MaxTokens int `json:"max_tokens,omitempty" example:"500"`
	// Sampling temperature (lower = more deterministic).
	// example: 0.1
	Temperature float64 `json:"temperature"`
	// Streaming is not used by the tooling but is passed through when set.
	Stream bool `json:"stream,omitempty"`
}

// ChatMessage is a single role/content entry.
type ChatMessage struct {
	// example: user
	Role    string         `json:"role" example:"user"`
	Content MessageContent `json:"content"`
}

// ContentPart is one element of a multi-part message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image either by http(s) URL or by data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// MessageContent holds either plain text or a list of parts.
// It marshals as a JSON string when it has no parts.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds text-only content.
func TextContent(s string) MessageContent { return MessageContent{Text: s} }

// ImageContent builds a prompt + image content pair, the shape OCR requests use.
func ImageContent(prompt, imageURL string) MessageContent {
	return MessageContent{Parts: []ContentPart{
		{Type: PartText, Text: prompt},
		{Type: PartImageURL, ImageURL: &ImageURL{URL: imageURL}},
	}}
}

// String returns the text of the content, concatenating text parts.
func (c MessageContent) String() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImage reports whether any part carries an image.
func (c MessageContent) HasImage() bool {
	for _, p := range c.Parts {
		if p.Type == PartImageURL && p.ImageURL != nil && p.ImageURL.URL != "" {
			return true
		}
	}
	return false
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if len(c.Parts) == 0 {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

func (c *MessageContent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*c = MessageContent{}
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = MessageContent{Text: s}
		return nil
	case b[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		*c = MessageContent{Parts: parts}
		return nil
	default:
		return errors.New("message content must be a string or an array of parts")
	}
}

// ChatCompletionResponse is returned by POST /v1/chat/completions.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FirstContent returns choices[0].message.content, or "" when there are no choices.
func (r *ChatCompletionResponse) FirstContent() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content.String()
}

// ModelList is returned by GET /v1/models.
type ModelList struct {
	// example: list
	Object string      `json:"object" example:"list"`
	Data   []ModelCard `json:"data"`
}

// ModelCard describes one served model.
type ModelCard struct {
	// example: rednote-hilab/dots.ocr
	ID      string `json:"id" example:"rednote-hilab/dots.ocr"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
	// vLLM reports the effective context length here.
	MaxModelLen int `json:"max_model_len,omitempty"`
}

// IDs returns the model identifiers in order.
func (l ModelList) IDs() []string {
	out := make([]string, 0, len(l.Data))
	for _, m := range l.Data {
		out = append(out, m.ID)
	}
	return out
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
