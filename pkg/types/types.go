package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Sampling holds the generation parameters sent with every request
type Sampling struct {
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p" mapstructure:"top_p"`
	TopK        int     `json:"top_k" yaml:"top_k" mapstructure:"top_k"`
	RepPen      float64 `json:"rep_pen" yaml:"rep_pen" mapstructure:"rep_pen"`
	MinP        float64 `json:"min_p" yaml:"min_p" mapstructure:"min_p"`
}

// DefaultSampling returns the near-deterministic settings used for sweeps
func DefaultSampling() Sampling {
	return Sampling{
		MaxTokens:   1024,
		Temperature: 0.1,
		TopP:        1,
		TopK:        0,
		RepPen:      1,
		MinP:        0.1,
	}
}

// ChatRequest is the chat-completions body sent to the inference endpoint
type ChatRequest struct {
	Model       string                         `json:"model,omitempty"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	MaxTokens   int                            `json:"max_tokens"`
	Temperature float64                        `json:"temperature"`
	TopP        float64                        `json:"top_p"`
	TopK        int                            `json:"top_k"`
	RepPen      float64                        `json:"rep_pen"`
	MinP        float64                        `json:"min_p"`
}

// ImageDataURLPrefix prefixes every image embedded in a request
const ImageDataURLPrefix = "data:image/jpeg;base64,"

// NewChatRequest builds a system + user request carrying one JPEG image
func NewChatRequest(model, system, instruction, imgB64 string, s Sampling) *ChatRequest {
	return &ChatRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: instruction,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: ImageDataURLPrefix + imgB64,
						},
					},
				},
			},
		},
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
		TopP:        s.TopP,
		TopK:        s.TopK,
		RepPen:      s.RepPen,
		MinP:        s.MinP,
	}
}

// Redacted returns a copy with embedded image data replaced by a size marker
func (r *ChatRequest) Redacted() *ChatRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Messages = make([]openai.ChatCompletionMessage, len(r.Messages))
	for i, msg := range r.Messages {
		if len(msg.MultiContent) > 0 {
			parts := make([]openai.ChatMessagePart, len(msg.MultiContent))
			for j, part := range msg.MultiContent {
				if part.ImageURL != nil {
					img := *part.ImageURL
					if strings.HasPrefix(img.URL, "data:") {
						if k := strings.Index(img.URL, ","); k >= 0 {
							img.URL = fmt.Sprintf("%s[omitted %d bytes]", img.URL[:k+1], len(img.URL)-k-1)
						}
					}
					part.ImageURL = &img
				}
				parts[j] = part
			}
			msg.MultiContent = parts
		}
		out.Messages[i] = msg
	}
	return &out
}

// Variant is one encoded (scale, quality) rendition of a source image
type Variant struct {
	SourceWidth           int
	SourceHeight          int
	EffectiveMaxDimension int
	Width                 int
	Height                int
	Quality               int
	ScaleFactor           float64
	Data                  []byte
	Path                  string
}

// EvaluationResult is the durable record of one sweep pair
type EvaluationResult struct {
	RunID                 string       `json:"run_id,omitempty"`
	FilePath              string       `json:"file_path"`
	OutputPath            string       `json:"output_path,omitempty"`
	Quality               int          `json:"quality"`
	ScaleFactor           float64      `json:"scale_factor"`
	EffectiveMaxDimension int          `json:"effective_max_dimension"`
	Width                 int          `json:"width,omitempty"`
	Height                int          `json:"height,omitempty"`
	EncodedBytes          int          `json:"encoded_bytes,omitempty"`
	Timestamp             time.Time    `json:"timestamp"`
	Success               bool         `json:"success"`
	ProcessingTime        float64      `json:"processing_time"`
	Payload               *ChatRequest `json:"payload,omitempty"`
	Response              *string      `json:"response"`
	Error                 string       `json:"error,omitempty"`
	ErrorKind             string       `json:"error_kind,omitempty"`
}

// ResponseText returns the response or a placeholder when absent
func (r *EvaluationResult) ResponseText() string {
	if r.Response == nil || *r.Response == "" {
		return "No response"
	}
	return *r.Response
}

// Temperature reports the sampling temperature of the recorded payload
func (r *EvaluationResult) Temperature() (float64, bool) {
	if r.Payload == nil {
		return 0, false
	}
	return r.Payload.Temperature, true
}
