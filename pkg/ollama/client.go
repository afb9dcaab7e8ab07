package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/pkg/types"
)

// Client wraps the Ollama API client
type Client struct {
	client  *api.Client
	timeout time.Duration
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string, timeout time.Duration) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	// Parse the provided URL
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil || parsedURL.Host == "" {
		return nil, apperrors.Newf(apperrors.KindConfig, "ollama", "invalid URL %q", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	// Create client with the specified URL, ignoring environment
	return &Client{client: api.NewClient(baseURL, http.DefaultClient), timeout: timeout}, nil
}

// Infer maps the chat-completions request onto /api/chat
func (c *Client) Infer(ctx context.Context, req *types.ChatRequest) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chatReq, err := toChatRequest(req)
	if err != nil {
		return "", false, err
	}

	var responseContent string
	var answered bool
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		answered = true
		return nil
	})
	if err != nil {
		return "", false, classify(ctx, err)
	}

	return responseContent, answered, nil
}

func toChatRequest(req *types.ChatRequest) (*api.ChatRequest, error) {
	if req.Model == "" {
		return nil, apperrors.New(apperrors.KindInvalidParameter, "ollama", "model name is required")
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		out := api.Message{Role: msg.Role, Content: msg.Content}
		var texts []string
		for _, part := range msg.MultiContent {
			switch part.Type {
			case openai.ChatMessagePartTypeText:
				texts = append(texts, part.Text)
			case openai.ChatMessagePartTypeImageURL:
				if part.ImageURL == nil {
					continue
				}
				img, err := decodeDataURL(part.ImageURL.URL)
				if err != nil {
					return nil, err
				}
				out.Images = append(out.Images, api.ImageData(img))
			}
		}
		if len(texts) > 0 {
			out.Content = strings.Join(texts, "\n")
		}
		messages = append(messages, out)
	}

	streamFalse := false
	return &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &streamFalse,
		Options: map[string]any{
			"num_predict":    req.MaxTokens,
			"temperature":    req.Temperature,
			"top_p":          req.TopP,
			"top_k":          req.TopK,
			"repeat_penalty": req.RepPen,
			"min_p":          req.MinP,
		},
	}, nil
}

func decodeDataURL(u string) ([]byte, error) {
	i := strings.Index(u, ";base64,")
	if !strings.HasPrefix(u, "data:") || i < 0 {
		return nil, apperrors.New(apperrors.KindInvalidParameter, "ollama", "image must be a base64 data URL")
	}
	data, err := base64.StdEncoding.DecodeString(u[i+len(";base64,"):])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidParameter, "ollama", "failed to decode base64 image", err)
	}
	return data, nil
}

func classify(ctx context.Context, err error) error {
	var statusErr api.StatusError
	switch {
	case errors.As(err, &statusErr):
		return apperrors.Wrap(apperrors.KindStatus, "ollama", fmt.Sprintf("ollama returned status %d", statusErr.StatusCode), err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.KindTimeout, "ollama", "request timed out", err)
	case strings.Contains(err.Error(), "unmarshal") || strings.Contains(err.Error(), "invalid character"):
		return apperrors.Wrap(apperrors.KindResponseFormat, "ollama", "unexpected response body", err)
	default:
		return apperrors.Wrap(apperrors.KindTransport, "ollama", "ollama chat error", err)
	}
}
