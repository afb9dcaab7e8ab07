package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/pkg/types"
)

// ChatCompletionsPath is appended to the base URL for every request
const ChatCompletionsPath = "/v1/chat/completions"

// DefaultTimeout bounds a single inference call
const DefaultTimeout = 300 * time.Second

// Client talks to an OpenAI-compatible server such as llama.cpp or koboldcpp
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// OpenAI-compatible chat completion response. Older completion servers put
// the answer in choices[0].text instead of a message.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int                           `json:"index"`
	Message      *openai.ChatCompletionMessage `json:"message,omitempty"`
	Text         string                        `json:"text,omitempty"`
	FinishReason string                        `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewClient creates a client. An empty token sends no Authorization header;
// a non-positive timeout falls back to DefaultTimeout.
func NewClient(serverURL, token string, timeout time.Duration) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:5001"
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, apperrors.Newf(apperrors.KindConfig, "llamacpp", "unsupported server URL %q", serverURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		token:      token,
		timeout:    timeout,
		httpClient: &http.Client{},
	}, nil
}

// Infer posts req and extracts the answer text
func (c *Client) Infer(ctx context.Context, req *types.ChatRequest) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	respBody, err := c.sendRequest(ctx, ChatCompletionsPath, req)
	if err != nil {
		return "", false, err
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", false, apperrors.Wrap(apperrors.KindResponseFormat, "infer", "failed to parse response", err)
	}

	if len(resp.Choices) == 0 {
		return "", false, nil
	}

	return choiceText(resp.Choices[0]), true, nil
}

func choiceText(choice Choice) string {
	if choice.Message == nil {
		return choice.Text
	}
	if choice.Message.Content != "" {
		return choice.Message.Content
	}
	// some servers answer with content parts
	var parts []string
	for _, part := range choice.Message.MultiContent {
		if part.Type == openai.ChatMessagePartTypeText && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransport, "infer", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransport, "infer", "failed to create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifySendError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifySendError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.Newf(apperrors.KindStatus, "infer", "server returned status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	return body, nil
}

func classifySendError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.Wrap(apperrors.KindTimeout, "infer", "request timed out", err)
	}
	return apperrors.Wrap(apperrors.KindTransport, "infer", "failed to send request", err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:cut], len(s))
}
