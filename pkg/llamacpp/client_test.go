package llamacpp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/pkg/types"
)

func testRequest() *types.ChatRequest {
	return types.NewChatRequest("", "You are a helpful image capable model", "Describe the image.", "QUJD", types.DefaultSampling())
}

func newTestClient(t *testing.T, url, token string, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(url, token, timeout)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestInferRequestContract(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotType, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"a cat on a mat"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", "secret", time.Second)
	text, ok, err := c.Infer(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if !ok || text != "a cat on a mat" {
		t.Errorf("Unexpected answer %q (ok=%v)", text, ok)
	}

	if gotPath != "/v1/chat/completions" {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Unexpected Authorization header %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("Unexpected Content-Type %q", gotType)
	}

	for key, want := range map[string]float64{"max_tokens": 1024, "temperature": 0.1, "top_p": 1, "top_k": 0, "rep_pen": 1, "min_p": 0.1} {
		got, present := gotBody[key].(float64)
		if !present || got != want {
			t.Errorf("%s: expected %v, got %v", key, want, gotBody[key])
		}
	}
	if _, present := gotBody["model"]; present {
		t.Error("model should be omitted when not configured")
	}

	msgs := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	system := msgs[0].(map[string]any)
	if system["role"] != "system" || system["content"] != "You are a helpful image capable model" {
		t.Errorf("Unexpected system message %v", system)
	}
	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("Expected 2 content parts, got %d", len(parts))
	}
	if p := parts[0].(map[string]any); p["type"] != "text" || p["text"] != "Describe the image." {
		t.Errorf("Unexpected text part %v", p)
	}
	img := parts[1].(map[string]any)
	if img["type"] != "image_url" {
		t.Errorf("Unexpected image part %v", img)
	}
	if url := img["image_url"].(map[string]any)["url"]; url != "data:image/jpeg;base64,QUJD" {
		t.Errorf("Unexpected image url %v", url)
	}
}

func TestInferNoTokenNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.Header["Authorization"]; present {
			t.Error("Authorization header should not be sent without a token")
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", time.Second)
	if _, _, err := c.Infer(context.Background(), testRequest()); err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
}

func TestInferResponseShapes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{"message", `{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`, "hello", true},
		{"text fallback", `{"choices":[{"text":"legacy answer"}]}`, "legacy answer", true},
		{"content parts", `{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"part one"}]}}]}`, "part one", true},
		{"no choices key", `{"id":"x"}`, "", false},
		{"empty choices", `{"choices":[]}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, "", time.Second)
			text, ok, err := c.Infer(context.Background(), testRequest())
			if err != nil {
				t.Fatalf("Infer failed: %v", err)
			}
			if text != tt.want || ok != tt.wantOK {
				t.Errorf("Expected (%q, %v), got (%q, %v)", tt.want, tt.wantOK, text, ok)
			}
		})
	}
}

func TestInferErrorKinds(t *testing.T) {
	statusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer statusSrv.Close()

	malformedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>not json</html>`)
	}))
	defer malformedSrv.Close()

	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slowSrv.Close()

	closedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := closedSrv.URL
	closedSrv.Close()

	tests := []struct {
		name    string
		url     string
		timeout time.Duration
		want    apperrors.Kind
	}{
		{"non-2xx", statusSrv.URL, time.Second, apperrors.KindStatus},
		{"malformed", malformedSrv.URL, time.Second, apperrors.KindResponseFormat},
		{"timeout", slowSrv.URL, 50 * time.Millisecond, apperrors.KindTimeout},
		{"unreachable", closedURL, time.Second, apperrors.KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.url, "", tt.timeout)
			_, ok, err := c.Infer(context.Background(), testRequest())
			if err == nil {
				t.Fatal("Expected error")
			}
			if ok {
				t.Error("ok must be false on error")
			}
			if kind := apperrors.KindOf(err); kind != tt.want {
				t.Errorf("Expected kind %s, got %s (%v)", tt.want, kind, err)
			}
		})
	}
}

func TestStatusErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "wrong", time.Second)
	_, _, err := c.Infer(context.Background(), testRequest())
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bad token") {
		t.Errorf("Unexpected error %v", err)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// each "é" is two bytes, so byte 5 falls inside a rune
	got := truncate("éééééé", 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if got != "éé... (12 bytes)" {
		t.Errorf("Unexpected truncation %q", got)
	}
	if got := truncate("  short  ", 10); got != "short" {
		t.Errorf("Expected trimmed input, got %q", got)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("localhost:5001", "", 0); !apperrors.IsKind(err, apperrors.KindConfig) {
		t.Errorf("Expected config error, got %v", err)
	}
	c, err := NewClient("", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.baseURL != "http://localhost:5001" || c.timeout != DefaultTimeout {
		t.Errorf("Unexpected defaults %s %v", c.baseURL, c.timeout)
	}
}
