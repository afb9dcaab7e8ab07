package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/pkg/types"
)

func testRequest(model string) *types.ChatRequest {
	return types.NewChatRequest(model, "system prompt", "Describe the image.", "QUJD", types.DefaultSampling())
}

func TestInfer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &got); err != nil {
			t.Errorf("request is not JSON: %v", err)
		}
		io.WriteString(w, `{"model":"llava","message":{"role":"assistant","content":"a red square"},"done":true}`+"\n")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/api/chat", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	text, ok, err := c.Infer(context.Background(), testRequest("llava"))
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if !ok || text != "a red square" {
		t.Errorf("Unexpected answer %q (ok=%v)", text, ok)
	}

	if got["model"] != "llava" || got["stream"] != false {
		t.Errorf("Unexpected request header fields %v %v", got["model"], got["stream"])
	}
	msgs := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	user := msgs[1].(map[string]any)
	if user["content"] != "Describe the image." {
		t.Errorf("Unexpected user content %v", user["content"])
	}
	images := user["images"].([]any)
	if len(images) != 1 || images[0] != "QUJD" {
		t.Errorf("Unexpected images %v", images)
	}
	opts := got["options"].(map[string]any)
	if opts["temperature"] != 0.1 || opts["num_predict"] != float64(1024) || opts["min_p"] != 0.1 {
		t.Errorf("Unexpected options %v", opts)
	}
}

func TestInferStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = c.Infer(context.Background(), testRequest("missing"))
	if !apperrors.IsKind(err, apperrors.KindStatus) {
		t.Errorf("Expected status error, got %v", err)
	}
}

func TestInferRequiresModel(t *testing.T) {
	c, err := NewClient("http://localhost:11434", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Infer(context.Background(), testRequest("")); !apperrors.IsKind(err, apperrors.KindInvalidParameter) {
		t.Errorf("Expected invalid parameter error, got %v", err)
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, err := decodeDataURL("data:image/jpeg;base64,QUJD")
	if err != nil || string(data) != "ABC" {
		t.Errorf("Unexpected decode result %q, %v", data, err)
	}
	if _, err := decodeDataURL("https://example.com/a.jpg"); err == nil {
		t.Error("Expected error for non data URL")
	}
}

func TestNewClientInvalidURL(t *testing.T) {
	if _, err := NewClient("::not a url", 0); !apperrors.IsKind(err, apperrors.KindConfig) {
		t.Errorf("Expected config error, got %v", err)
	}
}
