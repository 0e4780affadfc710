package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testClient(baseURL string) *GeminiClient {
	return NewGeminiClient(RESTConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Options: Options{
			Model:           "gemini-2.5-flash",
			Temperature:     0.1,
			TopP:            0.95,
			MaxOutputTokens: 1000,
			Timeout:         5 * time.Second,
		},
	})
}

func textResponse(texts ...string) string {
	parts := make([]map[string]any, len(texts))
	for i, t := range texts {
		parts[i] = map[string]any{"text": t}
	}
	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": parts, "role": "model"}, "finishReason": "STOP"},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestCompleteWithSystem(t *testing.T) {
	var gotBody geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.5-flash:generateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, textResponse("  audit complete  "))
	}))
	defer server.Close()

	client := testClient(server.URL)
	got, err := client.CompleteWithSystem(context.Background(), "you are an auditor", "check this")
	if err != nil {
		t.Fatalf("CompleteWithSystem failed: %v", err)
	}
	if got != "audit complete" {
		t.Errorf("got %q, want trimmed %q", got, "audit complete")
	}

	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "you are an auditor" {
		t.Error("system instruction not sent")
	}
	if gotBody.GenerationConfig.Temperature == nil || *gotBody.GenerationConfig.Temperature != 0.1 {
		t.Error("temperature not sent")
	}
	if gotBody.GenerationConfig.MaxOutputTokens != 1000 {
		t.Errorf("max output tokens = %d, want 1000", gotBody.GenerationConfig.MaxOutputTokens)
	}
}

func TestCompleteRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, textResponse("ok"))
	}))
	defer server.Close()

	client := testClient(server.URL)
	got, err := client.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls (1 retry), got %d", calls.Load())
	}
}

func TestCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":400,"message":"bad prompt","status":"INVALID_ARGUMENT"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Complete(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "bad prompt") {
		t.Errorf("expected API error, got %v", err)
	}
}

func TestCompleteGroundedCapturesSources(t *testing.T) {
	var gotBody geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
			"candidates": [{
				"content": {"parts": [{"text": "SAIF says"}], "role": "model"},
				"finishReason": "STOP",
				"groundingMetadata": {
					"groundingChunks": [
						{"web": {"uri": "https://saif.google/risks", "title": "Risks"}},
						{"web": {"uri": "https://saif.google/controls", "title": "Controls"}}
					],
					"webSearchQueries": ["saif risks"]
				}
			}]
		}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	text, sources, err := client.CompleteGrounded(context.Background(), "latest SAIF guidance")
	if err != nil {
		t.Fatalf("CompleteGrounded failed: %v", err)
	}
	if text != "SAIF says" {
		t.Errorf("got text %q", text)
	}
	want := []string{"https://saif.google/risks", "https://saif.google/controls"}
	if diff := cmp.Diff(want, sources); diff != "" {
		t.Errorf("grounding sources mismatch (-want +got):\n%s", diff)
	}
	if len(gotBody.Tools) != 1 || gotBody.Tools[0].GoogleSearch == nil {
		t.Error("google_search tool not attached")
	}
	if len(gotBody.Tools[0].FunctionDeclarations) != 0 {
		t.Error("grounded call must not carry function declarations")
	}
}

func TestCompleteWithDocumentRejectsGCS(t *testing.T) {
	client := testClient("http://unused")
	_, err := client.CompleteWithDocument(context.Background(), "", []string{"analyze"}, "gs://bucket/report.pdf", "application/pdf")
	if !errors.Is(err, ErrDocumentNotSupported) {
		t.Errorf("expected ErrDocumentNotSupported, got %v", err)
	}
}

func TestCompleteWithSchemaUnsupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"responseSchema is not supported"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.CompleteWithSchema(context.Background(), "", "rows please", `{"type":"object"}`)
	if !errors.Is(err, ErrSchemaNotSupported) {
		t.Errorf("expected ErrSchemaNotSupported, got %v", err)
	}
}

func TestCompleteWithToolsParsesCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"candidates": [{
				"content": {
					"parts": [
						{"text": "Let me audit that project."},
						{"functionCall": {"name": "audit_project", "args": {"project_id": "demo-prj"}}}
					],
					"role": "model"
				},
				"finishReason": "STOP"
			}]
		}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	tools := []ToolDefinition{{
		Name:        "audit_project",
		Description: "Audit a GCP project",
		InputSchema: map[string]any{"type": "object"},
	}}
	history := []Message{{Role: RoleUser, Text: "audit demo-prj"}}

	resp, err := client.CompleteWithTools(context.Background(), "system", history, tools)
	if err != nil {
		t.Fatalf("CompleteWithTools failed: %v", err)
	}
	if resp.Text != "Let me audit that project." {
		t.Errorf("text = %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.Name != "audit_project" || call.Args["project_id"] != "demo-prj" {
		t.Errorf("unexpected tool call: %+v", call)
	}
}

func TestCompleteStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "streamGenerateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{"Hello", " world", "!"}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", textResponse(c))
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	contentChan, errChan := client.CompleteStream(context.Background(), "", "greet me")

	var b strings.Builder
	for chunk := range contentChan {
		b.WriteString(chunk)
	}
	if err := <-errChan; err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if b.String() != "Hello world!" {
		t.Errorf("streamed %q", b.String())
	}
}

func TestMessagesToWire(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Text: "audit demo"},
		{Role: RoleModel, Calls: []ToolCall{{ID: "call_0", Name: "audit_project", Args: map[string]any{"project_id": "demo"}}}},
		{Role: RoleFunction, Results: []CallResult{{Name: "audit_project", Content: "report text"}}},
	}

	contents := messagesToWire(history)
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" || contents[0].Parts[0].Text != "audit demo" {
		t.Errorf("user content wrong: %+v", contents[0])
	}
	if contents[1].Role != "model" || contents[1].Parts[0].FunctionCall == nil {
		t.Errorf("model content wrong: %+v", contents[1])
	}
	fr := contents[2].Parts[0].FunctionResponse
	if contents[2].Role != "function" || fr == nil || fr.Name != "audit_project" {
		t.Errorf("function content wrong: %+v", contents[2])
	}
	if fr.Response["content"] != "report text" || fr.Response["is_error"] != false {
		t.Errorf("function response payload wrong: %+v", fr.Response)
	}
}
