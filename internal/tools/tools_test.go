package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"saifguard/internal/llm"
)

// fakeClient records calls and returns canned responses.
type fakeClient struct {
	groundedText   string
	groundedErr    error
	completeText   string
	documentText   string
	groundedCalls  []string
	systemPrompts  []string
	userPrompts    []string
	documentParts  []string
	documentURI    string
	documentSystem string
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.systemPrompts = append(f.systemPrompts, systemPrompt)
	f.userPrompts = append(f.userPrompts, userPrompt)
	return f.completeText, nil
}

func (f *fakeClient) CompleteGrounded(ctx context.Context, query string) (string, []string, error) {
	f.groundedCalls = append(f.groundedCalls, query)
	if f.groundedErr != nil {
		return "", nil, f.groundedErr
	}
	return f.groundedText, []string{"https://saif.google"}, nil
}

func (f *fakeClient) CompleteWithDocument(ctx context.Context, systemPrompt string, textParts []string, docURI, mimeType string) (string, error) {
	f.documentSystem = systemPrompt
	f.documentParts = textParts
	f.documentURI = docURI
	return f.documentText, nil
}

func (f *fakeClient) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	return f.completeText, nil
}

func (f *fakeClient) CompleteWithTools(ctx context.Context, systemPrompt string, history []llm.Message, tools []llm.ToolDefinition) (*llm.ToolResponse, error) {
	return &llm.ToolResponse{Text: f.completeText}, nil
}

func (f *fakeClient) CompleteStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	content := make(chan string, 1)
	errs := make(chan error, 1)
	content <- f.completeText
	close(content)
	close(errs)
	return content, errs
}

func (f *fakeClient) Model() string { return "fake-model" }

type fakeInventory struct {
	resources []json.RawMessage
	err       error
}

func (f *fakeInventory) ListResources(ctx context.Context, projectID string) ([]json.RawMessage, error) {
	return f.resources, f.err
}

func TestGoogleSearchTool(t *testing.T) {
	client := &fakeClient{groundedText: "search answer"}
	tool := NewGoogleSearchTool(client)

	got, err := tool.Execute(context.Background(), map[string]any{"query": "latest SAIF"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got != "search answer" {
		t.Errorf("got %q", got)
	}
	if len(client.groundedCalls) != 1 || client.groundedCalls[0] != "latest SAIF" {
		t.Errorf("grounded calls: %v", client.groundedCalls)
	}
}

func TestGoogleSearchToolError(t *testing.T) {
	client := &fakeClient{groundedErr: errors.New("quota exhausted")}
	tool := NewGoogleSearchTool(client)

	_, err := tool.Execute(context.Background(), map[string]any{"query": "q"})
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestAnalyzeDocumentTool(t *testing.T) {
	client := &fakeClient{groundedText: "guidance text", documentText: "### 🔴 Critical"}
	tool := NewAnalyzeDocumentTool(client)

	got, err := tool.Execute(context.Background(), map[string]any{"gcs_uri": "gs://bucket/design.pdf"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got != "### 🔴 Critical" {
		t.Errorf("got %q", got)
	}

	// Guidance comes from the site-pinned retrieval prompt.
	if len(client.groundedCalls) != 1 || !strings.Contains(client.groundedCalls[0], "site:saif.google") {
		t.Errorf("guidance fetch missing or wrong: %v", client.groundedCalls)
	}

	if client.documentURI != "gs://bucket/design.pdf" {
		t.Errorf("document uri = %q", client.documentURI)
	}
	if len(client.documentParts) != 2 {
		t.Fatalf("expected 2 text parts, got %d", len(client.documentParts))
	}
	if client.documentParts[0] != documentAuditQueryPrompt {
		t.Error("first part must be the query prompt")
	}
	if !strings.Contains(client.documentParts[1], "LATEST SAIF RECOMMENDATIONS:\nguidance text") {
		t.Errorf("guidance part wrong: %q", client.documentParts[1])
	}
	if !strings.Contains(client.documentSystem, "AppSec") {
		t.Error("auditor system prompt not applied")
	}
}

func TestAnalyzeDocumentToolRejectsNonGCS(t *testing.T) {
	tool := NewAnalyzeDocumentTool(&fakeClient{})
	_, err := tool.Execute(context.Background(), map[string]any{"gcs_uri": "https://example.com/doc.pdf"})
	if err == nil || !strings.Contains(err.Error(), "gs://") {
		t.Errorf("expected gs:// rejection, got %v", err)
	}
}

func TestAuditProjectTool(t *testing.T) {
	client := &fakeClient{groundedText: "guidance text", completeText: "audit report"}
	inventory := &fakeInventory{resources: []json.RawMessage{
		json.RawMessage(`{"name":"//run.googleapis.com/projects/p/services/api"}`),
	}}
	tool := NewAuditProjectTool(client, inventory, AuditProjectConfig{})

	got, err := tool.Execute(context.Background(), map[string]any{"project_id": "demo-prj"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got != "audit report" {
		t.Errorf("got %q", got)
	}

	if len(client.userPrompts) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(client.userPrompts))
	}
	prompt := client.userPrompts[0]
	if !strings.Contains(prompt, "run.googleapis.com") {
		t.Error("asset dump missing from prompt")
	}
	if !strings.Contains(prompt, "LATEST SAIF RECOMMENDATIONS:\nguidance text") {
		t.Error("guidance missing from prompt")
	}
	if !strings.Contains(client.systemPrompts[0], "Methodology") {
		t.Error("deployment auditor system prompt not applied")
	}
}

func TestAuditProjectToolEmptyInventory(t *testing.T) {
	client := &fakeClient{groundedText: "guidance", completeText: "report"}
	tool := NewAuditProjectTool(client, &fakeInventory{}, AuditProjectConfig{})

	if _, err := tool.Execute(context.Background(), map[string]any{"project_id": "empty-prj"}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !strings.Contains(client.userPrompts[0], emptyInventoryText) {
		t.Error("empty inventory sentence missing from prompt")
	}
}

func TestAuditProjectToolInventoryFailure(t *testing.T) {
	client := &fakeClient{groundedText: "guidance", completeText: "report"}
	inventory := &fakeInventory{err: fmt.Errorf("permission denied")}
	tool := NewAuditProjectTool(client, inventory, AuditProjectConfig{})

	got, err := tool.Execute(context.Background(), map[string]any{"project_id": "locked-prj"})
	if err != nil {
		t.Fatalf("inventory failure must not fail the audit: %v", err)
	}
	if got != "report" {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(client.userPrompts[0], emptyInventoryText) {
		t.Error("failed inventory should degrade to the empty sentence")
	}
}

func TestAuditProjectToolDebugDumps(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{groundedText: "guidance text", completeText: "report"}
	inventory := &fakeInventory{resources: []json.RawMessage{json.RawMessage(`{"name":"r1"}`)}}
	tool := NewAuditProjectTool(client, inventory, AuditProjectConfig{DebugDumps: true, DumpDir: dir})

	if _, err := tool.Execute(context.Background(), map[string]any{"project_id": "demo"}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	dump, err := os.ReadFile(filepath.Join(dir, "asset_dump.txt"))
	if err != nil {
		t.Fatalf("asset dump not written: %v", err)
	}
	if !strings.Contains(string(dump), "r1") {
		t.Errorf("asset dump content wrong: %s", dump)
	}
	guidance, err := os.ReadFile(filepath.Join(dir, "saif_recommendations.txt"))
	if err != nil {
		t.Fatalf("guidance dump not written: %v", err)
	}
	if string(guidance) != "guidance text" {
		t.Errorf("guidance dump = %q", guidance)
	}
}
