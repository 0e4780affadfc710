package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"saifguard/internal/logging"
)

// VertexClient implements Client over Vertex AI using the genai SDK.
// It is the only backend that can reference gs:// documents directly.
type VertexClient struct {
	client          *genai.Client
	model           string
	temperature     float32
	topP            float32
	maxOutputTokens int32
	timeout         time.Duration
}

// NewVertexClient creates a Vertex AI client using application default
// credentials.
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("vertex project is required")
	}
	if cfg.Location == "" {
		return nil, fmt.Errorf("vertex location is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  cfg.Project,
		Location: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	return &VertexClient{
		client:          client,
		model:           model,
		temperature:     float32(cfg.Temperature),
		topP:            float32(cfg.TopP),
		maxOutputTokens: int32(maxTokens),
		timeout:         timeout,
	}, nil
}

// Model returns the model identifier in use.
func (c *VertexClient) Model() string {
	return c.model
}

func (c *VertexClient) ensureDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// generateConfig builds the shared generation config. The dangerous
// content filter is disabled for security-audit content: findings
// necessarily describe attacks and exploits.
func (c *VertexClient) generateConfig(systemPrompt string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temperature),
		TopP:            genai.Ptr(c.topP),
		MaxOutputTokens: c.maxOutputTokens,
		SafetySettings: []*genai.SafetySetting{
			{
				Category:  genai.HarmCategoryDangerousContent,
				Threshold: genai.HarmBlockThresholdOff,
			},
		},
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(systemPrompt)},
		}
	}
	return cfg
}

func vertexResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no completion returned")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func vertexGroundingSources(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var sources []string
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk != nil && chunk.Web != nil && chunk.Web.URI != "" {
			sources = append(sources, chunk.Web.URI)
		}
	}
	return sources
}

// Complete sends a prompt and returns the completion.
func (c *VertexClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *VertexClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[Vertex] CompleteWithSystem: model=%s system_len=%d user_len=%d", c.model, len(systemPrompt), len(userPrompt))

	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(systemPrompt))
	if err != nil {
		logging.APIError("[Vertex] CompleteWithSystem: failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("generate content failed: %w", err)
	}

	text, err := vertexResponseText(resp)
	if err != nil {
		return "", err
	}
	logging.API("[Vertex] CompleteWithSystem: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// CompleteGrounded answers a query with Google Search grounding.
func (c *VertexClient) CompleteGrounded(ctx context.Context, query string) (string, []string, error) {
	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[Vertex] CompleteGrounded: model=%s query_len=%d", c.model, len(query))

	contents := []*genai.Content{genai.NewContentFromText(query, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		logging.APIError("[Vertex] CompleteGrounded: failed after %v: %v", time.Since(start), err)
		return "", nil, fmt.Errorf("grounded generate failed: %w", err)
	}

	text, err := vertexResponseText(resp)
	if err != nil {
		return "", nil, err
	}
	sources := vertexGroundingSources(resp)
	logging.API("[Vertex] CompleteGrounded: completed in %v response_len=%d grounding_sources=%d",
		time.Since(start), len(text), len(sources))
	return text, sources, nil
}

// CompleteWithDocument sends text parts plus a document reference.
func (c *VertexClient) CompleteWithDocument(ctx context.Context, systemPrompt string, textParts []string, docURI, mimeType string) (string, error) {
	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[Vertex] CompleteWithDocument: model=%s uri=%s parts=%d", c.model, docURI, len(textParts))

	if mimeType == "" {
		mimeType = "application/pdf"
	}

	parts := make([]*genai.Part, 0, len(textParts)+1)
	if len(textParts) > 0 {
		parts = append(parts, genai.NewPartFromText(textParts[0]))
	}
	parts = append(parts, genai.NewPartFromURI(docURI, mimeType))
	if len(textParts) > 1 {
		for _, t := range textParts[1:] {
			parts = append(parts, genai.NewPartFromText(t))
		}
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(systemPrompt))
	if err != nil {
		logging.APIError("[Vertex] CompleteWithDocument: failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("document generate failed: %w", err)
	}

	text, err := vertexResponseText(resp)
	if err != nil {
		return "", err
	}
	logging.API("[Vertex] CompleteWithDocument: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// CompleteWithSchema enforces a JSON schema on the response.
func (c *VertexClient) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	schemaText := strings.TrimSpace(jsonSchema)
	if schemaText == "" {
		return "", fmt.Errorf("json schema is empty")
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(schemaText), &schema); err != nil {
		return "", fmt.Errorf("invalid json schema: %w", err)
	}

	start := time.Now()
	logging.APIDebug("[Vertex] CompleteWithSchema: model=%s schema_len=%d", c.model, len(schemaText))

	cfg := c.generateConfig(systemPrompt)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseJsonSchema = schema

	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		logging.APIError("[Vertex] CompleteWithSchema: failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("schema generate failed: %w", err)
	}

	text, err := vertexResponseText(resp)
	if err != nil {
		return "", err
	}
	logging.API("[Vertex] CompleteWithSchema: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// CompleteWithTools runs one model turn with function declarations.
func (c *VertexClient) CompleteWithTools(ctx context.Context, systemPrompt string, history []Message, tools []ToolDefinition) (*ToolResponse, error) {
	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[Vertex] CompleteWithTools: model=%s history=%d tools=%d", c.model, len(history), len(tools))

	cfg := c.generateConfig(systemPrompt)
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, messagesToVertex(history), cfg)
	if err != nil {
		logging.APIError("[Vertex] CompleteWithTools: failed after %v: %v", time.Since(start), err)
		return nil, fmt.Errorf("tool generate failed: %w", err)
	}

	result := &ToolResponse{GroundingSources: vertexGroundingSources(resp)}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		result.StopReason = string(resp.Candidates[0].FinishReason)
		var text strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:   fmt.Sprintf("call_%d", len(result.ToolCalls)),
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
		result.Text = strings.TrimSpace(text.String())
	}

	logging.API("[Vertex] CompleteWithTools: completed in %v text_len=%d tool_calls=%d stop_reason=%s",
		time.Since(start), len(result.Text), len(result.ToolCalls), result.StopReason)
	return result, nil
}

// messagesToVertex converts neutral conversation messages to SDK contents.
// Function results ride in user-role contents per the Gemini API contract.
func messagesToVertex(history []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case RoleFunction:
			parts := make([]*genai.Part, 0, len(msg.Results))
			for _, r := range msg.Results {
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name: r.Name,
						Response: map[string]any{
							"content":  r.Content,
							"is_error": r.IsError,
						},
					},
				})
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
		case RoleModel:
			parts := make([]*genai.Part, 0, len(msg.Calls)+1)
			if msg.Text != "" {
				parts = append(parts, genai.NewPartFromText(msg.Text))
			}
			for _, call := range msg.Calls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: call.Name, Args: call.Args},
				})
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Text, genai.RoleUser))
		}
	}
	return contents
}

// CompleteStream streams a completion as incremental text deltas.
func (c *VertexClient) CompleteStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		ctx, cancel := c.ensureDeadline(ctx)
		defer cancel()

		start := time.Now()
		contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, c.generateConfig(systemPrompt)) {
			if err != nil {
				logging.APIError("[Vertex] CompleteStream: stream error after %v: %v", time.Since(start), err)
				errorChan <- fmt.Errorf("stream error: %w", err)
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part == nil || part.Text == "" {
					continue
				}
				select {
				case contentChan <- part.Text:
				case <-ctx.Done():
					errorChan <- ctx.Err()
					return
				}
			}
		}
		logging.API("[Vertex] CompleteStream: completed in %v", time.Since(start))
	}()

	return contentChan, errorChan
}
