package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"saifguard/internal/logging"
)

// GeminiClient implements Client over the generativelanguage REST API.
type GeminiClient struct {
	apiKey          string
	baseURL         string
	model           string
	temperature     float64
	topP            float64
	maxOutputTokens int
	httpClient      *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Minimum spacing between requests. The free-tier quota is aggressive
// about bursts.
const minRequestInterval = 100 * time.Millisecond

const maxRetries = 3

// NewGeminiClient creates a REST client.
func NewGeminiClient(cfg RESTConfig) *GeminiClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
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

	return &GeminiClient{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		model:           model,
		temperature:     cfg.Temperature,
		topP:            cfg.TopP,
		maxOutputTokens: maxTokens,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// Model returns the model identifier in use.
func (c *GeminiClient) Model() string {
	return c.model
}

func (c *GeminiClient) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < minRequestInterval {
		time.Sleep(minRequestInterval - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// ensureDeadline applies the client timeout if the context has none.
func (c *GeminiClient) ensureDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, c.httpClient.Timeout)
	}
	return ctx, func() {}
}

func (c *GeminiClient) generationConfig() geminiGenerationConfig {
	temp := c.temperature
	topP := c.topP
	return geminiGenerationConfig{
		Temperature:     &temp,
		TopP:            &topP,
		MaxOutputTokens: c.maxOutputTokens,
	}
}

// doGenerate posts a generateContent request with retry on rate limits.
func (c *GeminiClient) doGenerate(ctx context.Context, reqBody geminiRequest) (*geminiResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	c.throttle()

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode == http.StatusBadRequest && reqBody.GenerationConfig.ResponseSchema != nil {
				bodyLower := strings.ToLower(string(body))
				if strings.Contains(bodyLower, "responseschema") ||
					strings.Contains(bodyLower, "response_schema") ||
					strings.Contains(bodyLower, "responsemimetype") ||
					strings.Contains(bodyLower, "response_mime_type") {
					return nil, ErrSchemaNotSupported
				}
			}
			return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var parsed geminiResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("API error: %s", parsed.Error.Message)
		}
		return &parsed, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func responseText(resp *geminiResponse) (string, error) {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

func groundingSources(resp *geminiResponse) []string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	gm := resp.Candidates[0].GroundingMetadata
	var sources []string
	for _, chunk := range gm.GroundingChunks {
		if chunk.Web != nil && chunk.Web.URI != "" {
			sources = append(sources, chunk.Web.URI)
		}
	}
	return sources
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[Gemini] CompleteWithSystem: model=%s system_len=%d user_len=%d", c.model, len(systemPrompt), len(userPrompt))

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		GenerationConfig: c.generationConfig(),
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}

	resp, err := c.doGenerate(ctx, reqBody)
	if err != nil {
		logging.APIError("[Gemini] CompleteWithSystem: failed after %v: %v", time.Since(start), err)
		return "", err
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	logging.API("[Gemini] CompleteWithSystem: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// CompleteGrounded answers a query with Google Search grounding.
func (c *GeminiClient) CompleteGrounded(ctx context.Context, query string) (string, []string, error) {
	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[Gemini] CompleteGrounded: model=%s query_len=%d", c.model, len(query))

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: query}}},
		},
		// Grounding and function declarations cannot be combined in a
		// single call; this request carries only the search tool.
		Tools: []geminiTool{{GoogleSearch: &geminiGoogleSearch{}}},
	}

	resp, err := c.doGenerate(ctx, reqBody)
	if err != nil {
		logging.APIError("[Gemini] CompleteGrounded: failed after %v: %v", time.Since(start), err)
		return "", nil, err
	}

	text, err := responseText(resp)
	if err != nil {
		return "", nil, err
	}
	sources := groundingSources(resp)
	logging.API("[Gemini] CompleteGrounded: completed in %v response_len=%d grounding_sources=%d",
		time.Since(start), len(text), len(sources))
	return text, sources, nil
}

// CompleteWithDocument sends text parts plus a document reference.
// The REST backend can only reference https URIs; gs:// objects need
// the vertex backend.
func (c *GeminiClient) CompleteWithDocument(ctx context.Context, systemPrompt string, textParts []string, docURI, mimeType string) (string, error) {
	if strings.HasPrefix(docURI, "gs://") {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotSupported, docURI)
	}

	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[Gemini] CompleteWithDocument: model=%s uri=%s parts=%d", c.model, docURI, len(textParts))

	parts := make([]geminiPart, 0, len(textParts)+1)
	if len(textParts) > 0 {
		parts = append(parts, geminiPart{Text: textParts[0]})
	}
	parts = append(parts, geminiPart{FileData: &geminiFileData{FileURI: docURI, MimeType: mimeType}})
	for _, t := range textParts[min(1, len(textParts)):] {
		parts = append(parts, geminiPart{Text: t})
	}

	reqBody := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: c.generationConfig(),
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}

	resp, err := c.doGenerate(ctx, reqBody)
	if err != nil {
		logging.APIError("[Gemini] CompleteWithDocument: failed after %v: %v", time.Since(start), err)
		return "", err
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	logging.API("[Gemini] CompleteWithDocument: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// CompleteWithSchema enforces a JSON schema on the response.
func (c *GeminiClient) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
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
	logging.APIDebug("[Gemini] CompleteWithSchema: model=%s schema_len=%d", c.model, len(schemaText))

	gen := c.generationConfig()
	gen.ResponseMimeType = "application/json"
	gen.ResponseSchema = schema

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		GenerationConfig: gen,
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}

	resp, err := c.doGenerate(ctx, reqBody)
	if err != nil {
		logging.APIError("[Gemini] CompleteWithSchema: failed after %v: %v", time.Since(start), err)
		return "", err
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	logging.API("[Gemini] CompleteWithSchema: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// CompleteWithTools runs one model turn with function declarations.
func (c *GeminiClient) CompleteWithTools(ctx context.Context, systemPrompt string, history []Message, tools []ToolDefinition) (*ToolResponse, error) {
	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[Gemini] CompleteWithTools: model=%s history=%d tools=%d", c.model, len(history), len(tools))

	reqBody := geminiRequest{
		Contents:         messagesToWire(history),
		GenerationConfig: c.generationConfig(),
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	if len(tools) > 0 {
		decls := make([]geminiFunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			}
		}
		reqBody.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	resp, err := c.doGenerate(ctx, reqBody)
	if err != nil {
		logging.APIError("[Gemini] CompleteWithTools: failed after %v: %v", time.Since(start), err)
		return nil, err
	}

	result := &ToolResponse{GroundingSources: groundingSources(resp)}
	if len(resp.Candidates) > 0 {
		result.StopReason = resp.Candidates[0].FinishReason
		var text strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
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

	logging.API("[Gemini] CompleteWithTools: completed in %v text_len=%d tool_calls=%d stop_reason=%s",
		time.Since(start), len(result.Text), len(result.ToolCalls), result.StopReason)
	return result, nil
}

// messagesToWire converts neutral conversation messages to wire contents.
func messagesToWire(history []Message) []geminiContent {
	contents := make([]geminiContent, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case RoleFunction:
			parts := make([]geminiPart, 0, len(msg.Results))
			for _, r := range msg.Results {
				parts = append(parts, geminiPart{
					FunctionResponse: &geminiFunctionResponse{
						Name: r.Name,
						Response: map[string]any{
							"content":  r.Content,
							"is_error": r.IsError,
						},
					},
				})
			}
			contents = append(contents, geminiContent{Role: "function", Parts: parts})
		case RoleModel:
			parts := make([]geminiPart, 0, len(msg.Calls)+1)
			if msg.Text != "" {
				parts = append(parts, geminiPart{Text: msg.Text})
			}
			for _, call := range msg.Calls {
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: call.Name, Args: call.Args},
				})
			}
			contents = append(contents, geminiContent{Role: "model", Parts: parts})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Text}}})
		}
	}
	return contents
}

// CompleteStream streams a completion as incremental text deltas.
func (c *GeminiClient) CompleteStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		ctx, cancel := c.ensureDeadline(ctx)
		defer cancel()

		start := time.Now()
		if c.apiKey == "" {
			errorChan <- fmt.Errorf("API key not configured")
			return
		}

		c.throttle()

		reqBody := geminiRequest{
			Contents: []geminiContent{
				{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
			},
			GenerationConfig: c.generationConfig(),
		}
		if systemPrompt != "" {
			reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			errorChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			errorChan <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errorChan <- fmt.Errorf("request failed: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errorChan <- fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				errorChan <- fmt.Errorf("API error: %s", chunk.Error.Message)
				return
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			for _, part := range chunk.Candidates[0].Content.Parts {
				if part.Text == "" {
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
		if err := scanner.Err(); err != nil {
			logging.APIError("[Gemini] CompleteStream: stream error after %v: %v", time.Since(start), err)
			errorChan <- fmt.Errorf("stream error: %w", err)
			return
		}
		logging.API("[Gemini] CompleteStream: completed in %v", time.Since(start))
	}()

	return contentChan, errorChan
}
