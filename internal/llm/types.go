// Package llm provides Gemini model clients behind a common interface.
// Two transports are supported: the generativelanguage REST API (API
// key deployments) and Vertex AI via the genai SDK (project/location
// deployments, required for GCS document parts).
package llm

import (
	"context"
	"errors"
	"time"
)

// Client is the interface tools and the agent runtime program against.
type Client interface {
	// Complete sends a prompt and returns the completion.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system instruction.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteGrounded answers a query with Google Search grounding
	// enabled. It returns the text and the grounding source URIs.
	CompleteGrounded(ctx context.Context, query string) (string, []string, error)

	// CompleteWithDocument sends text parts plus a document reference.
	// Only the vertex backend accepts gs:// URIs.
	CompleteWithDocument(ctx context.Context, systemPrompt string, textParts []string, docURI, mimeType string) (string, error)

	// CompleteWithSchema enforces a JSON schema on the response.
	CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error)

	// CompleteWithTools runs one model turn over the conversation with
	// function declarations attached. The model may answer with text,
	// tool calls, or both.
	CompleteWithTools(ctx context.Context, systemPrompt string, history []Message, tools []ToolDefinition) (*ToolResponse, error)

	// CompleteStream streams a completion as incremental text deltas.
	CompleteStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error)

	// Model returns the model identifier in use.
	Model() string
}

// ErrDocumentNotSupported is returned when a backend cannot resolve the
// given document URI (the REST backend cannot read gs:// objects).
var ErrDocumentNotSupported = errors.New("document URI not supported by this backend")

// ErrSchemaNotSupported is returned when the model rejects response
// schema enforcement.
var ErrSchemaNotSupported = errors.New("response schema not supported by this model")

// ToolDefinition describes a function the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// CallResult is the outcome of executing a requested tool call.
type CallResult struct {
	Name    string // function name the result answers
	Content string
	IsError bool
}

// ToolResponse is one model turn: text, requested calls, or both.
type ToolResponse struct {
	Text             string
	ToolCalls        []ToolCall
	StopReason       string
	GroundingSources []string
}

// Message roles.
const (
	RoleUser     = "user"
	RoleModel    = "model"
	RoleFunction = "function"
)

// Message is one entry of a conversation. Model turns carry Calls,
// function turns carry Results.
type Message struct {
	Role    string
	Text    string
	Calls   []ToolCall
	Results []CallResult
}

// Options holds generation parameters shared by both backends. The
// zero values of Temperature/TopP are meaningful, so configured values
// are carried as set.
type Options struct {
	Model           string
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
	Timeout         time.Duration
}

// RESTConfig configures the generativelanguage REST client.
type RESTConfig struct {
	APIKey  string
	BaseURL string
	Options
}

// VertexConfig configures the Vertex AI (genai SDK) client.
type VertexConfig struct {
	Project  string
	Location string
	Options
}
