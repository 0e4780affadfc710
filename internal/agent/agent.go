// Package agent implements the session-scoped audit agent runtime.
//
// The runtime is a thin loop: user message → model turn with function
// declarations → tool execution → results fed back → final text. The
// model is the creative center; the runtime provides conversation
// memory, tools, and bounds.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"saifguard/internal/llm"
	"saifguard/internal/logging"
	"saifguard/internal/store"
	"saifguard/internal/tools"
)

// Config bounds the agent loop.
type Config struct {
	// MaxToolRounds limits model/tool exchanges per turn to prevent
	// runaway execution.
	MaxToolRounds int

	// SessionTTL is how long an idle session keeps its history. Zero
	// means sessions never expire.
	SessionTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxToolRounds: 4,
		SessionTTL:    time.Hour,
	}
}

// Agent drives the function-calling loop for user sessions.
type Agent struct {
	mu       sync.RWMutex
	client   llm.Client
	registry *tools.Registry
	store    *store.LocalStore
	config   Config
}

// New creates the agent runtime.
func New(client llm.Client, registry *tools.Registry, st *store.LocalStore, cfg Config) *Agent {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultConfig().MaxToolRounds
	}
	logging.Session("Creating agent runtime: tools=%v max_rounds=%d", registry.Names(), cfg.MaxToolRounds)
	return &Agent{
		client:   client,
		registry: registry,
		store:    st,
		config:   cfg,
	}
}

// SetConfig updates the loop bounds at runtime.
func (a *Agent) SetConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = cfg
}

// Invoke runs one agent turn for a user. The final answer arrives on
// the content channel chunk-wise; a failure before any content arrives
// on the error channel with the content channel closed empty.
func (a *Agent) Invoke(ctx context.Context, userID, message string) (<-chan string, <-chan error) {
	contentChan := make(chan string, 16)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		text, err := a.runTurn(ctx, userID, message)
		if err != nil {
			errorChan <- err
			return
		}
		for _, chunk := range splitChunks(text) {
			select {
			case contentChan <- chunk:
			case <-ctx.Done():
				errorChan <- ctx.Err()
				return
			}
		}
	}()

	return contentChan, errorChan
}

// runTurn resolves one user message to final text.
func (a *Agent) runTurn(ctx context.Context, userID, message string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is empty")
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message is empty")
	}

	a.mu.RLock()
	cfg := a.config
	a.mu.RUnlock()

	start := time.Now()
	logging.Session("Invoking agent for %s, message_len=%d", userID, len(message))

	sessionID, err := a.store.GetOrCreateSession(userID, cfg.SessionTTL)
	if err != nil {
		return "", fmt.Errorf("resolving session: %w", err)
	}
	history, err := a.replayHistory(sessionID)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	history = append(history, llm.Message{Role: llm.RoleUser, Text: message})

	defs := a.registry.Definitions()
	finalText := ""

	for round := 0; round < cfg.MaxToolRounds; round++ {
		resp, err := a.client.CompleteWithTools(ctx, systemPrompt, history, defs)
		if err != nil {
			return "", fmt.Errorf("model turn failed: %w", err)
		}
		finalText = resp.Text

		if len(resp.ToolCalls) == 0 {
			a.persistTurn(sessionID, message, finalText)
			logging.Session("Agent turn for %s done in %v (rounds=%d)", userID, time.Since(start), round+1)
			return finalText, nil
		}

		history = append(history, llm.Message{
			Role:  llm.RoleModel,
			Text:  resp.Text,
			Calls: resp.ToolCalls,
		})
		history = append(history, llm.Message{
			Role:    llm.RoleFunction,
			Results: a.executeCalls(ctx, resp.ToolCalls),
		})
	}

	// Out of rounds: answer with whatever the model said last rather
	// than failing the request.
	logging.Get(logging.CategorySession).Warn(
		"Agent for %s hit max tool rounds (%d), returning last text", userID, cfg.MaxToolRounds)
	if finalText == "" {
		finalText = "I could not complete the analysis within the allowed number of tool calls. Please try a more specific request."
	}
	a.persistTurn(sessionID, message, finalText)
	return finalText, nil
}

// executeCalls runs requested tools. Failures become text results so
// the model can react instead of the request dying.
func (a *Agent) executeCalls(ctx context.Context, calls []llm.ToolCall) []llm.CallResult {
	results := make([]llm.CallResult, 0, len(calls))
	for _, call := range calls {
		res, err := a.registry.Execute(ctx, call.Name, call.Args)
		if err != nil {
			msg := fmt.Sprintf("An exception occurred while calling %s: %v", call.Name, err)
			logging.ToolsError("%s", msg)
			results = append(results, llm.CallResult{Name: call.Name, Content: msg, IsError: true})
			continue
		}
		results = append(results, llm.CallResult{Name: call.Name, Content: res.Result})
	}
	return results
}

// replayHistory reloads a session's prior exchanges as conversation
// messages. Tool traffic is not replayed, only user text and final
// answers.
func (a *Agent) replayHistory(sessionID string) ([]llm.Message, error) {
	turns, err := a.store.GetTurns(sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		history = append(history,
			llm.Message{Role: llm.RoleUser, Text: t.UserMessage},
			llm.Message{Role: llm.RoleModel, Text: t.Response},
		)
	}
	return history, nil
}

// persistTurn stores the exchange. Persistence failures are logged,
// not surfaced: the user already has the answer.
func (a *Agent) persistTurn(sessionID, message, response string) {
	n, err := a.store.NextTurnNumber(sessionID)
	if err != nil {
		logging.Get(logging.CategorySession).Error("Failed to number turn for %s: %v", sessionID, err)
		return
	}
	if err := a.store.StoreTurn(sessionID, n, message, response); err != nil {
		logging.Get(logging.CategorySession).Error("Failed to persist turn %d for %s: %v", n, sessionID, err)
	}
}

// splitChunks breaks final text into streamable pieces on line
// boundaries, keeping newlines attached.
func splitChunks(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	chunks := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}
