package tools

import (
	"context"
	"fmt"

	"saifguard/internal/llm"
	"saifguard/internal/logging"
)

// NewGoogleSearchTool builds the grounded web-search tool. The model
// answers the query itself with Google Search grounding enabled, so the
// result is synthesized text rather than raw links.
func NewGoogleSearchTool(client llm.Client) *Tool {
	return &Tool{
		Name:        "google_search",
		Description: "Use Google Search to answer a question.",
		Schema: ToolSchema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query": {
					Type:        "string",
					Description: "The user's query that will be searched on Google.",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return "", err
			}

			logging.Tools("google_search: query_len=%d", len(query))
			text, sources, err := client.CompleteGrounded(ctx, query)
			if err != nil {
				return "", fmt.Errorf("google search failed: %w", err)
			}
			logging.ToolsDebug("google_search: answered with %d grounding sources", len(sources))
			return text, nil
		},
	}
}

// FetchSAIFGuidance retrieves current SAIF documentation through a
// grounded search pinned to saif.google. Both auditors embed the result
// in their prompts.
func FetchSAIFGuidance(ctx context.Context, client llm.Client) (string, error) {
	logging.Tools("Fetching latest SAIF recommendations using Google Search")
	text, _, err := client.CompleteGrounded(ctx, saifGuidancePrompt)
	if err != nil {
		return "", fmt.Errorf("fetching SAIF guidance: %w", err)
	}
	return text, nil
}
