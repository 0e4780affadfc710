package llm

import (
	"context"
	"fmt"

	"saifguard/internal/config"
	"saifguard/internal/logging"
)

// OptionsFromConfig derives the default generation parameters.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Model:           cfg.LLM.Model,
		Temperature:     cfg.Agent.Temperature,
		TopP:            cfg.Agent.TopP,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Timeout:         cfg.GetLLMTimeout(),
	}
}

// NewFromConfig builds the configured client backend with the default
// generation parameters.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Client, error) {
	return NewWithOptions(ctx, cfg, OptionsFromConfig(cfg))
}

// NewWithOptions builds the configured client backend with explicit
// generation parameters. Report generation runs hotter than agent
// turns, so those callers construct their own client.
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options) (Client, error) {
	switch cfg.LLM.Backend {
	case "vertex":
		logging.Boot("LLM backend: vertex project=%s location=%s model=%s",
			cfg.LLM.Project, cfg.LLM.Location, cfg.LLM.Model)
		return NewVertexClient(ctx, VertexConfig{
			Project:  cfg.LLM.Project,
			Location: cfg.LLM.Location,
			Options:  opts,
		})
	case "gemini":
		logging.Boot("LLM backend: gemini model=%s", cfg.LLM.Model)
		return NewGeminiClient(RESTConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Options: opts,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM backend: %s", cfg.LLM.Backend)
	}
}
