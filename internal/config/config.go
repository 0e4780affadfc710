// Package config holds all saifguard configuration, loaded from YAML
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all saifguard configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Inventory InventoryConfig `yaml:"inventory"`
	BigQuery  BigQueryConfig  `yaml:"bigquery"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LLMConfig configures the Gemini backend.
type LLMConfig struct {
	// Backend selects the transport: "vertex" (Vertex AI via the genai
	// SDK) or "gemini" (generativelanguage REST with an API key).
	Backend         string `yaml:"backend"`
	Project         string `yaml:"project"`
	Location        string `yaml:"location"`
	Model           string `yaml:"model"`
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Timeout         string `yaml:"timeout"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

// AgentConfig configures the agent runtime.
type AgentConfig struct {
	Temperature   float64 `yaml:"temperature"`
	TopP          float64 `yaml:"top_p"`
	MaxToolRounds int     `yaml:"max_tool_rounds"`
	SessionTTL    string  `yaml:"session_ttl"`
}

// InventoryConfig configures Cloud Asset Inventory access.
type InventoryConfig struct {
	PageSize   int    `yaml:"page_size"`
	Timeout    string `yaml:"timeout"`
	DebugDumps bool   `yaml:"debug_dumps"` // write asset/guidance dumps under the data dir
}

// BigQueryConfig configures the dashboard upload target.
type BigQueryConfig struct {
	Dataset string `yaml:"dataset"`
	Table   string `yaml:"table"`
	Timeout string `yaml:"timeout"`
}

// StorageConfig configures local persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	DataDir      string `yaml:"data_dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "saifguard",
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     "30s",
			ShutdownTimeout: "15s",
		},

		LLM: LLMConfig{
			Backend:         "vertex",
			Location:        "europe-west4",
			Model:           "gemini-2.5-flash",
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			Timeout:         "120s",
			MaxOutputTokens: 1000,
		},

		Agent: AgentConfig{
			Temperature:   0.1,
			TopP:          0.95,
			MaxToolRounds: 4,
			SessionTTL:    "24h",
		},

		Inventory: InventoryConfig{
			PageSize: 500,
			Timeout:  "60s",
		},

		BigQuery: BigQueryConfig{
			Dataset: "saifguard",
			Table:   "findings",
			Timeout: "30s",
		},

		Storage: StorageConfig{
			DatabasePath: "data/saifguard.db",
			DataDir:      "data",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides are applied in all cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Project == "" {
			c.LLM.Backend = "gemini"
		}
	}
	if project := os.Getenv("GOOGLE_CLOUD_PROJECT"); project != "" {
		c.LLM.Project = project
		c.LLM.Backend = "vertex"
	}
	if location := os.Getenv("GOOGLE_CLOUD_LOCATION"); location != "" {
		c.LLM.Location = location
	}
	if addr := os.Getenv("SAIFGUARD_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("SAIFGUARD_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetInventoryTimeout returns the asset inventory timeout as a duration.
func (c *Config) GetInventoryTimeout() time.Duration {
	return parseDuration(c.Inventory.Timeout, 60*time.Second)
}

// GetBigQueryTimeout returns the BigQuery timeout as a duration.
func (c *Config) GetBigQueryTimeout() time.Duration {
	return parseDuration(c.BigQuery.Timeout, 30*time.Second)
}

// GetSessionTTL returns the session TTL as a duration.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDuration(c.Agent.SessionTTL, 24*time.Hour)
}

// GetReadTimeout returns the HTTP read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 30*time.Second)
}

// GetShutdownTimeout returns the graceful shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 15*time.Second)
}

// ValidBackends lists the supported LLM backends.
var ValidBackends = []string{"vertex", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.LLM.Backend {
	case "vertex":
		if c.LLM.Project == "" {
			return fmt.Errorf("vertex backend requires a project (set GOOGLE_CLOUD_PROJECT or llm.project)")
		}
		if c.LLM.Location == "" {
			return fmt.Errorf("vertex backend requires a location")
		}
	case "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("gemini backend requires an API key (set GEMINI_API_KEY or llm.api_key)")
		}
	default:
		return fmt.Errorf("invalid LLM backend: %s (valid: %v)", c.LLM.Backend, ValidBackends)
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("LLM model not configured")
	}
	if c.Agent.MaxToolRounds <= 0 {
		return fmt.Errorf("agent max_tool_rounds must be positive")
	}
	return nil
}
