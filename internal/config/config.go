package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Parley configuration
type Config struct {
	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Checkpoint store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// AI providers
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Turn engine
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Prompt library
	Prompts PromptsConfig `json:"prompts" mapstructure:"prompts"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// StoreConfig holds checkpoint store configuration
type StoreConfig struct {
	Path      string          `json:"path" mapstructure:"path"`
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`
}

// RetentionConfig controls the checkpoint sweep.
type RetentionConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"`
	Keep     int    `json:"keep" mapstructure:"keep"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// EngineConfig holds turn engine configuration
type EngineConfig struct {
	Model         string   `json:"model" mapstructure:"model"`
	SystemPrompt  string   `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature   float64  `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int      `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries    int      `json:"max_retries" mapstructure:"max_retries"`
	ContextBudget int      `json:"context_budget" mapstructure:"context_budget"`
	Tools         []string `json:"tools" mapstructure:"tools"`
	ToolTimeout   int      `json:"tool_timeout" mapstructure:"tool_timeout"` // seconds
}

// ToolsConfig holds tool configuration
type ToolsConfig struct {
	WorkspaceRoot string `json:"workspace_root" mapstructure:"workspace_root"`
}

// PromptsConfig holds prompt library configuration
type PromptsConfig struct {
	Dir       string `json:"dir" mapstructure:"dir"`
	HotReload bool   `json:"hot_reload" mapstructure:"hot_reload"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Store: StoreConfig{
			Retention: RetentionConfig{
				Enabled:  true,
				Schedule: "0 3 * * *",
				Keep:     500,
			},
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Engine: EngineConfig{
			Model:         "claude-sonnet-4",
			Temperature:   0.7,
			MaxTokens:     4096,
			MaxRetries:    3,
			ContextBudget: 100_000,
			Tools:         []string{"read_file", "write_file", "ask_user"},
			ToolTimeout:   30,
		},
		Prompts: PromptsConfig{
			HotReload: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}

	if c.Engine.Model == "" {
		return fmt.Errorf("engine model is required")
	}
	if c.Engine.ContextBudget <= 0 {
		return fmt.Errorf("engine context_budget must be positive")
	}
	if c.Engine.Temperature < 0 || c.Engine.Temperature > 2 {
		return fmt.Errorf("engine temperature must be between 0 and 2")
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway shared_secret is required")
	}

	if c.Store.Retention.Enabled && c.Store.Retention.Keep <= 0 {
		return fmt.Errorf("store retention keep must be positive when enabled")
	}

	return nil
}
