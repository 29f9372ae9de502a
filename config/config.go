// Package config provides configuration loading and management for TaskForge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete TaskForge configuration
type Config struct {
	Log          LogConfig          `yaml:"log"`
	NATS         NATSConfig         `yaml:"nats"`
	Store        StoreConfig        `yaml:"store"`
	LLM          LLMConfig          `yaml:"llm"`
	Tools        ToolsConfig        `yaml:"tools"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	HTTP         HTTPConfig         `yaml:"http"`
}

// LogConfig configures structured logging
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `yaml:"level"`
	// Format is the output format (text or json)
	Format string `yaml:"format"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// StoreConfig configures session and review retention
type StoreConfig struct {
	// SessionTTL is how long sessions stay readable after their last write
	SessionTTL time.Duration `yaml:"session_ttl"`
	// ReviewTTL is how long review items stay readable after their last write
	ReviewTTL time.Duration `yaml:"review_ttl"`
}

// EndpointConfig describes one LLM endpoint in the fallback chain
type EndpointConfig struct {
	// Provider is the wire-format adapter name (e.g., "openai", "anthropic")
	Provider string `yaml:"provider"`
	// BaseURL is the endpoint base URL (e.g., "https://api.openai.com")
	BaseURL string `yaml:"base_url"`
	// Model is the model identifier to request
	Model string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `yaml:"api_key_env"`
}

// LLMConfig configures the LLM client
type LLMConfig struct {
	// Endpoints is the ordered fallback chain; the first entry is primary
	Endpoints []EndpointConfig `yaml:"endpoints"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// ToolsConfig configures the remote tool executor
type ToolsConfig struct {
	// BaseURL is the remote tool service base URL
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the tool service key
	APIKeyEnv string `yaml:"api_key_env"`
	// Names lists the remote tools to register (empty = none)
	Names []string `yaml:"names"`
}

// OrchestratorConfig configures session orchestration
type OrchestratorConfig struct {
	// ReviewWindow is how long a queued human review stays actionable
	ReviewWindow time.Duration `yaml:"review_window"`
	// SweepInterval is how often overdue reviews are swept
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// ConflictRetries bounds re-reads after a version conflict
	ConflictRetries int `yaml:"conflict_retries"`
	// MaxTasks caps how many tasks one plan may contain
	MaxTasks int `yaml:"max_tasks"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	// Addr is the listen address (e.g., ":8080")
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Store: StoreConfig{
			SessionTTL: 24 * time.Hour,
			ReviewTTL:  24 * time.Hour,
		},
		LLM: LLMConfig{
			Endpoints: []EndpointConfig{
				{
					Provider:  "openai",
					BaseURL:   "http://localhost:11434",
					Model:     "qwen2.5-coder:32b",
					APIKeyEnv: "OPENAI_API_KEY",
				},
			},
			Timeout: 5 * time.Minute,
		},
		Tools: ToolsConfig{},
		Orchestrator: OrchestratorConfig{
			ReviewWindow:    24 * time.Hour,
			SweepInterval:   time.Minute,
			ConflictRetries: 3,
			MaxTasks:        10,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}

	if len(c.LLM.Endpoints) == 0 {
		return fmt.Errorf("llm.endpoints requires at least one endpoint")
	}
	for i, ep := range c.LLM.Endpoints {
		if ep.Provider == "" {
			return fmt.Errorf("llm.endpoints[%d].provider is required", i)
		}
		if ep.BaseURL == "" {
			return fmt.Errorf("llm.endpoints[%d].base_url is required", i)
		}
		if ep.Model == "" {
			return fmt.Errorf("llm.endpoints[%d].model is required", i)
		}
	}

	if len(c.Tools.Names) > 0 && c.Tools.BaseURL == "" {
		return fmt.Errorf("tools.base_url is required when tools.names is set")
	}

	if c.Orchestrator.ReviewWindow <= 0 {
		return fmt.Errorf("orchestrator.review_window must be positive")
	}
	if c.Orchestrator.SweepInterval <= 0 {
		return fmt.Errorf("orchestrator.sweep_interval must be positive")
	}
	if c.Orchestrator.MaxTasks < 1 {
		return fmt.Errorf("orchestrator.max_tasks must be at least 1")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Store
	if other.Store.SessionTTL != 0 {
		c.Store.SessionTTL = other.Store.SessionTTL
	}
	if other.Store.ReviewTTL != 0 {
		c.Store.ReviewTTL = other.Store.ReviewTTL
	}

	// LLM
	if len(other.LLM.Endpoints) > 0 {
		c.LLM.Endpoints = other.LLM.Endpoints
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// Tools
	if other.Tools.BaseURL != "" {
		c.Tools.BaseURL = other.Tools.BaseURL
	}
	if other.Tools.APIKeyEnv != "" {
		c.Tools.APIKeyEnv = other.Tools.APIKeyEnv
	}
	if len(other.Tools.Names) > 0 {
		c.Tools.Names = other.Tools.Names
	}

	// Orchestrator
	if other.Orchestrator.ReviewWindow != 0 {
		c.Orchestrator.ReviewWindow = other.Orchestrator.ReviewWindow
	}
	if other.Orchestrator.SweepInterval != 0 {
		c.Orchestrator.SweepInterval = other.Orchestrator.SweepInterval
	}
	if other.Orchestrator.ConflictRetries != 0 {
		c.Orchestrator.ConflictRetries = other.Orchestrator.ConflictRetries
	}
	if other.Orchestrator.MaxTasks != 0 {
		c.Orchestrator.MaxTasks = other.Orchestrator.MaxTasks
	}

	// HTTP
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
}
