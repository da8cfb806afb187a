// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete kubechat configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	MCP     MCPConfig     `yaml:"mcp"`
	Store   StoreConfig   `yaml:"store"`
	Memory  MemoryConfig  `yaml:"memory"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LLMConfig selects the default model and declares the provider catalog.
type LLMConfig struct {
	DefaultProvider    string           `yaml:"default_provider"`
	DefaultModel       string           `yaml:"default_model"`
	DefaultTemperature float64          `yaml:"default_temperature"`
	Timeout            time.Duration    `yaml:"timeout"`
	Providers          []ProviderConfig `yaml:"providers"`
}

// ProviderConfig declares one LLM provider and its allowed models.
type ProviderConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Models  []string          `yaml:"models"`
	Headers map[string]string `yaml:"headers"`
}

// MCPConfig declares the tool server connection.
type MCPConfig struct {
	Transport      string            `yaml:"transport"` // stdio, http
	URL            string            `yaml:"url"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Envs           []string          `yaml:"envs"`
	Headers        map[string]string `yaml:"headers"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	InvokeTimeout  time.Duration     `yaml:"invoke_timeout"`
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	Backend   string `yaml:"backend"` // memory, file, redis
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// MemoryConfig tunes long-term memory extraction and summarization.
type MemoryConfig struct {
	Enabled            bool    `yaml:"enabled"`
	EmbeddingProvider  string  `yaml:"embedding_provider"`
	EmbeddingModel     string  `yaml:"embedding_model"`
	MaxContextTokens   int     `yaml:"max_context_tokens"`
	SummarizeThreshold float64 `yaml:"summarize_threshold"`
	KeepRecent         int     `yaml:"keep_recent"`
	ExtractEvery       int     `yaml:"extract_every"`
	MaxResults         int     `yaml:"max_results"`
}

// SessionConfig tunes the session registry.
type SessionConfig struct {
	MaxPerUser        int `yaml:"max_per_user"`
	MaxToolIterations int `yaml:"max_tool_iterations"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultTemperature: 0.7,
			Timeout:            120 * time.Second,
		},
		MCP: MCPConfig{
			Transport:      "stdio",
			ConnectTimeout: 30 * time.Second,
			InvokeTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Memory: MemoryConfig{
			Enabled:            true,
			MaxContextTokens:   128000,
			SummarizeThreshold: 0.8,
			KeepRecent:         4,
			ExtractEvery:       5,
			MaxResults:         5,
		},
		Session: SessionConfig{
			MaxPerUser:        10,
			MaxToolIterations: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	for i, p := range c.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm.providers[%d]: name is required", i)
		}
		if p.Type == "" {
			return fmt.Errorf("llm.providers[%d] %q: type is required", i, p.Name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("llm.providers[%d] %q: at least one model must be configured", i, p.Name)
		}
	}

	if c.LLM.DefaultProvider != "" {
		if _, ok := c.Provider(c.LLM.DefaultProvider); !ok {
			return fmt.Errorf("llm.default_provider %q is not in the provider catalog", c.LLM.DefaultProvider)
		}
	}

	switch c.MCP.Transport {
	case "stdio":
		if c.MCP.Command == "" {
			return fmt.Errorf("mcp.command is required for stdio transport")
		}
	case "http":
		if c.MCP.URL == "" {
			return fmt.Errorf("mcp.url is required for http transport")
		}
	case "":
		return fmt.Errorf("mcp.transport is required")
	default:
		return fmt.Errorf("unknown mcp transport: %s", c.MCP.Transport)
	}

	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for file backend")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	if c.Memory.SummarizeThreshold <= 0 || c.Memory.SummarizeThreshold > 1 {
		return fmt.Errorf("memory.summarize_threshold must be in (0, 1], got %v", c.Memory.SummarizeThreshold)
	}
	if c.Memory.KeepRecent < 0 {
		return fmt.Errorf("memory.keep_recent cannot be negative")
	}
	if c.Session.MaxPerUser <= 0 {
		return fmt.Errorf("session.max_per_user must be positive")
	}
	if c.Session.MaxToolIterations <= 0 {
		return fmt.Errorf("session.max_tool_iterations must be positive")
	}

	return nil
}

// Provider looks up a provider catalog entry by name.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for i := range c.LLM.Providers {
		if c.LLM.Providers[i].Name == name {
			return &c.LLM.Providers[i], true
		}
	}
	return nil, false
}
