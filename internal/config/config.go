// ABOUTME: Configuration loading and parsing for penny-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete penny-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Model    ModelConfig    `yaml:"model"`
	Kernel   KernelConfig   `yaml:"kernel"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ModelConfig holds the completion provider configuration
type ModelConfig struct {
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	Name            string  `yaml:"name"`
	ContextTokens   int     `yaml:"context_tokens"`
	InputPricePerM  float64 `yaml:"input_price_per_m"`
	OutputPricePerM float64 `yaml:"output_price_per_m"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// KernelConfig holds orchestration tuning knobs
type KernelConfig struct {
	HistoryCharBudget  int `yaml:"history_char_budget"`
	CheckpointInterval int `yaml:"checkpoint_interval"`
	MaxToolRounds      int `yaml:"max_tool_rounds"`

	ToolTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ToolTimeoutRaw string `yaml:"tool_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding fields are absent from the file.
const (
	DefaultHistoryCharBudget  = 12000
	DefaultCheckpointInterval = 200
	DefaultMaxToolRounds      = 8
	DefaultContextTokens      = 128000
	DefaultToolTimeout        = 30 * time.Second
	DefaultRequestTimeout     = 2 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Kernel.HistoryCharBudget == 0 {
		c.Kernel.HistoryCharBudget = DefaultHistoryCharBudget
	}
	if c.Kernel.CheckpointInterval == 0 {
		c.Kernel.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.Kernel.MaxToolRounds == 0 {
		c.Kernel.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.Kernel.ToolTimeout == 0 {
		c.Kernel.ToolTimeout = DefaultToolTimeout
	}
	if c.Model.ContextTokens == 0 {
		c.Model.ContextTokens = DefaultContextTokens
	}
	if c.Model.RequestTimeout == 0 {
		c.Model.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}

	if c.Kernel.HistoryCharBudget < 0 {
		return fmt.Errorf("kernel.history_char_budget must not be negative")
	}
	if c.Kernel.CheckpointInterval < 0 {
		return fmt.Errorf("kernel.checkpoint_interval must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Model.RequestTimeoutRaw != "" {
		cfg.Model.RequestTimeout, err = time.ParseDuration(cfg.Model.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Model.RequestTimeoutRaw, err)
		}
	}

	if cfg.Kernel.ToolTimeoutRaw != "" {
		cfg.Kernel.ToolTimeout, err = time.ParseDuration(cfg.Kernel.ToolTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_timeout %q: %w", cfg.Kernel.ToolTimeoutRaw, err)
		}
	}

	return nil
}
