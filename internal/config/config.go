// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Device DeviceConfig `mapstructure:"device" yaml:"device"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm"`
	Agent  AgentConfig  `mapstructure:"agent" yaml:"agent"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DeviceConfig describes how to reach the device-automation bridge.
type DeviceConfig struct {
	// ADBPath is the adb binary invoked for every transport call.
	ADBPath string `mapstructure:"adb_path" yaml:"adb_path"`
	// Serial selects a device when more than one is attached. Empty means
	// adb's default device.
	Serial string `mapstructure:"serial" yaml:"serial"`
	// CaptureTimeout bounds screenshot and layout-dump calls.
	CaptureTimeout time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
	// InputTimeout bounds individual input-event dispatch calls.
	InputTimeout time.Duration `mapstructure:"input_timeout" yaml:"input_timeout"`
}

// LLMConfig defines the model endpoint and generation parameters.
type LLMConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerMinute throttles calls to the model endpoint. Zero disables
	// the limiter.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// AgentConfig tunes the instruction-execution control loop.
type AgentConfig struct {
	// MaxTurns bounds continuation rounds per instruction. The loop ends
	// with ErrMaxTurnsExceeded when the counter runs out.
	MaxTurns int `mapstructure:"max_turns" yaml:"max_turns"`
	// SettleDelay is observed after each successful command so the device
	// UI can catch up before the next decision point.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// HistorySize bounds per-conversation session history (FIFO eviction).
	HistorySize int `mapstructure:"history_size" yaml:"history_size"`
	// AttachScreenshots controls whether captures are sent to the model as
	// inline images in addition to the rendered element tree.
	AttachScreenshots bool `mapstructure:"attach_screenshots" yaml:"attach_screenshots"`
}

// ServerConfig configures the WebSocket presentation boundary.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Device --
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.serial", "")
	v.SetDefault("device.capture_timeout", "30s")
	v.SetDefault("device.input_timeout", "10s")

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.requests_per_minute", 30)

	// -- Agent --
	v.SetDefault("agent.max_turns", 15)
	v.SetDefault("agent.settle_delay", "1500ms")
	v.SetDefault("agent.history_size", 5)
	v.SetDefault("agent.attach_screenshots", true)

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8790")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewFromViper builds and validates a configuration from a viper instance.
func NewFromViper(v *viper.Viper) (*Config, error) {
	// API keys come from the environment, never the config file.
	v.BindEnv("llm.api_key", "DROIDPILOT_LLM_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values. The LLM credential is
// validated by the gateway at construction, so a device-only run does not
// demand an API key.
func (c *Config) Validate() error {
	if c.Device.ADBPath == "" {
		return fmt.Errorf("%w: device.adb_path", schemas.ErrConfiguration)
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be a positive integer")
	}
	if c.Agent.HistorySize <= 0 {
		return fmt.Errorf("agent.history_size must be a positive integer")
	}
	if c.Agent.SettleDelay < 0 {
		return fmt.Errorf("agent.settle_delay must not be negative")
	}
	if c.LLM.APITimeout <= 0 {
		return fmt.Errorf("llm.api_timeout must be a positive duration")
	}
	return nil
}
