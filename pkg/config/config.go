package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app" toml:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways" toml:"gateways"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory" toml:"memory"`
	Executor  ExecutorConfig            `json:"executor" yaml:"executor" toml:"executor"`
	HTTP      HTTPConfig                `json:"http" yaml:"http" toml:"http"`
}

type AppConfig struct {
	Name       string `json:"name" yaml:"name" toml:"name"`
	Workspace  string `json:"workspace" yaml:"workspace" toml:"workspace"`
	PromptsDir string `json:"prompts_dir" yaml:"prompts_dir" toml:"prompts_dir"`
	LogDir     string `json:"log_dir" yaml:"log_dir" toml:"log_dir"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token" toml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
	Model   string `json:"model" yaml:"model" toml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type" toml:"type"`
	Path string `json:"path" yaml:"path" toml:"path"`
}

// ExecutorConfig tunes step execution. Durations use time.ParseDuration
// syntax; an empty auto_continue_interval disables the scheduler.
type ExecutorConfig struct {
	StepTimeout          string `json:"step_timeout" yaml:"step_timeout" toml:"step_timeout"`
	HistoryLimit         int    `json:"history_limit" yaml:"history_limit" toml:"history_limit"`
	MaxAgentSteps        int    `json:"max_agent_steps" yaml:"max_agent_steps" toml:"max_agent_steps"`
	AutoContinueInterval string `json:"auto_continue_interval" yaml:"auto_continue_interval" toml:"auto_continue_interval"`
	WebSearch            bool   `json:"web_search" yaml:"web_search" toml:"web_search"`
	RestrictedTools      bool   `json:"restricted_tools" yaml:"restricted_tools" toml:"restricted_tools"`
}

type HTTPConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr      string  `json:"addr" yaml:"addr" toml:"addr"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst" toml:"burst"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:       "robots",
			Workspace:  "./workspace",
			PromptsDir: "./prompts",
			LogDir:     "./logs",
		},
		Gateways:  map[string]GatewayConfig{},
		Providers: map[string]ProviderConfig{},
		Memory: MemoryConfig{
			Type: "sqlite",
			Path: "./data/robots.db",
		},
		Executor: ExecutorConfig{
			StepTimeout:     "2m",
			HistoryLimit:    20,
			MaxAgentSteps:   25,
			RestrictedTools: true,
		},
		HTTP: HTTPConfig{
			Enabled:   true,
			Addr:      "127.0.0.1:8080",
			RateLimit: 1,
			Burst:     5,
		},
	}
}

// LoadConfig reads path over the defaults. The codec is picked by extension
// (.json, .yaml/.yml, .toml). A missing file yields the defaults.
// Secrets may reference environment variables as ${NAME}.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandSecrets() {
	for name, g := range c.Gateways {
		g.Token = os.ExpandEnv(g.Token)
		c.Gateways[name] = g
	}
	for name, p := range c.Providers {
		p.APIKey = os.ExpandEnv(p.APIKey)
		c.Providers[name] = p
	}
}

// Validate checks values that cannot be checked by decoding alone.
func (c *Config) Validate() error {
	if _, err := c.StepTimeout(); err != nil {
		return err
	}
	if _, err := c.AutoContinueInterval(); err != nil {
		return err
	}
	if c.Executor.HistoryLimit < 0 {
		return fmt.Errorf("executor.history_limit must not be negative")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative")
	}
	return nil
}

// StepTimeout is the wall-clock budget of one executor call.
func (c *Config) StepTimeout() (time.Duration, error) {
	if c.Executor.StepTimeout == "" {
		return 2 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.Executor.StepTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid executor.step_timeout %q: %w", c.Executor.StepTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("executor.step_timeout must be positive")
	}
	return d, nil
}

// AutoContinueInterval returns 0 when automatic continuation is off.
func (c *Config) AutoContinueInterval() (time.Duration, error) {
	if c.Executor.AutoContinueInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Executor.AutoContinueInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid executor.auto_continue_interval %q: %w", c.Executor.AutoContinueInterval, err)
	}
	return d, nil
}

// GetDefaultProvider returns the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGatewayConfig returns a gateway's config if it is enabled.
func (c *Config) GetGatewayConfig(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled {
		return g, true
	}
	return GatewayConfig{}, false
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.GetGatewayConfig("telegram")
}

func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.GetGatewayConfig("discord")
}
