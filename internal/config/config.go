package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Memory   MemoryConfig   `yaml:"memory"`
	Events   EventsConfig   `yaml:"events"`
	Models   ModelsConfig   `yaml:"models"`
	Batcher  BatcherConfig  `yaml:"batcher"`
	Channels ChannelsConfig `yaml:"channels"`
	Routing  RoutingConfig  `yaml:"routing"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MonitorConfig holds the health-monitor collaborator endpoint
type MonitorConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// MemoryConfig holds the conversation store settings
type MemoryConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	HistoryLimit  int    `yaml:"history_limit"`
	// WorkingTTL bounds how long working-memory facts, including parked
	// confirmation payloads, outlive the last write. Zero disables expiry.
	WorkingTTL Duration `yaml:"working_ttl"`
}

// EventsConfig holds the dispatch event stream settings
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// TierConfig describes one model back-end tier
type TierConfig struct {
	Provider string `yaml:"provider"` // openai-compatible, ollama
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// ModelsConfig holds the two model tiers and failover tuning
type ModelsConfig struct {
	Primary         TierConfig `yaml:"primary"`
	Fallback        TierConfig `yaml:"fallback"`
	ExtractionModel string     `yaml:"extraction_model"`
	MaxRetries      int        `yaml:"max_retries"`
	BackoffBase     Duration   `yaml:"backoff_base"`
	BackoffMax      Duration   `yaml:"backoff_max"`
	Cooldown        Duration   `yaml:"cooldown"`
}

// BatcherConfig tunes incremental update forwarding
type BatcherConfig struct {
	MinChars    int      `yaml:"min_chars"`
	MaxInterval Duration `yaml:"max_interval"`
	Debounce    Duration `yaml:"debounce"`
}

// ChannelsConfig holds chat platform credentials
type ChannelsConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	DiscordToken  string `yaml:"discord_token"`
	WebChatPort   int    `yaml:"webchat_port"`
}

// ClassifierRuleConfig is one pattern-classifier rule as declared in YAML
type ClassifierRuleConfig struct {
	ID       string   `yaml:"id"`
	Priority int      `yaml:"priority"`
	Patterns []string `yaml:"patterns"`
	Target   string   `yaml:"target"` // workflow, tool, doc, slash, agent
	Workflow string   `yaml:"workflow"`
	Tool     string   `yaml:"tool"`
	Command  string   `yaml:"command"`
	Disabled bool     `yaml:"disabled"`
}

// RouterRuleConfig is one priority-router rule as declared in YAML
type RouterRuleConfig struct {
	ID       string   `yaml:"id"`
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
	Priority int      `yaml:"priority"`
	Type     string   `yaml:"type"` // workflow, subagent, skill, general
	Workflow string   `yaml:"workflow"`
	Tool     string   `yaml:"tool"`
	Disabled bool     `yaml:"disabled"`
}

// RoutingConfig holds the declarative rule tables. Empty tables mean
// the built-in defaults in classify and route apply.
type RoutingConfig struct {
	ClassifierRules []ClassifierRuleConfig `yaml:"classifier_rules"`
	RouterRules     []RouterRuleConfig     `yaml:"router_rules"`
	ReloadCron      string                 `yaml:"reload_cron"` // dev-only hot reload
}

// Default returns a runnable configuration without a config file
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 18810},
		Memory: MemoryConfig{RedisAddr: "localhost:6379", HistoryLimit: 50},
		Models: ModelsConfig{
			Primary:  TierConfig{Provider: "openai-compatible", Model: "gpt-4o"},
			Fallback: TierConfig{Provider: "openai-compatible", Model: "gpt-4o-mini"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a YAML config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 18810
	}
	if c.Monitor.Timeout == 0 {
		c.Monitor.Timeout = Duration(10 * time.Second)
	}
	if c.Memory.HistoryLimit == 0 {
		c.Memory.HistoryLimit = 50
	}
	if c.Memory.WorkingTTL == 0 {
		c.Memory.WorkingTTL = Duration(24 * time.Hour)
	}
	if c.Models.MaxRetries == 0 {
		c.Models.MaxRetries = 3
	}
	if c.Models.BackoffBase == 0 {
		c.Models.BackoffBase = Duration(time.Second)
	}
	if c.Models.BackoffMax == 0 {
		c.Models.BackoffMax = Duration(30 * time.Second)
	}
	if c.Models.Cooldown == 0 {
		c.Models.Cooldown = Duration(time.Minute)
	}
	if c.Models.ExtractionModel == "" {
		c.Models.ExtractionModel = c.Models.Primary.Model
	}
	if c.Batcher.MinChars == 0 {
		c.Batcher.MinChars = 80
	}
	if c.Batcher.MaxInterval == 0 {
		c.Batcher.MaxInterval = Duration(2 * time.Second)
	}
	if c.Batcher.Debounce == 0 {
		c.Batcher.Debounce = Duration(300 * time.Millisecond)
	}
}

// applyEnvOverrides pulls secrets from the environment so they stay
// out of config files
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DISPATCH_PRIMARY_API_KEY"); v != "" {
		c.Models.Primary.APIKey = v
	}
	if v := os.Getenv("DISPATCH_FALLBACK_API_KEY"); v != "" {
		c.Models.Fallback.APIKey = v
	}
	if v := os.Getenv("DISPATCH_TELEGRAM_TOKEN"); v != "" {
		c.Channels.TelegramToken = v
	}
	if v := os.Getenv("DISPATCH_DISCORD_TOKEN"); v != "" {
		c.Channels.DiscordToken = v
	}
	if v := os.Getenv("DISPATCH_REDIS_ADDR"); v != "" {
		c.Memory.RedisAddr = v
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Models.Primary.Model == "" {
		return fmt.Errorf("models.primary.model is required")
	}
	if c.Models.Fallback.Model == "" {
		return fmt.Errorf("models.fallback.model is required")
	}
	for _, tier := range []TierConfig{c.Models.Primary, c.Models.Fallback} {
		switch tier.Provider {
		case "openai-compatible", "openai", "ollama":
		default:
			return fmt.Errorf("unsupported model provider: %s", tier.Provider)
		}
	}
	if c.Models.MaxRetries < 1 {
		return fmt.Errorf("models.max_retries must be at least 1")
	}
	if c.Batcher.MinChars < 1 {
		return fmt.Errorf("batcher.min_chars must be positive")
	}
	for _, r := range c.Routing.ClassifierRules {
		if len(r.Patterns) == 0 {
			return fmt.Errorf("classifier rule %s has no patterns", r.ID)
		}
	}
	for _, r := range c.Routing.RouterRules {
		if r.Priority < 1 {
			return fmt.Errorf("router rule %s needs priority >= 1", r.ID)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("router rule %s has no keywords", r.ID)
		}
	}
	return nil
}
