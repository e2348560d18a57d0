package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"

	DispatchInline = "inline"
	DispatchAsynq  = "asynq"

	DefaultStorageKey = "ai-code-generator-projects"
)

// Config models appforge.yml.
type Config struct {
	Storage struct {
		Backend          string      `yaml:"backend"`
		Key              string      `yaml:"key"`
		MemoryLimitBytes int         `yaml:"memory_limit_bytes"`
		Redis            RedisConfig `yaml:"redis"`
	} `yaml:"storage"`
	Generation struct {
		StepDelay time.Duration `yaml:"step_delay"`
		Dispatch  string        `yaml:"dispatch"`
		Queue     QueueConfig   `yaml:"queue"`
	} `yaml:"generation"`
	Chat struct {
		ThinkDelay time.Duration `yaml:"think_delay"`
		CharDelay  time.Duration `yaml:"char_delay"`
	} `yaml:"chat"`
	Auth struct {
		LocalUserID  string `yaml:"local_user_id"`
		LocalEmail   string `yaml:"local_email"`
		DevTokens    bool   `yaml:"dev_tokens"`
		TokenTTLMins int    `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Redis       RedisConfig `yaml:"redis"`
	Name        string      `yaml:"name"`
	Concurrency int         `yaml:"concurrency"`
	MaxRetry    int         `yaml:"max_retry"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with forge config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			return fmt.Errorf("config.storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.storage.backend must be one of sqlite, memory, redis (got %q)", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Storage.Key) == "" {
		return fmt.Errorf("config.storage.key is required")
	}
	if c.Storage.MemoryLimitBytes < 0 {
		return fmt.Errorf("config.storage.memory_limit_bytes must not be negative")
	}
	if c.Generation.StepDelay < 0 {
		return fmt.Errorf("config.generation.step_delay must not be negative")
	}
	switch c.Generation.Dispatch {
	case DispatchInline:
	case DispatchAsynq:
		if strings.TrimSpace(c.Generation.Queue.Redis.Addr) == "" {
			return fmt.Errorf("config.generation.queue.redis.addr is required for asynq dispatch")
		}
		if c.Generation.Queue.Concurrency < 0 {
			return fmt.Errorf("config.generation.queue.concurrency must not be negative")
		}
	default:
		return fmt.Errorf("config.generation.dispatch must be inline or asynq (got %q)", c.Generation.Dispatch)
	}
	if c.Chat.ThinkDelay < 0 || c.Chat.CharDelay < 0 {
		return fmt.Errorf("config.chat delays must not be negative")
	}
	if strings.TrimSpace(c.Auth.LocalUserID) == "" {
		return fmt.Errorf("config.auth.local_user_id is required")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// TokenTTL is the lifetime of dev tokens.
func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTLMins <= 0 {
		return time.Hour
	}
	return time.Duration(c.Auth.TokenTTLMins) * time.Minute
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "appforge.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `storage:
  backend: sqlite
  key: ai-code-generator-projects
  memory_limit_bytes: 5242880
  redis:
    addr: ""
    db: 0

generation:
  step_delay: 2s
  dispatch: inline
  queue:
    name: generation
    concurrency: 4
    max_retry: 0

chat:
  think_delay: 1s
  char_delay: 20ms

auth:
  local_user_id: local-user
  local_email: local@appforge.dev
  dev_tokens: false
  token_ttl_minutes: 60

log:
  level: info
  format: text

webhooks: []
`
