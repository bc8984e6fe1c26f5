package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"expertgate/internal/database"
)

// Config represents the application configuration
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	Server    ServerConfig    `yaml:"server"`
	Database  database.Config `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Agent     AgentConfig     `yaml:"agent"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Redis     RedisConfig     `yaml:"redis"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	MetricsPort  int           `yaml:"metrics_port"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ModelConfig describes one model the registry can instantiate.
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// AgentProfile binds an agent id to a model and system prompt.
type AgentProfile struct {
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
}

// AgentConfig selects how questions reach the agent under evaluation.
// Mode "llm" calls a model directly; mode "gateway" posts to the platform's agent endpoint.
type AgentConfig struct {
	Mode         string                  `yaml:"mode"`
	GatewayURL   string                  `yaml:"gateway_url"`
	Timeout      time.Duration           `yaml:"timeout"`
	DefaultModel string                  `yaml:"default_model"`
	Models       map[string]ModelConfig  `yaml:"models"`
	Agents       map[string]AgentProfile `yaml:"agents"`
}

type ExecutorConfig struct {
	Concurrency   int     `yaml:"concurrency"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Stream     string `yaml:"stream"`
	MaxLen     int64  `yaml:"max_len"`
	MaxRetries int    `yaml:"max_retries"`
}

// Load reads the YAML file at path, then applies .env and environment overrides and defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("EXPERTGATE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("EXPERTGATE_DB_DIALECT"); v != "" {
		c.Database.Dialect = v
	}
	if v := os.Getenv("EXPERTGATE_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("EXPERTGATE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("EXPERTGATE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("EXPERTGATE_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("EXPERTGATE_AGENT_GATEWAY_URL"); v != "" {
		c.Agent.GatewayURL = v
	}
	if v := os.Getenv("EXPERTGATE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid EXPERTGATE_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Database.Dialect == "" {
		c.Database.Dialect = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Dialect == "sqlite3" {
		c.Database.DSN = "expertgate.db"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 12 * time.Hour
	}
	if c.Agent.Mode == "" {
		c.Agent.Mode = "llm"
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = 60 * time.Second
	}
	if c.Agent.DefaultModel == "" {
		c.Agent.DefaultModel = "gpt4o-mini"
	}
	if len(c.Agent.Models) == 0 {
		c.Agent.Models = map[string]ModelConfig{
			"gpt4o-mini": {Provider: "openai", Name: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY"},
		}
	}
	if c.Executor.Concurrency == 0 {
		c.Executor.Concurrency = 4
	}
	if c.Executor.RatePerSecond == 0 {
		c.Executor.RatePerSecond = 2
	}
	if c.Executor.Burst == 0 {
		c.Executor.Burst = 4
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "expertgate-events"
	}
	if c.Redis.MaxRetries == 0 {
		c.Redis.MaxRetries = 3
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.Database.Dialect {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database dialect %q (want sqlite3 or postgres)", c.Database.Dialect)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}

	switch c.Agent.Mode {
	case "llm":
		if _, ok := c.Agent.Models[c.Agent.DefaultModel]; !ok {
			return fmt.Errorf("default model %q is not configured", c.Agent.DefaultModel)
		}
	case "gateway":
		if c.Agent.GatewayURL == "" {
			return errors.New("agent gateway_url is required in gateway mode")
		}
	default:
		return fmt.Errorf("unsupported agent mode %q (want llm or gateway)", c.Agent.Mode)
	}

	if c.Executor.Concurrency < 1 || c.Executor.RatePerSecond < 0 || c.Executor.Burst < 1 {
		return errors.New("executor concurrency and burst must be positive")
	}
	return nil
}
