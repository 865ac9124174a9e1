package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for credlendd. Values load from the
// YAML file first; environment variables override the file.
type Config struct {
	Listen          string  `yaml:"listen"`
	NodeConfigPath  string  `yaml:"nodeConfig"`
	Environment     string  `yaml:"env"`
	LogLevel        string  `yaml:"logLevel"`
	LogFile         string  `yaml:"logFile"`
	AuthEnabled     bool    `yaml:"authEnabled"`
	AuthSecret      string  `yaml:"authSecret"`
	AuthIssuer      string  `yaml:"authIssuer"`
	AuthAudience    string  `yaml:"authAudience"`
	RateLimitPerMin float64 `yaml:"rateLimitPerMin"`
	RateLimitBurst  int     `yaml:"rateLimitBurst"`
	MetricsEnabled  bool    `yaml:"metricsEnabled"`
	LogRequests     bool    `yaml:"logRequests"`
}

const (
	envListen          = "CREDLEND_LISTEN"
	envNodeConfig      = "CREDLEND_NODE_CONFIG"
	envEnvironment     = "CREDLEND_ENV"
	envLogLevel        = "CREDLEND_LOG_LEVEL"
	envLogFile         = "CREDLEND_LOG_FILE"
	envAuthEnabled     = "CREDLEND_AUTH_ENABLED"
	envAuthSecret      = "CREDLEND_AUTH_SECRET"
	envAuthIssuer      = "CREDLEND_AUTH_ISSUER"
	envAuthAudience    = "CREDLEND_AUTH_AUDIENCE"
	envRateLimitPerMin = "CREDLEND_RATE_PER_MIN"

	defaultListen          = "0.0.0.0:8645"
	defaultNodeConfig      = "config.toml"
	defaultRateLimitPerMin = 120
)

func defaultConfig() Config {
	return Config{
		Listen:          defaultListen,
		NodeConfigPath:  defaultNodeConfig,
		LogLevel:        "info",
		RateLimitPerMin: defaultRateLimitPerMin,
		RateLimitBurst:  30,
		MetricsEnabled:  true,
	}
}

// LoadConfig reads the YAML file when present and applies environment
// overrides on top. A missing file is not an error; defaults apply.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		file, err := os.Open(trimmed)
		if err == nil {
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("decode config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.NodeConfigPath == "" {
		cfg.NodeConfigPath = defaultNodeConfig
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Listen = stringFromEnv(envListen, cfg.Listen)
	cfg.NodeConfigPath = stringFromEnv(envNodeConfig, cfg.NodeConfigPath)
	cfg.Environment = stringFromEnv(envEnvironment, cfg.Environment)
	cfg.LogLevel = stringFromEnv(envLogLevel, cfg.LogLevel)
	cfg.LogFile = stringFromEnv(envLogFile, cfg.LogFile)
	cfg.AuthEnabled = boolFromEnv(envAuthEnabled, cfg.AuthEnabled)
	cfg.AuthSecret = stringFromEnv(envAuthSecret, cfg.AuthSecret)
	cfg.AuthIssuer = stringFromEnv(envAuthIssuer, cfg.AuthIssuer)
	cfg.AuthAudience = stringFromEnv(envAuthAudience, cfg.AuthAudience)
	cfg.RateLimitPerMin = floatFromEnv(envRateLimitPerMin, cfg.RateLimitPerMin)
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	if clone.AuthSecret != "" {
		clone.AuthSecret = "***"
	}
	return clone
}

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	if cfg.AuthEnabled && strings.TrimSpace(cfg.AuthSecret) == "" {
		return fmt.Errorf("auth requires a shared secret")
	}
	if cfg.RateLimitPerMin < 0 {
		return fmt.Errorf("rate limit per minute must be non-negative")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit burst must be non-negative")
	}
	return nil
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatFromEnv(key string, fallback float64) float64 {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
