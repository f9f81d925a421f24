// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package config loads the process configuration from a YAML file with
// environment variable overrides. Environment always wins over file values
// so deployments can keep secrets out of the config file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Policy   PolicyConfig   `yaml:"policy"`
	Cache    CacheConfig    `yaml:"cache"`
	Audit    AuditConfig    `yaml:"audit"`

	// RequestTimeoutSeconds bounds one request's full lifecycle, database
	// call included. Zero disables the timeout.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres or mysql
	URL    string `yaml:"url"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type LLMConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

type PolicyConfig struct {
	ReadOnly          bool    `yaml:"read_only"`
	RiskThreshold     float64 `yaml:"risk_threshold"`
	SafeLimit         int     `yaml:"safe_limit"`
	PreviewLimit      int     `yaml:"preview_limit"`
	JoinThreshold     int     `yaml:"join_threshold"`
	HighCostThreshold float64 `yaml:"high_cost_threshold"`
}

type CacheConfig struct {
	Backend    string `yaml:"backend"` // memory or redis
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type AuditConfig struct {
	Backend string `yaml:"backend"` // file or postgres
	Path    string `yaml:"path"`    // file backend only
	URL     string `yaml:"url"`     // postgres backend; defaults to database.url
}

// Default returns the shipped defaults.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "postgres"},
		LLM:      LLMConfig{Model: "gpt-4o-mini"},
		Policy: PolicyConfig{
			RiskThreshold:     0.7,
			SafeLimit:         1000,
			PreviewLimit:      50,
			JoinThreshold:     3,
			HighCostThreshold: 10000,
		},
		Cache:                 CacheConfig{Backend: "memory", TTLSeconds: 60},
		Audit:                 AuditConfig{Backend: "file", Path: "audit.log.jsonl"},
		RequestTimeoutSeconds: 30,
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "SQLGATE_PORT")
	setString(&cfg.Database.Driver, "SQLGATE_DB_DRIVER")
	setString(&cfg.Database.URL, "SQLGATE_DB_URL")
	setString(&cfg.Redis.URL, "SQLGATE_REDIS_URL")
	setString(&cfg.LLM.Endpoint, "SQLGATE_LLM_ENDPOINT")
	setString(&cfg.LLM.APIKey, "SQLGATE_LLM_API_KEY")
	setString(&cfg.LLM.Model, "SQLGATE_LLM_MODEL")
	setBool(&cfg.Policy.ReadOnly, "SQLGATE_READ_ONLY")
	setFloat(&cfg.Policy.RiskThreshold, "SQLGATE_RISK_THRESHOLD")
	setInt(&cfg.Policy.SafeLimit, "SQLGATE_SAFE_LIMIT")
	setInt(&cfg.Policy.PreviewLimit, "SQLGATE_PREVIEW_LIMIT")
	setString(&cfg.Cache.Backend, "SQLGATE_CACHE_BACKEND")
	setInt(&cfg.Cache.TTLSeconds, "SQLGATE_CACHE_TTL_SECONDS")
	setString(&cfg.Audit.Backend, "SQLGATE_AUDIT_BACKEND")
	setString(&cfg.Audit.Path, "SQLGATE_AUDIT_PATH")
	setString(&cfg.Audit.URL, "SQLGATE_AUDIT_URL")
	setInt(&cfg.RequestTimeoutSeconds, "SQLGATE_REQUEST_TIMEOUT_SECONDS")
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}
	switch c.Audit.Backend {
	case "file":
		if c.Audit.Path == "" {
			return fmt.Errorf("audit.path is required when audit.backend is file")
		}
	case "postgres":
		if c.Audit.URL == "" && c.Database.Driver != "postgres" {
			return fmt.Errorf("audit.url is required when audit.backend is postgres and the main database is not")
		}
	default:
		return fmt.Errorf("unsupported audit backend %q", c.Audit.Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
