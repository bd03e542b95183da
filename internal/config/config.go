package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen  = ":4000"
	defaultAPIBase = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 30 * time.Second

	EnvAPIKey  = "GEMINI_API_KEY"
	EnvModel   = "GEMINI_MODEL"
	EnvAPIBase = "GEMINI_API_BASE"
	EnvTimeout = "GEMINI_TIMEOUT"
	EnvListen  = "RELAY_LISTEN"
)

type Config struct {
	Listen   string   `yaml:"listen"`
	Upstream Upstream `yaml:"upstream"`
}

type Upstream struct {
	APIBase string        `yaml:"api_base"`
	Model   string        `yaml:"model"`
	APIKey  Secret        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads a YAML config file. ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(content))
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds the config from process environment. A missing credential is
// not an error here; the relay reports it per request.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Listen: os.Getenv(EnvListen),
		Upstream: Upstream{
			APIBase: os.Getenv(EnvAPIBase),
			Model:   os.Getenv(EnvModel),
			APIKey:  Secret(strings.TrimSpace(os.Getenv(EnvAPIKey))),
		},
	}

	if raw := strings.TrimSpace(os.Getenv(EnvTimeout)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvTimeout, err)
		}
		cfg.Upstream.Timeout = d
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = defaultListen
	}
	if strings.TrimSpace(c.Upstream.APIBase) == "" {
		c.Upstream.APIBase = defaultAPIBase
	}
	if strings.TrimSpace(c.Upstream.Model) == "" {
		c.Upstream.Model = defaultModel
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = defaultTimeout
	}
}

func (c *Config) Validate() error {
	apiBase := strings.TrimSpace(c.Upstream.APIBase)
	u, err := url.Parse(apiBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.api_base is invalid: %s", c.Upstream.APIBase)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.api_base must use http/https")
	}

	model := strings.TrimSpace(c.Upstream.Model)
	if strings.ContainsAny(model, "/?#:") {
		return fmt.Errorf("upstream.model contains reserved characters: %s", model)
	}

	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}

	c.Upstream.APIBase = strings.TrimRight(apiBase, "/")
	c.Upstream.Model = model
	c.Upstream.APIKey = Secret(strings.TrimSpace(string(c.Upstream.APIKey)))
	return nil
}

// HasCredential reports whether an upstream API key is configured.
func (c *Config) HasCredential() bool {
	return !c.Upstream.APIKey.Empty()
}
