// Package config loads the harness configuration from an HCL file.
package config

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/mitchellh/mapstructure"
)

// Config is the root harness configuration.
type Config struct {
	// BaseURL is the backend under test.
	BaseURL string `hcl:"base_url,optional"`

	// APIKey authenticates probe requests against the backend.
	APIKey string `hcl:"api_key,optional"`

	// ComposeFile is the container stack definition. Empty skips the
	// container stack entirely.
	ComposeFile string `hcl:"compose_file,optional"`

	// StackServices are the dependency services the compose file must
	// declare.
	StackServices []string `hcl:"stack_services,optional"`

	// RequiredFiles are static paths that must exist before a run.
	RequiredFiles []string `hcl:"required_files,optional"`

	LogLevel    string `hcl:"log_level,optional"`
	Environment string `hcl:"environment,optional"`

	Readiness    *ReadinessConfig `hcl:"readiness,block"`
	Probes       *ProbesConfig    `hcl:"probes,block"`
	Backend      *ServiceConfig   `hcl:"backend,block"`
	ModelServer  *ServiceConfig   `hcl:"model_server,block"`
	ASROCRServer *ServiceConfig   `hcl:"asr_ocr_server,block"`
	BackendEnv   *BackendEnv      `hcl:"backend_env,block"`
}

// ReadinessConfig bounds the readiness polling loops.
type ReadinessConfig struct {
	MaxAttempts           int `hcl:"max_attempts,optional"`
	IntervalSeconds       int `hcl:"interval_seconds,optional"`
	AttemptTimeoutSeconds int `hcl:"attempt_timeout_seconds,optional"`
}

func (r *ReadinessConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

func (r *ReadinessConfig) AttemptTimeout() time.Duration {
	return time.Duration(r.AttemptTimeoutSeconds) * time.Second
}

// ProbesConfig tunes the probe battery.
type ProbesConfig struct {
	TimeoutSeconds int  `hcl:"timeout_seconds,optional"`
	Concurrent     bool `hcl:"concurrent,optional"`
}

func (p *ProbesConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ServiceConfig describes one orchestrated service. An empty Command on
// a stand-in means the harness serves it in-process instead of spawning
// an external process.
type ServiceConfig struct {
	Command string   `hcl:"command,optional"`
	Args    []string `hcl:"args,optional"`
	Dir     string   `hcl:"dir,optional"`

	// URL is where the service's health endpoint answers once up.
	URL string `hcl:"url,optional"`

	// Listen is the bind address for in-process stand-ins.
	Listen string `hcl:"listen,optional"`
}

// BackendEnv is the flat environment injected into the backend process
// at start time. The mapstructure tags carry the concrete variable names
// the backend expects.
type BackendEnv struct {
	APIKey      string `hcl:"api_key,optional" mapstructure:"FIR_API_KEY"`
	AuthKey     string `hcl:"auth_key,optional" mapstructure:"FIR_AUTH_KEY"`
	DBHost      string `hcl:"db_host,optional" mapstructure:"POSTGRES_HOST"`
	DBPort      string `hcl:"db_port,optional" mapstructure:"POSTGRES_PORT"`
	DBUser      string `hcl:"db_user,optional" mapstructure:"POSTGRES_USER"`
	DBPassword  string `hcl:"db_password,optional" mapstructure:"POSTGRES_PASSWORD"`
	DBName      string `hcl:"db_name,optional" mapstructure:"POSTGRES_DB"`
	CacheHost   string `hcl:"cache_host,optional" mapstructure:"REDIS_HOST"`
	CachePort   string `hcl:"cache_port,optional" mapstructure:"REDIS_PORT"`
	ModelURL    string `hcl:"model_server_url,optional" mapstructure:"MODEL_SERVER_URL"`
	ASROCRURL   string `hcl:"asr_ocr_server_url,optional" mapstructure:"ASR_OCR_SERVER_URL"`
	CORSOrigins string `hcl:"cors_origins,optional" mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel    string `hcl:"log_level,optional" mapstructure:"LOG_LEVEL"`
	Environment string `hcl:"environment,optional" mapstructure:"ENVIRONMENT"`
}

// Map flattens the typed environment into the key/value form handed to
// the orchestrator. Empty values are dropped so the backend's own
// defaults still apply.
func (e *BackendEnv) Map() (map[string]string, error) {
	raw := map[string]interface{}{}
	if err := mapstructure.Decode(e, &raw); err != nil {
		return nil, fmt.Errorf("flattening backend env: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		out[k] = s
	}
	return out, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// NewConfig loads, defaults, and validates the configuration file.
func NewConfig(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Environment == "" {
		c.Environment = "testing"
	}

	if c.Readiness == nil {
		c.Readiness = &ReadinessConfig{}
	}
	if c.Readiness.MaxAttempts == 0 {
		c.Readiness.MaxAttempts = 30
	}
	if c.Readiness.IntervalSeconds == 0 {
		c.Readiness.IntervalSeconds = 2
	}
	if c.Readiness.AttemptTimeoutSeconds == 0 {
		c.Readiness.AttemptTimeoutSeconds = 5
	}

	if c.Probes == nil {
		c.Probes = &ProbesConfig{}
	}
	if c.Probes.TimeoutSeconds == 0 {
		c.Probes.TimeoutSeconds = 10
	}

	if c.ModelServer == nil {
		c.ModelServer = &ServiceConfig{}
	}
	if c.ModelServer.Listen == "" {
		c.ModelServer.Listen = "127.0.0.1:8100"
	}
	if c.ModelServer.URL == "" {
		c.ModelServer.URL = "http://" + c.ModelServer.Listen
	}

	if c.ASROCRServer == nil {
		c.ASROCRServer = &ServiceConfig{}
	}
	if c.ASROCRServer.Listen == "" {
		c.ASROCRServer.Listen = "127.0.0.1:8200"
	}
	if c.ASROCRServer.URL == "" {
		c.ASROCRServer.URL = "http://" + c.ASROCRServer.Listen
	}

	if c.BackendEnv == nil {
		c.BackendEnv = &BackendEnv{}
	}
	if c.BackendEnv.APIKey == "" {
		c.BackendEnv.APIKey = c.APIKey
	}
	if c.BackendEnv.ModelURL == "" {
		c.BackendEnv.ModelURL = c.ModelServer.URL
	}
	if c.BackendEnv.ASROCRURL == "" {
		c.BackendEnv.ASROCRURL = c.ASROCRServer.URL
	}
	if c.BackendEnv.LogLevel == "" {
		c.BackendEnv.LogLevel = c.LogLevel
	}
	if c.BackendEnv.Environment == "" {
		c.BackendEnv.Environment = c.Environment
	}
}

// Validate enforces the structural rules a run depends on.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.LogLevel,
			validation.In("trace", "debug", "info", "warn", "error")),
	); err != nil {
		return err
	}

	return validation.ValidateStruct(c.Readiness,
		validation.Field(&c.Readiness.MaxAttempts, validation.Min(1)),
		validation.Field(&c.Readiness.IntervalSeconds, validation.Min(0)),
		validation.Field(&c.Readiness.AttemptTimeoutSeconds, validation.Min(1)),
	)
}
