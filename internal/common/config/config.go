// Package config provides configuration management for acpbridge.
// It supports loading configuration from environment variables, a config file, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kandev/acpbridge/internal/common/logger"
)

// Config holds all configuration sections for acpbridge.
type Config struct {
	Agent   AgentConfig          `mapstructure:"agent"`
	Jira    JiraConfig           `mapstructure:"jira"`
	Tracing TracingConfig        `mapstructure:"tracing"`
	Metrics MetricsConfig        `mapstructure:"metrics"`
	Logging logger.LoggingConfig `mapstructure:"logging"`
}

// MetricsConfig controls the Prometheus endpoint. An empty ListenAddr
// keeps it off.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listenAddr"`
}

// TracingConfig points span export at an OTLP/HTTP collector. Empty means
// OTEL_EXPORTER_OTLP_ENDPOINT decides.
type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// AgentConfig controls how the ACP agent subprocess is launched.
type AgentConfig struct {
	// Root is the project directory. File callbacks from the agent resolve
	// against it and it is sent as the session cwd.
	Root string `mapstructure:"root"`

	// UseCLIAuth selects the package-runner launch variant.
	UseCLIAuth bool `mapstructure:"useCliAuth"`

	// Binary is the locally installed agent executable.
	Binary string `mapstructure:"binary"`

	// Runner and RunnerPackage form the package-runner variant (npx <pkg>).
	Runner        string `mapstructure:"runner"`
	RunnerPackage string `mapstructure:"runnerPackage"`

	// PermissionMode is exported as ACP_PERMISSION_MODE for the runner variant.
	PermissionMode string `mapstructure:"permissionMode"`

	// HandshakeTimeout bounds initialize + session/new, in seconds.
	HandshakeTimeout int `mapstructure:"handshakeTimeout"`
}

// JiraConfig holds Jira Cloud credentials. All three fields are needed for
// ticket lookups; an empty BaseURL disables the integration.
type JiraConfig struct {
	BaseURL  string `mapstructure:"baseUrl"`
	Email    string `mapstructure:"email"`
	APIToken string `mapstructure:"apiToken"`

	// RequestsPerSecond and Burst bound outgoing REST calls. Zero disables
	// client-side limiting.
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
	Burst             int     `mapstructure:"burst"`
}

// Configured reports whether all Jira credentials are present.
func (j JiraConfig) Configured() bool {
	return j.BaseURL != "" && j.Email != "" && j.APIToken != ""
}

// HandshakeTimeoutDuration returns the handshake timeout as a time.Duration.
func (a *AgentConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(a.HandshakeTimeout) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.root", ".")
	v.SetDefault("agent.useCliAuth", false)
	v.SetDefault("agent.binary", "claude-code-acp")
	v.SetDefault("agent.runner", "")
	v.SetDefault("agent.runnerPackage", "acp-claude-code")
	v.SetDefault("agent.permissionMode", "acceptEdits")
	v.SetDefault("agent.handshakeTimeout", 60)

	v.SetDefault("jira.baseUrl", "")
	v.SetDefault("jira.email", "")
	v.SetDefault("jira.apiToken", "")
	v.SetDefault("jira.requestsPerSecond", 10)
	v.SetDefault("jira.burst", 20)

	v.SetDefault("tracing.endpoint", "")

	v.SetDefault("metrics.listenAddr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logger.DetectFormat())
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory or the
// default locations. Environment variables use the ACPBRIDGE_ prefix.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ACPBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE.
	_ = v.BindEnv("agent.useCliAuth", "ACPBRIDGE_AGENT_USE_CLI_AUTH")
	_ = v.BindEnv("agent.runnerPackage", "ACPBRIDGE_AGENT_RUNNER_PACKAGE")
	_ = v.BindEnv("agent.permissionMode", "ACPBRIDGE_AGENT_PERMISSION_MODE")
	_ = v.BindEnv("agent.handshakeTimeout", "ACPBRIDGE_AGENT_HANDSHAKE_TIMEOUT")
	_ = v.BindEnv("jira.baseUrl", "ACPBRIDGE_JIRA_BASE_URL", "JIRA_BASE_URL")
	_ = v.BindEnv("jira.email", "ACPBRIDGE_JIRA_EMAIL", "JIRA_EMAIL")
	_ = v.BindEnv("jira.apiToken", "ACPBRIDGE_JIRA_API_TOKEN", "JIRA_API_TOKEN")
	_ = v.BindEnv("jira.requestsPerSecond", "ACPBRIDGE_JIRA_REQUESTS_PER_SECOND")
	_ = v.BindEnv("metrics.listenAddr", "ACPBRIDGE_METRICS_LISTEN_ADDR")
	_ = v.BindEnv("logging.outputPath", "ACPBRIDGE_LOGGING_OUTPUT_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".acpbridge"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Agent.Root == "" {
		errs = append(errs, "agent.root is required")
	}
	if cfg.Agent.Binary == "" {
		errs = append(errs, "agent.binary is required")
	}
	if cfg.Agent.RunnerPackage == "" {
		errs = append(errs, "agent.runnerPackage is required")
	}
	if cfg.Agent.HandshakeTimeout <= 0 {
		errs = append(errs, "agent.handshakeTimeout must be positive")
	}

	if cfg.Jira.BaseURL != "" && (cfg.Jira.Email == "" || cfg.Jira.APIToken == "") {
		errs = append(errs, "jira.email and jira.apiToken are required when jira.baseUrl is set")
	}
	if cfg.Jira.RequestsPerSecond < 0 || cfg.Jira.Burst < 0 {
		errs = append(errs, "jira.requestsPerSecond and jira.burst must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
