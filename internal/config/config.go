// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Accounts    map[string]AccountConfig `yaml:"accounts"`
	Policy      PolicyConfig             `yaml:"policy"`
	System      SystemConfig             `yaml:"system"`
	Alerts      AlertsConfig             `yaml:"alerts"`
	Telemetry   TelemetryConfig          `yaml:"telemetry"`
	Concurrency ConcurrencyConfig        `yaml:"concurrency"`
}

// AccountConfig contains credentials for one brokerage account
type AccountConfig struct {
	APIKey    string `yaml:"api_key" validate:"required"`
	SecretKey string `yaml:"secret_key" validate:"required"`
	BaseURL   string `yaml:"base_url"` // Optional override for API URL
}

// PolicyConfig contains the protection policy parameters
type PolicyConfig struct {
	CancelLimitsOnFirstTarget  bool    `yaml:"cancel_limits_on_first_target"`
	BreakevenBufferBps         float64 `yaml:"breakeven_buffer_bps" validate:"min=0,max=1000"`
	FillToleranceBps           float64 `yaml:"fill_tolerance_bps" validate:"min=0,max=1000"`
	DefaultApproach            string  `yaml:"default_approach" validate:"oneof=laddered single_target"`
	MainTickIntervalSeconds    int     `yaml:"main_tick_interval_seconds" validate:"required,min=1,max=3600"`
	MirrorTickIntervalSeconds  int     `yaml:"mirror_tick_interval_seconds" validate:"required,min=1,max=3600"`
	SnapshotFlushIntervalSecs  int     `yaml:"snapshot_flush_interval_seconds" validate:"min=1,max=3600"`
	UnprotectedAlertThreshold  int     `yaml:"unprotected_alert_threshold" validate:"min=1,max=100"`
	RequestsPerSecondPerAcct   float64 `yaml:"requests_per_second_per_account" validate:"min=1,max=100"`
	ExchangeCallTimeoutSeconds int     `yaml:"exchange_call_timeout_seconds" validate:"min=1,max=120"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	DBPath   string `yaml:"db_path"`
}

// AlertsConfig contains notification channel settings
type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
}

// TelegramConfig contains telegram bot credentials
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SlackConfig contains the slack webhook target
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	TickPoolSize   int `yaml:"tick_pool_size" validate:"min=1,max=100"`
	TickPoolBuffer int `yaml:"tick_pool_buffer" validate:"min=1,max=10000"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Policy.DefaultApproach == "" {
		c.Policy.DefaultApproach = "laddered"
	}
	if c.Policy.BreakevenBufferBps == 0 {
		c.Policy.BreakevenBufferBps = 5
	}
	if c.Policy.FillToleranceBps == 0 {
		c.Policy.FillToleranceBps = 10
	}
	if c.Policy.SnapshotFlushIntervalSecs == 0 {
		c.Policy.SnapshotFlushIntervalSecs = 30
	}
	if c.Policy.UnprotectedAlertThreshold == 0 {
		c.Policy.UnprotectedAlertThreshold = 3
	}
	if c.Policy.RequestsPerSecondPerAcct == 0 {
		c.Policy.RequestsPerSecondPerAcct = 10
	}
	if c.Policy.ExchangeCallTimeoutSeconds == 0 {
		c.Policy.ExchangeCallTimeoutSeconds = 10
	}
	if c.System.DBPath == "" {
		c.System.DBPath = "position_guard.db"
	}
	if c.Concurrency.TickPoolSize == 0 {
		c.Concurrency.TickPoolSize = 8
	}
	if c.Concurrency.TickPoolBuffer == 0 {
		c.Concurrency.TickPoolBuffer = 256
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAccounts(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validatePolicy(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSystem(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAccounts() error {
	requiredAccounts := []string{"primary", "mirror"}

	if len(c.Accounts) == 0 {
		return ValidationError{
			Field:   "accounts",
			Message: "both primary and mirror accounts must be configured",
		}
	}

	for _, name := range requiredAccounts {
		account, exists := c.Accounts[name]
		if !exists {
			return ValidationError{
				Field:   fmt.Sprintf("accounts.%s", name),
				Message: "account configuration not found",
			}
		}
		if account.APIKey == "" {
			return ValidationError{
				Field:   fmt.Sprintf("accounts.%s.api_key", name),
				Message: "API key is required",
			}
		}
		if account.SecretKey == "" {
			return ValidationError{
				Field:   fmt.Sprintf("accounts.%s.secret_key", name),
				Message: "secret key is required",
			}
		}
	}

	return nil
}

func (c *Config) validatePolicy() error {
	if c.Policy.MainTickIntervalSeconds <= 0 {
		return ValidationError{
			Field:   "policy.main_tick_interval_seconds",
			Value:   c.Policy.MainTickIntervalSeconds,
			Message: "main tick interval must be positive",
		}
	}

	if c.Policy.MirrorTickIntervalSeconds <= 0 {
		return ValidationError{
			Field:   "policy.mirror_tick_interval_seconds",
			Value:   c.Policy.MirrorTickIntervalSeconds,
			Message: "mirror tick interval must be positive",
		}
	}

	validApproaches := []string{"laddered", "single_target"}
	if !contains(validApproaches, c.Policy.DefaultApproach) {
		return ValidationError{
			Field:   "policy.default_approach",
			Value:   c.Policy.DefaultApproach,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validApproaches, ", ")),
		}
	}

	if c.Policy.BreakevenBufferBps < 0 {
		return ValidationError{
			Field:   "policy.breakeven_buffer_bps",
			Value:   c.Policy.BreakevenBufferBps,
			Message: "breakeven buffer must not be negative",
		}
	}

	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Accounts = make(map[string]AccountConfig, len(c.Accounts))
	for name, account := range c.Accounts {
		account.APIKey = maskString(account.APIKey)
		account.SecretKey = maskString(account.SecretKey)
		configCopy.Accounts[name] = account
	}

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		Accounts: map[string]AccountConfig{
			"primary": {
				APIKey:    "test_api_key",
				SecretKey: "test_secret_key",
			},
			"mirror": {
				APIKey:    "test_api_key",
				SecretKey: "test_secret_key",
			},
		},
		Policy: PolicyConfig{
			CancelLimitsOnFirstTarget: true,
			MainTickIntervalSeconds:   5,
			MirrorTickIntervalSeconds: 15,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: false,
			MetricsPort:   9090,
		},
	}
	cfg.applyDefaults()
	return cfg
}
