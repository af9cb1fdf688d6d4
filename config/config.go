// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Well-known broker environments.
const (
	EnvironmentDemo = "https://demo.tradelocker.com"
	EnvironmentLive = "https://live.tradelocker.com"
)

// Config represents the complete client configuration structure
type Config struct {
	Environment string            `yaml:"environment"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Account     AccountConfig     `yaml:"account"`
	HTTP        HTTPConfig        `yaml:"http"`
	Cache       CacheConfig       `yaml:"cache"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// CredentialsConfig holds the broker login. Either email+password+server or a
// pre-issued token pair must be provided.
type CredentialsConfig struct {
	Email    string `yaml:"email"`
	Password Secret `yaml:"password"`
	Server   string `yaml:"server"`

	// Token-only mode: sessions started from tokens cannot re-login when
	// both tokens expire.
	AccessToken  Secret `yaml:"access_token"`
	RefreshToken Secret `yaml:"refresh_token"`

	DeveloperAPIKey Secret `yaml:"developer_api_key"`
}

// AccountConfig pins the client to one trading account. When both fields are
// zero the client selects the first account returned by the broker.
type AccountConfig struct {
	ID     int64 `yaml:"id"`
	AccNum int64 `yaml:"acc_num"`
}

// HTTPConfig contains transport settings
type HTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	SkipTLSVerify   bool          `yaml:"skip_tls_verify"`
	BaseURLOverride string        `yaml:"base_url_override"` // replaces environment + /backend-api, tests only
}

// CacheConfig controls the on-disk response cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	MetricsPort   int  `yaml:"metrics_port"`
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

// Environment variable names recognized by FromEnv.
const (
	envEnvironment     = "TL_ENVIRONMENT"
	envEmail           = "TL_EMAIL"
	envPassword        = "TL_PASSWORD"
	envServer          = "TL_SERVER"
	envAccessToken     = "TL_ACCESS_TOKEN"
	envRefreshToken    = "TL_REFRESH_TOKEN"
	envDeveloperAPIKey = "TL_DEVELOPER_API_KEY"
	envAccountID       = "TL_ACC_ID"
	envAccNum          = "TL_ACC_NUM"
	envLogLevel        = "TL_LOG_LEVEL"
)

// LoadConfig loads configuration from a YAML file with environment variable
// expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// FromEnv builds a configuration from TL_* environment variables. Files named
// in dotenvFiles are loaded first without clobbering variables already set in
// the process environment; a missing .env file is not an error.
func FromEnv(dotenvFiles ...string) (*Config, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	config := DefaultConfig()
	if v := os.Getenv(envEnvironment); v != "" {
		config.Environment = v
	}
	config.Credentials.Email = os.Getenv(envEmail)
	config.Credentials.Password = Secret(os.Getenv(envPassword))
	config.Credentials.Server = os.Getenv(envServer)
	config.Credentials.AccessToken = Secret(os.Getenv(envAccessToken))
	config.Credentials.RefreshToken = Secret(os.Getenv(envRefreshToken))
	config.Credentials.DeveloperAPIKey = Secret(os.Getenv(envDeveloperAPIKey))
	if v := os.Getenv(envLogLevel); v != "" {
		config.System.LogLevel = v
	}

	var err error
	if config.Account.ID, err = parseOptionalInt(envAccountID); err != nil {
		return nil, err
	}
	if config.Account.AccNum, err = parseOptionalInt(envAccNum); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func parseOptionalInt(key string) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, ValidationError{Field: key, Value: v, Message: "must be an integer"}
	}
	return n, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateEnvironment(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateCredentials(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateEnvironment() error {
	if c.Environment == "" {
		return ValidationError{
			Field:   "environment",
			Message: "broker environment URL is required",
		}
	}
	if !strings.HasPrefix(c.Environment, "https://") && !strings.HasPrefix(c.Environment, "http://") {
		return ValidationError{
			Field:   "environment",
			Value:   c.Environment,
			Message: "must be a full URL such as " + EnvironmentDemo,
		}
	}
	return nil
}

func (c *Config) validateCredentials() error {
	cr := c.Credentials
	hasLogin := cr.Email != "" || cr.Password != "" || cr.Server != ""
	hasTokens := cr.AccessToken != "" && cr.RefreshToken != ""

	if !hasLogin && !hasTokens {
		return ValidationError{
			Field:   "credentials",
			Message: "either email/password/server or access_token/refresh_token must be set",
		}
	}
	if hasLogin {
		if cr.Email == "" {
			return ValidationError{Field: "credentials.email", Message: "email is required"}
		}
		if cr.Password == "" {
			return ValidationError{Field: "credentials.password", Message: "password is required"}
		}
		if cr.Server == "" {
			return ValidationError{Field: "credentials.server", Message: "server is required"}
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
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

// BaseURL returns the backend API root derived from the environment.
func (c *Config) BaseURL() string {
	if c.HTTP.BaseURLOverride != "" {
		return c.HTTP.BaseURLOverride
	}
	return strings.TrimRight(c.Environment, "/") + "/backend-api"
}

// TokenOnly reports whether the client was configured from a token pair
// without a re-login password.
func (c *Config) TokenOnly() bool {
	return c.Credentials.Password == "" && c.Credentials.AccessToken != ""
}

// String returns a string representation of the configuration (with sensitive
// data masked via the Secret type)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration populated with defaults. Credentials
// still have to be supplied before the config validates.
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvironmentDemo,
		HTTP: HTTPConfig{
			Timeout:         30 * time.Second,
			RateLimitPerSec: 10,
			RateLimitBurst:  10,
		},
		Cache: CacheConfig{
			Enabled: false,
			Path:    ".tlcache/history.db",
			TTL:     24 * time.Hour,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: false,
			MetricsPort:   9090,
		},
	}
}
