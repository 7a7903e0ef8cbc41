// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig tunes the HTTP listener in front of the gateway.
type ServerConfig struct {
	Addr          string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigin string        `mapstructure:"allowed_origin" yaml:"allowed_origin"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless             bool              `mapstructure:"headless" yaml:"headless"`
	Args                 []string          `mapstructure:"args" yaml:"args"`
	NavigationTimeout    time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ChallengeWaitTimeout time.Duration     `mapstructure:"challenge_wait_timeout" yaml:"challenge_wait_timeout"`
	Headers              map[string]string `mapstructure:"headers" yaml:"headers"`
}

// ProviderConfig describes the identity provider's login surface. The
// selectors form a detection table rather than hard-coded assumptions, since
// the real provider UI can change without notice.
type ProviderConfig struct {
	EntryURL            string   `mapstructure:"entry_url" yaml:"entry_url"`
	IdentifierField     string   `mapstructure:"identifier_field" yaml:"identifier_field"`
	IdentifierSubmit    string   `mapstructure:"identifier_submit" yaml:"identifier_submit"`
	PasswordField       string   `mapstructure:"password_field" yaml:"password_field"`
	PasswordSubmit      string   `mapstructure:"password_submit" yaml:"password_submit"`
	ChallengeMarkers    []string `mapstructure:"challenge_markers" yaml:"challenge_markers"`
	UnsupportedMarkers  []string `mapstructure:"unsupported_markers" yaml:"unsupported_markers"`
	EmailOptionSelector string   `mapstructure:"email_option_selector" yaml:"email_option_selector"`
	CodeField           string   `mapstructure:"code_field" yaml:"code_field"`
	CodeSubmit          string   `mapstructure:"code_submit" yaml:"code_submit"`
	FetchRatePerSecond  float64  `mapstructure:"fetch_rate_per_second" yaml:"fetch_rate_per_second"`
}

// Credentials is the process-wide account material consumed by the login
// flow. It is read once from the environment and never persisted. Empty
// values are allowed and passed through to the provider unvalidated.
type Credentials struct {
	Identifier string
	Secret     string
}

// Environment variables carrying the provider account material.
const (
	EnvIdentifier = "FORMGATE_PROVIDER_IDENTIFIER"
	EnvSecret     = "FORMGATE_PROVIDER_SECRET"
)

// CredentialsFromEnv reads the provider credentials from the process
// environment. Absent variables yield empty strings.
func CredentialsFromEnv() Credentials {
	return Credentials{
		Identifier: os.Getenv(EnvIdentifier),
		Secret:     os.Getenv(EnvSecret),
	}
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formgate")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origin", "http://localhost:3000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_grace", "15s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "10s")
	v.SetDefault("browser.challenge_wait_timeout", "15s")

	// -- Provider --
	v.SetDefault("provider.identifier_field", `input[name="identifier"]`)
	v.SetDefault("provider.identifier_submit", `button[type="submit"]`)
	v.SetDefault("provider.password_field", `input[type="password"]`)
	v.SetDefault("provider.password_submit", `button[type="submit"]`)
	v.SetDefault("provider.challenge_markers", []string{"#auth-mfa-form", ".challenge-container"})
	v.SetDefault("provider.unsupported_markers", []string{})
	v.SetDefault("provider.email_option_selector", `[data-method="email"]`)
	v.SetDefault("provider.code_field", `input[name="code"]`)
	v.SetDefault("provider.code_submit", `button[type="submit"]`)
	v.SetDefault("provider.fetch_rate_per_second", 4.0)
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is a required configuration field")
	}
	if c.Server.AllowedOrigin == "" {
		return fmt.Errorf("server.allowed_origin is a required configuration field")
	}
	if c.Provider.EntryURL == "" {
		return fmt.Errorf("provider.entry_url is a required configuration field")
	}
	if _, err := url.ParseRequestURI(c.Provider.EntryURL); err != nil {
		return fmt.Errorf("provider.entry_url is not a valid URL: %w", err)
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.Browser.ChallengeWaitTimeout <= 0 {
		return fmt.Errorf("browser.challenge_wait_timeout must be a positive duration")
	}
	if c.Provider.FetchRatePerSecond <= 0 {
		return fmt.Errorf("provider.fetch_rate_per_second must be positive")
	}
	return nil
}
