// Package config loads the service configuration from environment variables.
//
// Values may also come from a .env file; the application loads it with
// godotenv before calling Load.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: HTTP listen port (default: 3000)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path; stdout when empty
//   - OPEN_BROWSER: Open the login page in a browser on start (default: true)
//   - HTTP_TIMEOUT: Timeout for outbound HTTP calls (default: 30s)
//
// Identity provider:
//   - CLIENT_ID, CLIENT_SECRET, TENANT_ID: app registration (required)
//   - REDIRECT_URI: callback registered for the app, e.g. http://localhost:3000/redirect (required)
//   - AUTHORITY_HOST: identity host (default: https://login.microsoftonline.com)
//   - OAUTH_SCOPES: space separated scopes (default: https://graph.microsoft.com/Mail.Send offline_access)
//
// Mail:
//   - GRAPH_BASE_URL: Graph API root (default: https://graph.microsoft.com/v1.0)
//   - MAIL_RECIPIENT: address that receives the scheduled message (required)
//   - SEND_INTERVAL: period between scheduled sends (default: 60s)
//   - SEND_MAX_ATTEMPTS: attempts per scheduled send (default: 1)
//   - SEND_RETRY_DELAY: delay before the first retry (default: 2s)
//   - SEND_BREAKER_ENABLED: guard sends with a circuit breaker (default: false)
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration values for the service.
type Config struct {
	// Application settings
	Port        int           `env:"PORT" validate:"min=1,max=65535"`
	LogLevel    string        `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	LogFile     string        `env:"LOG_FILE"`
	OpenBrowser bool          `env:"OPEN_BROWSER"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" validate:"gte=1s"`

	// Identity provider
	ClientID      string `env:"CLIENT_ID" validate:"required"`
	ClientSecret  string `env:"CLIENT_SECRET" validate:"required"`
	TenantID      string `env:"TENANT_ID" validate:"required"`
	RedirectURI   string `env:"REDIRECT_URI" validate:"required,url"`
	AuthorityHost string `env:"AUTHORITY_HOST" validate:"required,url"`
	Scopes        string `env:"OAUTH_SCOPES" validate:"required"`

	// Mail
	GraphBaseURL       string        `env:"GRAPH_BASE_URL" validate:"required,url"`
	MailRecipient      string        `env:"MAIL_RECIPIENT" validate:"required,email"`
	SendInterval       time.Duration `env:"SEND_INTERVAL" validate:"gte=1s"`
	SendMaxAttempts    int           `env:"SEND_MAX_ATTEMPTS" validate:"min=1,max=10"`
	SendRetryDelay     time.Duration `env:"SEND_RETRY_DELAY" validate:"gte=0"`
	SendBreakerEnabled bool          `env:"SEND_BREAKER_ENABLED"`

	// parse errors collected by Load, reported by Validate
	loadErrors []string
}

// Load creates a Config from environment variables, falling back to defaults
// for anything unset. Values that fail to parse are remembered and reported
// by Validate.
func Load() *Config {
	c := &Config{}

	c.Port = c.getIntEnv("PORT", 3000)
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFile = getEnv("LOG_FILE", "")
	c.OpenBrowser = c.getBoolEnv("OPEN_BROWSER", true)
	c.HTTPTimeout = c.getDurationEnv("HTTP_TIMEOUT", 30*time.Second)

	c.ClientID = getEnv("CLIENT_ID", "")
	c.ClientSecret = getEnv("CLIENT_SECRET", "")
	c.TenantID = getEnv("TENANT_ID", "")
	c.RedirectURI = getEnv("REDIRECT_URI", "")
	c.AuthorityHost = strings.TrimRight(getEnv("AUTHORITY_HOST", "https://login.microsoftonline.com"), "/")
	c.Scopes = getEnv("OAUTH_SCOPES", "https://graph.microsoft.com/Mail.Send offline_access")

	c.GraphBaseURL = strings.TrimRight(getEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"), "/")
	c.MailRecipient = getEnv("MAIL_RECIPIENT", "")
	c.SendInterval = c.getDurationEnv("SEND_INTERVAL", time.Minute)
	c.SendMaxAttempts = c.getIntEnv("SEND_MAX_ATTEMPTS", 1)
	c.SendRetryDelay = c.getDurationEnv("SEND_RETRY_DELAY", 2*time.Second)
	c.SendBreakerEnabled = c.getBoolEnv("SEND_BREAKER_ENABLED", false)

	return c
}

// ScopeList returns the configured scopes split on whitespace
func (c *Config) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// TokenURL returns the tenant's v2.0 token endpoint
func (c *Config) TokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.AuthorityHost, c.TenantID)
}

// AuthURL returns the tenant's v2.0 authorize endpoint
func (c *Config) AuthURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", c.AuthorityHost, c.TenantID)
}

// Validate checks required fields and value ranges. Errors name the
// environment variable at fault.
func (c *Config) Validate() error {
	if len(c.loadErrors) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(c.loadErrors, "; "))
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, describe(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s must be an integer", key))
		return defaultValue
	}
	return parsed
}

func (c *Config) getBoolEnv(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s must be a boolean", key))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s must be a duration such as 60s or 1m", key))
		return defaultValue
	}
	return parsed
}
