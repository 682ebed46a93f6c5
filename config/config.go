package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Identity provider and claim mapping configuration
//   - database.go: Postgres and Redis configuration
//   - http.go: HTTP server and device push configuration
//   - session.go: Per-device session manager configuration
//   - services.go: Service mode, Kafka and content catalog configuration
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or APP_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel overrides the default log level (debug in dev, info otherwise).
	LogLevel string `env:"LOG_LEVEL"`

	// Authentication configuration
	Auth AuthConfig

	// Storage configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Session manager configuration
	Session SessionConfig `envPrefix:"SESSION_"`

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http"`

	// Progress consumer configuration
	Kafka KafkaConfig `envPrefix:"KAFKA_"`

	// Learning content configuration
	Content ContentConfig `envPrefix:"CONTENT_"`
}

// callbackPath is where the identity provider redirects back to this API.
const callbackPath = "/auth/callback"

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Auth.Sanitize()
	c.Session.Sanitize()
	c.Kafka.Sanitize()

	if strings.TrimSpace(c.Auth.OAuth.RedirectURL) == "" {
		c.Auth.OAuth.RedirectURL = c.HTTP.BaseURL + callbackPath
	}

	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsProgressConsumerEnabled returns true if the lesson progress consumer is enabled.
func (c *AppConfig) IsProgressConsumerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeProgressConsumer]
}
