package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and notification channel configuration
//   - storage.go: Blob store configuration
//   - inference.go: Inference gateway configuration
//   - services.go: Service mode and loop configuration
type AppConfig struct {
	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Blob store configuration
	Blob BlobConfig `envPrefix:"BLOB_"`

	// Inference gateway configuration
	Inference InferenceConfig `envPrefix:"INFERENCE_"`

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"drainer,insights,trends,cleanup,notifications"`

	// Loop configuration
	Drainer       DrainerConfig
	Insights      InsightsConfig
	Trends        TrendsConfig
	Cleanup       CleanupConfig
	Notifications NotificationsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Blob.Sanitize()
	c.Inference.Sanitize()
	c.Drainer.Sanitize()
	c.Insights.Sanitize()
	c.Trends.Sanitize()
	c.Cleanup.Sanitize()
	c.Notifications.Sanitize()
	c.Observability.Sanitize()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsDrainerEnabled returns true if the pending-item drainer is enabled.
func (c *AppConfig) IsDrainerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeDrainer]
}

// IsNotificationsEnabled returns true if the notification consumer is enabled.
func (c *AppConfig) IsNotificationsEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeNotifications]
}
