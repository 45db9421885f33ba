package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeDrainer runs the pending-item drainer.
	ServiceModeDrainer ServiceMode = "drainer"
	// ServiceModeInsights runs the daily insight generator.
	ServiceModeInsights ServiceMode = "insights"
	// ServiceModeTrends runs the weekly trend analyzer.
	ServiceModeTrends ServiceMode = "trends"
	// ServiceModeCleanup runs the monthly retention cleanup.
	ServiceModeCleanup ServiceMode = "cleanup"
	// ServiceModeNotifications runs the notification consumer.
	ServiceModeNotifications ServiceMode = "notifications"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeDrainer,
		ServiceModeInsights,
		ServiceModeTrends,
		ServiceModeCleanup,
		ServiceModeNotifications,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeDrainer,
			ServiceModeInsights,
			ServiceModeTrends,
			ServiceModeCleanup,
			ServiceModeNotifications:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: drainer, insights, trends, cleanup, notifications)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DrainerConfig contains pending-item drainer configuration.
type DrainerConfig struct {
	// Interval is the pause between drain passes.
	Interval time.Duration `env:"DRAINER_INTERVAL" envDefault:"60s"`
}

// Sanitize applies guardrails to drainer configuration values.
func (d *DrainerConfig) Sanitize() {
	if d.Interval < 5*time.Second {
		d.Interval = 5 * time.Second
	}
}

// InsightsConfig contains daily insight generator configuration.
type InsightsConfig struct {
	// PollInterval is how often the daily trigger is evaluated.
	PollInterval time.Duration `env:"INSIGHTS_POLL_INTERVAL" envDefault:"60s"`

	// Hour and Minute form the daily UTC firing slot.
	Hour   int `env:"INSIGHTS_HOUR"   envDefault:"6"`
	Minute int `env:"INSIGHTS_MINUTE" envDefault:"0"`

	// ActiveWindow selects users with any activity inside it.
	ActiveWindow time.Duration `env:"INSIGHTS_ACTIVE_WINDOW" envDefault:"720h"` // 30 days

	// DataWindow is the per-user history window fed to the gateway.
	DataWindow time.Duration `env:"INSIGHTS_DATA_WINDOW" envDefault:"168h"` // 7 days
}

// Sanitize applies guardrails to insight generator configuration values.
func (i *InsightsConfig) Sanitize() {
	if i.PollInterval < 5*time.Second {
		i.PollInterval = 5 * time.Second
	}
	if i.Hour < 0 || i.Hour > 23 {
		i.Hour = 6
	}
	if i.Minute < 0 || i.Minute > 59 {
		i.Minute = 0
	}
	if i.ActiveWindow <= 0 {
		i.ActiveWindow = 30 * 24 * time.Hour
	}
	if i.DataWindow <= 0 {
		i.DataWindow = 7 * 24 * time.Hour
	}
}

// TrendsConfig contains weekly trend analyzer configuration.
type TrendsConfig struct {
	// PollInterval is how often the weekly trigger is evaluated.
	PollInterval time.Duration `env:"TRENDS_POLL_INTERVAL" envDefault:"60s"`

	// Weekday and Hour form the weekly UTC firing slot (0 = Sunday).
	Weekday int `env:"TRENDS_WEEKDAY" envDefault:"0"`
	Hour    int `env:"TRENDS_HOUR"    envDefault:"8"`

	// ActiveWindow selects users with any activity inside it.
	ActiveWindow time.Duration `env:"TRENDS_ACTIVE_WINDOW" envDefault:"720h"` // 30 days

	// DataWindow is the longitudinal window analyzed per user.
	DataWindow time.Duration `env:"TRENDS_DATA_WINDOW" envDefault:"2160h"` // 90 days

	// MinFoodItems is the minimum number of food items required in the
	// data window before a user is analyzed.
	MinFoodItems int `env:"TRENDS_MIN_FOOD_ITEMS" envDefault:"5"`
}

// Sanitize applies guardrails to trend analyzer configuration values.
func (t *TrendsConfig) Sanitize() {
	if t.PollInterval < 5*time.Second {
		t.PollInterval = 5 * time.Second
	}
	if t.Weekday < 0 || t.Weekday > 6 {
		t.Weekday = 0
	}
	if t.Hour < 0 || t.Hour > 23 {
		t.Hour = 8
	}
	if t.ActiveWindow <= 0 {
		t.ActiveWindow = 30 * 24 * time.Hour
	}
	if t.DataWindow <= 0 {
		t.DataWindow = 90 * 24 * time.Hour
	}
	if t.MinFoodItems < 1 {
		t.MinFoodItems = 1
	}
}

// CleanupConfig contains monthly retention cleanup configuration.
type CleanupConfig struct {
	// PollInterval is how often the monthly trigger is evaluated.
	PollInterval time.Duration `env:"CLEANUP_POLL_INTERVAL" envDefault:"60s"`

	// Day and Hour form the monthly UTC firing slot.
	Day  int `env:"CLEANUP_DAY"  envDefault:"1"`
	Hour int `env:"CLEANUP_HOUR" envDefault:"2"`

	// FoodRetention is the maximum age of food history items.
	FoodRetention time.Duration `env:"CLEANUP_FOOD_RETENTION" envDefault:"17520h"` // 2 years

	// MedicalRetention is the maximum age of medical records. Items tagged
	// critical are never deleted regardless of age.
	MedicalRetention time.Duration `env:"CLEANUP_MEDICAL_RETENTION" envDefault:"26280h"` // 3 years
}

// Sanitize applies guardrails to cleanup configuration values.
func (c *CleanupConfig) Sanitize() {
	if c.PollInterval < 5*time.Second {
		c.PollInterval = 5 * time.Second
	}
	if c.Day < 1 || c.Day > 28 {
		c.Day = 1
	}
	if c.Hour < 0 || c.Hour > 23 {
		c.Hour = 2
	}
	// Retention windows shorter than 30 days are almost certainly a
	// misconfiguration and would destroy user data.
	if c.FoodRetention < 30*24*time.Hour {
		c.FoodRetention = 730 * 24 * time.Hour
	}
	if c.MedicalRetention < 30*24*time.Hour {
		c.MedicalRetention = 1095 * 24 * time.Hour
	}
}

// NotificationsConfig contains notification consumer configuration.
type NotificationsConfig struct {
	// ReceiveTimeout bounds a single blocking receive.
	ReceiveTimeout time.Duration `env:"NOTIFICATIONS_RECEIVE_TIMEOUT" envDefault:"10s"`

	// ErrorBackoff is the pause after a receive error before retrying.
	ErrorBackoff time.Duration `env:"NOTIFICATIONS_ERROR_BACKOFF" envDefault:"30s"`
}

// Sanitize applies guardrails to notification consumer configuration values.
func (n *NotificationsConfig) Sanitize() {
	if n.ReceiveTimeout < time.Second {
		n.ReceiveTimeout = time.Second
	}
	if n.ErrorBackoff < time.Second {
		n.ErrorBackoff = time.Second
	}
}
