package config

import (
	"strings"
	"time"
)

// InferenceConfig contains configuration for the vision + completion gateway.
type InferenceConfig struct {
	// Endpoint is the base URL of the inference service.
	Endpoint string `env:"ENDPOINT" envDefault:"http://localhost:11434"`
	// APIKey is sent as a bearer token when non-empty.
	APIKey string `env:"API_KEY" envDefault:""`
	// CompletionModel is the model used for structured completions.
	CompletionModel string `env:"COMPLETION_MODEL" envDefault:"gpt-4"`
	// Timeout bounds a single gateway call.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

// Sanitize applies guardrails to inference configuration values.
func (c *InferenceConfig) Sanitize() {
	c.Endpoint = strings.TrimRight(strings.TrimSpace(c.Endpoint), "/")
	if c.CompletionModel == "" {
		c.CompletionModel = "gpt-4"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
}
