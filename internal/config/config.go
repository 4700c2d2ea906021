package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultMaxChainDepth  = 5
	DefaultMessageTimeout = 2 * time.Minute
	DefaultLocale         = "fr"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		LLM: LLMConfig{
			Primary:   "mistral",
			MaxTokens: 2048,
			Providers: map[string]ProviderEntry{
				"mistral": {
					API:     "openai",
					BaseURL: "https://api.mistral.ai/v1",
					APIKey:  "${MISTRAL_API_KEY}",
					Model:   "mistral-medium-latest",
				},
			},
		},
		Assistant: AssistantConfig{
			Name:           "Alfred",
			DefaultLocale:  DefaultLocale,
			MaxChainDepth:  DefaultMaxChainDepth,
			MessageTimeout: DefaultMessageTimeout,
			MaxHistory:     20,
			Scope:          "per-chat",
			FrontendURL:    "http://localhost:3000",
		},
		Context: ContextConfig{
			Backend: "sqlite",
			TTL:     24 * time.Hour,
		},
		Payments: PaymentsConfig{
			CheckoutURL: "http://localhost:3000/checkout",
			Currency:    "EUR",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Port:    18790,
			Bind:    "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
	}
}
