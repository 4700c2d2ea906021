package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validLogLevels      = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validLogFormats     = []string{"console", "json"}
	validProviderAPIs   = []string{"anthropic", "openai", "ollama"}
	validLocales        = []string{"fr", "en"}
	validContextBackend = []string{"memory", "sqlite", "redis"}
	validBinds          = []string{"loopback", "lan", "custom"}
	validAuthModes      = []string{"token", "password"}
	validScopes         = []string{"per-chat", "per-sender"}
)

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Logging
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	if cfg.Logging.Format != "" && !slices.Contains(validLogFormats, cfg.Logging.Format) {
		add("logging.format", "must be one of %v, got %q", validLogFormats, cfg.Logging.Format)
	}

	// LLM
	if _, ok := cfg.LLM.Providers[cfg.LLM.Primary]; !ok {
		add("llm.primary", "provider %q is not defined in llm.providers", cfg.LLM.Primary)
	}
	for _, fb := range cfg.LLM.Fallbacks {
		if _, ok := cfg.LLM.Providers[fb]; !ok {
			add("llm.fallbacks", "provider %q is not defined in llm.providers", fb)
		}
	}
	for name, p := range cfg.LLM.Providers {
		if !slices.Contains(validProviderAPIs, p.API) {
			add("llm.providers."+name+".api", "must be one of %v, got %q", validProviderAPIs, p.API)
		}
		if p.Model == "" {
			add("llm.providers."+name+".model", "model is required")
		}
	}
	if cfg.LLM.Temperature != nil && (*cfg.LLM.Temperature < 0 || *cfg.LLM.Temperature > 2) {
		add("llm.temperature", "must be between 0 and 2, got %v", *cfg.LLM.Temperature)
	}

	// Assistant
	if cfg.Assistant.MaxChainDepth < 1 || cfg.Assistant.MaxChainDepth > 20 {
		add("assistant.maxChainDepth", "must be 1-20, got %d", cfg.Assistant.MaxChainDepth)
	}
	if cfg.Assistant.MessageTimeout <= 0 {
		add("assistant.messageTimeout", "must be positive, got %s", cfg.Assistant.MessageTimeout)
	}
	if cfg.Assistant.MaxHistory < 0 {
		add("assistant.maxHistory", "must not be negative, got %d", cfg.Assistant.MaxHistory)
	}
	if cfg.Assistant.Scope != "" && !slices.Contains(validScopes, cfg.Assistant.Scope) {
		add("assistant.scope", "must be one of %v, got %q", validScopes, cfg.Assistant.Scope)
	}
	if !slices.Contains(validLocales, cfg.Assistant.DefaultLocale) {
		add("assistant.defaultLocale", "must be one of %v, got %q", validLocales, cfg.Assistant.DefaultLocale)
	}
	if cfg.Assistant.FrontendURL != "" && !isHTTPURL(cfg.Assistant.FrontendURL) {
		add("assistant.frontendUrl", "must be an http(s) URL, got %q", cfg.Assistant.FrontendURL)
	}

	// Context store
	if !slices.Contains(validContextBackend, cfg.Context.Backend) {
		add("context.backend", "must be one of %v, got %q", validContextBackend, cfg.Context.Backend)
	}
	if cfg.Context.Backend == "redis" && cfg.Context.RedisURL == "" {
		add("context.redisUrl", "required when context.backend is redis")
	}

	// Payments
	if cfg.Payments.CheckoutURL != "" && !isHTTPURL(cfg.Payments.CheckoutURL) {
		add("payments.checkoutUrl", "must be an http(s) URL, got %q", cfg.Payments.CheckoutURL)
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		add("gateway.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode)
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// IRC (only if configured)
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("channels.irc.nick", "nick is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("channels.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			add("channels.irc.sasl", "SASL requires a password to be set")
		}
	}

	return issues
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
