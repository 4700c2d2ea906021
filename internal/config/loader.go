package config

import (
	"errors"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CONCIERGE_LOG_LEVEL.
const EnvPrefix = "CONCIERGE"

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables expand to the empty string so an unset key reads as
// "not configured" rather than as a literal placeholder.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so passwords and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Context.RedisURL = expandEnvVars(cfg.Context.RedisURL)
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
	for name, provider := range cfg.LLM.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		cfg.LLM.Providers[name] = provider
	}
}

// envOverrides mirrors the settings that may be overridden from the
// environment. Nil pointers mean "not set".
type envOverrides struct {
	LogLevel       *string        `envconfig:"LOG_LEVEL"`
	LogFormat      *string        `envconfig:"LOG_FORMAT"`
	LLMPrimary     *string        `envconfig:"LLM_PRIMARY"`
	LLMModel       *string        `envconfig:"LLM_MODEL"`
	LLMAPIKey      *string        `envconfig:"LLM_API_KEY"`
	DefaultLocale  *string        `envconfig:"DEFAULT_LOCALE"`
	MaxChainDepth  *int           `envconfig:"MAX_CHAIN_DEPTH"`
	MessageTimeout *time.Duration `envconfig:"MESSAGE_TIMEOUT"`
	FrontendURL    *string        `envconfig:"FRONTEND_URL"`
	StorePath      *string        `envconfig:"STORE_PATH"`
	ContextBackend *string        `envconfig:"CONTEXT_BACKEND"`
	RedisURL       *string        `envconfig:"REDIS_URL"`
	CheckoutURL    *string        `envconfig:"CHECKOUT_URL"`
	GatewayPort    *int           `envconfig:"GATEWAY_PORT"`
	GatewayBind    *string        `envconfig:"GATEWAY_BIND"`
	GatewayToken   *string        `envconfig:"GATEWAY_TOKEN"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.LLM.Primary == "" {
		cfg.LLM.Primary = d.LLM.Primary
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = d.Assistant.Name
	}
	if cfg.Assistant.DefaultLocale == "" {
		cfg.Assistant.DefaultLocale = d.Assistant.DefaultLocale
	}
	if cfg.Assistant.MaxChainDepth == 0 {
		cfg.Assistant.MaxChainDepth = d.Assistant.MaxChainDepth
	}
	if cfg.Assistant.MessageTimeout == 0 {
		cfg.Assistant.MessageTimeout = d.Assistant.MessageTimeout
	}
	if cfg.Assistant.MaxHistory == 0 {
		cfg.Assistant.MaxHistory = d.Assistant.MaxHistory
	}
	if cfg.Assistant.Scope == "" {
		cfg.Assistant.Scope = d.Assistant.Scope
	}
	if cfg.Context.Backend == "" {
		cfg.Context.Backend = d.Context.Backend
	}
	if cfg.Context.TTL == 0 {
		cfg.Context.TTL = d.Context.TTL
	}
	if cfg.Payments.Currency == "" {
		cfg.Payments.Currency = d.Payments.Currency
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = d.Gateway.Auth.Mode
	}
}

// applyEnvOverrides reads CONCIERGE_* environment variables and overrides
// config values.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return &ConfigError{Message: "invalid environment override: " + err.Error()}
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = strings.ToLower(*o.LogLevel)
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = strings.ToLower(*o.LogFormat)
	}
	if o.LLMPrimary != nil {
		cfg.LLM.Primary = *o.LLMPrimary
	}
	if o.LLMModel != nil || o.LLMAPIKey != nil {
		p := cfg.LLM.Providers[cfg.LLM.Primary]
		if o.LLMModel != nil {
			p.Model = *o.LLMModel
		}
		if o.LLMAPIKey != nil {
			p.APIKey = *o.LLMAPIKey
		}
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]ProviderEntry{}
		}
		cfg.LLM.Providers[cfg.LLM.Primary] = p
	}
	if o.DefaultLocale != nil {
		cfg.Assistant.DefaultLocale = *o.DefaultLocale
	}
	if o.MaxChainDepth != nil {
		cfg.Assistant.MaxChainDepth = *o.MaxChainDepth
	}
	if o.MessageTimeout != nil {
		cfg.Assistant.MessageTimeout = *o.MessageTimeout
	}
	if o.FrontendURL != nil {
		cfg.Assistant.FrontendURL = *o.FrontendURL
	}
	if o.StorePath != nil {
		cfg.Store.Path = *o.StorePath
	}
	if o.ContextBackend != nil {
		cfg.Context.Backend = *o.ContextBackend
	}
	if o.RedisURL != nil {
		cfg.Context.RedisURL = *o.RedisURL
	}
	if o.CheckoutURL != nil {
		cfg.Payments.CheckoutURL = *o.CheckoutURL
	}
	if o.GatewayPort != nil {
		cfg.Gateway.Port = *o.GatewayPort
	}
	if o.GatewayBind != nil {
		cfg.Gateway.Bind = *o.GatewayBind
	}
	if o.GatewayToken != nil {
		cfg.Gateway.Auth.Token = *o.GatewayToken
	}
	return nil
}
