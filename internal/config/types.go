package config

import "time"

// Config is the root configuration for the concierge assistant.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	LLM       LLMConfig       `yaml:"llm,omitempty"`
	Assistant AssistantConfig `yaml:"assistant,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Context   ContextConfig   `yaml:"context,omitempty"`
	Payments  PaymentsConfig  `yaml:"payments,omitempty"`
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Channels  ChannelsConfig  `yaml:"channels,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Format string `yaml:"format,omitempty"` // "console" | "json"
}

// LLMConfig selects model providers. Primary names an entry in Providers;
// Fallbacks are tried in order when the primary fails with a retryable error.
type LLMConfig struct {
	Primary     string                   `yaml:"primary,omitempty"`
	Fallbacks   []string                 `yaml:"fallbacks,omitempty"`
	MaxTokens   int                      `yaml:"maxTokens,omitempty"`
	Temperature *float64                 `yaml:"temperature,omitempty"`
	Providers   map[string]ProviderEntry `yaml:"providers,omitempty"`
}

// ProviderEntry defines a model provider endpoint.
type ProviderEntry struct {
	API     string `yaml:"api"` // "anthropic" | "openai" | "ollama"
	BaseURL string `yaml:"baseUrl,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
	Model   string `yaml:"model"`
}

// AssistantConfig tunes the orchestration loop and the workflows.
type AssistantConfig struct {
	Name           string        `yaml:"name,omitempty"`
	DefaultLocale  string        `yaml:"defaultLocale,omitempty"`
	MaxChainDepth  int           `yaml:"maxChainDepth,omitempty"`
	MessageTimeout time.Duration `yaml:"messageTimeout,omitempty"`
	MaxHistory     int           `yaml:"maxHistory,omitempty"`
	Scope          string        `yaml:"scope,omitempty"` // "per-chat" | "per-sender"
	FrontendURL    string        `yaml:"frontendUrl,omitempty"`
	CatalogPath    string        `yaml:"catalogPath,omitempty"` // empty uses the built-in catalog
	PromptsDir     string        `yaml:"promptsDir,omitempty"`  // overrides built-in prompt fragments
	AdminUsers     []string      `yaml:"adminUsers,omitempty"`  // chat ids granted admin tools
	Retrieval      *bool         `yaml:"retrieval,omitempty"`   // knowledge base lookups, default on
}

// RetrievalEnabled reports whether knowledge base lookups are on.
func (a AssistantConfig) RetrievalEnabled() bool {
	return a.Retrieval == nil || *a.Retrieval
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // empty means <data dir>/concierge.db
}

// ContextConfig selects where conversation contexts live.
type ContextConfig struct {
	Backend  string        `yaml:"backend,omitempty"` // "memory" | "sqlite" | "redis"
	RedisURL string        `yaml:"redisUrl,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

// PaymentsConfig configures the checkout link handed to residents.
type PaymentsConfig struct {
	CheckoutURL string `yaml:"checkoutUrl,omitempty"`
	Currency    string `yaml:"currency,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Enabled        bool        `yaml:"enabled,omitempty"`
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// ChannelsConfig defines channel-specific configurations.
type ChannelsConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig defines IRC channel settings. Private queries to the bot are
// direct conversations; channel messages are public.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
	Network  string   `yaml:"network,omitempty"` // appended to nicks to form chat ids, e.g. "@nick:libera"
}
