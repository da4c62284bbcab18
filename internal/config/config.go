// Package config loads the gateway's configuration via viper, overlaying a
// config file with M365GW_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Substrate carries the WebSocket hub protocol's deployment-specific fields.
// Per the spec's open question, the exact optionsSets/allowedMessageTypes
// values vary by deployment and must never be hardcoded.
type Substrate struct {
	HubPath                string   `mapstructure:"hubPath"`
	Source                 string   `mapstructure:"source"`
	QuoteSourceInQuery     bool     `mapstructure:"quoteSourceInQuery"`
	Scenario               string   `mapstructure:"scenario"`
	Origin                 string   `mapstructure:"origin"`
	Product                string   `mapstructure:"product"`
	AgentHost              string   `mapstructure:"agentHost"`
	LicenseType            string   `mapstructure:"licenseType"`
	Agent                  string   `mapstructure:"agent"`
	Variants               string   `mapstructure:"variants"`
	ClientPlatform         string   `mapstructure:"clientPlatform"`
	ProductThreadType      string   `mapstructure:"productThreadType"`
	InvocationTimeoutSecs  int      `mapstructure:"invocationTimeoutSeconds"`
	KeepAliveSecs          int      `mapstructure:"keepAliveSeconds"`
	OptionsSets            []string `mapstructure:"optionsSets"`
	AllowedMessageTypes    []string `mapstructure:"allowedMessageTypes"`
	InvocationTarget       string   `mapstructure:"invocationTarget"`
	InvocationType         int      `mapstructure:"invocationType"`
	Locale                 string   `mapstructure:"locale"`
	ExperienceType         string   `mapstructure:"experienceType"`
	EntityAnnotationTypes  []string `mapstructure:"entityAnnotationTypes"`
}

func (s Substrate) InvocationTimeout() time.Duration {
	if s.InvocationTimeoutSecs <= 0 {
		return 120 * time.Second
	}

	return time.Duration(s.InvocationTimeoutSecs) * time.Second
}

func (s Substrate) KeepAlive() time.Duration {
	if s.KeepAliveSecs <= 0 {
		return 15 * time.Second
	}

	return time.Duration(s.KeepAliveSecs) * time.Second
}

// Config is the authoritative set of keys named in the spec's external
// interfaces section.
type Config struct {
	ListenURL string `mapstructure:"listenUrl"`
	LogLevel  string `mapstructure:"logLevel"`

	Transport string `mapstructure:"transport"`

	GraphBaseURL               string `mapstructure:"graphBaseUrl"`
	CreateConversationPath     string `mapstructure:"createConversationPath"`
	ChatPathTemplate           string `mapstructure:"chatPathTemplate"`
	ChatOverStreamPathTemplate string `mapstructure:"chatOverStreamPathTemplate"`

	Substrate Substrate `mapstructure:"substrate"`

	DefaultModel    string `mapstructure:"defaultModel"`
	DefaultTimeZone string `mapstructure:"defaultTimeZone"`

	ConversationTTLMinutes       int  `mapstructure:"conversationTtlMinutes"`
	MaxAdditionalContextMessages int  `mapstructure:"maxAdditionalContextMessages"`
	IncludeConversationIDInBody  bool `mapstructure:"includeConversationIdInResponseBody"`
	IgnoreIncomingAuthHeader     bool `mapstructure:"ignoreIncomingAuthorizationHeader"`

	DebugLogDir string `mapstructure:"debugLogDir"`

	RequestTimeoutSeconds    int `mapstructure:"requestTimeoutSeconds"`
	LLMRequestTimeoutSeconds int `mapstructure:"llmRequestTimeoutSeconds"`

	// TokenFilePath and TokenAcquire{Command,Args} configure C9's out-of-scope
	// collaborators (the on-disk token cache and the browser-driven
	// token-harvest subprocess); they are not part of the core's authoritative
	// external-interface key list, only its consumer-side wiring.
	TokenFilePath       string   `mapstructure:"tokenFilePath"`
	TokenAcquireCommand string   `mapstructure:"tokenAcquireCommand"`
	TokenAcquireArgs    []string `mapstructure:"tokenAcquireArgs"`
}

func (c Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}

	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) LLMRequestTimeout() time.Duration {
	if c.LLMRequestTimeoutSeconds <= 0 {
		return 180 * time.Second
	}

	return time.Duration(c.LLMRequestTimeoutSeconds) * time.Second
}

func (c Config) ConversationTTL() time.Duration {
	if c.ConversationTTLMinutes <= 0 {
		return 60 * time.Minute
	}

	return time.Duration(c.ConversationTTLMinutes) * time.Minute
}

func (c Config) MaxAdditionalContext() int {
	if c.MaxAdditionalContextMessages <= 0 {
		return 16
	}

	return c.MaxAdditionalContextMessages
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listenUrl", ":8080")
	v.SetDefault("logLevel", "info")
	v.SetDefault("transport", "graph")
	v.SetDefault("createConversationPath", "/conversations")
	v.SetDefault("chatPathTemplate", "/conversations/{conversationId}/chat")
	v.SetDefault("chatOverStreamPathTemplate", "/conversations/{conversationId}/chat/stream")
	v.SetDefault("defaultModel", "m365-copilot")
	v.SetDefault("defaultTimeZone", "UTC")
	v.SetDefault("conversationTtlMinutes", 60)
	v.SetDefault("maxAdditionalContextMessages", 16)
	v.SetDefault("includeConversationIdInResponseBody", false)
	v.SetDefault("ignoreIncomingAuthorizationHeader", false)

	v.SetDefault("requestTimeoutSeconds", 30)
	v.SetDefault("llmRequestTimeoutSeconds", 180)

	v.SetDefault("substrate.invocationTimeoutSeconds", 120)
	v.SetDefault("substrate.keepAliveSeconds", 15)
	v.SetDefault("substrate.invocationType", 4)
	v.SetDefault("substrate.locale", "en-US")
}

// Load reads configFile (if non-empty) plus M365GW_-prefixed environment
// overrides, following the reference gateway's file+env overlay convention.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("M365GW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
