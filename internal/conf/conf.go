package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/bubu-agent/bubu/internal/biz/domain"
)

// EnvPrefix prefixes every variable; unprefixed names are accepted too
const EnvPrefix = "BUBU"

// Supported messaging providers
const (
	ProviderTwilio   = "twilio"
	ProviderMeta     = "meta"
	ProviderUltramsg = "ultramsg"
	ProviderFeishu   = "feishu"
	ProviderDryRun   = "dryrun"
)

// Supported tones
var validTones = map[string]bool{"playful": true, "romantic": true, "witty": true}

var e164Re = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// Settings holds deployment settings read from the environment
type Settings struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Recipient
	RecipientName   string   `envconfig:"GF_NAME"`
	RecipientNumber string   `envconfig:"GF_WHATSAPP_NUMBER"`
	Tone            string   `envconfig:"DAILY_FLIRTY_TONE" default:"playful"`
	Timezone        string   `envconfig:"TIMEZONE" default:"Asia/Kolkata"`
	SkipDates       []string `envconfig:"SKIP_DATES"`

	// Messaging provider
	Provider string `envconfig:"WHATSAPP_PROVIDER" default:"twilio"`

	TwilioAccountSID   string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppFrom string `envconfig:"TWILIO_WHATSAPP_FROM"`
	TwilioBaseURL      string `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`

	MetaAccessToken   string `envconfig:"META_ACCESS_TOKEN"`
	MetaPhoneNumberID string `envconfig:"META_PHONE_NUMBER_ID"`
	MetaAPIVersion    string `envconfig:"META_API_VERSION" default:"v18.0"`
	MetaBaseURL       string `envconfig:"META_BASE_URL" default:"https://graph.facebook.com"`

	UltramsgInstanceID string `envconfig:"ULTRAMSG_INSTANCE_ID"`
	UltramsgToken      string `envconfig:"ULTRAMSG_TOKEN"`
	UltramsgBaseURL    string `envconfig:"ULTRAMSG_BASE_URL" default:"https://api.ultramsg.com"`

	FeishuAppID     string `envconfig:"FEISHU_APP_ID"`
	FeishuAppSecret string `envconfig:"FEISHU_APP_SECRET"`
	FeishuChatID    string `envconfig:"FEISHU_CHAT_ID"`

	SendRetries int `envconfig:"SEND_RETRIES" default:"3"`

	// Language model (OpenAI-compatible chat completions)
	LLMBaseURL string `envconfig:"LLM_BASE_URL" default:"https://router.huggingface.co/v1"`
	LLMAPIKey  string `envconfig:"LLM_API_KEY"`
	LLMModel   string `envconfig:"LLM_MODEL" default:"meta-llama/Llama-3.1-8B-Instruct"`

	// Song retrieval
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedBaseURL  string `envconfig:"EMBED_BASE_URL"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"all-minilm"`
	RerankURL     string `envconfig:"RERANK_URL"`

	// Storage
	DBPath string `envconfig:"DB_PATH"`

	// Content configuration YAML
	ContentConfigPath string `envconfig:"CONTENT_CONFIG_PATH"`

	// HTTP API
	HTTPAddr       string `envconfig:"HTTP_ADDR" default:":8000"`
	APIBearerToken string `envconfig:"API_BEARER_TOKEN"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Config is the fully loaded configuration
type Config struct {
	Settings *Settings
	Content  *ContentConfig
	Location *time.Location
}

// LoadSettings reads Settings from the environment
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if s.DBPath == "" {
		homeDir, _ := os.UserHomeDir()
		s.DBPath = filepath.Join(homeDir, ".bubu", "bubu.db")
	}
	return &s, nil
}

// Load reads settings and content configuration and validates both
func Load() (*Config, error) {
	settings, err := LoadSettings()
	if err != nil {
		return nil, err
	}

	content, err := LoadContentConfig(settings.ContentConfigPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Settings: settings, Content: content}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", settings.Provider).
		Str("timezone", settings.Timezone).
		Str("recipient", MaskPhone(settings.RecipientNumber)).
		Bool("enabled", settings.Enabled).
		Str("db_path", settings.DBPath).
		Bool("songs", content.Songs.IsEnabled()).
		Msg("Configuration loaded")

	return cfg, nil
}

// Validate validates the configuration and resolves the timezone
func (c *Config) Validate() error {
	s := c.Settings
	if err := s.Validate(); err != nil {
		return err
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return &ConfigError{Field: "TIMEZONE", Message: err.Error()}
	}
	c.Location = loc

	if c.Content != nil {
		if err := c.Content.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the settings alone
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.RecipientName) == "" {
		return &ConfigError{Field: "GF_NAME", Message: "required"}
	}
	if !e164Re.MatchString(s.RecipientNumber) {
		return &ConfigError{Field: "GF_WHATSAPP_NUMBER", Message: "must be E.164, e.g. +919876543210"}
	}
	if !validTones[s.Tone] {
		return &ConfigError{Field: "DAILY_FLIRTY_TONE", Message: "must be one of playful, romantic, witty"}
	}
	if _, err := s.SkipDateSet(); err != nil {
		return &ConfigError{Field: "SKIP_DATES", Message: err.Error()}
	}
	return s.validateProvider()
}

func (s *Settings) validateProvider() error {
	switch s.Provider {
	case ProviderTwilio:
		if s.TwilioAccountSID == "" || s.TwilioAuthToken == "" || s.TwilioWhatsAppFrom == "" {
			return &ConfigError{Field: "TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN/TWILIO_WHATSAPP_FROM", Message: "required for twilio"}
		}
	case ProviderMeta:
		if s.MetaAccessToken == "" || s.MetaPhoneNumberID == "" {
			return &ConfigError{Field: "META_ACCESS_TOKEN/META_PHONE_NUMBER_ID", Message: "required for meta"}
		}
	case ProviderUltramsg:
		if s.UltramsgInstanceID == "" || s.UltramsgToken == "" {
			return &ConfigError{Field: "ULTRAMSG_INSTANCE_ID/ULTRAMSG_TOKEN", Message: "required for ultramsg"}
		}
	case ProviderFeishu:
		if s.FeishuAppID == "" || s.FeishuAppSecret == "" || s.FeishuChatID == "" {
			return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET/FEISHU_CHAT_ID", Message: "required for feishu"}
		}
	case ProviderDryRun:
	default:
		return &ConfigError{Field: "WHATSAPP_PROVIDER", Message: fmt.Sprintf("unsupported provider %q", s.Provider)}
	}
	return nil
}

// SkipDateSet parses SKIP_DATES into a set of YYYY-MM-DD keys
func (s *Settings) SkipDateSet() (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(s.SkipDates))
	for _, raw := range s.SkipDates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q", raw)
		}
		out[domain.DateKey(d)] = struct{}{}
	}
	return out, nil
}

// LLMEnabled reports whether a language model is configured
func (s *Settings) LLMEnabled() bool {
	return s.LLMAPIKey != "" || strings.HasPrefix(s.LLMBaseURL, "http://localhost") || strings.HasPrefix(s.LLMBaseURL, "http://127.0.0.1")
}

// MaskPhone hides all but the country prefix and last four digits
func MaskPhone(number string) string {
	if len(number) <= 6 {
		return strings.Repeat("*", len(number))
	}
	return number[:3] + strings.Repeat("*", len(number)-7) + number[len(number)-4:]
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
