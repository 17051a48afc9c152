package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type StoreConfig struct {
	Backend     string
	RedisURL    string
	DatabaseURL string
	TTL         time.Duration
	MaxTurns    int
}

type BackendConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type OutboundConfig struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

type TelegramConfig struct {
	Token         string
	Mode          string
	WebhookSecret string
	PollTimeout   time.Duration
	APIBaseURL    string
}

type DiscordConfig struct {
	Token     string
	GuildID   string
	ChannelID string
}

type WhatsAppConfig struct {
	AccessToken     string
	PhoneNumberID   string
	VerifyToken     string
	APIVersion      string
	PreferredMethod string

	WebDebuggerURL  string
	WebHeadless     bool
	WebPollInterval time.Duration
	WebUserDataDir  string
}

// Profile carries the multi-line texts and pattern lists that do not fit
// comfortably in environment variables.
type Profile struct {
	SystemPrompt string              `yaml:"system_prompt"`
	WelcomeText  string              `yaml:"welcome_text"`
	ClarifyText  string              `yaml:"clarify_text"`
	ApologyText  string              `yaml:"apology_text"`
	Commands     []string            `yaml:"commands"`
	Triggers     map[string][]string `yaml:"triggers"`
	MaxLength    map[string]int      `yaml:"max_length"`
}

type Config struct {
	Port      int
	LogLevel  string
	LogFormat string

	Store             StoreConfig
	ContextTurns      int
	SerializeSessions bool

	Backend  BackendConfig
	Outbound OutboundConfig

	Telegram TelegramConfig
	Discord  DiscordConfig
	WhatsApp WhatsAppConfig

	ProfileFile string
	Profile     Profile
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_BACKEND", "redis")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("SESSION_TTL", "3600")
	v.SetDefault("MAX_SESSION_MESSAGES", 20)
	v.SetDefault("CONTEXT_TURNS", 10)
	v.SetDefault("SERIALIZE_SESSIONS", true)

	v.SetDefault("BACKEND_TEMPERATURE", 0.7)
	v.SetDefault("BACKEND_TIMEOUT", "60s")
	v.SetDefault("OUTBOUND_TIMEOUT", "10s")
	v.SetDefault("OUTBOUND_RETRY_ATTEMPTS", 1)
	v.SetDefault("OUTBOUND_RETRY_BACKOFF", "500ms")

	v.SetDefault("TELEGRAM_MODE", "polling")
	v.SetDefault("TELEGRAM_POLL_TIMEOUT", "30s")
	v.SetDefault("TELEGRAM_API_BASE_URL", "https://api.telegram.org")

	v.SetDefault("WHATSAPP_API_VERSION", "v18.0")
	v.SetDefault("WHATSAPP_PREFERRED_METHOD", "auto")
	v.SetDefault("WHATSAPP_WEB_HEADLESS", true)
	v.SetDefault("WHATSAPP_WEB_POLL_INTERVAL", "3s")
}

// New returns a viper instance with defaults applied and environment
// lookup enabled. A .env file in the working directory is loaded first
// when present.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return v
}

// Load reads Config from v. Flags bound to v take precedence over env.
func Load(v *viper.Viper) (Config, error) {
	var errs []error
	dur := func(key string) time.Duration {
		d, err := parseDuration(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	str := func(key string) string { return strings.TrimSpace(v.GetString(key)) }

	cfg := Config{
		Port:      v.GetInt("PORT"),
		LogLevel:  strings.ToLower(str("LOG_LEVEL")),
		LogFormat: strings.ToLower(str("LOG_FORMAT")),
		Store: StoreConfig{
			Backend:     strings.ToLower(str("STORE_BACKEND")),
			RedisURL:    str("REDIS_URL"),
			DatabaseURL: str("DATABASE_URL"),
			TTL:         dur("SESSION_TTL"),
			MaxTurns:    v.GetInt("MAX_SESSION_MESSAGES"),
		},
		ContextTurns:      v.GetInt("CONTEXT_TURNS"),
		SerializeSessions: v.GetBool("SERIALIZE_SESSIONS"),
		Backend: BackendConfig{
			BaseURL:     str("BACKEND_BASE_URL"),
			APIKey:      str("BACKEND_API_KEY"),
			Model:       str("BACKEND_MODEL"),
			Temperature: v.GetFloat64("BACKEND_TEMPERATURE"),
			Timeout:     dur("BACKEND_TIMEOUT"),
		},
		Outbound: OutboundConfig{
			Timeout:       dur("OUTBOUND_TIMEOUT"),
			RetryAttempts: v.GetInt("OUTBOUND_RETRY_ATTEMPTS"),
			RetryBackoff:  dur("OUTBOUND_RETRY_BACKOFF"),
		},
		Telegram: TelegramConfig{
			Token:         str("TELEGRAM_BOT_TOKEN"),
			Mode:          strings.ToLower(str("TELEGRAM_MODE")),
			WebhookSecret: str("TELEGRAM_WEBHOOK_SECRET"),
			PollTimeout:   dur("TELEGRAM_POLL_TIMEOUT"),
			APIBaseURL:    str("TELEGRAM_API_BASE_URL"),
		},
		Discord: DiscordConfig{
			Token:     str("DISCORD_BOT_TOKEN"),
			GuildID:   str("DISCORD_GUILD_ID"),
			ChannelID: str("DISCORD_CHANNEL_ID"),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:     str("WHATSAPP_ACCESS_TOKEN"),
			PhoneNumberID:   str("WHATSAPP_PHONE_NUMBER_ID"),
			VerifyToken:     str("WHATSAPP_VERIFY_TOKEN"),
			APIVersion:      str("WHATSAPP_API_VERSION"),
			PreferredMethod: strings.ToLower(str("WHATSAPP_PREFERRED_METHOD")),
			WebDebuggerURL:  str("WHATSAPP_WEB_DEBUGGER_URL"),
			WebHeadless:     v.GetBool("WHATSAPP_WEB_HEADLESS"),
			WebPollInterval: dur("WHATSAPP_WEB_POLL_INTERVAL"),
			WebUserDataDir:  str("WHATSAPP_WEB_USER_DATA_DIR"),
		},
		ProfileFile: str("RELAY_PROFILE_FILE"),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if cfg.ProfileFile != "" {
		p, err := LoadProfile(cfg.ProfileFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Profile = p
	}
	return cfg, nil
}

// LoadProfile parses a YAML profile. Unknown keys are rejected.
func LoadProfile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return p, nil
}

// parseDuration accepts Go duration strings and bare integers as seconds.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}

func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be in 1..65535, got %d", c.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug|info|warn|error", c.LogLevel))
	}

	switch c.Store.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of redis|postgres|memory", c.Store.Backend))
	}
	if c.Store.MaxTurns <= 0 {
		errs = append(errs, errors.New("MAX_SESSION_MESSAGES must be positive"))
	}
	if c.Store.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.ContextTurns <= 0 {
		errs = append(errs, errors.New("CONTEXT_TURNS must be positive"))
	}

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	}
	if c.Backend.Model == "" {
		errs = append(errs, errors.New("BACKEND_MODEL is required"))
	}
	if c.Outbound.RetryAttempts < 1 {
		errs = append(errs, errors.New("OUTBOUND_RETRY_ATTEMPTS must be at least 1"))
	}

	if c.Telegram.Token != "" && c.Telegram.Mode != "polling" && c.Telegram.Mode != "webhook" {
		errs = append(errs, fmt.Errorf("TELEGRAM_MODE %q is not one of polling|webhook", c.Telegram.Mode))
	}
	if c.WhatsApp.AccessToken != "" && c.WhatsApp.VerifyToken == "" {
		errs = append(errs, errors.New("WHATSAPP_VERIFY_TOKEN is required with WHATSAPP_ACCESS_TOKEN"))
	}
	switch c.WhatsApp.PreferredMethod {
	case "auto", "api", "web":
	default:
		errs = append(errs, fmt.Errorf("WHATSAPP_PREFERRED_METHOD %q is not one of auto|api|web", c.WhatsApp.PreferredMethod))
	}

	for platform, patterns := range c.Profile.Triggers {
		for _, p := range patterns {
			if _, err := regexp.Compile("(?i)" + p); err != nil {
				errs = append(errs, fmt.Errorf("trigger %s %q: %w", platform, p, err))
			}
		}
	}

	return errors.Join(errs...)
}

// WhatsAppAPIEnabled reports whether the Business API transport is configured.
func (c Config) WhatsAppAPIEnabled() bool {
	return c.WhatsApp.AccessToken != "" && c.WhatsApp.PhoneNumberID != ""
}

// WhatsAppTransport resolves the preferred method: auto picks the Business
// API when it is configured, otherwise WhatsApp Web. It returns "" when
// neither transport can run.
func (c Config) WhatsAppTransport() string {
	web := c.WhatsApp.WebDebuggerURL != "" || c.WhatsApp.WebUserDataDir != ""
	switch c.WhatsApp.PreferredMethod {
	case "api":
		if c.WhatsAppAPIEnabled() {
			return "api"
		}
	case "web":
		if web {
			return "web"
		}
	default:
		if c.WhatsAppAPIEnabled() {
			return "api"
		}
		if web {
			return "web"
		}
	}
	return ""
}
