// Package config loads and validates bidwatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Auth     AuthConfig        `mapstructure:"auth"`
	Monitor  MonitorConfig     `mapstructure:"monitor"`
	Keywords KeywordsConfig    `mapstructure:"keywords"`
	HTTP     HTTPConfig        `mapstructure:"http"`
	Headless HeadlessConfig    `mapstructure:"headless"`
	Storage  StorageConfig     `mapstructure:"storage"`
	AI       AIConfig          `mapstructure:"ai"`
	Channels ChannelsConfig    `mapstructure:"channels"`
	SMS      AliyunSMSConfig   `mapstructure:"sms"`
	Voice    AliyunVoiceConfig `mapstructure:"voice"`
	Notify   NotifyConfig      `mapstructure:"notify"`
	Contacts []monitor.Contact `mapstructure:"contacts"`
	Sites    []monitor.Site    `mapstructure:"custom_sites"`
	Logging  LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MonitorConfig governs the monitoring loop.
type MonitorConfig struct {
	IntervalMinutes int      `mapstructure:"interval_minutes"`
	EnabledSites    []string `mapstructure:"enabled_sites"`
	UseBrowser      bool     `mapstructure:"use_browser"`
	AutoStart       bool     `mapstructure:"auto_start"`
}

// KeywordsConfig defines the keyword matching policy.
type KeywordsConfig struct {
	Include     []string `mapstructure:"include"`
	Exclude     []string `mapstructure:"exclude"`
	MustContain []string `mapstructure:"must_contain"`
}

// HTTPConfig configures the plain fetch engine.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	DelaySeconds   int    `mapstructure:"delay_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	InsecureTLS    bool   `mapstructure:"insecure_tls"`
}

// HeadlessConfig configures the browser fetch engine.
type HeadlessConfig struct {
	NavTimeoutSec  int `mapstructure:"nav_timeout_seconds"`
	SettleDelaySec int `mapstructure:"settle_delay_seconds"`
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// AIConfig configures the optional relevance guard.
type AIConfig struct {
	Enable         bool   `mapstructure:"enable"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Prompt         string `mapstructure:"prompt"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ChannelsConfig toggles notification channels.
type ChannelsConfig struct {
	Email bool `mapstructure:"email"`
	SMS   bool `mapstructure:"sms"`
	Voice bool `mapstructure:"voice"`
	Chat  bool `mapstructure:"chat"`
}

// AliyunSMSConfig holds Aliyun SMS credentials and template metadata.
type AliyunSMSConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	SignName        string `mapstructure:"sign_name"`
	TemplateCode    string `mapstructure:"template_code"`
}

// AliyunVoiceConfig holds Aliyun voice-call settings.
type AliyunVoiceConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	TtsCode         string `mapstructure:"tts_code"`
	CalledShowNum   string `mapstructure:"called_show_number"`
}

// NotifyConfig tunes the dispatcher.
type NotifyConfig struct {
	BatchCap       int `mapstructure:"batch_cap"`
	VoiceDelaySecs int `mapstructure:"voice_delay_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitor.interval_minutes", 30)
	v.SetDefault("monitor.enabled_sites", []string{"ccgp"})
	v.SetDefault("monitor.use_browser", false)
	v.SetDefault("monitor.auto_start", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.delay_seconds", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_seconds", 2)
	v.SetDefault("storage.provider", "sqlite")
	v.SetDefault("storage.dsn", "bidwatch.db")
	v.SetDefault("ai.timeout_seconds", 30)
	v.SetDefault("channels.email", true)
	v.SetDefault("notify.batch_cap", 10)
	v.SetDefault("notify.voice_delay_seconds", 3)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Monitor.IntervalMinutes <= 0 {
		return fmt.Errorf("monitor.interval_minutes must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Storage.Provider {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("storage.provider must be sqlite, postgres or memory, got %q", c.Storage.Provider)
	}
	if c.Storage.Provider != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn must be set for provider %q", c.Storage.Provider)
	}
	if c.AI.Enable && c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key must be set when the guard is enabled")
	}
	if c.Auth.Enabled && (c.Auth.Username == "" || c.Auth.Password == "") {
		return fmt.Errorf("auth.username and auth.password must be set when auth is enabled")
	}
	if c.Channels.SMS && (c.SMS.AccessKeyID == "" || c.SMS.AccessKeySecret == "") {
		return fmt.Errorf("sms credentials must be set when the sms channel is enabled")
	}
	if c.Channels.Voice && (c.Voice.AccessKeyID == "" || c.Voice.AccessKeySecret == "" || c.Voice.TtsCode == "") {
		return fmt.Errorf("voice credentials and tts_code must be set when the voice channel is enabled")
	}
	return nil
}

// Save writes the configuration to path so operator edits made through the
// control surface survive a restart. The format follows the file extension.
func (c Config) Save(path string) error {
	v := viper.New()
	v.Set("server.port", c.Server.Port)
	v.Set("auth.enabled", c.Auth.Enabled)
	v.Set("auth.username", c.Auth.Username)
	v.Set("auth.password", c.Auth.Password)
	v.Set("monitor.interval_minutes", c.Monitor.IntervalMinutes)
	v.Set("monitor.enabled_sites", c.Monitor.EnabledSites)
	v.Set("monitor.use_browser", c.Monitor.UseBrowser)
	v.Set("monitor.auto_start", c.Monitor.AutoStart)
	v.Set("keywords.include", c.Keywords.Include)
	v.Set("keywords.exclude", c.Keywords.Exclude)
	v.Set("keywords.must_contain", c.Keywords.MustContain)
	v.Set("http.timeout_seconds", c.HTTP.TimeoutSeconds)
	v.Set("http.max_attempts", c.HTTP.MaxAttempts)
	v.Set("http.delay_seconds", c.HTTP.DelaySeconds)
	v.Set("http.user_agent", c.HTTP.UserAgent)
	v.Set("http.insecure_tls", c.HTTP.InsecureTLS)
	v.Set("headless.nav_timeout_seconds", c.Headless.NavTimeoutSec)
	v.Set("headless.settle_delay_seconds", c.Headless.SettleDelaySec)
	v.Set("storage.provider", c.Storage.Provider)
	v.Set("storage.dsn", c.Storage.DSN)
	v.Set("ai.enable", c.AI.Enable)
	v.Set("ai.base_url", c.AI.BaseURL)
	v.Set("ai.api_key", c.AI.APIKey)
	v.Set("ai.model", c.AI.Model)
	v.Set("ai.prompt", c.AI.Prompt)
	v.Set("ai.timeout_seconds", c.AI.TimeoutSeconds)
	v.Set("channels.email", c.Channels.Email)
	v.Set("channels.sms", c.Channels.SMS)
	v.Set("channels.voice", c.Channels.Voice)
	v.Set("channels.chat", c.Channels.Chat)
	v.Set("sms.access_key_id", c.SMS.AccessKeyID)
	v.Set("sms.access_key_secret", c.SMS.AccessKeySecret)
	v.Set("sms.sign_name", c.SMS.SignName)
	v.Set("sms.template_code", c.SMS.TemplateCode)
	v.Set("voice.access_key_id", c.Voice.AccessKeyID)
	v.Set("voice.access_key_secret", c.Voice.AccessKeySecret)
	v.Set("voice.tts_code", c.Voice.TtsCode)
	v.Set("voice.called_show_number", c.Voice.CalledShowNum)
	v.Set("notify.batch_cap", c.Notify.BatchCap)
	v.Set("notify.voice_delay_seconds", c.Notify.VoiceDelaySecs)
	v.Set("contacts", contactMaps(c.Contacts))
	v.Set("custom_sites", siteMaps(c.Sites))
	v.Set("logging.development", c.Logging.Development)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// contactMaps renders contacts with the same keys Load reads, since the
// writer does not honor mapstructure tags on structs.
func contactMaps(contacts []monitor.Contact) []map[string]any {
	out := make([]map[string]any, len(contacts))
	for i, c := range contacts {
		out[i] = map[string]any{
			"name":           c.Name,
			"enabled":        c.Enabled,
			"email":          c.Email,
			"email_password": c.EmailPassword,
			"email_type":     c.EmailType,
			"phone":          c.Phone,
			"chat_token":     c.ChatToken,
		}
	}
	return out
}

func siteMaps(sites []monitor.Site) []map[string]any {
	out := make([]map[string]any, len(sites))
	for i, s := range sites {
		out[i] = map[string]any{"name": s.Name, "url": s.URL}
	}
	return out
}

// Interval returns the monitoring interval as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Monitor.IntervalMinutes) * time.Minute
}

// MatchPolicy converts the keyword configuration to a matching policy.
func (c Config) MatchPolicy() monitor.MatchPolicy {
	return monitor.MatchPolicy{
		Include:     c.Keywords.Include,
		Exclude:     c.Keywords.Exclude,
		MustContain: c.Keywords.MustContain,
	}
}
