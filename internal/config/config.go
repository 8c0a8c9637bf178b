package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultAPIListen    = ":8080"
	defaultHealthPath   = "/healthz"
	defaultReadyPath    = "/readyz"
	defaultMaxBodyBytes = 1 << 20

	defaultNATSURL           = "nats://127.0.0.1:4222"
	defaultAlertBucket       = "alerts"
	defaultSequenceBucket    = "alert_seq"
	defaultDeferredSubject   = "healthalert.deferred"
	defaultDeferredStream    = "HEALTHALERT_DEFERRED"
	defaultDeferredConsumer  = "healthalert-deferred"
	defaultDeferredGroup     = "healthalert-workers"
	defaultDispatchWorkers   = 16
	defaultRetryMaxAttempts  = 3
	defaultRetryInitialMS    = 500
	defaultRetryMaxMS        = 10000
	defaultRatePerSecond     = 10.0
	defaultRateBurst         = 5
	defaultEscalationScanSec = 30
	defaultScheduleScanSec   = 15
	defaultGraceSec          = 1800
	defaultChannelTimeoutSec = 10

	// ServiceModeSingle keeps in-process state without NATS dependencies.
	ServiceModeSingle = "single"
	// ServiceModeNATS keeps JetStream-backed state and deferred queue.
	ServiceModeNATS = "nats"
)

// Config holds engine runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service    ServiceConfig    `toml:"service"`
	Log        LogConfig        `toml:"log"`
	API        APIConfig        `toml:"api"`
	Store      StoreConfig      `toml:"store"`
	Directory  DirectoryConfig  `toml:"directory"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Channels   ChannelsConfig   `toml:"channels"`
	Escalation EscalationConfig `toml:"escalation"`
	Template   []TemplateConfig `toml:"template"`
}

// ServiceConfig contains process-level settings.
// Params: name, mode, and background scan intervals.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name              string `toml:"name"`
	Mode              string `toml:"mode"`
	EscalationScanSec int    `toml:"escalation_scan_sec"`
	ScheduleScanSec   int    `toml:"schedule_scan_sec"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// APIConfig configures the HTTP API surface.
// Params: listen address, operational paths, and body size limit.
// Returns: API runtime options.
type APIConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// StoreConfig contains alert persistence backend settings.
// Params: NATS URL and KV bucket names for nats mode.
// Returns: store backend options.
type StoreConfig struct {
	URL                []string `toml:"url"`
	AlertBucket        string   `toml:"alert_bucket"`
	SequenceBucket     string   `toml:"sequence_bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// DirectoryConfig seeds the static identity directory.
// Params: inline user records for single mode and tests.
// Returns: directory seed data.
type DirectoryConfig struct {
	User []UserConfig `toml:"user"`
}

// UserConfig is one seeded directory user.
// Params: identity, contacts, location, channel and quiet-hours preferences.
// Returns: directory user record.
type UserConfig struct {
	ID                string            `toml:"id"`
	Name              string            `toml:"name"`
	Role              string            `toml:"role"`
	Active            bool              `toml:"active"`
	Phone             string            `toml:"phone"`
	Email             string            `toml:"email"`
	PushToken         string            `toml:"push_token"`
	ChatID            string            `toml:"chat_id"`
	Village           string            `toml:"village"`
	Block             string            `toml:"block"`
	District          string            `toml:"district"`
	PreferredChannels []string          `toml:"preferred_channels"`
	QuietEnabled      bool              `toml:"quiet_enabled"`
	QuietStart        string            `toml:"quiet_start"`
	QuietEnd          string            `toml:"quiet_end"`
	Attributes        map[string]string `toml:"attributes"`
}

// DispatchConfig controls the delivery worker pool and retry policy.
// Params: pool size, retry policy, per-channel rate limits, deferred queue.
// Returns: dispatcher runtime options.
type DispatchConfig struct {
	Workers  int                        `toml:"workers"`
	Retry    RetryConfig                `toml:"retry"`
	Rate     map[string]RateLimitConfig `toml:"rate"`
	Deferred DeferredConfig             `toml:"deferred"`
}

// RetryConfig defines bounded exponential retry for transient failures.
// Params: attempt ceiling and backoff bounds in milliseconds.
// Returns: retry policy shared by all channels.
type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	InitialMS   int `toml:"initial_ms"`
	MaxMS       int `toml:"max_ms"`
}

// RateLimitConfig is one per-channel token bucket.
// Params: sustained rate and burst size.
// Returns: adapter throttle settings.
type RateLimitConfig struct {
	PerSecond float64 `toml:"per_second"`
	Burst     int     `toml:"burst"`
}

// DeferredConfig configures the deferred-delivery queue.
// Params: JetStream subject/stream names for nats mode.
// Returns: deferred queue options.
type DeferredConfig struct {
	Subject      string `toml:"-"`
	Stream       string `toml:"-"`
	ConsumerName string `toml:"-"`
	DeliverGroup string `toml:"-"`
	MaxAckWait   int    `toml:"ack_wait_sec"`
}

// ChannelsConfig groups all channel adapter settings.
// Params: one section per delivery medium.
// Returns: adapter construction options.
type ChannelsConfig struct {
	SMS   GatewayChannelConfig `toml:"sms"`
	Voice GatewayChannelConfig `toml:"voice"`
	Push  GatewayChannelConfig `toml:"push"`
	Email EmailChannelConfig   `toml:"email"`
	Chat  ChatChannelConfig    `toml:"chat"`
}

// GatewayChannelConfig configures one HTTP gateway channel.
// Params: endpoint, method, headers, and timeout.
// Returns: gateway adapter settings.
type GatewayChannelConfig struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	Headers    map[string]string `toml:"headers"`
	TimeoutSec int               `toml:"timeout_sec"`
}

// EmailChannelConfig configures the email provider.
// Params: API key and sender address.
// Returns: email adapter settings.
type EmailChannelConfig struct {
	Enabled    bool   `toml:"enabled"`
	APIKey     string `toml:"api_key"`
	From       string `toml:"from"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// ChatChannelConfig configures the chat bot transport.
// Params: bot token and optional API base override.
// Returns: chat adapter settings.
type ChatChannelConfig struct {
	Enabled    bool   `toml:"enabled"`
	BotToken   string `toml:"bot_token"`
	APIBase    string `toml:"api_base"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// EscalationConfig controls automatic escalation policy.
// Params: enable flag, grace period, minimum priority, hierarchy levels.
// Returns: escalation engine options.
type EscalationConfig struct {
	AutoEnabled bool                    `toml:"auto_enabled"`
	GraceSec    int                     `toml:"grace_sec"`
	MinPriority string                  `toml:"min_priority"`
	Level       []EscalationLevelConfig `toml:"level"`
}

// EscalationLevelConfig is one hierarchy level for automatic escalation.
// Params: role set receiving alerts escalated to this level.
// Returns: level targeting definition.
type EscalationLevelConfig struct {
	Roles []string `toml:"roles"`
}

// TemplateConfig overrides one (alert type, channel) template.
// Params: selector keys plus subject/body template text.
// Returns: renderer template override.
type TemplateConfig struct {
	AlertType string `toml:"alert_type"`
	Channel   string `toml:"channel"`
	Subject   string `toml:"subject"`
	Body      string `toml:"body"`
}

// GracePeriod returns the acknowledgment grace window.
// Params: none.
// Returns: configured grace period duration.
func (e EscalationConfig) GracePeriod() time.Duration {
	return time.Duration(e.GraceSec) * time.Second
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		err = decodeInto(&cfg, src.File)
	} else {
		err = loadDir(&cfg, src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeInto decodes one TOML file over the current snapshot.
// Params: target config and file path.
// Returns: read or decode error.
func decodeInto(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode config %q: %w", path, err)
	}
	return nil
}

// loadDir overlays TOML fragments from directory in name order.
// Params: target config and directory path.
// Returns: read or decode error for any fragment.
func loadDir(cfg *Config, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read config dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return fmt.Errorf("config dir %q contains no toml fragments", dir)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := decodeInto(cfg, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDefaults fills zero-value settings with documented defaults.
// Params: decoded config snapshot.
// Returns: none (mutates snapshot in place).
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = "healthalert"
	}
	if strings.TrimSpace(cfg.Service.Mode) == "" {
		cfg.Service.Mode = ServiceModeSingle
	}
	if cfg.Service.EscalationScanSec <= 0 {
		cfg.Service.EscalationScanSec = defaultEscalationScanSec
	}
	if cfg.Service.ScheduleScanSec <= 0 {
		cfg.Service.ScheduleScanSec = defaultScheduleScanSec
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if strings.TrimSpace(cfg.Log.Console.Level) == "" {
		cfg.Log.Console.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Console.Format) == "" {
		cfg.Log.Console.Format = "text"
	}
	if strings.TrimSpace(cfg.Log.File.Level) == "" {
		cfg.Log.File.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.File.Format) == "" {
		cfg.Log.File.Format = "json"
	}

	if strings.TrimSpace(cfg.API.Listen) == "" {
		cfg.API.Listen = defaultAPIListen
	}
	if strings.TrimSpace(cfg.API.HealthPath) == "" {
		cfg.API.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.API.ReadyPath) == "" {
		cfg.API.ReadyPath = defaultReadyPath
	}
	if cfg.API.MaxBodyBytes <= 0 {
		cfg.API.MaxBodyBytes = defaultMaxBodyBytes
	}

	if len(cfg.Store.URL) == 0 {
		cfg.Store.URL = []string{defaultNATSURL}
	}
	if strings.TrimSpace(cfg.Store.AlertBucket) == "" {
		cfg.Store.AlertBucket = defaultAlertBucket
	}
	if strings.TrimSpace(cfg.Store.SequenceBucket) == "" {
		cfg.Store.SequenceBucket = defaultSequenceBucket
	}

	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = defaultDispatchWorkers
	}
	if cfg.Dispatch.Retry.MaxAttempts <= 0 {
		cfg.Dispatch.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if cfg.Dispatch.Retry.InitialMS <= 0 {
		cfg.Dispatch.Retry.InitialMS = defaultRetryInitialMS
	}
	if cfg.Dispatch.Retry.MaxMS <= 0 {
		cfg.Dispatch.Retry.MaxMS = defaultRetryMaxMS
	}
	if cfg.Dispatch.Rate == nil {
		cfg.Dispatch.Rate = make(map[string]RateLimitConfig)
	}
	for _, channel := range []string{"sms", "email", "push", "chat", "voice"} {
		limit := cfg.Dispatch.Rate[channel]
		if limit.PerSecond <= 0 {
			limit.PerSecond = defaultRatePerSecond
		}
		if limit.Burst <= 0 {
			limit.Burst = defaultRateBurst
		}
		cfg.Dispatch.Rate[channel] = limit
	}
	cfg.Dispatch.Deferred.Subject = defaultDeferredSubject
	cfg.Dispatch.Deferred.Stream = defaultDeferredStream
	cfg.Dispatch.Deferred.ConsumerName = defaultDeferredConsumer
	cfg.Dispatch.Deferred.DeliverGroup = defaultDeferredGroup
	if cfg.Dispatch.Deferred.MaxAckWait <= 0 {
		cfg.Dispatch.Deferred.MaxAckWait = 30
	}

	applyChannelDefaults(&cfg.Channels)

	if cfg.Escalation.GraceSec <= 0 {
		cfg.Escalation.GraceSec = defaultGraceSec
	}
	if strings.TrimSpace(cfg.Escalation.MinPriority) == "" {
		cfg.Escalation.MinPriority = "urgent"
	}
}

// applyChannelDefaults fills channel timeout and method defaults.
// Params: channels section.
// Returns: none (mutates section in place).
func applyChannelDefaults(channels *ChannelsConfig) {
	for _, gateway := range []*GatewayChannelConfig{&channels.SMS, &channels.Voice, &channels.Push} {
		if gateway.TimeoutSec <= 0 {
			gateway.TimeoutSec = defaultChannelTimeoutSec
		}
		if strings.TrimSpace(gateway.Method) == "" {
			gateway.Method = "POST"
		}
	}
	if channels.Email.TimeoutSec <= 0 {
		channels.Email.TimeoutSec = defaultChannelTimeoutSec
	}
	if channels.Chat.TimeoutSec <= 0 {
		channels.Chat.TimeoutSec = defaultChannelTimeoutSec
	}
}

// Validate checks config snapshot consistency.
// Params: config with defaults applied.
// Returns: first validation error.
func Validate(cfg Config) error {
	switch cfg.Service.Mode {
	case ServiceModeSingle, ServiceModeNATS:
	default:
		return fmt.Errorf("service.mode must be %q or %q", ServiceModeSingle, ServiceModeNATS)
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		return errors.New("at least one log sink must be enabled")
	}
	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when file sink is enabled")
	}

	if cfg.Channels.SMS.Enabled && strings.TrimSpace(cfg.Channels.SMS.URL) == "" {
		return errors.New("channels.sms.url is required when sms is enabled")
	}
	if cfg.Channels.Voice.Enabled && strings.TrimSpace(cfg.Channels.Voice.URL) == "" {
		return errors.New("channels.voice.url is required when voice is enabled")
	}
	if cfg.Channels.Push.Enabled && strings.TrimSpace(cfg.Channels.Push.URL) == "" {
		return errors.New("channels.push.url is required when push is enabled")
	}
	if cfg.Channels.Email.Enabled {
		if strings.TrimSpace(cfg.Channels.Email.APIKey) == "" {
			return errors.New("channels.email.api_key is required when email is enabled")
		}
		if strings.TrimSpace(cfg.Channels.Email.From) == "" {
			return errors.New("channels.email.from is required when email is enabled")
		}
	}
	if cfg.Channels.Chat.Enabled && strings.TrimSpace(cfg.Channels.Chat.BotToken) == "" {
		return errors.New("channels.chat.bot_token is required when chat is enabled")
	}

	switch cfg.Escalation.MinPriority {
	case "low", "medium", "high", "urgent", "emergency":
	default:
		return fmt.Errorf("escalation.min_priority %q is not a priority level", cfg.Escalation.MinPriority)
	}
	for i, level := range cfg.Escalation.Level {
		if len(level.Roles) == 0 {
			return fmt.Errorf("escalation.level[%d] requires roles", i)
		}
	}

	seenUsers := make(map[string]struct{}, len(cfg.Directory.User))
	for i, user := range cfg.Directory.User {
		if strings.TrimSpace(user.ID) == "" {
			return fmt.Errorf("directory.user[%d] requires id", i)
		}
		if _, dup := seenUsers[user.ID]; dup {
			return fmt.Errorf("directory.user id %q is duplicated", user.ID)
		}
		seenUsers[user.ID] = struct{}{}
		if user.QuietEnabled {
			if _, err := ParseClock(user.QuietStart); err != nil {
				return fmt.Errorf("directory.user %q quiet_start: %w", user.ID, err)
			}
			if _, err := ParseClock(user.QuietEnd); err != nil {
				return fmt.Errorf("directory.user %q quiet_end: %w", user.ID, err)
			}
		}
	}

	for i, tpl := range cfg.Template {
		if strings.TrimSpace(tpl.Channel) == "" || strings.TrimSpace(tpl.AlertType) == "" {
			return fmt.Errorf("template[%d] requires alert_type and channel", i)
		}
		if strings.TrimSpace(tpl.Body) == "" {
			return fmt.Errorf("template[%d] requires body", i)
		}
	}

	return nil
}

// ParseClock parses "HH:MM" wall-clock into minutes since midnight.
// Params: clock string from quiet-hours settings.
// Returns: minute offset in [0,1440) or parse error.
func ParseClock(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	parsed, err := time.Parse("15:04", trimmed)
	if err != nil {
		return 0, fmt.Errorf("clock value %q must be HH:MM", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// NormalizeServiceMode lowercases and trims mode value.
// Params: raw mode string.
// Returns: normalized mode key.
func NormalizeServiceMode(mode string) string {
	return strings.ToLower(strings.TrimSpace(mode))
}
