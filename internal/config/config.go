// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Target() TargetConfig
	Session() SessionConfig
	Timeouts() TimeoutConfig
	Retry() RetryConfig
	Delivery() DeliveryConfig
	Artifacts() ArtifactsConfig

	// Browser Setters
	SetBrowserHeadless(bool)

	// Delivery Setters
	SetDeliveryConfirmStrict(bool)

	// Retry Setters
	SetRetryMaxAttempts(int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	TargetCfg    TargetConfig    `mapstructure:"target" yaml:"target"`
	SessionCfg   SessionConfig   `mapstructure:"session" yaml:"session"`
	TimeoutsCfg  TimeoutConfig   `mapstructure:"timeouts" yaml:"timeouts"`
	RetryCfg     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	DeliveryCfg  DeliveryConfig  `mapstructure:"delivery" yaml:"delivery"`
	ArtifactsCfg ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Target() TargetConfig       { return c.TargetCfg }
func (c *Config) Session() SessionConfig     { return c.SessionCfg }
func (c *Config) Timeouts() TimeoutConfig    { return c.TimeoutsCfg }
func (c *Config) Retry() RetryConfig         { return c.RetryCfg }
func (c *Config) Delivery() DeliveryConfig   { return c.DeliveryCfg }
func (c *Config) Artifacts() ArtifactsConfig { return c.ArtifactsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)       { c.BrowserCfg.Headless = b }
func (c *Config) SetDeliveryConfirmStrict(b bool) { c.DeliveryCfg.ConfirmStrict = b }
func (c *Config) SetRetryMaxAttempts(n int)       { c.RetryCfg.MaxAttempts = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// TargetConfig describes the messaging web client being driven.
type TargetConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// ChatLabels are the localized captions of the chat list header. Any of them
	// showing up counts as evidence of a logged-in UI.
	ChatLabels []string `mapstructure:"chat_labels" yaml:"chat_labels"`
}

// SessionConfig controls where authenticated browser state is persisted and for how long.
type SessionConfig struct {
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	Identity string        `mapstructure:"identity" yaml:"identity"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// TimeoutConfig groups every wait budget. Nothing waits without one of these.
type TimeoutConfig struct {
	Navigation time.Duration `mapstructure:"navigation" yaml:"navigation"`
	// Bootstrap is the long budget for a human to scan the QR code.
	Bootstrap time.Duration `mapstructure:"bootstrap" yaml:"bootstrap"`
	// SteadyState bounds the single post-navigation login check.
	SteadyState time.Duration `mapstructure:"steady_state" yaml:"steady_state"`
	// Attempt bounds one login check inside the retry loop.
	Attempt time.Duration `mapstructure:"attempt" yaml:"attempt"`
	// Element bounds waits for individual controls (search box, compose box, results).
	Element  time.Duration `mapstructure:"element" yaml:"element"`
	Delivery time.Duration `mapstructure:"delivery" yaml:"delivery"`
	// Settle is the fixed pause after typing a search query. The client renders
	// results asynchronously without a completion signal, so this is an approximation.
	Settle time.Duration `mapstructure:"settle" yaml:"settle"`
	// ClickSettle is the pause after focusing or opening something.
	ClickSettle time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
	// PostNavigationSettle is the pause between navigation and the first login check.
	PostNavigationSettle time.Duration `mapstructure:"post_navigation_settle" yaml:"post_navigation_settle"`
	// PollInterval is how often a probe re-checks its condition.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// RetryConfig is the policy applied to the post-navigation login check.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay" yaml:"delay"`
}

// DeliveryConfig selects the delivery confirmation policy.
type DeliveryConfig struct {
	ConfirmStrict bool `mapstructure:"confirm_strict" yaml:"confirm_strict"`
}

// ArtifactsConfig controls where diagnostic screenshots land.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "courier")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	// The QR code has to be scanned by a person, so the window is visible by default.
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 720})

	// -- Target --
	v.SetDefault("target.url", "https://web.whatsapp.com/")
	v.SetDefault("target.chat_labels", []string{"Chats", "Percakapan"})

	// -- Session --
	v.SetDefault("session.dir", "test-results")
	v.SetDefault("session.identity", "whatsapp")
	v.SetDefault("session.max_age", "24h")

	// -- Timeouts --
	v.SetDefault("timeouts.navigation", "60s")
	v.SetDefault("timeouts.bootstrap", "120s")
	v.SetDefault("timeouts.steady_state", "15s")
	v.SetDefault("timeouts.attempt", "10s")
	v.SetDefault("timeouts.element", "10s")
	v.SetDefault("timeouts.delivery", "10s")
	v.SetDefault("timeouts.settle", "2s")
	v.SetDefault("timeouts.click_settle", "1s")
	v.SetDefault("timeouts.post_navigation_settle", "3s")
	v.SetDefault("timeouts.poll_interval", "250ms")

	// -- Retry --
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay", "2s")

	// -- Delivery --
	v.SetDefault("delivery.confirm_strict", true)

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "test-results")
}

// EnvPrefix is prepended to every environment override, e.g. COURIER_SESSION_DIR.
const EnvPrefix = "COURIER"

// BindEnv makes every known key overridable from the environment.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper creates a new configuration instance from a viper object.
// Environment variables take precedence over values from a config file.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading "~" in every filesystem path setting.
func (c *Config) ExpandPaths() error {
	paths := []*string{&c.SessionCfg.Dir, &c.ArtifactsCfg.Dir, &c.LoggerCfg.LogFile, &c.BrowserCfg.ExecPath}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.TargetCfg.URL == "" {
		return fmt.Errorf("target.url is a required configuration field")
	}
	for _, label := range c.TargetCfg.ChatLabels {
		if label == "" {
			return fmt.Errorf("target.chat_labels must not contain empty labels")
		}
	}
	if c.SessionCfg.Dir == "" || c.SessionCfg.Identity == "" {
		return fmt.Errorf("session.dir and session.identity are required")
	}
	if c.SessionCfg.MaxAge <= 0 {
		return fmt.Errorf("session.max_age must be a positive duration")
	}
	if err := c.TimeoutsCfg.Validate(); err != nil {
		return fmt.Errorf("timeouts configuration invalid: %w", err)
	}
	if err := c.RetryCfg.Validate(); err != nil {
		return fmt.Errorf("retry configuration invalid: %w", err)
	}
	return nil
}

// Validate checks that every wait budget is usable.
func (t *TimeoutConfig) Validate() error {
	positive := map[string]time.Duration{
		"navigation":    t.Navigation,
		"bootstrap":     t.Bootstrap,
		"steady_state":  t.SteadyState,
		"attempt":       t.Attempt,
		"element":       t.Element,
		"delivery":      t.Delivery,
		"poll_interval": t.PollInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	settles := map[string]time.Duration{
		"settle":                 t.Settle,
		"click_settle":           t.ClickSettle,
		"post_navigation_settle": t.PostNavigationSettle,
	}
	for name, d := range settles {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if t.Bootstrap < t.SteadyState {
		return fmt.Errorf("bootstrap (%s) must not be shorter than steady_state (%s)", t.Bootstrap, t.SteadyState)
	}
	return nil
}

// Validate checks the RetryConfig settings.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if r.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	return nil
}
