// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.False(t, cfg.Browser().Headless, "login needs a visible window for the QR code")
	assert.Equal(t, 1280, cfg.Browser().Viewport["width"])
	assert.Equal(t, 720, cfg.Browser().Viewport["height"])
	assert.Equal(t, "https://web.whatsapp.com/", cfg.Target().URL)
	assert.Equal(t, []string{"Chats", "Percakapan"}, cfg.Target().ChatLabels)
	assert.Equal(t, 24*time.Hour, cfg.Session().MaxAge)
	assert.Equal(t, 60*time.Second, cfg.Timeouts().Navigation)
	assert.Equal(t, 120*time.Second, cfg.Timeouts().Bootstrap)
	assert.Equal(t, 15*time.Second, cfg.Timeouts().SteadyState)
	assert.Equal(t, 10*time.Second, cfg.Timeouts().Attempt)
	assert.Equal(t, 2*time.Second, cfg.Timeouts().Settle)
	assert.Equal(t, 3, cfg.Retry().MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry().Delay)
	assert.True(t, cfg.Delivery().ConfirmStrict)

	require.NoError(t, cfg.Validate(), "defaults must always validate")
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetBrowserHeadless(true)
	cfg.SetDeliveryConfirmStrict(false)
	cfg.SetRetryMaxAttempts(1)

	assert.True(t, cfg.Browser().Headless)
	assert.False(t, cfg.Delivery().ConfirmStrict)
	assert.Equal(t, 1, cfg.Retry().MaxAttempts)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())

		missingURL := *cfg
		missingURL.TargetCfg.URL = ""
		err := missingURL.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "target.url is a required configuration field")

		missingIdentity := *cfg
		missingIdentity.SessionCfg.Identity = ""
		err = missingIdentity.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "session.dir and session.identity are required")

		emptyLabel := *cfg
		emptyLabel.TargetCfg.ChatLabels = []string{"Chats", ""}
		err = emptyLabel.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "target.chat_labels must not contain empty labels")

		zeroAge := *cfg
		zeroAge.SessionCfg.MaxAge = 0
		err = zeroAge.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "session.max_age must be a positive duration")
	})

	t.Run("Timeout Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Timeouts()
		assert.NoError(t, valid.Validate())

		noNav := valid
		noNav.Navigation = 0
		err := noNav.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "navigation must be a positive duration")

		noPause := valid
		noPause.Settle = 0
		assert.NoError(t, noPause.Validate(), "a zero settle pause is allowed")

		negativePause := valid
		negativePause.ClickSettle = -time.Second
		err = negativePause.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "click_settle must not be negative")

		shortBootstrap := valid
		shortBootstrap.Bootstrap = time.Second
		err = shortBootstrap.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must not be shorter than steady_state")
	})

	t.Run("Retry Validation", func(t *testing.T) {
		valid := RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second}
		assert.NoError(t, valid.Validate())

		single := RetryConfig{MaxAttempts: 1}
		assert.NoError(t, single.Validate(), "one attempt means check once, no retry")

		zero := valid
		zero.MaxAttempts = 0
		err := zero.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_attempts must be greater than 0")

		negative := valid
		negative.Delay = -time.Second
		err = negative.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "delay must not be negative")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
target:
  chat_labels: ["Chats"]
session:
  identity: "work-phone"
  max_age: 12h
retry:
  max_attempts: 5
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "work-phone", cfg.Session().Identity)
		assert.Equal(t, 12*time.Hour, cfg.Session().MaxAge)
		assert.Equal(t, 5, cfg.Retry().MaxAttempts)
		assert.Equal(t, []string{"Chats"}, cfg.Target().ChatLabels)
		// Defaults survive for everything the file leaves out.
		assert.Equal(t, "info", cfg.Logger().Level)
		assert.Equal(t, 10*time.Second, cfg.Timeouts().Element)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("retry.max_attempts", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "max_attempts must be greater than 0")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
session:
  dir: "/from/config/file"
`)))

		t.Setenv("COURIER_SESSION_DIR", "/from/env")
		t.Setenv("COURIER_BROWSER_HEADLESS", "true")
		t.Setenv("COURIER_TIMEOUTS_BOOTSTRAP", "5m")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "/from/env", cfg.Session().Dir, "env must override the config file")
		assert.True(t, cfg.Browser().Headless)
		assert.Equal(t, 5*time.Minute, cfg.Timeouts().Bootstrap)
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		if err != nil {
			t.Skip("no home directory available")
		}
		v := viper.New()
		SetDefaults(v)
		v.Set("session.dir", "~/courier/sessions")
		v.Set("artifacts.dir", "relative/dir")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "courier", "sessions"), cfg.Session().Dir)
		assert.Equal(t, "relative/dir", cfg.Artifacts().Dir)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/courier.log
browser:
  args: ["--lang=id-ID"]
  viewport:
    width: 1920
    height: 1080
timeouts:
  poll_interval: 100ms
delivery:
  confirm_strict: false
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/courier.log", cfg.Logger().LogFile)
	assert.Equal(t, []string{"--lang=id-ID"}, cfg.Browser().Args)
	assert.Equal(t, 1920, cfg.Browser().Viewport["width"])
	assert.Equal(t, 100*time.Millisecond, cfg.Timeouts().PollInterval)
	assert.False(t, cfg.Delivery().ConfirmStrict)
}
