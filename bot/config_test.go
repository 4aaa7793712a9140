package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownFor(t *testing.T) {
	config := CommandConfig{
		Default: 3 * time.Second,
		Cooldowns: map[string]time.Duration{
			"status": 10 * time.Second,
			"ping":   0,
		},
	}

	assert.Equal(t, 10*time.Second, config.cooldownFor("status"))
	// missing entry falls back to the default
	assert.Equal(t, 3*time.Second, config.cooldownFor("dashboard"))
	// an explicit zero disables the cooldown for that command
	assert.Equal(t, time.Duration(0), config.cooldownFor("ping"))

	noMap := CommandConfig{Default: time.Second}
	assert.Equal(t, time.Second, noMap.cooldownFor("anything"))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config.Discord)
	require.NotNil(t, config.Backend)
	require.NotNil(t, config.API)
	require.NotNil(t, config.Commands)

	assert.Equal(t, DefaultBackendTimeout, config.Backend.Timeout)
	assert.Equal(
		t,
		DefaultStatusCooldown,
		config.Commands.cooldownFor(DiscordSlashCommandStatus),
	)
	assert.Equal(
		t,
		DefaultSyncCooldown,
		config.Commands.cooldownFor(DiscordSlashCommandSync),
	)
	assert.Equal(
		t,
		time.Duration(0),
		config.Commands.cooldownFor(DiscordSlashCommandDashboard),
	)
	assert.Equal(t, DefaultAPIListen, config.API.Listen)
	assert.False(t, config.API.Enabled)
}

func TestValidateConfig(t *testing.T) {
	validDiscord := func() *DiscordConfig {
		return &DiscordConfig{
			Token:         "bot-token",
			ApplicationID: "app-1",
		}
	}
	validBackend := func() *BackendConfig {
		return &BackendConfig{
			URL:    "https://api.example.com",
			APIKey: "secret",
		}
	}

	t.Run(
		"valid", func(t *testing.T) {
			config := DefaultConfig()
			config.Discord = validDiscord()
			config.Backend = validBackend()
			assert.NoError(t, validateConfig(config))
		},
	)

	t.Run(
		"nil config", func(t *testing.T) {
			assert.Error(t, validateConfig(nil))
		},
	)

	t.Run(
		"missing sections", func(t *testing.T) {
			assert.Error(t, validateConfig(&Config{}))
		},
	)

	t.Run(
		"missing discord token", func(t *testing.T) {
			config := DefaultConfig()
			config.Discord = validDiscord()
			config.Discord.Token = ""
			config.Backend = validBackend()
			assert.Error(t, validateConfig(config))
		},
	)

	t.Run(
		"missing backend URL", func(t *testing.T) {
			config := DefaultConfig()
			config.Discord = validDiscord()
			config.Backend = validBackend()
			config.Backend.URL = ""
			assert.Error(t, validateConfig(config))
		},
	)

	t.Run(
		"invalid backend URL", func(t *testing.T) {
			config := DefaultConfig()
			config.Discord = validDiscord()
			config.Backend = validBackend()
			config.Backend.URL = "not a url"
			assert.Error(t, validateConfig(config))
		},
	)

	t.Run(
		"invalid dashboard URL", func(t *testing.T) {
			config := DefaultConfig()
			config.Discord = validDiscord()
			config.Discord.DashboardURL = "not a url"
			config.Backend = validBackend()
			assert.Error(t, validateConfig(config))
		},
	)

	t.Run(
		"forwarder validated only when enabled", func(t *testing.T) {
			config := DefaultConfig()
			config.Discord = validDiscord()
			config.Backend = validBackend()
			config.LogForwarder = &LogForwarderConfig{Enabled: false}
			assert.NoError(t, validateConfig(config))

			config.LogForwarder = &LogForwarderConfig{
				Enabled:  true,
				Endpoint: "not a url",
			}
			assert.Error(t, validateConfig(config))
		},
	)
}
