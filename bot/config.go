//nolint:lll // struct tags can't be split
package bot

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "LEAGUEBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "LB"

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DefaultBackendTimeout is the fixed per-request timeout for backend
	// API calls. A timed-out call surfaces as a network-style error.
	DefaultBackendTimeout              = 10 * time.Second
	DefaultBackendMaxRequestsPerSecond = 10
	DefaultBackendLogLevel             = slog.LevelInfo

	DefaultDiscordLogLevel      = slog.LevelWarn
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers
	DefaultDiscordStartupMessage = "I'm here!"
	DefaultDiscordCustomStatus   = "/status"

	DiscordSlashCommandStatus    = "status"
	DiscordSlashCommandDashboard = "dashboard"
	DiscordSlashCommandSync      = "sync"

	// discordErrorMessage is the generic reply sent when a command handler
	// fails. Specific failure detail stays in the logs.
	discordErrorMessage = "There was an error executing this command."

	// guildSetupFailedMessage is sent to the guild owner when the backend
	// permanently rejects a guild registration.
	guildSetupFailedMessage = "There was an error setting up the bot. Please contact support."

	DefaultCooldownSweepInterval = 60 * time.Second
	DefaultStatusCooldown        = 10 * time.Second
	DefaultSyncCooldown          = 30 * time.Second

	DefaultAPIListen         = "127.0.0.1:5002"
	DefaultAPILogLevel       = slog.LevelInfo
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	defaultListenNetwork     = "tcp"

	discordMaxMessageLength = 2000
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is the top-level bot configuration, loaded from the environment
// (and optionally a .env file) by the cmd package.
type Config struct {
	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Backend configures the league backend API client
	Backend *BackendConfig `yaml:"backend" mapstructure:"backend" json:"backend"`

	// API configures the local read-only status server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Commands configures per-command cooldowns
	Commands *CommandConfig `yaml:"commands" mapstructure:"commands" json:"commands"`

	// LogForwarder optionally ships log records to a remote collector
	LogForwarder *LogForwarderConfig `yaml:"log_forwarder" mapstructure:"log_forwarder" json:"log_forwarder"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect and register commands. If this is passed, startup aborts.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required" validate:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required" validate:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// AllowedUserID, when set, restricts every slash command to the given
	// user ID. Any other invocation is denied before cooldown or
	// permission checks run. Intended for maintenance windows.
	AllowedUserID string `yaml:"allowed_user_id" mapstructure:"allowed_user_id" json:"allowed_user_id"`

	// DashboardURL is the public league dashboard, linked by /dashboard
	DashboardURL string `yaml:"dashboard_url" mapstructure:"dashboard_url" json:"dashboard_url" validate:"omitempty,url"`

	// NotificationChannelID, when set, receives StartupMessage whenever the
	// bot connects to the gateway.
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// StartupMessage is sent to NotificationChannelID on connect
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// CustomStatus is set as the bot user's status after connecting
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

// BackendConfig configures the league backend API client.
//
//nolint:lll // can't break tags
type BackendConfig struct {
	// Base URL of the backend API (e.g. "https://api.example.com")
	URL string `yaml:"url" mapstructure:"url" json:"url" binding:"required" validate:"required,url"`

	// APIKey is sent as a bearer token on every request
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]" binding:"required" validate:"required"`

	// Timeout is the fixed per-request timeout
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`

	// MaxRequestsPerSecond caps outbound request throughput
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" validate:"gte=0"`

	// Backend client log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	httpClient *http.Client
}

// CommandConfig configures command cooldowns. Cooldowns are keyed by
// command name; a missing key falls back to Default (0 = no cooldown).
type CommandConfig struct {
	// Default cooldown applied to commands without an explicit entry
	Default time.Duration `yaml:"default_cooldown" mapstructure:"default_cooldown" json:"default_cooldown"`

	// Cooldowns maps command name to cooldown duration
	Cooldowns map[string]time.Duration `yaml:"cooldowns" mapstructure:"cooldowns" json:"cooldowns"`

	// SweepInterval is how often expired cooldown entries are swept.
	// Expiry is enforced lazily on each check regardless of this value.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" json:"sweep_interval"`
}

// cooldownFor returns the configured cooldown for the given command name,
// falling back to the default. An explicit zero entry disables the cooldown
// for that command.
func (c CommandConfig) cooldownFor(name string) time.Duration {
	if c.Cooldowns != nil {
		if d, ok := c.Cooldowns[name]; ok {
			return d
		}
	}
	return c.Default
}

// APIConfig configures the local status server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Determines if the status server should be active
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5002")
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix")
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the status server
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// If true, registers pprof routes and relaxes gin's mode
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// LogForwarderConfig configures the optional remote log sink
// (New Relic-compatible log API).
//
//nolint:lll // can't break tags
type LogForwarderConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Collector endpoint (e.g. "https://log-api.newrelic.com/log/v1")
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" json:"endpoint" binding:"required_if=Enabled true" validate:"required_if=Enabled true,omitempty,url"`

	// LicenseKey is sent as the Api-Key header
	LicenseKey string `yaml:"license_key" mapstructure:"license_key" json:"license_key" log:"[redacted]" binding:"required_if=Enabled true"`

	// FlushInterval is how often buffered records are shipped
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval" json:"flush_interval"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins: c.AllowOrigins,
		AllowMethods: c.AllowMethods,
		AllowHeaders: c.AllowHeaders,
		MaxAge:       c.MaxAge,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: defaultMethods,
		AllowHeaders: defaultHeaders,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	backendLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	backendLogLevel.Set(DefaultBackendLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		Backend: &BackendConfig{
			Timeout:              DefaultBackendTimeout,
			MaxRequestsPerSecond: DefaultBackendMaxRequestsPerSecond,
			LogLevel:             backendLogLevel,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			CORS:              DefaultCORSConfig(),
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
		Commands: &CommandConfig{
			Cooldowns: map[string]time.Duration{
				DiscordSlashCommandStatus: DefaultStatusCooldown,
				DiscordSlashCommandSync:   DefaultSyncCooldown,
			},
			SweepInterval: DefaultCooldownSweepInterval,
		},
		LogForwarder: &LogForwarderConfig{},
	}
}

// validateConfig checks required fields and value constraints, returning a
// descriptive error if the config can't be used to start the bot.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if cfg.Discord == nil || cfg.Backend == nil {
		return fmt.Errorf("discord and backend configuration are required")
	}
	validate := validator.New()
	if err := validate.Struct(cfg.Discord); err != nil {
		return fmt.Errorf("discord config: %w", err)
	}
	if err := validate.Struct(cfg.Backend); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if cfg.LogForwarder != nil && cfg.LogForwarder.Enabled {
		if err := validate.Struct(cfg.LogForwarder); err != nil {
			return fmt.Errorf("log forwarder config: %w", err)
		}
	}
	return nil
}
