package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/Discord-RL-League-Management/discord-bot-sub001/bot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = bot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "leaguebot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log-level strings into *slog.LevelVar.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading env file %s: %v", configFile, err)
		}
	}

	viper.SetDefault("log_level", bot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", bot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", bot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.allowed_user_id", "")
	viper.SetDefault("discord.dashboard_url", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.startup_message", bot.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.custom_status", bot.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.gateway_intents", bot.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.log_level", bot.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		bot.DefaultDiscordgoLogLevel.String(),
	)

	// Backend config
	viper.SetDefault("backend.url", "")
	viper.SetDefault("backend.api_key", "")
	viper.SetDefault("backend.timeout", bot.DefaultBackendTimeout)
	viper.SetDefault(
		"backend.max_requests_per_second",
		bot.DefaultBackendMaxRequestsPerSecond,
	)
	viper.SetDefault("backend.log_level", bot.DefaultBackendLogLevel.String())

	// Command cooldowns
	viper.SetDefault("commands.default_cooldown", 0)
	viper.SetDefault("commands.sweep_interval", bot.DefaultCooldownSweepInterval)

	// Status API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", bot.DefaultAPIListen)
	viper.SetDefault("api.read_timeout", bot.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", bot.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", bot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", bot.DefaultIdleTimeout)
	viper.SetDefault("api.log_level", bot.DefaultAPILogLevel.String())
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.cors.allow_headers", bot.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", bot.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", bot.DefaultCORSMaxAge)

	// Log forwarder config
	viper.SetDefault("log_forwarder.enabled", false)
	viper.SetDefault("log_forwarder.endpoint", "")
	viper.SetDefault("log_forwarder.license_key", "")
	viper.SetDefault("log_forwarder.flush_interval", "5s")

	envPrefix := os.Getenv(bot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = bot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)

	for _, key := range []string{
		"log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"backend.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load",
	)
}
