package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// Build/version metadata, set via ldflags.
var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)

// startupSyncDelay gives the gateway time to stream the initial
// guild-create events into session state before the startup sync runs.
const startupSyncDelay = 10 * time.Second

// LeagueBot wires the bot's components together: the discord gateway
// integration, the backend client, the command dispatch pipeline, the
// guild sync coordinator and the status API. Components receive their
// collaborators explicitly at construction; there is no ambient state
// beyond the default logger.
type LeagueBot struct {
	config     *Config
	logger     *slog.Logger
	discord    *Discord
	backend    BackendClient
	registry   *CommandRegistry
	dispatcher *CommandDispatcher
	cooldowns  *CooldownTracker
	audit      *PermissionAuditLog
	guildSync  *GuildSyncCoordinator
	api        *API
	forwarder  *logForwarder
	startedAt  time.Time
}

// New creates a LeagueBot from the given config. The gateway connection
// isn't opened until Run.
func New(config *Config) (*LeagueBot, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &LeagueBot{config: config}

	baseHandler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	var handler slog.Handler = baseHandler
	if config.LogForwarder != nil && config.LogForwarder.Enabled {
		b.forwarder = newLogForwarder(config.LogForwarder)
		handler = newForwardingHandler(baseHandler, b.forwarder)
	}
	b.logger = slog.New(handler).With(loggerNameKey, "leaguebot")
	slog.SetDefault(b.logger)

	if config.HTTPClient != nil {
		config.Discord.httpClient = config.HTTPClient
		config.Backend.httpClient = config.HTTPClient
	}

	b.backend = newBackendClient(config.Backend, slog.New(handler))

	b.discord = newDiscord(config.Discord, slog.New(handler))
	b.discord.bot = b
	session, err := b.discord.newSession()
	if err != nil {
		return nil, err
	}
	b.discord.session = session

	b.cooldowns = newCooldownTracker(
		config.Commands.SweepInterval,
		slog.New(handler),
	)
	b.audit = newPermissionAuditLog(slog.New(handler))
	b.registry = b.registerCommands()
	b.dispatcher = newCommandDispatcher(
		config,
		b.registry,
		b.cooldowns,
		b.audit,
		slog.New(handler),
	)
	b.guildSync = newGuildSyncCoordinator(
		b.backend,
		b.discord,
		slog.New(handler),
	)

	if config.API != nil && config.API.Enabled {
		b.api, err = newAPI(b, config.API)
		if err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Run connects to the discord gateway, registers slash commands and
// serves until ctx is cancelled, then shuts down gracefully.
func (b *LeagueBot) Run(ctx context.Context) error {
	b.startedAt = time.Now()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	b.discord.addHandlers(runCtx)
	b.cooldowns.Start(runCtx)

	startupCtx, cancelStartup := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer cancelStartup()

	openDone := make(chan error, 1)
	go func() {
		openDone <- b.discord.session.Open()
	}()
	select {
	case err := <-openDone:
		if err != nil {
			return fmt.Errorf("error opening discord session: %w", err)
		}
	case <-startupCtx.Done():
		return fmt.Errorf("startup timed out: %w", startupCtx.Err())
	}

	if _, err := b.discord.registerCommands(b.registry); err != nil {
		_ = b.discord.session.Close()
		return fmt.Errorf("error registering commands: %w", err)
	}

	if b.api != nil {
		go func() {
			if err := b.api.Serve(runCtx); err != nil {
				b.logger.Error("status API server error", tint.Err(err))
			}
		}()
	}

	b.logger.Info("bot running", "version", Version)
	<-ctx.Done()

	b.logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer cancelShutdown()

	b.discord.removeHandlers()
	if err := b.discord.session.Close(); err != nil {
		b.logger.Error("error closing discord session", tint.Err(err))
	}
	b.cooldowns.Stop()
	if b.api != nil {
		b.api.Shutdown(shutdownCtx)
	}
	cancelRun()
	if b.forwarder != nil {
		b.forwarder.Close()
	}

	b.logger.Info("shutdown complete")
	return nil
}

// startupSync snapshots every guild in session state and pushes them to
// the backend, once the gateway has had time to populate state.
func (b *LeagueBot) startupSync(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(startupSyncDelay):
	}

	snapshots := b.discord.stateGuildSnapshots()
	if len(snapshots) == 0 {
		b.logger.Info("no guilds to sync")
		return
	}
	result := b.guildSync.SyncAll(ctx, snapshots)
	b.logger.Info("startup guild sync finished", "result", result)
}
