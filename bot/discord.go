package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the gateway session: connecting, registering slash
// commands, and routing gateway events to the dispatcher, the guild sync
// coordinator and the backend member lifecycle calls.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger
	bot     *LeagueBot

	connected             atomic.Bool
	metricConnects        atomic.Int64
	metricDisconnects     atomic.Int64
	metricInteractions    atomic.Int64
	removeHandlerFuncs    []func()
	removeHandlerFuncsMu  sync.Mutex
	initialGuildIDs       map[string]bool
	initialGuildIDsMu     sync.Mutex
	startupSyncTriggered  atomic.Bool
	notificationChannelID string
}

func newDiscord(config *DiscordConfig, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		config:                config,
		logger:                logger.With(loggerNameKey, "discord"),
		initialGuildIDs:       map[string]bool{},
		notificationChannelID: config.NotificationChannelID,
	}
}

// newSession initializes the discordgo session. State tracking stays
// enabled: role-change detection needs the pre-update member snapshot, and
// guild snapshots are computed from live state.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.Identify.Intents = d.config.GatewayIntents
	disc.StateEnabled = true
	disc.State.TrackMembers = true
	disc.State.TrackRoles = true
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{Level: d.config.DiscordGoLogLevel},
		),
	)
	session.session = disc
	return session, nil
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint.
func (d *Discord) registerCommands(
	registry *CommandRegistry,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	descriptors := registry.All()
	commands := make([]*discordgo.ApplicationCommand, 0, len(descriptors))
	for _, descriptor := range descriptors {
		commands = append(commands, descriptor.applicationCommand())
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("created command", "command_name", c.Name, "command_id", c.ID)
	}
	return created, nil
}

// addHandlers registers the gateway event handlers, keeping the remove
// funcs for teardown.
func (d *Discord) addHandlers(ctx context.Context) {
	removeFuncs := []func(){
		d.session.AddHandler(d.handlerReady(ctx)),
		d.session.AddHandler(d.handlerConnect(ctx)),
		d.session.AddHandler(d.handlerDisconnect(ctx)),
		d.session.AddHandler(d.handlerGuildCreate(ctx)),
		d.session.AddHandler(d.handlerGuildDelete(ctx)),
		d.session.AddHandler(d.handlerMemberAdd(ctx)),
		d.session.AddHandler(d.handlerMemberUpdate(ctx)),
		d.session.AddHandler(d.handlerMemberRemove(ctx)),
		d.session.AddHandler(d.handlerInteractionCreate(ctx)),
	}
	d.removeHandlerFuncsMu.Lock()
	d.removeHandlerFuncs = append(d.removeHandlerFuncs, removeFuncs...)
	d.removeHandlerFuncsMu.Unlock()
}

// removeHandlers unregisters all gateway event handlers.
func (d *Discord) removeHandlers() {
	d.removeHandlerFuncsMu.Lock()
	defer d.removeHandlerFuncsMu.Unlock()
	for _, remove := range d.removeHandlerFuncs {
		remove()
	}
	d.removeHandlerFuncs = nil
}

func (d *Discord) handlerReady(ctx context.Context) func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"ready",
			"session_id", r.SessionID,
			"guild_count", len(r.Guilds),
		)

		// guilds listed in the ready payload are the ones we were already
		// in; their guild-create events are initial availability, not
		// joins, and are covered by the startup sync instead
		d.initialGuildIDsMu.Lock()
		for _, g := range r.Guilds {
			d.initialGuildIDs[g.ID] = true
		}
		d.initialGuildIDsMu.Unlock()

		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Error("error setting custom status", tint.Err(err))
			}
		}

		if d.startupSyncTriggered.CompareAndSwap(false, true) {
			go d.bot.startupSync(ctx)
		}
	}
}

func (d *Discord) handlerConnect(ctx context.Context) func(
	s *discordgo.Session,
	c *discordgo.Connect,
) {
	return func(s *discordgo.Session, c *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.InfoContext(ctx, "connected to gateway")

		if d.notificationChannelID != "" && d.config.StartupMessage != "" {
			if _, err := d.session.ChannelMessageSend(
				d.notificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); err != nil {
				d.logger.Error("unable to send startup message", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerDisconnect(ctx context.Context) func(
	s *discordgo.Session,
	c *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, c *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.WarnContext(ctx, "disconnected from gateway")
	}
}

func (d *Discord) handlerGuildCreate(ctx context.Context) func(
	s *discordgo.Session,
	gc *discordgo.GuildCreate,
) {
	return func(s *discordgo.Session, gc *discordgo.GuildCreate) {
		if gc.Guild == nil || gc.Guild.Unavailable {
			return
		}

		d.initialGuildIDsMu.Lock()
		initial := d.initialGuildIDs[gc.Guild.ID]
		d.initialGuildIDsMu.Unlock()
		if initial {
			d.logger.DebugContext(
				ctx,
				"guild available",
				"guild_id", gc.Guild.ID,
			)
			return
		}

		d.logger.InfoContext(
			ctx,
			"joined guild",
			"guild_id", gc.Guild.ID,
			"guild_name", gc.Guild.Name,
		)
		snapshot := newGuildSnapshot(gc.Guild)
		go func() {
			// the error is already classified, logged and (for permanent
			// failures) owner-notified inside the join flow; there is no
			// outer retry at this layer
			_ = d.bot.guildSync.HandleGuildJoin(ctx, snapshot)
		}()
	}
}

func (d *Discord) handlerGuildDelete(ctx context.Context) func(
	s *discordgo.Session,
	gd *discordgo.GuildDelete,
) {
	return func(s *discordgo.Session, gd *discordgo.GuildDelete) {
		// Unavailable means an outage, not a removal
		if gd.Guild == nil || gd.Guild.Unavailable {
			return
		}
		d.logger.InfoContext(ctx, "removed from guild", "guild_id", gd.ID)
		go func() {
			if _, err := d.bot.backend.RemoveGuild(ctx, gd.ID); err != nil {
				d.logger.ErrorContext(
					ctx,
					"error removing guild from backend",
					tint.Err(err),
					"guild_id", gd.ID,
					"classification", string(classifyError(err)),
				)
			}
		}()
	}
}

func (d *Discord) handlerMemberAdd(ctx context.Context) func(
	s *discordgo.Session,
	ma *discordgo.GuildMemberAdd,
) {
	return func(s *discordgo.Session, ma *discordgo.GuildMemberAdd) {
		if ma.Member == nil || ma.User == nil {
			return
		}
		member := MemberPayload{
			UserID:   ma.User.ID,
			Username: ma.User.Username,
			Nickname: ma.Nick,
			Roles:    filterRoles(ma.Roles, ma.GuildID),
		}
		go func() {
			if _, err := d.bot.backend.AddMember(ctx, ma.GuildID, member); err != nil {
				d.logger.ErrorContext(
					ctx,
					"error adding member to backend",
					tint.Err(err),
					"guild_id", ma.GuildID,
					"user_id", ma.User.ID,
					"classification", string(classifyError(err)),
				)
			}
		}()
	}
}

func (d *Discord) handlerMemberUpdate(ctx context.Context) func(
	s *discordgo.Session,
	mu *discordgo.GuildMemberUpdate,
) {
	return func(s *discordgo.Session, mu *discordgo.GuildMemberUpdate) {
		if mu.Member == nil || mu.User == nil {
			return
		}

		// only push an update when the role set actually changed; the
		// pre-update member comes from session state and may be absent
		// after a restart, in which case the update is pushed as-is
		if mu.BeforeUpdate != nil &&
			roleSetsEqual(mu.BeforeUpdate.Roles, mu.Roles) {
			return
		}

		member := MemberPayload{
			UserID:   mu.User.ID,
			Username: mu.User.Username,
			Nickname: mu.Nick,
			Roles:    filterRoles(mu.Roles, mu.GuildID),
		}
		go func() {
			if _, err := d.bot.backend.UpdateMember(
				ctx,
				mu.GuildID,
				mu.User.ID,
				member,
			); err != nil {
				d.logger.ErrorContext(
					ctx,
					"error updating member in backend",
					tint.Err(err),
					"guild_id", mu.GuildID,
					"user_id", mu.User.ID,
					"classification", string(classifyError(err)),
				)
			}
		}()
	}
}

func (d *Discord) handlerMemberRemove(ctx context.Context) func(
	s *discordgo.Session,
	mr *discordgo.GuildMemberRemove,
) {
	return func(s *discordgo.Session, mr *discordgo.GuildMemberRemove) {
		if mr.Member == nil || mr.User == nil {
			return
		}
		go func() {
			if _, err := d.bot.backend.RemoveMember(
				ctx,
				mr.GuildID,
				mr.User.ID,
			); err != nil {
				d.logger.ErrorContext(
					ctx,
					"error removing member from backend",
					tint.Err(err),
					"guild_id", mr.GuildID,
					"user_id", mr.User.ID,
					"classification", string(classifyError(err)),
				)
			}
		}()
	}
}

func (d *Discord) handlerInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		d.metricInteractions.Add(1)

		handler := newGatewayHandler(
			d.session,
			i,
			d.logger.With("interaction_id", i.ID),
		)

		switch i.Type {
		case discordgo.InteractionPing:
			_ = handler.Respond(
				ctx, &discordgo.InteractionResponse{
					Type: discordgo.InteractionResponsePong,
				},
			)
		case discordgo.InteractionApplicationCommand:
			if u := getDiscordUser(i); u != nil && u.Bot {
				d.logger.WarnContext(ctx, "user is bot, ignoring", "user_id", u.ID)
				return
			}
			d.bot.dispatcher.Dispatch(ctx, handler)
		default:
			d.logger.DebugContext(
				ctx,
				"ignoring interaction type",
				"type", i.Type.String(),
			)
		}
	}
}

// guildSnapshot builds a GuildSnapshot for the given guild ID from session
// state, falling back to the REST API.
func (d *Discord) guildSnapshot(guildID string) (GuildSnapshot, error) {
	guild, err := d.session.Guild(guildID)
	if err != nil {
		return GuildSnapshot{}, fmt.Errorf(
			"error fetching guild %s: %w", guildID, err,
		)
	}
	return newGuildSnapshot(guild), nil
}

// stateGuildSnapshots returns snapshots of every guild currently in
// session state.
func (d *Discord) stateGuildSnapshots() []GuildSnapshot {
	guilds := d.session.StateGuilds()
	snapshots := make([]GuildSnapshot, 0, len(guilds))
	for _, g := range guilds {
		if g == nil || g.Unavailable {
			continue
		}
		snapshots = append(snapshots, newGuildSnapshot(g))
	}
	return snapshots
}

func newGuildSnapshot(g *discordgo.Guild) GuildSnapshot {
	return GuildSnapshot{
		ID:          g.ID,
		Name:        g.Name,
		Icon:        g.Icon,
		OwnerID:     g.OwnerID,
		MemberCount: g.MemberCount,
	}
}

// NotifyOwner sends a direct message to the given user ID. Implements
// OwnerNotifier.
func (d *Discord) NotifyOwner(
	ctx context.Context,
	ownerID string,
	message string,
) error {
	if ownerID == "" {
		return fmt.Errorf("no owner ID to notify")
	}
	channel, err := d.session.UserChannelCreate(ownerID)
	if err != nil {
		return fmt.Errorf("error creating DM channel for %s: %w", ownerID, err)
	}
	if _, err := d.session.ChannelMessageSend(
		channel.ID,
		truncate(message, discordMaxMessageLength),
	); err != nil {
		return fmt.Errorf("error sending DM to %s: %w", ownerID, err)
	}
	d.logger.InfoContext(ctx, "notified guild owner", "owner_id", ownerID)
	return nil
}

// DiscordSessionHandler defines the interface for the discord session.
// This is basically the subset of `discordgo.Session` methods used in
// this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ApplicationCommandBulkOverwrite overwrites application commands in bulk
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction's response
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// FollowupMessageCreate sends a follow-up message for an interaction
	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSend sends a message to a specified channel
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// UserChannelCreate creates (or returns) a DM channel with a user
	UserChannelCreate(
		recipientID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// UpdateCustomStatus sets the bot user's custom status
	UpdateCustomStatus(status string) error

	// Guild returns the guild with the given ID, preferring session state
	Guild(guildID string) (*discordgo.Guild, error)

	// StateGuilds returns the guilds currently in session state
	StateGuilds() []*discordgo.Guild
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.FollowupMessageCreate(interaction, wait, data, options...)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, options...)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) Guild(guildID string) (*discordgo.Guild, error) {
	if g, err := d.session.State.Guild(guildID); err == nil && g != nil {
		return g, nil
	}
	return d.session.Guild(guildID)
}

func (d DiscordSession) StateGuilds() []*discordgo.Guild {
	d.session.State.RLock()
	defer d.session.State.RUnlock()
	guilds := make([]*discordgo.Guild, len(d.session.State.Guilds))
	copy(guilds, d.session.State.Guilds)
	return guilds
}
