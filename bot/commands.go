package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// CommandHandlerFunc executes a resolved slash command. Errors are caught
// by the dispatch pipeline and surfaced to the user as a generic failure
// message.
type CommandHandlerFunc func(
	ctx context.Context,
	handler InteractionHandler,
	ic InvocationContext,
) error

// CommandDescriptor identifies a registered slash command. Descriptors are
// created at startup registration and never mutated afterward.
type CommandDescriptor struct {
	Name        string
	Description string

	// Metadata declares permission requirements; nil means public
	Metadata *CommandMetadata

	Options []*discordgo.ApplicationCommandOption

	// Deferred commands are acknowledged with a deferred ephemeral
	// response before the handler runs; the handler edits the response.
	Deferred bool

	Handler CommandHandlerFunc
}

// CommandRegistry holds registered command descriptors, preserving
// registration order for the bulk-overwrite payload.
type CommandRegistry struct {
	mu       sync.RWMutex
	order    []string
	commands map[string]*CommandDescriptor
}

func newCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: map[string]*CommandDescriptor{}}
}

// Register adds a descriptor, overwriting any existing command with the
// same name (order position is kept from the first registration).
func (r *CommandRegistry) Register(cmd *CommandDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[cmd.Name]; !exists {
		r.order = append(r.order, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
}

// Get returns the descriptor for the given command name, or nil.
func (r *CommandRegistry) Get(name string) *CommandDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[name]
}

// All returns descriptors in registration order.
func (r *CommandRegistry) All() []*CommandDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*CommandDescriptor, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.commands[name])
	}
	return all
}

// applicationCommand converts a descriptor into the discordgo application
// command sent to the bulk overwrite endpoint.
func (c *CommandDescriptor) applicationCommand() *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Name:        c.Name,
		Description: c.Description,
		Type:        discordgo.ChatApplicationCommand,
		Options:     c.Options,
	}

	if c.Metadata != nil {
		if c.Metadata.RequiresGuildContext {
			dmPerm := false
			cmd.DMPermission = &dmPerm
			contexts := []discordgo.InteractionContextType{
				discordgo.InteractionContextGuild,
			}
			cmd.Contexts = &contexts
		}
		if c.Metadata.RequiredPermissions != 0 {
			perms := c.Metadata.RequiredPermissions
			cmd.DefaultMemberPermissions = &perms
		}
	}
	return cmd
}

// registerCommands builds the command registry with the bot's shipped
// commands. Registration order feeds the discord bulk-overwrite payload.
func (b *LeagueBot) registerCommands() *CommandRegistry {
	registry := newCommandRegistry()

	registry.Register(
		&CommandDescriptor{
			Name:        DiscordSlashCommandStatus,
			Description: "Check bot and league backend health",
			Metadata:    &CommandMetadata{Category: CommandCategoryPublic},
			Deferred:    true,
			Handler:     b.commandStatus,
		},
	)
	registry.Register(
		&CommandDescriptor{
			Name:        DiscordSlashCommandDashboard,
			Description: "Get a link to the league dashboard",
			Metadata:    &CommandMetadata{Category: CommandCategoryUser},
			Handler:     b.commandDashboard,
		},
	)
	registry.Register(
		&CommandDescriptor{
			Name:        DiscordSlashCommandSync,
			Description: "Re-sync this server with the league backend",
			Metadata: &CommandMetadata{
				RequiredPermissions:  discordgo.PermissionManageServer,
				RequiresGuildContext: true,
				Category:             CommandCategoryAdmin,
			},
			Deferred: true,
			Handler:  b.commandSync,
		},
	)

	return registry
}

// commandStatus reports backend health. The interaction was acknowledged
// with a deferred ephemeral response, so the handler edits it.
func (b *LeagueBot) commandStatus(
	ctx context.Context,
	handler InteractionHandler,
	_ InvocationContext,
) error {
	started := time.Now()
	health, err := b.backend.Health(ctx)
	latency := time.Since(started)

	embed := &discordgo.MessageEmbed{Title: "League status"}
	if err != nil {
		embed.Color = embedColorRed
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Backend", Value: "unreachable", Inline: true},
			{
				Name:   "Detail",
				Value:  truncate(err.Error(), discordEmbedFieldMaxLength),
				Inline: false,
			},
		}
	} else {
		embed.Color = embedColorGreen
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Backend", Value: health.Status, Inline: true},
			{
				Name:   "Latency",
				Value:  fmt.Sprintf("%dms", latency.Milliseconds()),
				Inline: true,
			},
		}
		if health.Message != "" {
			embed.Fields = append(
				embed.Fields,
				&discordgo.MessageEmbedField{
					Name:  "Message",
					Value: truncate(health.Message, discordEmbedFieldMaxLength),
				},
			)
		}
	}

	embeds := []*discordgo.MessageEmbed{embed}
	_, editErr := handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds})
	return editErr
}

// commandDashboard replies (ephemeral) with the configured dashboard link.
func (b *LeagueBot) commandDashboard(
	ctx context.Context,
	handler InteractionHandler,
	_ InvocationContext,
) error {
	dashboardURL := b.config.Discord.DashboardURL
	content := "No dashboard is configured for this bot."
	if dashboardURL != "" {
		content = fmt.Sprintf("League dashboard: %s", dashboardURL)
	}
	return handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

// commandSync re-upserts the invoking guild to the backend. Conflict means
// the guild is already registered, which is a success from the invoker's
// point of view.
func (b *LeagueBot) commandSync(
	ctx context.Context,
	handler InteractionHandler,
	ic InvocationContext,
) error {
	snapshot, err := b.discord.guildSnapshot(ic.GuildID)
	if err != nil {
		return fmt.Errorf("error building guild snapshot: %w", err)
	}

	content := "Server synced with the league backend."
	if syncErr := b.guildSync.SyncOne(ctx, snapshot); syncErr != nil {
		if !isConflict(syncErr) {
			return fmt.Errorf("error syncing guild %s: %w", ic.GuildID, syncErr)
		}
		content = "Server is already registered with the league backend."
	}

	_, editErr := handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
	return editErr
}
