package bot

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRegistryOrderAndOverwrite(t *testing.T) {
	registry := newCommandRegistry()
	registry.Register(&CommandDescriptor{Name: "status"})
	registry.Register(&CommandDescriptor{Name: "dashboard"})
	registry.Register(&CommandDescriptor{Name: "sync"})

	// overwriting keeps the original order position
	registry.Register(
		&CommandDescriptor{Name: "dashboard", Description: "updated"},
	)

	all := registry.All()
	require.Len(t, all, 3)
	assert.Equal(t, "status", all[0].Name)
	assert.Equal(t, "dashboard", all[1].Name)
	assert.Equal(t, "updated", all[1].Description)
	assert.Equal(t, "sync", all[2].Name)

	assert.Nil(t, registry.Get("missing"))
	require.NotNil(t, registry.Get("sync"))
}

func TestRegisterCommands(t *testing.T) {
	b := &LeagueBot{config: DefaultConfig()}
	registry := b.registerCommands()

	all := registry.All()
	require.Len(t, all, 3)
	assert.Equal(t, DiscordSlashCommandStatus, all[0].Name)
	assert.Equal(t, DiscordSlashCommandDashboard, all[1].Name)
	assert.Equal(t, DiscordSlashCommandSync, all[2].Name)

	syncCommand := registry.Get(DiscordSlashCommandSync)
	require.NotNil(t, syncCommand.Metadata)
	assert.True(t, syncCommand.Metadata.RequiresGuildContext)
	assert.Equal(
		t,
		int64(discordgo.PermissionManageServer),
		syncCommand.Metadata.RequiredPermissions,
	)
	assert.Equal(t, CommandCategoryAdmin, syncCommand.Metadata.Category)
	assert.True(t, syncCommand.Deferred)
}

func TestApplicationCommandConversion(t *testing.T) {
	t.Run(
		"guild-only admin command", func(t *testing.T) {
			descriptor := &CommandDescriptor{
				Name:        "sync",
				Description: "Re-sync this server",
				Metadata: &CommandMetadata{
					RequiredPermissions:  discordgo.PermissionManageServer,
					RequiresGuildContext: true,
				},
			}
			cmd := descriptor.applicationCommand()

			assert.Equal(t, "sync", cmd.Name)
			assert.Equal(t, discordgo.ChatApplicationCommand, cmd.Type)
			require.NotNil(t, cmd.DMPermission)
			assert.False(t, *cmd.DMPermission)
			require.NotNil(t, cmd.Contexts)
			assert.Equal(
				t,
				[]discordgo.InteractionContextType{
					discordgo.InteractionContextGuild,
				},
				*cmd.Contexts,
			)
			require.NotNil(t, cmd.DefaultMemberPermissions)
			assert.Equal(
				t,
				int64(discordgo.PermissionManageServer),
				*cmd.DefaultMemberPermissions,
			)
		},
	)

	t.Run(
		"public command", func(t *testing.T) {
			descriptor := &CommandDescriptor{
				Name:        "status",
				Description: "Check health",
				Metadata:    &CommandMetadata{Category: CommandCategoryPublic},
			}
			cmd := descriptor.applicationCommand()
			assert.Nil(t, cmd.DMPermission)
			assert.Nil(t, cmd.DefaultMemberPermissions)
		},
	)
}

func TestCommandStatus(t *testing.T) {
	t.Run(
		"healthy backend", func(t *testing.T) {
			b := &LeagueBot{
				config: DefaultConfig(),
				backend: &mockBackendClient{
					healthFunc: func(
						_ context.Context,
					) (*HealthStatus, error) {
						return &HealthStatus{
							Status:  "ok",
							Message: "all systems nominal",
						}, nil
					},
				},
			}
			handler := newMockInteractionHandler(
				newCommandInteraction("status", "u1", "g1", 0),
			)

			err := b.commandStatus(
				context.Background(),
				handler,
				InvocationContext{},
			)
			require.NoError(t, err)

			require.Len(t, handler.edits, 1)
			require.NotNil(t, handler.edits[0].Embeds)
			embeds := *handler.edits[0].Embeds
			require.Len(t, embeds, 1)
			assert.Equal(t, embedColorGreen, embeds[0].Color)
			require.NotEmpty(t, embeds[0].Fields)
			assert.Equal(t, "ok", embeds[0].Fields[0].Value)
		},
	)

	t.Run(
		"unreachable backend", func(t *testing.T) {
			b := &LeagueBot{
				config: DefaultConfig(),
				backend: &mockBackendClient{
					healthFunc: func(
						_ context.Context,
					) (*HealthStatus, error) {
						return nil, &APIError{
							Message:    "no route",
							StatusCode: http.StatusBadGateway,
						}
					},
				},
			}
			handler := newMockInteractionHandler(
				newCommandInteraction("status", "u1", "g1", 0),
			)

			err := b.commandStatus(
				context.Background(),
				handler,
				InvocationContext{},
			)
			require.NoError(t, err)

			require.Len(t, handler.edits, 1)
			embeds := *handler.edits[0].Embeds
			require.Len(t, embeds, 1)
			assert.Equal(t, embedColorRed, embeds[0].Color)
			assert.Equal(t, "unreachable", embeds[0].Fields[0].Value)
		},
	)
}

func TestCommandDashboard(t *testing.T) {
	t.Run(
		"configured", func(t *testing.T) {
			config := DefaultConfig()
			config.Discord.DashboardURL = "https://league.example.com"
			b := &LeagueBot{config: config}

			handler := newMockInteractionHandler(
				newCommandInteraction("dashboard", "u1", "g1", 0),
			)
			err := b.commandDashboard(
				context.Background(),
				handler,
				InvocationContext{},
			)
			require.NoError(t, err)

			require.Len(t, handler.responses, 1)
			assert.Equal(
				t,
				"League dashboard: https://league.example.com",
				handler.responses[0].Data.Content,
			)
			assert.Equal(
				t,
				discordgo.MessageFlagsEphemeral,
				handler.responses[0].Data.Flags,
			)
		},
	)

	t.Run(
		"not configured", func(t *testing.T) {
			b := &LeagueBot{config: DefaultConfig()}
			handler := newMockInteractionHandler(
				newCommandInteraction("dashboard", "u1", "g1", 0),
			)
			err := b.commandDashboard(
				context.Background(),
				handler,
				InvocationContext{},
			)
			require.NoError(t, err)
			require.Len(t, handler.responses, 1)
			assert.Equal(
				t,
				"No dashboard is configured for this bot.",
				handler.responses[0].Data.Content,
			)
		},
	)
}

func newSyncTestBot(
	t *testing.T,
	backend *mockBackendClient,
) *LeagueBot {
	t.Helper()
	session := newMockDiscordSession()
	session.guilds["g1"] = &discordgo.Guild{
		ID:          "g1",
		Name:        "Test Guild",
		OwnerID:     "owner-1",
		MemberCount: 12,
	}

	discord := newDiscord(&DiscordConfig{}, slog.Default())
	discord.session = session

	b := &LeagueBot{
		config:  DefaultConfig(),
		backend: backend,
		discord: discord,
	}
	discord.bot = b
	b.guildSync = newGuildSyncCoordinator(backend, discord, slog.Default())
	return b
}

func TestCommandSync(t *testing.T) {
	t.Run(
		"success", func(t *testing.T) {
			var synced GuildSnapshot
			backend := &mockBackendClient{
				createGuildFunc: func(
					_ context.Context,
					guild GuildSnapshot,
				) (*GuildRecord, error) {
					synced = guild
					return &GuildRecord{ID: guild.ID, Active: true}, nil
				},
			}
			b := newSyncTestBot(t, backend)

			handler := newMockInteractionHandler(
				newCommandInteraction("sync", "u1", "g1", 0),
			)
			err := b.commandSync(
				context.Background(),
				handler,
				InvocationContext{UserID: "u1", GuildID: "g1"},
			)
			require.NoError(t, err)

			assert.Equal(t, "g1", synced.ID)
			assert.Equal(t, "Test Guild", synced.Name)
			assert.Equal(t, "owner-1", synced.OwnerID)
			assert.Equal(t, 12, synced.MemberCount)

			require.Len(t, handler.edits, 1)
			require.NotNil(t, handler.edits[0].Content)
			assert.Equal(
				t,
				"Server synced with the league backend.",
				*handler.edits[0].Content,
			)
		},
	)

	t.Run(
		"already registered", func(t *testing.T) {
			backend := &mockBackendClient{
				createGuildFunc: func(
					_ context.Context,
					_ GuildSnapshot,
				) (*GuildRecord, error) {
					return nil, &APIError{
						Message:    "guild already exists",
						StatusCode: http.StatusConflict,
					}
				},
			}
			b := newSyncTestBot(t, backend)

			handler := newMockInteractionHandler(
				newCommandInteraction("sync", "u1", "g1", 0),
			)
			err := b.commandSync(
				context.Background(),
				handler,
				InvocationContext{UserID: "u1", GuildID: "g1"},
			)
			require.NoError(t, err)

			require.Len(t, handler.edits, 1)
			assert.Equal(
				t,
				"Server is already registered with the league backend.",
				*handler.edits[0].Content,
			)
		},
	)

	t.Run(
		"backend failure", func(t *testing.T) {
			backend := &mockBackendClient{
				createGuildFunc: func(
					_ context.Context,
					_ GuildSnapshot,
				) (*GuildRecord, error) {
					return nil, &APIError{
						StatusCode: http.StatusInternalServerError,
					}
				},
			}
			b := newSyncTestBot(t, backend)

			handler := newMockInteractionHandler(
				newCommandInteraction("sync", "u1", "g1", 0),
			)
			err := b.commandSync(
				context.Background(),
				handler,
				InvocationContext{UserID: "u1", GuildID: "g1"},
			)
			require.Error(t, err)
			assert.Empty(t, handler.edits)
		},
	)

	t.Run(
		"unknown guild", func(t *testing.T) {
			b := newSyncTestBot(t, &mockBackendClient{})
			handler := newMockInteractionHandler(
				newCommandInteraction("sync", "u1", "g2", 0),
			)
			err := b.commandSync(
				context.Background(),
				handler,
				InvocationContext{UserID: "u1", GuildID: "g2"},
			)
			require.Error(t, err)
		},
	)
}
