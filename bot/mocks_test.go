package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// mockInteractionHandler implements InteractionHandler, recording every
// response, edit and follow-up for assertions.
type mockInteractionHandler struct {
	mu          sync.Mutex
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	acked       bool

	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	followups []*discordgo.WebhookParams

	respondErr error
}

func newMockInteractionHandler(
	i *discordgo.InteractionCreate,
) *mockInteractionHandler {
	return &mockInteractionHandler{
		interaction: i,
		logger:      slog.Default(),
	}
}

func (m *mockInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return m.interaction
}

func (m *mockInteractionHandler) Respond(
	_ context.Context,
	response *discordgo.InteractionResponse,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.respondErr != nil {
		return m.respondErr
	}
	m.responses = append(m.responses, response)
	m.acked = true
	return nil
}

func (m *mockInteractionHandler) Edit(
	_ context.Context,
	edit *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, edit)
	return &discordgo.Message{}, nil
}

func (m *mockInteractionHandler) Followup(
	_ context.Context,
	params *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followups = append(m.followups, params)
	return &discordgo.Message{}, nil
}

func (m *mockInteractionHandler) Acknowledged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

func (m *mockInteractionHandler) Logger() *slog.Logger {
	return m.logger
}

// newCommandInteraction builds an application-command interaction. With a
// guild ID the user is attached as a member carrying the given permission
// bits; without one it's a DM invocation.
func newCommandInteraction(
	commandName string,
	userID string,
	guildID string,
	permissions int64,
) *discordgo.InteractionCreate {
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-id",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   guildID,
			ChannelID: "channel-id",
			Data: discordgo.ApplicationCommandInteractionData{
				Name: commandName,
			},
		},
	}
	user := &discordgo.User{ID: userID, Username: "user-" + userID}
	if guildID == "" {
		i.User = user
	} else {
		i.Member = &discordgo.Member{User: user, Permissions: permissions}
	}
	return i
}

// mockBackendClient implements BackendClient with overridable funcs. Nil
// funcs succeed with zero-value records.
type mockBackendClient struct {
	createGuildFunc func(
		ctx context.Context,
		guild GuildSnapshot,
	) (*GuildRecord, error)
	removeGuildFunc func(
		ctx context.Context,
		guildID string,
	) (*GuildRecord, error)
	addMemberFunc func(
		ctx context.Context,
		guildID string,
		member MemberPayload,
	) (*MemberRecord, error)
	updateMemberFunc func(
		ctx context.Context,
		guildID string,
		userID string,
		member MemberPayload,
	) (*MemberRecord, error)
	removeMemberFunc func(
		ctx context.Context,
		guildID string,
		userID string,
	) (*MemberRecord, error)
	healthFunc func(ctx context.Context) (*HealthStatus, error)
}

func (m *mockBackendClient) CreateGuild(
	ctx context.Context,
	guild GuildSnapshot,
) (*GuildRecord, error) {
	if m.createGuildFunc != nil {
		return m.createGuildFunc(ctx, guild)
	}
	return &GuildRecord{ID: guild.ID, Active: true}, nil
}

func (m *mockBackendClient) RemoveGuild(
	ctx context.Context,
	guildID string,
) (*GuildRecord, error) {
	if m.removeGuildFunc != nil {
		return m.removeGuildFunc(ctx, guildID)
	}
	return &GuildRecord{ID: guildID}, nil
}

func (m *mockBackendClient) AddMember(
	ctx context.Context,
	guildID string,
	member MemberPayload,
) (*MemberRecord, error) {
	if m.addMemberFunc != nil {
		return m.addMemberFunc(ctx, guildID, member)
	}
	return &MemberRecord{UserID: member.UserID, GuildID: guildID}, nil
}

func (m *mockBackendClient) UpdateMember(
	ctx context.Context,
	guildID string,
	userID string,
	member MemberPayload,
) (*MemberRecord, error) {
	if m.updateMemberFunc != nil {
		return m.updateMemberFunc(ctx, guildID, userID, member)
	}
	return &MemberRecord{UserID: userID, GuildID: guildID}, nil
}

func (m *mockBackendClient) RemoveMember(
	ctx context.Context,
	guildID string,
	userID string,
) (*MemberRecord, error) {
	if m.removeMemberFunc != nil {
		return m.removeMemberFunc(ctx, guildID, userID)
	}
	return &MemberRecord{UserID: userID, GuildID: guildID}, nil
}

func (m *mockBackendClient) Health(ctx context.Context) (*HealthStatus, error) {
	if m.healthFunc != nil {
		return m.healthFunc(ctx)
	}
	return &HealthStatus{Status: "ok"}, nil
}

// mockOwnerNotifier records NotifyOwner calls.
type mockOwnerNotifier struct {
	mu    sync.Mutex
	calls []ownerNotification
	err   error
}

type ownerNotification struct {
	OwnerID string
	Message string
}

func (m *mockOwnerNotifier) NotifyOwner(
	_ context.Context,
	ownerID string,
	message string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(
		m.calls,
		ownerNotification{OwnerID: ownerID, Message: message},
	)
	return m.err
}

func (m *mockOwnerNotifier) notifications() []ownerNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]ownerNotification, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// mockDiscordSession implements DiscordSessionHandler without a gateway
// connection.
type mockDiscordSession struct {
	mu sync.Mutex

	guilds      map[string]*discordgo.Guild
	stateGuilds []*discordgo.Guild

	sentMessages     []sentChannelMessage
	dmChannels       []string
	responses        []*discordgo.InteractionResponse
	bulkCommands     []*discordgo.ApplicationCommand
	customStatus     string
	userChannelErr   error
	channelSendErr   error
	bulkOverwriteErr error
}

type sentChannelMessage struct {
	ChannelID string
	Content   string
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{guilds: map[string]*discordgo.Guild{}}
}

func (m *mockDiscordSession) Open() error { return nil }

func (m *mockDiscordSession) Close() error { return nil }

func (m *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bulkOverwriteErr != nil {
		return nil, m.bulkOverwriteErr
	}
	m.bulkCommands = commands
	return commands, nil
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	_ *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) FollowupMessageCreate(
	_ *discordgo.Interaction,
	_ bool,
	_ *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channelSendErr != nil {
		return nil, m.channelSendErr
	}
	m.sentMessages = append(
		m.sentMessages,
		sentChannelMessage{ChannelID: channelID, Content: message},
	)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userChannelErr != nil {
		return nil, m.userChannelErr
	}
	m.dmChannels = append(m.dmChannels, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (m *mockDiscordSession) UpdateCustomStatus(status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customStatus = status
	return nil
}

func (m *mockDiscordSession) Guild(guildID string) (*discordgo.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guilds[guildID]; ok {
		return g, nil
	}
	return nil, discordgo.ErrStateNotFound
}

func (m *mockDiscordSession) StateGuilds() []*discordgo.Guild {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateGuilds
}

func (m *mockDiscordSession) messages() []sentChannelMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]sentChannelMessage, len(m.sentMessages))
	copy(msgs, m.sentMessages)
	return msgs
}
