package bot

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// CommandCategory groups commands for auditing and default gating.
type CommandCategory string

const (
	CommandCategoryAdmin  CommandCategory = "admin"
	CommandCategoryUser   CommandCategory = "user"
	CommandCategoryPublic CommandCategory = "public"
)

const (
	denialReasonGuildOnly              = "This command can only be used in a server."
	denialReasonInsufficientPermission = "You don't have permission to use this command."
	denialReasonNotAuthorized          = "You aren't authorized to use this command."
)

// CommandMetadata declares a command's permission requirements. A command
// without metadata is public.
type CommandMetadata struct {
	// RequiredPermissions is a discord permission bitmask the invoking
	// member must fully hold (administrator supersedes it)
	RequiredPermissions int64 `json:"required_permissions,omitempty"`

	// RequiresGuildContext denies invocation outside a guild
	RequiresGuildContext bool `json:"requires_guild_context"`

	Category CommandCategory `json:"category"`
}

// InvocationContext is a per-invocation snapshot of who invoked what,
// where, and with which permission bits. Created fresh per interaction and
// discarded after handling.
type InvocationContext struct {
	UserID    string
	Username  string
	GuildID   string // empty = direct-message context
	ChannelID string
	Command   *CommandDescriptor

	// MemberPermissions is the invoking member's resolved permission
	// bitmask. Only meaningful when HasMemberPermissions is true (i.e. the
	// invocation came from a guild member).
	MemberPermissions    int64
	HasMemberPermissions bool
}

func (c InvocationContext) LogValue() slog.Value {
	guild := c.GuildID
	if guild == "" {
		guild = "DM"
	}
	commandName := ""
	if c.Command != nil {
		commandName = c.Command.Name
	}
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.String("username", c.Username),
		slog.String("guild_id", guild),
		slog.String("channel_id", c.ChannelID),
		slog.String("command", commandName),
	)
}

// newInvocationContext builds an InvocationContext from a discord
// interaction and the resolved command.
func newInvocationContext(
	i *discordgo.InteractionCreate,
	command *CommandDescriptor,
) InvocationContext {
	ic := InvocationContext{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Command:   command,
	}
	if u := getDiscordUser(i); u != nil {
		ic.UserID = u.ID
		ic.Username = u.Username
	}
	if i.Member != nil {
		ic.MemberPermissions = i.Member.Permissions
		ic.HasMemberPermissions = true
	}
	return ic
}

// ValidationResult is the pure output of permission validation.
type ValidationResult struct {
	Allowed bool
	Reason  string
}

// validateCommandPermissions decides whether the invocation may proceed.
// Deterministic, no I/O: a nil metadata means public (allowed); guild-only
// commands are denied outside guilds; invocations with no member
// permission snapshot are allowed (guild checks are inapplicable in DMs);
// otherwise the member must hold the administrator bit or every bit of the
// required mask. Any internal failure resolving permissions is treated as
// denial (fail-closed).
func validateCommandPermissions(
	ic InvocationContext,
	meta *CommandMetadata,
) (result ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ValidationResult{
				Allowed: false,
				Reason:  denialReasonInsufficientPermission,
			}
		}
	}()

	if meta == nil {
		return ValidationResult{Allowed: true}
	}
	if meta.RequiresGuildContext && ic.GuildID == "" {
		return ValidationResult{Allowed: false, Reason: denialReasonGuildOnly}
	}
	if !ic.HasMemberPermissions {
		return ValidationResult{Allowed: true}
	}
	if meta.RequiredPermissions != 0 {
		perms := ic.MemberPermissions
		if perms&discordgo.PermissionAdministrator != 0 {
			return ValidationResult{Allowed: true}
		}
		if perms&meta.RequiredPermissions != meta.RequiredPermissions {
			return ValidationResult{
				Allowed: false,
				Reason:  denialReasonInsufficientPermission,
			}
		}
	}
	return ValidationResult{Allowed: true}
}

// PermissionAuditLog records validation outcomes to the structured logging
// sink. Recording is side-effect-only: failures in the sink never
// propagate or block command flow.
type PermissionAuditLog struct {
	logger *slog.Logger
}

func newPermissionAuditLog(logger *slog.Logger) *PermissionAuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionAuditLog{
		logger: logger.With(loggerNameKey, "permission_audit"),
	}
}

func (p *PermissionAuditLog) recordAttempt(
	ctx context.Context,
	ic InvocationContext,
	result ValidationResult,
) {
	defer func() { _ = recover() }()
	category := CommandCategoryPublic
	if ic.Command != nil && ic.Command.Metadata != nil {
		category = ic.Command.Metadata.Category
	}
	p.logger.InfoContext(
		ctx,
		"command execution attempt",
		"invocation", ic,
		"allowed", result.Allowed,
		"category", string(category),
	)
}

func (p *PermissionAuditLog) recordDenial(
	ctx context.Context,
	ic InvocationContext,
	reason string,
) {
	defer func() { _ = recover() }()
	p.logger.WarnContext(
		ctx,
		"command denied",
		"invocation", ic,
		"reason", reason,
	)
}

func (p *PermissionAuditLog) recordGrant(
	ctx context.Context,
	ic InvocationContext,
) {
	defer func() { _ = recover() }()
	category := CommandCategoryPublic
	if ic.Command != nil && ic.Command.Metadata != nil {
		category = ic.Command.Metadata.Category
	}
	p.logger.InfoContext(
		ctx,
		"command granted",
		"invocation", ic,
		"category", string(category),
	)
}

// recordUnauthorized logs an allow-list rejection: the bot is restricted
// to a single user ID and someone else invoked a command.
func (p *PermissionAuditLog) recordUnauthorized(
	ctx context.Context,
	ic InvocationContext,
) {
	defer func() { _ = recover() }()
	guild := ic.GuildID
	if guild == "" {
		guild = "DM"
	}
	commandName := ""
	if ic.Command != nil {
		commandName = ic.Command.Name
	}
	p.logger.WarnContext(
		ctx,
		"unauthorized command attempt",
		"user_id", ic.UserID,
		"username", ic.Username,
		"command", commandName,
		"guild_id", guild,
		"channel_id", ic.ChannelID,
	)
}
