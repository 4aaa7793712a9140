package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// InteractionHandler abstracts responding to a discord interaction, so the
// dispatch pipeline can be tested without a gateway connection.
type InteractionHandler interface {
	// GetInteraction returns the interaction being handled
	GetInteraction() *discordgo.InteractionCreate

	// Respond sends the initial interaction response
	Respond(ctx context.Context, response *discordgo.InteractionResponse) error

	// Edit modifies the initial interaction response
	Edit(
		ctx context.Context,
		edit *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Followup sends a follow-up message after the initial response
	Followup(
		ctx context.Context,
		params *discordgo.WebhookParams,
	) (*discordgo.Message, error)

	// Acknowledged reports whether an initial response (including a
	// deferred one) has already been sent
	Acknowledged() bool

	Logger() *slog.Logger
}

// GatewayHandler implements InteractionHandler for interactions received
// over the gateway websocket.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	acked       atomic.Bool
}

func newGatewayHandler(
	session DiscordSessionHandler,
	interaction *discordgo.InteractionCreate,
	logger *slog.Logger,
) *GatewayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayHandler{
		session:     session,
		interaction: interaction,
		logger:      logger,
	}
}

func (w *GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w *GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
		return err
	}
	w.acked.Store(true)
	return nil
}

func (w *GatewayHandler) Edit(
	ctx context.Context,
	edit *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		edit,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func (w *GatewayHandler) Followup(
	ctx context.Context,
	params *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		params,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending follow-up message", tint.Err(err))
	}
	return msg, err
}

func (w *GatewayHandler) Acknowledged() bool {
	return w.acked.Load()
}

func (w *GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// CommandDispatcher runs slash-command interactions through the dispatch
// pipeline: resolve the command, enforce the optional allow-list, check
// the cooldown, validate permissions, audit the outcome, then execute the
// handler. Handler failures are caught here and surfaced to the user as a
// generic error reply; they never crash the process.
type CommandDispatcher struct {
	registry  *CommandRegistry
	cooldowns *CooldownTracker
	audit     *PermissionAuditLog
	config    *Config
	logger    *slog.Logger

	metricExecuted atomic.Int64
	metricDenied   atomic.Int64
	metricFailed   atomic.Int64
}

func newCommandDispatcher(
	config *Config,
	registry *CommandRegistry,
	cooldowns *CooldownTracker,
	audit *PermissionAuditLog,
	logger *slog.Logger,
) *CommandDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandDispatcher{
		registry:  registry,
		cooldowns: cooldowns,
		audit:     audit,
		config:    config,
		logger:    logger.With(loggerNameKey, "command_dispatcher"),
	}
}

// Dispatch handles a single application-command interaction end to end.
func (d *CommandDispatcher) Dispatch(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	commandName := i.ApplicationCommandData().Name
	logger := handler.Logger().With("command", commandName)

	command := d.registry.Get(commandName)
	if command == nil {
		// benign race: the invoked command no longer exists
		logger.WarnContext(ctx, "received interaction for unknown command")
		return
	}

	ic := newInvocationContext(i, command)
	if ic.UserID == "" {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	logger = logger.With("invocation", ic)

	// The allow-list gate runs before anything else: no cooldown,
	// permission or backend calls happen for unauthorized users.
	allowedUserID := d.config.Discord.AllowedUserID
	if allowedUserID != "" && ic.UserID != allowedUserID {
		d.metricDenied.Add(1)
		d.audit.recordUnauthorized(ctx, ic)
		d.replyEphemeral(ctx, handler, denialReasonNotAuthorized)
		return
	}

	cooldown := d.config.Commands.cooldownFor(commandName)
	if cooldown > 0 {
		if remaining := d.cooldowns.CheckRemaining(ic.UserID, commandName); remaining > 0 {
			logger.InfoContext(
				ctx,
				"command on cooldown",
				"remaining_seconds", remaining,
			)
			d.replyEphemeral(
				ctx,
				handler,
				fmt.Sprintf(
					"Please wait %d more second(s) before using this command again.",
					remaining,
				),
			)
			return
		}
	}

	result := validateCommandPermissions(ic, command.Metadata)
	d.audit.recordAttempt(ctx, ic, result)
	if !result.Allowed {
		d.metricDenied.Add(1)
		d.audit.recordDenial(ctx, ic, result.Reason)
		d.replyEphemeral(ctx, handler, result.Reason)
		return
	}
	d.audit.recordGrant(ctx, ic)

	if command.Deferred {
		ackErr := handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Flags: discordgo.MessageFlagsEphemeral,
				},
			},
		)
		if ackErr != nil {
			logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
			return
		}
	}

	if err := d.invokeHandler(ctx, command, handler, ic); err != nil {
		d.metricFailed.Add(1)
		logger.ErrorContext(ctx, "error executing command", tint.Err(err))
		d.reportFailure(ctx, handler)
		return
	}

	d.metricExecuted.Add(1)
	if cooldown > 0 {
		d.cooldowns.Set(ic.UserID, commandName, cooldown)
	}
}

// invokeHandler runs the command handler, converting a panic into an
// error so a misbehaving handler can't take down the process.
func (d *CommandDispatcher) invokeHandler(
	ctx context.Context,
	command *CommandDescriptor,
	handler InteractionHandler,
	ic InvocationContext,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in command handler: %v", r)
		}
	}()
	return command.Handler(ctx, handler, ic)
}

// reportFailure sends the generic error message: a follow-up if the
// interaction was already acknowledged, a direct ephemeral reply
// otherwise.
func (d *CommandDispatcher) reportFailure(
	ctx context.Context,
	handler InteractionHandler,
) {
	if handler.Acknowledged() {
		if _, err := handler.Followup(
			ctx,
			&discordgo.WebhookParams{
				Content: discordErrorMessage,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		); err != nil {
			handler.Logger().ErrorContext(
				ctx,
				"error sending failure follow-up",
				tint.Err(err),
			)
		}
		return
	}
	d.replyEphemeral(ctx, handler, discordErrorMessage)
}

func (d *CommandDispatcher) replyEphemeral(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	if handler.Acknowledged() {
		if _, err := handler.Followup(
			ctx,
			&discordgo.WebhookParams{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		); err != nil {
			handler.Logger().ErrorContext(ctx, "error sending follow-up", tint.Err(err))
		}
		return
	}
	err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error sending reply", tint.Err(err))
	}
}
