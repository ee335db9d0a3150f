package blanco

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	componentExpiredMessage  = "This interaction has expired."
	componentNotOwnedMessage = "This prompt isn't for you, only the person who ran the command can answer it."
)

// Router dispatches interactions to the handlers of registered commands.
type Router struct {
	registry           *CommandRegistry
	collector          *componentCollector
	defaultPermissions []int64
	errorMessage       string
	logger             *slog.Logger
}

func NewRouter(
	registry *CommandRegistry,
	collector *componentCollector,
	defaultPermissions []int64,
	errorMessage string,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if errorMessage == "" {
		errorMessage = DefaultDiscordErrorMessage
	}
	return &Router{
		registry:           registry,
		collector:          collector,
		defaultPermissions: defaultPermissions,
		errorMessage:       errorMessage,
		logger:             logger,
	}
}

// Handle routes a single interaction. Interactions from bots are ignored,
// pings get a pong, button clicks go to whichever command is waiting on
// them, and slash commands are checked against the bot's permissions
// before their handler (or subcommand handler) runs.
func (r *Router) Handle(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	if u := getDiscordUser(i); u != nil && u.Bot {
		logger.DebugContext(ctx, "ignoring interaction from bot", "user_id", u.ID)
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		)
	case discordgo.InteractionMessageComponent:
		r.handleComponent(ctx, handler)
	case discordgo.InteractionApplicationCommand:
		r.handleCommand(ctx, handler)
	default:
		logger.DebugContext(ctx, "ignoring interaction", "type", i.Type.String())
	}
}

func (r *Router) handleComponent(ctx context.Context, handler InteractionHandler) {
	if r.collector == nil {
		_ = replyError(ctx, handler, componentExpiredMessage)
		return
	}
	switch err := r.collector.deliver(handler.GetInteraction()); {
	case err == nil:
		_ = handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate},
		)
	case errors.Is(err, errComponentNotOwned):
		_ = replyError(ctx, handler, componentNotOwnedMessage)
	default:
		_ = replyError(ctx, handler, componentExpiredMessage)
	}
}

func (r *Router) handleCommand(ctx context.Context, handler InteractionHandler) {
	logger := handler.Logger()
	data := handler.GetInteraction().ApplicationCommandData()

	def, ok := r.registry.Get(data.Name)
	if !ok {
		logger.WarnContext(ctx, "command not found", "command", data.Name)
		_ = replyError(ctx, handler, fmt.Sprintf("The command %s does not exist.", data.Name))
		return
	}

	if missing, err := r.checkPermissions(ctx, handler, def); err != nil {
		logger.ErrorContext(ctx, "unable to check bot permissions", tint.Err(err))
		_ = replyError(ctx, handler, r.errorMessage)
		return
	} else if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, p := range missing {
			names = append(names, permissionName(p))
		}
		logger.InfoContext(ctx, "missing permissions", "command", def.Name, "missing", names)
		_ = replyError(
			ctx,
			handler,
			"I'm missing the following permissions to execute this command: "+
				strings.Join(names, ", "),
		)
		return
	}

	run := def.Handler
	if len(def.Subcommands) > 0 {
		sub := subcommandOption(data.Options)
		if sub == nil {
			_ = replyError(ctx, handler, fmt.Sprintf("The command %s requires a subcommand.", def.Name))
			return
		}
		subDef, found := def.Subcommand(sub.Name)
		if !found {
			logger.WarnContext(ctx, "subcommand not found", "command", def.Name, "subcommand", sub.Name)
			_ = replyError(
				ctx,
				handler,
				fmt.Sprintf("The command %s/%s does not exist.", def.Name, sub.Name),
			)
			return
		}
		run = subDef.Handler
	}
	if run == nil {
		logger.ErrorContext(ctx, "command has no handler", "command", commandPath(data))
		_ = replyError(ctx, handler, r.errorMessage)
		return
	}

	r.run(ctx, handler, run)
}

// run calls the command handler, replying with the generic error message
// if it fails or panics
func (r *Router) run(ctx context.Context, handler InteractionHandler, run CommandHandlerFunc) {
	logger := handler.Logger()
	defer func() {
		if rc := recover(); rc != nil {
			logger.ErrorContext(ctx, "command handler panicked", "panic", rc)
			_ = replyError(ctx, handler, r.errorMessage)
		}
	}()

	if err := run(ctx, handler); err != nil {
		logger.ErrorContext(ctx, "error executing command", tint.Err(err))
		_ = replyError(ctx, handler, r.errorMessage)
	}
}

func (r *Router) checkPermissions(
	ctx context.Context,
	handler InteractionHandler,
	def *CommandDefinition,
) ([]int64, error) {
	required := def.EffectivePermissions(r.defaultPermissions)
	if len(required) == 0 {
		return nil, nil
	}
	granted, err := handler.BotPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return missingPermissions(granted, required), nil
}

// subcommandOption returns the first option that's a subcommand, if any
func subcommandOption(
	options []*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range options {
		if opt.Type == discordgo.ApplicationCommandOptionSubCommand {
			return opt
		}
	}
	return nil
}
