package blanco

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	birthdayCommandName         = "birthday"
	birthdaySubcommandShow      = "show"
	birthdaySubcommandSet       = "set"
	birthdaySubcommandRemove    = "remove"
	birthdayOptionUser          = "user"
	birthdayOptionAll           = "all"
	birthdayOptionDay           = "day"
	birthdayOptionMonth         = "month"
	birthdayGuildNotFound       = "Server not found."
	birthdayConfirmationTimeout = "You took too long to answer. The interaction has been cancelled."
)

// birthdayCommand implements '/birthday' and its subcommands
type birthdayCommand struct {
	birthdays           *Birthdays
	confirmationTimeout time.Duration
}

func newBirthdayCommand(birthdays *Birthdays, confirmationTimeout time.Duration) *birthdayCommand {
	if confirmationTimeout <= 0 {
		confirmationTimeout = DefaultDiscordConfirmationTimeout
	}
	return &birthdayCommand{
		birthdays:           birthdays,
		confirmationTimeout: confirmationTimeout,
	}
}

func (c *birthdayCommand) Definition() *CommandDefinition {
	minDay := float64(1)
	minMonth := float64(1)
	return &CommandDefinition{
		Name:        birthdayCommandName,
		Description: "Manage birthdays",
		Subcommands: []*SubcommandDefinition{
			{
				Name:        birthdaySubcommandShow,
				Description: "Show birthdays",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        birthdayOptionUser,
						Description: "Show the birthday of another member of the server",
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        birthdayOptionAll,
						Description: "Show the birthdays of every member of the server",
					},
				},
				Handler: c.show,
			},
			{
				Name:        birthdaySubcommandSet,
				Description: "Set your birthday",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        birthdayOptionDay,
						Description: "Day",
						Required:    true,
						MinValue:    &minDay,
						MaxValue:    31,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        birthdayOptionMonth,
						Description: "Month",
						Required:    true,
						MinValue:    &minMonth,
						MaxValue:    12,
					},
				},
				Handler: c.set,
			},
			{
				Name:        birthdaySubcommandRemove,
				Description: "Remove your birthday",
				Handler:     c.remove,
			},
		},
	}
}

// subcommandOptions returns the options passed to the invoked subcommand
func subcommandOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	sub := subcommandOption(i.ApplicationCommandData().Options)
	if sub == nil {
		return map[string]*discordgo.ApplicationCommandInteractionDataOption{}
	}
	return discordInteractionOptions(sub.Options)
}

func (c *birthdayCommand) show(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if i.GuildID == "" {
		return replyError(ctx, handler, birthdayGuildNotFound)
	}
	opts := subcommandOptions(i)

	if all, ok := opts[birthdayOptionAll]; ok && all.BoolValue() {
		birthdays, err := c.birthdays.All(ctx, i.GuildID)
		if err != nil {
			logger.ErrorContext(ctx, "error getting birthdays", tint.Err(err))
			return replyError(ctx, handler, birthdayDataAccessError)
		}
		return replySuccess(ctx, handler, birthdayListDescription(birthdays))
	}

	userID := getDiscordUser(i).ID
	var otherUser bool
	if u, ok := opts[birthdayOptionUser]; ok {
		if target := u.UserValue(nil); target != nil && target.ID != "" {
			otherUser = target.ID != userID
			userID = target.ID
		}
	}

	birthday, err := c.birthdays.Get(ctx, i.GuildID, userID)
	if err != nil {
		logger.ErrorContext(ctx, "error getting birthday", "user_id", userID, tint.Err(err))
		return replyError(ctx, handler, birthdayDataAccessError)
	}
	if birthday == nil {
		return replySuccess(ctx, handler, "No birthday registered.")
	}
	if otherUser {
		return replySuccess(
			ctx,
			handler,
			fmt.Sprintf("%s's birthday is set to %s.", mentionUser(birthday.UserID), birthday),
		)
	}
	return replySuccess(ctx, handler, fmt.Sprintf("Your birthday is set to %s.", birthday))
}

func (c *birthdayCommand) set(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if i.GuildID == "" {
		return replyError(ctx, handler, birthdayGuildNotFound)
	}
	userID := getDiscordUser(i).ID
	opts := subcommandOptions(i)

	dayOpt, ok := opts[birthdayOptionDay]
	if !ok {
		return replyError(ctx, handler, fmt.Sprintf("Missing option '%s'.", birthdayOptionDay))
	}
	monthOpt, ok := opts[birthdayOptionMonth]
	if !ok {
		return replyError(ctx, handler, fmt.Sprintf("Missing option '%s'.", birthdayOptionMonth))
	}
	day := int(dayOpt.IntValue())
	month := int(monthOpt.IntValue())
	if !validDate(day, month) {
		return replyError(ctx, handler, fmt.Sprintf("%s is not a valid date.", formatDate(day, month)))
	}

	existing, err := c.birthdays.Get(ctx, i.GuildID, userID)
	if err != nil {
		logger.ErrorContext(ctx, "error getting birthday", tint.Err(err))
		return replyError(ctx, handler, birthdayDataAccessError)
	}

	if existing != nil {
		return c.confirmThen(
			ctx,
			handler,
			fmt.Sprintf(
				"Your birthday is currently set to %s. Do you want to change it?",
				existing,
			),
			func() *discordgo.MessageEmbed {
				return c.birthdays.EditBirthday(ctx, day, month, i.GuildID, userID)
			},
			"Your birthday has not been updated.",
		)
	}
	return c.confirmThen(
		ctx,
		handler,
		fmt.Sprintf(
			"Your birthday is not registered yet. Do you want to set it to %s?",
			formatDate(day, month),
		),
		func() *discordgo.MessageEmbed {
			return c.birthdays.CreateBirthday(ctx, day, month, i.GuildID, userID)
		},
		"Your birthday has not been added.",
	)
}

func (c *birthdayCommand) remove(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if i.GuildID == "" {
		return replyError(ctx, handler, birthdayGuildNotFound)
	}
	userID := getDiscordUser(i).ID

	existing, err := c.birthdays.Get(ctx, i.GuildID, userID)
	if err != nil {
		logger.ErrorContext(ctx, "error getting birthday", tint.Err(err))
		return replyError(ctx, handler, birthdayDataAccessError)
	}
	if existing == nil {
		return replyError(ctx, handler, "No birthday to remove.")
	}

	return c.confirmThen(
		ctx,
		handler,
		fmt.Sprintf(
			"Your birthday is currently set to %s. Do you really want to remove it?",
			existing,
		),
		func() *discordgo.MessageEmbed {
			return c.birthdays.RemoveBirthday(ctx, i.GuildID, userID)
		},
		"Your birthday has not been removed.",
	)
}

// confirmThen asks prompt with yes/no buttons. On yes, the embed returned
// by onYes replaces the prompt. On no, declined does. No answer before the
// confirmation timeout cancels the interaction.
func (c *birthdayCommand) confirmThen(
	ctx context.Context,
	handler InteractionHandler,
	prompt string,
	onYes func() *discordgo.MessageEmbed,
	declined string,
) error {
	yes, err := confirm(ctx, handler, infoEmbed(prompt), c.confirmationTimeout)
	switch {
	case errors.Is(err, ErrConfirmationTimeout):
		handler.Logger().InfoContext(ctx, "confirmation timed out")
		return replyError(ctx, handler, birthdayConfirmationTimeout)
	case err != nil:
		return err
	case yes:
		return replyEmbed(ctx, handler, onYes())
	default:
		return replySuccess(ctx, handler, declined)
	}
}
