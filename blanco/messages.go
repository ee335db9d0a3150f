package blanco

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

const (
	colorSuccess = 0x57F287
	colorError   = 0xED4245
	colorInfo    = 0x5865F2

	buttonValueYes = "yes"
	buttonValueNo  = "no"
)

func successEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: truncate(description, discordMaxEmbedDescriptionLength),
		Color:       colorSuccess,
	}
}

func errorEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: truncate(description, discordMaxEmbedDescriptionLength),
		Color:       colorError,
	}
}

func infoEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: truncate(description, discordMaxEmbedDescriptionLength),
		Color:       colorInfo,
	}
}

// Message is a reply to an interaction
type Message struct {
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Buttons   []discordgo.Button
	Ephemeral bool
}

// newMessage returns an ephemeral message with the given embeds
func newMessage(embeds ...*discordgo.MessageEmbed) *Message {
	return &Message{Embeds: embeds, Ephemeral: true}
}

// components lays out the message's buttons in action rows. Buttons that
// don't fit in discordMaxActionRows rows are dropped.
func (m *Message) components() []discordgo.MessageComponent {
	components := []discordgo.MessageComponent{}
	for _, row := range chunkItems(discordMaxButtonsPerActionRow, m.Buttons...) {
		if len(components) == discordMaxActionRows {
			slog.Default().Warn(
				"too many buttons for one message, some were dropped",
				"buttons", len(m.Buttons),
			)
			break
		}
		actionRow := discordgo.ActionsRow{}
		for _, button := range row {
			actionRow.Components = append(actionRow.Components, button)
		}
		components = append(components, actionRow)
	}
	return components
}

func (m *Message) responseData() *discordgo.InteractionResponseData {
	data := &discordgo.InteractionResponseData{
		Content:    m.Content,
		Embeds:     m.Embeds,
		Components: m.components(),
	}
	if m.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return data
}

// webhookEdit replaces the content, embeds and components of the
// original response. A message without buttons clears existing ones.
func (m *Message) webhookEdit() *discordgo.WebhookEdit {
	content := m.Content
	embeds := m.Embeds
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	components := m.components()
	return &discordgo.WebhookEdit{
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
	}
}

// reply sends msg as the response to the handler's interaction. If a
// response was already sent (ex: a confirmation prompt), it's edited
// instead, so an interaction only ever has one visible reply.
func reply(ctx context.Context, handler InteractionHandler, msg *Message) error {
	if handler.Responded() {
		_, err := handler.Edit(ctx, msg.webhookEdit())
		return err
	}
	return handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: msg.responseData(),
		},
	)
}

func replySuccess(ctx context.Context, handler InteractionHandler, description string) error {
	return reply(ctx, handler, newMessage(successEmbed(description)))
}

func replyError(ctx context.Context, handler InteractionHandler, description string) error {
	return reply(ctx, handler, newMessage(errorEmbed(description)))
}

func replyEmbed(ctx context.Context, handler InteractionHandler, embed *discordgo.MessageEmbed) error {
	return reply(ctx, handler, newMessage(embed))
}

// yesNoMessage asks a question with yes/no buttons. The buttons' custom
// IDs carry the ID of the interaction that asked.
func yesNoMessage(prompt *discordgo.MessageEmbed, interactionID string) *Message {
	msg := newMessage(prompt)
	msg.Buttons = []discordgo.Button{
		{
			Label:    "Yes",
			Style:    discordgo.SuccessButton,
			CustomID: fmt.Sprintf(customIDFormat, interactionID, buttonValueYes),
		},
		{
			Label:    "No",
			Style:    discordgo.DangerButton,
			CustomID: fmt.Sprintf(customIDFormat, interactionID, buttonValueNo),
		},
	}
	return msg
}
