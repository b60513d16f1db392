package discord

import (
	"github.com/bwmarrin/discordgo"
)

const EmbedColor = 0xb01e66

// interaction is the Invocation payload of every slash command.
type interaction struct {
	s        *discordgo.Session
	i        *discordgo.InteractionCreate
	deferred bool
}

func (it *interaction) userID() string {
	if it.i.Member != nil && it.i.Member.User != nil {
		return it.i.Member.User.ID
	}
	if it.i.User != nil {
		return it.i.User.ID
	}
	return ""
}

func (it *interaction) options() []*discordgo.ApplicationCommandInteractionDataOption {
	return it.i.ApplicationCommandData().Options
}

func findOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range opts {
		if o.Name == name {
			return o
		}
	}
	return nil
}

// reply answers ephemerally, editing the deferred response if there is one.
func (it *interaction) reply(content string) error {
	if it.deferred {
		_, err := it.s.InteractionResponseEdit(it.i.Interaction, &discordgo.WebhookEdit{Content: &content})
		return err
	}
	return it.s.InteractionRespond(it.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// replyEmbed sends an ephemeral embed response.
func (it *interaction) replyEmbed(embed *discordgo.MessageEmbed) error {
	if embed.Color == 0 {
		embed.Color = EmbedColor
	}
	if it.deferred {
		embeds := []*discordgo.MessageEmbed{embed}
		_, err := it.s.InteractionResponseEdit(it.i.Interaction, &discordgo.WebhookEdit{Embeds: &embeds})
		return err
	}
	return it.s.InteractionRespond(it.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:  discordgo.MessageFlagsEphemeral,
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

// deferReply acknowledges the interaction ephemerally for slow commands.
func (it *interaction) deferReply() error {
	err := it.s.InteractionRespond(it.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err == nil {
		it.deferred = true
	}
	return err
}
