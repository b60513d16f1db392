package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/keshon/mina/internal/session"
)

// onVoiceStateUpdate follows the bot's own connection and forwards other
// members' channel changes to the session manager.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil {
		return
	}
	before := ""
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}

	if s.State.User != nil && v.UserID == s.State.User.ID {
		b.transport.dropped(v.GuildID, v.ChannelID)
		return
	}
	if b.svc.Voice == nil {
		return
	}

	bot := v.Member != nil && v.Member.User != nil && v.Member.User.Bot
	b.svc.Voice.OnVoiceStateUpdate(session.VoiceStateChange{
		GuildID: v.GuildID,
		UserID:  v.UserID,
		Before:  before,
		After:   v.ChannelID,
		Bot:     bot,
	})
}
