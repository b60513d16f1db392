package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Directory answers questions about guilds and members from the gateway
// state cache.
type Directory struct {
	dg *discordgo.Session
}

func (d *Directory) GuildKnown(guildID string) bool {
	g, err := d.dg.State.Guild(guildID)
	return err == nil && g != nil
}

func (d *Directory) UserVoiceChannel(guildID, userID string) (string, bool) {
	vs, err := d.dg.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

func memberName(m *discordgo.Member) string {
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User == nil:
		return ""
	case m.User.GlobalName != "":
		return m.User.GlobalName
	default:
		return m.User.Username
	}
}

func (d *Directory) MemberName(guildID, userID string) string {
	if m, err := d.dg.State.Member(guildID, userID); err == nil && m != nil {
		if n := memberName(m); n != "" {
			return n
		}
	}
	return userID
}

func (d *Directory) GuildName(guildID string) string {
	if g, err := d.dg.State.Guild(guildID); err == nil && g != nil {
		return g.Name
	}
	return guildID
}

func (d *Directory) ChannelName(channelID string) string {
	if c, err := d.dg.State.Channel(channelID); err == nil && c != nil {
		return c.Name
	}
	return channelID
}

func (d *Directory) isBot(guildID, userID string) bool {
	if d.dg.State.User != nil && d.dg.State.User.ID == userID {
		return true
	}
	m, err := d.dg.State.Member(guildID, userID)
	return err == nil && m != nil && m.User != nil && m.User.Bot
}

// ChannelMembers lists the humans currently in a voice channel.
func (d *Directory) ChannelMembers(guildID, channelID string) []string {
	g, err := d.dg.State.Guild(guildID)
	if err != nil || g == nil {
		return nil
	}

	d.dg.State.RLock()
	var ids []string
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			ids = append(ids, vs.UserID)
		}
	}
	d.dg.State.RUnlock()

	out := ids[:0]
	for _, id := range ids {
		if !d.isBot(guildID, id) {
			out = append(out, id)
		}
	}
	return out
}

// DirectMessage opens a DM channel with userID and posts text.
func (d *Directory) DirectMessage(ctx context.Context, userID, text string) error {
	ch, err := d.dg.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm: %w", err)
	}
	if _, err := d.dg.ChannelMessageSend(ch.ID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	return nil
}
