package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/mina/internal/session"
	"github.com/keshon/mina/internal/storage"
	"github.com/keshon/mina/internal/tts"
	"github.com/keshon/mina/pkg/cmd"
)

// Voice is what the slash commands and voice events drive.
type Voice interface {
	AttachUser(ctx context.Context, guildID, userID string, o session.AttachOptions) (*session.Session, error)
	Detach(guildID string) bool
	StopSpeaking(guildID string) bool
	OnVoiceStateUpdate(v session.VoiceStateChange)
}

type Settings interface {
	IsOptedOut(userID string) bool
	SetOptOut(userID string, optOut bool)
	SetVoice(userID, code string)
	UserReminders(userID string) []storage.Reminder
}

type Reminders interface {
	Cancel(id string) bool
}

// Services are the application pieces the gateway events reach.
type Services struct {
	Voice     Voice
	Settings  Settings
	Reminders Reminders
}

func payload(inv *cmd.Invocation) (*interaction, error) {
	return cmd.Payload[*interaction](inv)
}

// --- middleware ---

func withGuildOnly() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			it, err := payload(inv)
			if err != nil {
				return err
			}
			if it.i.GuildID == "" {
				return it.reply("This command only works inside a server.")
			}
			return c.Run(ctx, inv)
		})
	}
}

func withLogging(log zerolog.Logger) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			start := time.Now()
			err := c.Run(ctx, inv)
			ev := log.Info()
			if err != nil {
				ev = log.Error().Err(err)
			}
			if it, perr := payload(inv); perr == nil {
				ev = ev.Str("guild", it.i.GuildID).Str("user", it.userID())
			}
			ev.Str("command", c.Name()).Dur("took", time.Since(start)).Msg("slash command")
			return err
		})
	}
}

// --- /join ---

type joinCommand struct{ voice Voice }

func (c *joinCommand) Name() string        { return "join" }
func (c *joinCommand) Description() string { return "Join your voice channel and start listening" }

func (c *joinCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionBoolean,
			Name:        "silent",
			Description: "Skip the greeting and only announce transcription",
		}},
	}
}

func (c *joinCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	it, err := payload(inv)
	if err != nil {
		return err
	}
	silent := false
	if o := findOption(it.options(), "silent"); o != nil {
		silent = o.BoolValue()
	}
	if err := it.deferReply(); err != nil {
		return fmt.Errorf("defer reply: %w", err)
	}

	s, err := c.voice.AttachUser(ctx, it.i.GuildID, it.userID(), session.AttachOptions{Silent: silent})
	switch {
	case errors.Is(err, session.ErrUserNotInVoice):
		return it.reply("You need to be in a voice channel first.")
	case err != nil:
		_ = it.reply("I couldn't join your voice channel.")
		return err
	}
	return it.reply(fmt.Sprintf("Joined <#%s>. Voice transcription is active.", s.ChannelID))
}

// --- /leave ---

type leaveCommand struct{ voice Voice }

func (c *leaveCommand) Name() string        { return "leave" }
func (c *leaveCommand) Description() string { return "Leave the voice channel" }

func (c *leaveCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{}
}

func (c *leaveCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	it, err := payload(inv)
	if err != nil {
		return err
	}
	if !c.voice.Detach(it.i.GuildID) {
		return it.reply("I'm not in a voice channel.")
	}
	return it.reply("Left the voice channel.")
}

// --- /stoptts ---

type stopCommand struct{ voice Voice }

func (c *stopCommand) Name() string        { return "stoptts" }
func (c *stopCommand) Description() string { return "Stop speaking and drop queued speech" }

func (c *stopCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{}
}

func (c *stopCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	it, err := payload(inv)
	if err != nil {
		return err
	}
	if !c.voice.StopSpeaking(it.i.GuildID) {
		return it.reply("Nothing to stop.")
	}
	return it.reply("⏹️ Stopped.")
}

// --- /privacy ---

type privacyCommand struct{ settings Settings }

func (c *privacyCommand) Name() string        { return "privacy" }
func (c *privacyCommand) Description() string { return "Toggle whether your voice is transcribed" }

func (c *privacyCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{}
}

func (c *privacyCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	it, err := payload(inv)
	if err != nil {
		return err
	}
	user := it.userID()
	optOut := !c.settings.IsOptedOut(user)
	c.settings.SetOptOut(user, optOut)
	if optOut {
		return it.reply("🔒 I will no longer listen to or transcribe you.")
	}
	return it.reply("🔓 I will listen to and transcribe you again.")
}

// --- /voice ---

type voiceCommand struct{ settings Settings }

func (c *voiceCommand) Name() string        { return "voice" }
func (c *voiceCommand) Description() string { return "Pick the voice used when answering you" }

func (c *voiceCommand) SlashDefinition() *discordgo.ApplicationCommand {
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, code := range tts.Locales() {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: code, Value: code})
	}
	return &discordgo.ApplicationCommand{
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "code",
			Description: "Voice locale",
			Required:    true,
			Choices:     choices,
		}},
	}
}

func (c *voiceCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	it, err := payload(inv)
	if err != nil {
		return err
	}
	o := findOption(it.options(), "code")
	if o == nil {
		return it.reply("Pick a voice.")
	}
	code := o.StringValue()
	c.settings.SetVoice(it.userID(), code)
	return it.reply("🗣️ Voice set to " + code + ".")
}

// --- /reminders ---

type remindersCommand struct {
	settings  Settings
	reminders Reminders
}

func (c *remindersCommand) Name() string        { return "reminders" }
func (c *remindersCommand) Description() string { return "List or cancel your reminders" }

func (c *remindersCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "Show your pending reminders and timers",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "cancel",
				Description: "Cancel a reminder",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "id",
					Description: "Reminder id as shown by /reminders list",
					Required:    true,
				}},
			},
		},
	}
}

func (c *remindersCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	it, err := payload(inv)
	if err != nil {
		return err
	}
	opts := it.options()
	if len(opts) == 0 {
		return it.reply("Use `/reminders list` or `/reminders cancel`.")
	}

	mine := c.settings.UserReminders(it.userID())
	switch sub := opts[0]; sub.Name {
	case "list":
		return it.replyEmbed(&discordgo.MessageEmbed{
			Title:       "⏰ Your reminders",
			Description: formatReminders(mine),
		})
	case "cancel":
		o := findOption(sub.Options, "id")
		if o == nil {
			return it.reply("Which reminder?")
		}
		r, err := matchReminder(mine, o.StringValue())
		switch {
		case errors.Is(err, errAmbiguousReminder):
			return it.reply("That id matches several reminders, use more characters.")
		case err != nil:
			return it.reply("I couldn't find that reminder.")
		}
		if !c.reminders.Cancel(r.ID) {
			return it.reply("That reminder already fired.")
		}
		return it.reply("Cancelled reminder `" + shortID(r.ID) + "`.")
	default:
		return it.reply("Unknown subcommand.")
	}
}

const shortIDLen = 8

var (
	errReminderNotFound  = errors.New("reminder not found")
	errAmbiguousReminder = errors.New("reminder id is ambiguous")
)

func shortID(id string) string {
	return id[:min(len(id), shortIDLen)]
}

func formatReminders(rs []storage.Reminder) string {
	if len(rs) == 0 {
		return "You have no pending reminders."
	}
	rs = slices.Clone(rs)
	slices.SortFunc(rs, func(a, b storage.Reminder) int { return a.RemindAt.Compare(b.RemindAt) })

	var b strings.Builder
	for _, r := range rs {
		label := r.Message
		if r.IsTimer {
			label = "⏲️ timer"
		}
		fmt.Fprintf(&b, "`%s` %s <t:%d:R>\n", shortID(r.ID), label, r.RemindAt.Unix())
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// matchReminder finds the reminder whose id equals or starts with id.
func matchReminder(rs []storage.Reminder, id string) (storage.Reminder, error) {
	id = strings.Trim(strings.TrimSpace(id), "`")
	if id == "" {
		return storage.Reminder{}, errReminderNotFound
	}
	var found []storage.Reminder
	for _, r := range rs {
		if r.ID == id {
			return r, nil
		}
		if strings.HasPrefix(r.ID, id) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return storage.Reminder{}, errReminderNotFound
	case 1:
		return found[0], nil
	default:
		return storage.Reminder{}, errAmbiguousReminder
	}
}

func (b *Bot) registerSlashCommands(svc Services) {
	mws := []cmd.Middleware{withGuildOnly(), withLogging(b.log)}
	for _, c := range []cmd.Command{
		&joinCommand{voice: svc.Voice},
		&leaveCommand{voice: svc.Voice},
		&stopCommand{voice: svc.Voice},
		&privacyCommand{settings: svc.Settings},
		&voiceCommand{settings: svc.Settings},
		&remindersCommand{settings: svc.Settings, reminders: svc.Reminders},
	} {
		if err := b.cmds.Register(cmd.Apply(c, mws...)); err != nil {
			b.log.Error().Err(err).Msg("register command")
		}
	}
}
