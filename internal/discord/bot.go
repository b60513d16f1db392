// Package discord connects the voice engine to the Discord gateway: voice
// transport, member lookups, presence and slash commands.
package discord

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/mina/pkg/cmd"
)

const idleStatus = "/join"

type Options struct {
	Token          string
	GuildBlacklist []string
	InitCommands   bool
	// DataDir holds the slash command hash cache.
	DataDir string
	FFmpeg  string
	Logger  zerolog.Logger
}

// Bot is a Discord bot
type Bot struct {
	dg        *discordgo.Session
	opts      Options
	log       zerolog.Logger
	cmds      *cmd.Registry
	transport *Transport
	directory *Directory
	svc       Services

	statusMu sync.Mutex
	status   string
}

// New prepares the gateway session without connecting.
func New(opts Options) (*Bot, error) {
	dg, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsDirectMessages
	dg.StateEnabled = true

	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	return &Bot{
		dg:        dg,
		opts:      opts,
		log:       opts.Logger,
		cmds:      cmd.NewRegistry(),
		transport: newTransport(dg, opts.FFmpeg, opts.Logger.With().Str("component", "voice").Logger()),
		directory: &Directory{dg: dg},
	}, nil
}

func (b *Bot) Transport() *Transport { return b.transport }
func (b *Bot) Directory() *Directory { return b.directory }

// Status is the custom status the bot currently shows.
func (b *Bot) Status() string {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	return b.status
}

func (b *Bot) SetStatus(status string) error {
	b.statusMu.Lock()
	b.status = status
	b.statusMu.Unlock()
	if status == "" {
		return b.dg.UpdateListeningStatus(idleStatus)
	}
	return b.dg.UpdateCustomStatus(status)
}

// Run connects, serves events until ctx ends, then closes the gateway.
func (b *Bot) Run(ctx context.Context, svc Services) error {
	b.svc = svc
	b.registerSlashCommands(svc)

	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onInteractionCreate)
	b.dg.AddHandler(b.onVoiceStateUpdate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, closing gateway")
	if err := b.dg.Close(); err != nil {
		return fmt.Errorf("close gateway: %w", err)
	}
	return nil
}

func (b *Bot) isGuildBlacklisted(guildID string) bool {
	return slices.Contains(b.opts.GuildBlacklist, guildID)
}

// leaveIfBlacklisted reports whether the guild was left.
func (b *Bot) leaveIfBlacklisted(g *discordgo.Guild) bool {
	if !b.isGuildBlacklisted(g.ID) {
		return false
	}
	b.log.Info().Str("guild", g.ID).Str("name", g.Name).Msg("leaving blacklisted guild")
	if err := b.dg.GuildLeave(g.ID); err != nil {
		b.log.Error().Err(err).Str("guild", g.ID).Msg("leave guild")
	}
	return true
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	for _, g := range r.Guilds {
		if b.leaveIfBlacklisted(g) {
			continue
		}
		if !b.opts.InitCommands {
			continue
		}
		if err := b.registerCommands(g.ID); err != nil {
			b.log.Error().Err(err).Str("guild", g.ID).Msg("register slash commands")
		}
	}
	if err := b.SetStatus(""); err != nil {
		b.log.Debug().Err(err).Msg("set idle status")
	}
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord bot is running")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if b.leaveIfBlacklisted(g.Guild) || !b.opts.InitCommands {
		return
	}
	if err := b.registerCommands(g.Guild.ID); err != nil {
		b.log.Error().Err(err).Str("guild", g.Guild.ID).Msg("register slash commands")
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	c := b.cmds.Get(name)
	if c == nil {
		b.log.Warn().Str("command", name).Msg("unknown command")
		return
	}

	it := &interaction{s: s, i: i}
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("command", name).Msg("slash command panicked")
		}
	}()
	if err := c.Run(context.Background(), &cmd.Invocation{Data: it}); err != nil && !it.deferred {
		_ = it.reply("Something went wrong running that command.")
	}
}
