package discord

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/mina/pkg/cmd"
)

// SlashProvider is implemented by commands exposed as slash commands.
type SlashProvider interface {
	SlashDefinition() *discordgo.ApplicationCommand
}

// registerCommands syncs slash commands for a guild with Discord:
// deletes obsolete ones, creates/updates commands whose definition has changed.
func (b *Bot) registerCommands(guildID string) error {
	appID, err := b.appID()
	if err != nil {
		return err
	}

	remote, err := b.dg.ApplicationCommands(appID, guildID)
	if err != nil {
		return fmt.Errorf("list commands: %w", err)
	}
	local := b.commandDefinitions()
	hashes := b.loadCommandHashes(guildID)

	b.deleteObsoleteCommands(appID, guildID, remote, local, hashes)
	b.upsertChangedCommands(appID, guildID, remote, local, hashes)
	b.saveCommandHashes(guildID, hashes)
	return nil
}

func (b *Bot) commandDefinitions() []*discordgo.ApplicationCommand {
	var defs []*discordgo.ApplicationCommand
	for _, c := range b.cmds.GetAll() {
		if def := commandDefinition(c); def != nil {
			defs = append(defs, def)
		}
	}
	return defs
}

func (b *Bot) deleteObsoleteCommands(appID, guildID string, remote, local []*discordgo.ApplicationCommand, hashes map[string]string) {
	wanted := make(map[string]struct{}, len(local))
	for _, d := range local {
		wanted[d.Name] = struct{}{}
	}

	for _, rc := range remote {
		if _, ok := wanted[rc.Name]; ok {
			continue
		}
		b.log.Info().Str("guild", guildID).Str("command", rc.Name).Msg("deleting obsolete command")
		if err := b.dg.ApplicationCommandDelete(appID, guildID, rc.ID); err != nil {
			b.log.Error().Err(err).Str("guild", guildID).Str("command", rc.Name).Msg("delete command")
			continue
		}
		delete(hashes, rc.Name)
	}
}

// upsertChangedCommands creates commands whose hash differs from the cached
// value or that are missing remotely.
func (b *Bot) upsertChangedCommands(appID, guildID string, remote, local []*discordgo.ApplicationCommand, hashes map[string]string) {
	present := make(map[string]struct{}, len(remote))
	for _, rc := range remote {
		present[rc.Name] = struct{}{}
	}

	for _, d := range local {
		h := hashCommand(d)
		if _, ok := present[d.Name]; ok && hashes[d.Name] == h {
			continue
		}
		if _, err := b.dg.ApplicationCommandCreate(appID, guildID, d); err != nil {
			b.log.Error().Err(err).Str("guild", guildID).Str("command", d.Name).Msg("register command")
			continue
		}
		hashes[d.Name] = h
		b.log.Info().Str("guild", guildID).Str("command", d.Name).Msg("registered command")
		time.Sleep(25 * time.Millisecond) // stay well under Discord's rate limit
	}
}

// commandDefinition extracts the slash definition, walking through middleware
// wrappers via cmd.Root.
func commandDefinition(c cmd.Command) *discordgo.ApplicationCommand {
	slash, ok := cmd.Root(c).(SlashProvider)
	if !ok {
		return nil
	}
	def := slash.SlashDefinition()
	if def == nil {
		return nil
	}
	if def.Type == 0 {
		def.Type = discordgo.ChatApplicationCommand
	}
	if def.Name == "" {
		def.Name = c.Name()
	}
	if def.Description == "" {
		def.Description = c.Description()
	}
	return def
}

// appID returns the bot's application ID, fetching from Discord if not cached in State.
func (b *Bot) appID() (string, error) {
	if u := b.dg.State.User; u != nil && u.ID != "" {
		return u.ID, nil
	}
	u, err := b.dg.User("@me")
	if err != nil {
		return "", fmt.Errorf("failed to fetch bot user: %w", err)
	}
	return u.ID, nil
}

// --- Command hash cache ---

func (b *Bot) commandHashPath(guildID string) string {
	return filepath.Join(b.opts.DataDir, "commands", guildID+".json")
}

func (b *Bot) loadCommandHashes(guildID string) map[string]string {
	out := make(map[string]string)
	if data, err := os.ReadFile(b.commandHashPath(guildID)); err == nil {
		_ = json.Unmarshal(data, &out)
	}
	return out
}

func (b *Bot) saveCommandHashes(guildID string, hashes map[string]string) {
	path := b.commandHashPath(guildID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		b.log.Warn().Err(err).Msg("command cache dir")
		return
	}
	data, err := json.MarshalIndent(hashes, "", "  ")
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		b.log.Warn().Err(err).Str("guild", guildID).Msg("save command cache")
	}
}

// --- Command hashing ---

// hashCommand returns a deterministic SHA-1 of a command's stable fields.
func hashCommand(c *discordgo.ApplicationCommand) string {
	stable := map[string]any{
		"name":        c.Name,
		"description": c.Description,
		"type":        c.Type,
	}
	if len(c.Options) > 0 {
		stable["options"] = normalizeOptions(c.Options)
	}
	data, _ := json.Marshal(stable)
	return fmt.Sprintf("%x", sha1.Sum(data))
}

func normalizeOptions(opts []*discordgo.ApplicationCommandOption) []map[string]any {
	out := make([]map[string]any, len(opts))
	for i, o := range opts {
		entry := map[string]any{
			"name":        o.Name,
			"description": o.Description,
			"type":        o.Type,
			"required":    o.Required,
		}
		if len(o.Choices) > 0 {
			choices := make([]map[string]any, len(o.Choices))
			for j, ch := range o.Choices {
				choices[j] = map[string]any{"name": ch.Name, "value": ch.Value}
			}
			entry["choices"] = choices
		}
		if len(o.Options) > 0 {
			entry["options"] = normalizeOptions(o.Options)
		}
		out[i] = entry
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["name"].(string) < out[j]["name"].(string)
	})
	return out
}
