package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

const (
	greetSystem      = "You are Mina, a friendly voice assistant in a Discord voice channel. Reply with the spoken text only."
	groupFallback    = "Hello everyone! Voice transcription is now active."
	groupConsentTail = "By the way, voice transcription is now active."
	maxGroupFacts    = 5
)

// LoadChatter reads the keyword to response map. A missing file yields an
// empty map.
func LoadChatter(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chatter responses: %w", err)
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse chatter responses: %w", err)
	}
	return out, nil
}

func (m *Manager) canGreetWithAI() bool {
	return m.opts.Greeter != nil && m.opts.Settings.AIEnabled()
}

func (m *Manager) complete(ctx context.Context, prompt string) string {
	reply, err := m.opts.Greeter.Complete(ctx, greetSystem, prompt)
	if err != nil {
		m.log.Debug().Err(err).Msg("greeting generation failed")
		return ""
	}
	return strings.Trim(strings.TrimSpace(reply), `"`)
}

func (m *Manager) nameOf(guildID, userID string) string {
	if m.opts.People != nil {
		if n := m.opts.People.DisplayName(userID); n != "" {
			return n
		}
	}
	return m.opts.Directory.MemberName(guildID, userID)
}

func (m *Manager) factsOf(userID string, n int) []string {
	if m.opts.People == nil {
		return nil
	}
	f := m.opts.People.GreetingFacts(userID)
	return f[:min(len(f), n)]
}

// groupGreeting builds what the bot says after joining. The consent notice is
// always part of it.
func (m *Manager) groupGreeting(ctx context.Context, s *Session) string {
	if !m.canGreetWithAI() {
		return groupFallback
	}

	var present strings.Builder
	count := 0
	for _, id := range m.opts.Directory.ChannelMembers(s.GuildID, s.ChannelID) {
		if m.opts.Settings.IsOptedOut(id) {
			continue
		}
		count++
		fmt.Fprintf(&present, "- %s: %s\n", m.nameOf(s.GuildID, id), strings.Join(m.factsOf(id, maxGroupFacts), ", "))
	}

	style := "Greet everyone individually by name. Be friendly and personalized based on their facts."
	if count > 3 {
		style = "Greet the group generally. Briefly mention 1-2 key people if relevant."
	}
	prompt := fmt.Sprintf(`You have just joined a voice channel named %q.
People present (%d):
%s
[Instructions]
- %s
- Keep it VERY SHORT (under 2 sentences).
- MANDATORY: End with this exact phrase: %q

Generate the spoken greeting:`, m.opts.Directory.ChannelName(s.ChannelID), count, present.String(), style, groupConsentTail)

	reply := m.complete(ctx, prompt)
	if reply == "" {
		return groupFallback
	}
	if !strings.Contains(strings.ToLower(reply), "transcription") {
		reply += " " + groupConsentTail
	}
	return reply
}

func (m *Manager) greetGroup(ctx context.Context, s *Session, silent bool) {
	text := ConsentNotice
	if !silent {
		text = m.groupGreeting(ctx, s)
	}
	if _, err := m.enqueueSpeech(ctx, s, "", text); err != nil {
		m.log.Debug().Err(err).Str("guild", s.GuildID).Msg("join greeting")
	}
}

// userGreeting greets one person by name and mentions that transcription is
// on.
func (m *Manager) userGreeting(ctx context.Context, guildID, userID string) string {
	name := m.nameOf(guildID, userID)
	fallback := "Hello " + name + ", voice transcription is active."
	if !m.canGreetWithAI() {
		return fallback
	}

	prompt := fmt.Sprintf(`A user named %q just joined the voice call where you are present.
User Facts: %s

[Instructions]
- Say hello to them personally.
- Keep it VERY SHORT (1 sentence).
- MANDATORY: Mention that "voice transcription is active".

Generate the spoken greeting:`, name, strings.Join(m.factsOf(userID, 3), ", "))

	reply := m.complete(ctx, prompt)
	if reply == "" {
		return fallback
	}
	if !strings.Contains(strings.ToLower(reply), "transcription") {
		reply += " Voice transcription is active."
	}
	return reply
}

// greetUser speaks the join greeting unless the user opted out or was greeted
// within GreetingCooldown.
func (m *Manager) greetUser(ctx context.Context, guildID, userID string) bool {
	s := m.session(guildID)
	if s == nil || s.transient {
		return false
	}
	if m.opts.Settings.IsOptedOut(userID) || !m.allow(m.lastGreet, userID, GreetingCooldown) {
		return false
	}
	text := m.userGreeting(ctx, guildID, userID)
	if _, err := m.enqueueSpeech(ctx, s, "", text); err != nil {
		m.log.Debug().Err(err).Str("guild", guildID).Msg("user greeting")
		return false
	}
	return true
}

// VoiceStateChange is a user moving between voice channels. An empty channel
// means not in voice.
type VoiceStateChange struct {
	GuildID string
	UserID  string
	Before  string
	After   string
	Bot     bool
}

// OnVoiceStateUpdate greets users joining the bot's channel and leaves once no
// human is left in it.
func (m *Manager) OnVoiceStateUpdate(v VoiceStateChange) {
	if v.Before == v.After {
		return
	}
	s := m.session(v.GuildID)
	if s == nil || s.transient {
		return
	}

	switch s.ChannelID {
	case v.After:
		name := m.nameOf(v.GuildID, v.UserID)
		m.event(name, v.UserID, name+" joined the channel.")
		if v.Bot {
			return
		}
		go m.delayedGreet(v.GuildID, v.UserID)

	case v.Before:
		name := m.nameOf(v.GuildID, v.UserID)
		m.event(name, v.UserID, name+" left the channel.")
		if len(m.opts.Directory.ChannelMembers(v.GuildID, s.ChannelID)) == 0 {
			m.detachSession(s, "channel is empty")
		}
	}
}

func (m *Manager) delayedGreet(guildID, userID string) {
	t := time.NewTimer(m.greetDelay)
	defer t.Stop()
	select {
	case <-t.C:
		m.greetUser(m.ctx, guildID, userID)
	case <-m.ctx.Done():
	}
}

func (m *Manager) event(name, userID, text string) {
	m.log.Info().Str("user", userID).Msg(text)
	if m.opts.Transcripts == nil {
		return
	}
	if err := m.opts.Transcripts.Event(name, userID, text); err != nil {
		m.log.Error().Err(err).Msg("transcript write failed")
	}
}
