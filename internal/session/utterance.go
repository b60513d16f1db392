package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/keshon/mina/internal/core"
	"github.com/keshon/mina/internal/storage"
)

const replyNoSatellite = "Your satellite isn't connected."

func (m *Manager) utteranceContext(guildID, userID string) core.UtteranceContext {
	uc := core.UtteranceContext{
		UserID:    userID,
		SessionID: guildID,
	}
	if m.opts.People != nil {
		uc.DisplayName = m.opts.People.DisplayName(userID)
	}
	if uc.DisplayName == "" {
		uc.DisplayName = m.opts.Directory.MemberName(guildID, userID)
	}
	uc.SessionName = m.opts.Directory.GuildName(guildID)
	if m.opts.Presence != nil {
		uc.CurrentStatus = m.opts.Presence.Status()
	}
	return uc
}

// HandleUtterance runs one recognized text through the handler and carries
// out the resulting plan. A panic is logged and contained here.
func (m *Manager) HandleUtterance(ctx context.Context, guildID, userID, text string) {
	log := m.log.With().Str("guild", guildID).Str("user", userID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("utterance handler panicked")
		}
	}()

	uc := m.utteranceContext(guildID, userID)
	log.Info().Str("name", uc.DisplayName).Str("text", text).Msg("heard")
	if m.opts.Transcripts != nil {
		if err := m.opts.Transcripts.Append(uc.DisplayName, userID, text); err != nil {
			log.Error().Err(err).Msg("transcript write failed")
		}
	}

	plan, err := m.opts.Handler.Handle(ctx, text, uc)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("utterance failed")
		}
		return
	}
	if plan.IsEmpty() {
		m.chatter(ctx, guildID, userID, text)
		return
	}
	m.execute(ctx, uc, plan)
}

func (m *Manager) currentScheduler() Scheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduler
}

func (m *Manager) execute(ctx context.Context, uc core.UtteranceContext, plan core.Plan) {
	log := m.log.With().Str("guild", uc.SessionID).Str("user", uc.UserID).Logger()

	speak := plan.Speak
	if c := plan.SatelliteCommand; c != nil {
		if m.opts.Satellite == nil || !m.opts.Satellite.SendCommand(uc.UserID, c.Type, c.Payload) {
			log.Info().Str("command", c.Type).Msg("no satellite for user")
			speak = replyNoSatellite
		}
	}

	if st := plan.Metadata.NewStatus; st != "" && m.opts.Presence != nil {
		if err := m.opts.Presence.SetStatus(st); err != nil {
			log.Warn().Err(err).Msg("set status")
		}
	}

	for _, r := range []*storage.Reminder{plan.Reminder, plan.Timer} {
		if r == nil {
			continue
		}
		if s := m.currentScheduler(); s == nil || !s.Schedule(*r) {
			log.Warn().Str("reminder", r.ID).Msg("reminder not armed")
		}
	}

	if speak != "" {
		if _, err := m.Speak(ctx, uc.SessionID, uc.UserID, speak); err != nil {
			log.Warn().Err(err).Msg("speak")
		}
	}
	if plan.PlayFile != "" {
		if _, err := m.PlayFile(ctx, uc.SessionID, plan.PlayFile); err != nil {
			log.Warn().Err(err).Str("file", plan.PlayFile).Msg("play file")
		}
	}
}

// PlayThinking queues the thinking cue for the guild of uc, if one is
// configured.
func (m *Manager) PlayThinking(uc core.UtteranceContext) {
	if m.opts.ThinkingSound == "" {
		return
	}
	if _, err := m.PlayFile(m.ctx, uc.SessionID, m.opts.ThinkingSound); err != nil {
		m.log.Debug().Err(err).Str("guild", uc.SessionID).Msg("thinking cue")
	}
}

// allow reports whether key is outside its cooldown and, if so, starts a new
// one.
func (m *Manager) allow(last map[string]time.Time, key string, d time.Duration) bool {
	m.coolMu.Lock()
	defer m.coolMu.Unlock()
	now := m.opts.Now()
	if t, ok := last[key]; ok && now.Sub(t) < d {
		return false
	}
	last[key] = now
	return true
}

// chatter answers a keyword with a canned line. It reports whether it spoke.
func (m *Manager) chatter(ctx context.Context, guildID, userID, text string) bool {
	if len(m.chatterKeys) == 0 || !m.opts.Settings.ChatterEnabled() {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	if len(lower) <= 2 {
		return false
	}

	i := slices.IndexFunc(m.chatterKeys, func(k string) bool { return strings.Contains(lower, k) })
	if i < 0 || !m.allow(m.lastChatter, guildID, ChatterCooldown) {
		return false
	}
	reply := m.chatterLines[m.chatterKeys[i]]
	if _, err := m.Speak(ctx, guildID, userID, reply); err != nil {
		m.log.Debug().Err(err).Str("guild", guildID).Msg("chatter")
		return false
	}
	return true
}
