package command

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/keshon/mina/internal/core"
	"github.com/keshon/mina/internal/nlu"
	"github.com/keshon/mina/internal/storage"
)

const (
	replyNoMedia      = "I can't tell what's playing right now."
	replyMediaDone    = "Done."
	replyMediaUnknown = "I'm not sure what you want me to do with the music."
	TimerMessage      = "Timer is up!"
)

// ReminderStore persists new reminders.
type ReminderStore interface {
	AddReminder(r storage.Reminder)
}

// MediaQuerier asks a user's satellite about the current media.
type MediaQuerier interface {
	Query(ctx context.Context, userID, kind string, timeout time.Duration) json.RawMessage
}

// MediaInfo is the satellite's answer to a MEDIA_INFO query.
type MediaInfo struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

type Builtins struct {
	Store        ReminderStore
	Classifier   nlu.Classifier
	Satellite    MediaQuerier
	QueryTimeout time.Duration
	Now          func() time.Time
}

// RegisterBuiltins adds reminder, timer and media bindings, in that order.
func RegisterBuiltins(r *Registry, b Builtins) {
	if b.Now == nil {
		b.Now = time.Now
	}
	if b.QueryTimeout <= 0 {
		b.QueryTimeout = 3 * time.Second
	}

	r.Register(When("reminder",
		func(text string, _ core.UtteranceContext) bool { return nlu.ParseReminderAt(text, b.Now()) != nil },
		b.setReminder,
	))
	r.Register(When("timer",
		func(text string, _ core.UtteranceContext) bool { return nlu.ParseTimerAt(text, b.Now()) != nil },
		b.setTimer,
	))
	r.Register(When("media",
		func(text string, _ core.UtteranceContext) bool {
			in := b.Classifier.Score(text)
			return in.Domain == nlu.DomainMusic && in.Confidence > 0.6
		},
		b.media,
	))
}

func (b Builtins) setReminder(_ context.Context, m Match, uc core.UtteranceContext) (core.Plan, error) {
	now := b.Now()
	parsed := nlu.ParseReminderAt(m.Text, now)
	if parsed == nil {
		return core.Plan{}, nil
	}

	rem := storage.NewReminder(uc.UserID, uc.SessionID, parsed.Message, parsed.RemindAt, false)
	b.Store.AddReminder(rem)

	return core.Plan{
		Reminder: &rem,
		Speak:    "Set reminder for " + parsed.Message + " in " + nlu.SpokenDuration(parsed.RemindAt.Sub(now)) + ".",
	}, nil
}

func (b Builtins) setTimer(_ context.Context, m Match, uc core.UtteranceContext) (core.Plan, error) {
	now := b.Now()
	parsed := nlu.ParseTimerAt(m.Text, now)
	if parsed == nil {
		return core.Plan{}, nil
	}

	rem := storage.NewReminder(uc.UserID, uc.SessionID, TimerMessage, parsed.RemindAt, true)
	b.Store.AddReminder(rem)

	return core.Plan{
		Timer: &rem,
		Speak: "Timer set for " + nlu.SpokenDuration(parsed.RemindAt.Sub(now)) + ".",
	}, nil
}

func (b Builtins) media(ctx context.Context, m Match, uc core.UtteranceContext) (core.Plan, error) {
	intent := nlu.ParseMedia(m.Text)
	switch intent {
	case nlu.IntentNone:
		return core.Plan{Speak: replyMediaUnknown}, nil
	case nlu.MediaInfo:
		return core.Plan{Speak: b.describeMedia(ctx, uc.UserID)}, nil
	default:
		return core.Plan{
			SatelliteCommand: &core.SatelliteCommand{Type: string(intent)},
			Speak:            replyMediaDone,
		}, nil
	}
}

func (b Builtins) describeMedia(ctx context.Context, userID string) string {
	raw := b.Satellite.Query(ctx, userID, string(nlu.MediaInfo), b.QueryTimeout)
	if raw == nil {
		return replyNoMedia
	}

	var info MediaInfo
	if err := json.Unmarshal(raw, &info); err != nil || strings.TrimSpace(info.Title) == "" {
		return replyNoMedia
	}
	if info.Artist != "" {
		return "Playing " + info.Title + " by " + info.Artist + "."
	}
	return "Playing " + info.Title + "."
}
