// Package reminder fires one-shot reminders and timers, either as speech in
// the user's voice channel or as a direct message.
package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/mina/internal/storage"
	"github.com/keshon/mina/pkg/jobmgr"
)

const (
	// SweepAge is how far past due a reminder may be before the sweep drops it.
	SweepAge       = 24 * time.Hour
	deliverTimeout = 2 * time.Minute
	jobPrefix      = "reminder:"
)

type Store interface {
	Reminders() []storage.Reminder
	Reminder(id string) (storage.Reminder, bool)
	RemoveReminder(id string) bool
	PruneReminders(cutoff time.Time) int
}

// Directory answers where a user is and reaches them privately.
type Directory interface {
	GuildKnown(guildID string) bool
	UserVoiceChannel(guildID, userID string) (channelID string, ok bool)
	DirectMessage(ctx context.Context, userID, text string) error
}

// Voice speaks into voice sessions.
type Voice interface {
	// AttachedChannel is the channel the guild's session is in, if any.
	AttachedChannel(guildID string) (string, bool)
	// SpeakAndWait speaks into the existing session and waits for playback.
	SpeakAndWait(ctx context.Context, guildID, userID, text string) error
	// SpeakTransient attaches to channelID, speaks, waits and detaches.
	SpeakTransient(ctx context.Context, guildID, channelID, userID, text string) error
}

type Names interface {
	DisplayName(userID string) string
}

type Options struct {
	Store     Store
	Directory Directory
	Voice     Voice
	Names     Names
	Logger    zerolog.Logger
	Now       func() time.Time
}

type Scheduler struct {
	opts Options
	log  zerolog.Logger
	jobs *jobmgr.Manager

	// ctx bounds deliveries already under way; only Close ends it.
	ctx  context.Context
	stop context.CancelFunc

	guildMu sync.Mutex
	guilds  map[string]*sync.Mutex
}

func New(opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{
		opts:   opts,
		log:    opts.Logger,
		guilds: make(map[string]*sync.Mutex),
	}
	s.ctx, s.stop = context.WithCancel(context.Background())
	s.jobs = jobmgr.NewManager(func(msg string) {
		s.log.Debug().Str("job", msg).Msg("job status")
	})
	return s
}

// Schedule arms r. Reminders already due are not fired late and Schedule
// reports false for them.
func (s *Scheduler) Schedule(r storage.Reminder) bool {
	delay := r.RemindAt.Sub(s.opts.Now())
	if delay <= 0 {
		s.log.Info().Str("id", r.ID).Time("remind_at", r.RemindAt).Msg("skipping past-due reminder")
		return false
	}

	err := s.jobs.StartAfter(jobPrefix+r.ID, delay, func(context.Context) error {
		return s.fire(r.ID)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("id", r.ID).Msg("could not arm reminder")
		return false
	}
	s.log.Info().Str("id", r.ID).Str("user", r.UserID).Dur("in", delay).Msg("reminder scheduled")
	return true
}

// Cancel removes the reminder and disarms it. Reports whether it was stored.
// A reminder that already started firing finishes its delivery.
func (s *Scheduler) Cancel(id string) bool {
	removed := s.opts.Store.RemoveReminder(id)
	if err := s.jobs.Stop(jobPrefix + id); err != nil && !errors.Is(err, jobmgr.ErrNotRunning) {
		s.log.Warn().Err(err).Str("id", id).Msg("stop job")
	}
	return removed
}

// Armed lists the ids currently waiting to fire.
func (s *Scheduler) Armed() []string {
	names := s.jobs.List()
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n[len(jobPrefix):])
	}
	return out
}

// Restore arms every stored reminder still in the future and deletes the rest.
func (s *Scheduler) Restore(now time.Time) (armed, removed int) {
	for _, r := range s.opts.Store.Reminders() {
		if !r.RemindAt.After(now) {
			if s.opts.Store.RemoveReminder(r.ID) {
				removed++
			}
			continue
		}
		if s.Schedule(r) {
			armed++
		}
	}
	s.log.Info().Int("armed", armed).Int("removed", removed).Msg("reminders restored")
	return armed, removed
}

// Sweep drops reminders more than SweepAge past due.
func (s *Scheduler) Sweep() int {
	n := s.opts.Store.PruneReminders(s.opts.Now().Add(-SweepAge))
	if n > 0 {
		s.log.Info().Int("removed", n).Msg("swept stale reminders")
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx ends.
func (s *Scheduler) RunSweeper(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Sweep()
		}
	}
}

// Close disarms every pending reminder. Stored reminders stay for the next Restore.
func (s *Scheduler) Close() {
	s.stop()
	s.jobs.Close()
}

func (s *Scheduler) fire(id string) error {
	r, ok := s.opts.Store.Reminder(id)
	if !ok {
		return nil
	}
	defer s.opts.Store.RemoveReminder(id)

	ctx, cancel := context.WithTimeout(s.ctx, deliverTimeout)
	defer cancel()

	lock := s.guildLock(r.GuildID)
	lock.Lock()
	defer lock.Unlock()

	return s.deliver(ctx, r)
}

func (s *Scheduler) guildLock(guildID string) *sync.Mutex {
	s.guildMu.Lock()
	defer s.guildMu.Unlock()
	m, ok := s.guilds[guildID]
	if !ok {
		m = &sync.Mutex{}
		s.guilds[guildID] = m
	}
	return m
}

func (s *Scheduler) text(r storage.Reminder) string {
	name := ""
	if s.opts.Names != nil {
		name = s.opts.Names.DisplayName(r.UserID)
	}
	if name == "" {
		return "Reminder: " + r.Message
	}
	return "Reminder for " + name + ": " + r.Message
}

func (s *Scheduler) deliver(ctx context.Context, r storage.Reminder) error {
	text := s.text(r)
	log := s.log.With().Str("id", r.ID).Str("user", r.UserID).Str("guild", r.GuildID).Logger()

	dir := s.opts.Directory
	if !dir.GuildKnown(r.GuildID) {
		return s.dm(ctx, r, text)
	}
	channelID, inVoice := dir.UserVoiceChannel(r.GuildID, r.UserID)
	if !inVoice {
		return s.dm(ctx, r, text)
	}

	if attached, ok := s.opts.Voice.AttachedChannel(r.GuildID); ok && attached == channelID {
		if err := s.opts.Voice.SpeakAndWait(ctx, r.GuildID, r.UserID, text); err != nil {
			log.Warn().Err(err).Msg("speaking reminder failed, sending DM")
			return s.dm(ctx, r, text)
		}
		log.Info().Msg("reminder spoken")
		return nil
	}

	if err := s.opts.Voice.SpeakTransient(ctx, r.GuildID, channelID, r.UserID, text); err != nil {
		log.Warn().Err(err).Msg("transient join failed, sending DM")
		return s.dm(ctx, r, text)
	}
	log.Info().Msg("reminder spoken in transient session")
	return nil
}

func (s *Scheduler) dm(ctx context.Context, r storage.Reminder, text string) error {
	if err := s.opts.Directory.DirectMessage(ctx, r.UserID, "🔔 "+text); err != nil {
		s.log.Error().Err(err).Str("id", r.ID).Str("user", r.UserID).Msg("reminder DM failed")
		return err
	}
	return nil
}
