package session

import (
	"context"
	"errors"

	"github.com/keshon/mina/internal/audio"
	"github.com/keshon/mina/internal/playback"
	"github.com/keshon/mina/internal/tts"
)

var errNotPlayed = errors.New("session: speech did not play to completion")

func (m *Manager) voiceFor(userID string) tts.Voice {
	if userID == "" {
		return tts.Voice{Code: m.opts.Settings.GlobalVoice()}
	}
	return tts.Voice{Code: m.opts.Settings.Voice(userID)}
}

func (m *Manager) enqueueSpeech(ctx context.Context, s *Session, userID, text string) (<-chan bool, error) {
	v := m.voiceFor(userID)
	done, err := s.queue.Enqueue(ctx, func(ctx context.Context) (playback.Resource, error) {
		clip, err := m.opts.Synthesizer.Generate(ctx, text, v)
		if err != nil {
			return nil, err
		}
		return clip, nil
	})
	if err != nil {
		return nil, err
	}

	if m.opts.Transcripts != nil {
		if err := m.opts.Transcripts.Append(botVoiceName, botVoiceID, text); err != nil {
			m.log.Error().Err(err).Msg("transcript write failed")
		}
	}
	return done, nil
}

// Speak queues text in the guild's session, voiced for userID. The channel
// yields true once it played to completion.
func (m *Manager) Speak(ctx context.Context, guildID, userID, text string) (<-chan bool, error) {
	s := m.session(guildID)
	if s == nil {
		return nil, ErrNotAttached
	}
	return m.enqueueSpeech(ctx, s, userID, text)
}

// SpeakAndWait speaks and blocks until playback finishes.
func (m *Manager) SpeakAndWait(ctx context.Context, guildID, userID, text string) error {
	done, err := m.Speak(ctx, guildID, userID, text)
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

func wait(ctx context.Context, done <-chan bool) error {
	select {
	case ok := <-done:
		if !ok {
			return errNotPlayed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SpeakTransient joins channelID without listening, speaks, waits and leaves.
// Any other session of the guild is torn down first.
func (m *Manager) SpeakTransient(ctx context.Context, guildID, channelID, userID, text string) error {
	s, err := m.Attach(ctx, guildID, channelID, AttachOptions{Transient: true})
	if err != nil {
		return err
	}
	if s.transient {
		defer m.detachSession(s, "transient speech finished")
	}

	done, err := m.enqueueSpeech(ctx, s, userID, text)
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

// detachSession tears s down only if it is still the guild's session.
func (m *Manager) detachSession(s *Session, reason string) {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()
	if m.session(s.GuildID) == s {
		m.teardown(s, reason)
	}
}

// PlayFile queues a sound file that is not deleted after playback.
func (m *Manager) PlayFile(ctx context.Context, guildID, path string) (<-chan bool, error) {
	s := m.session(guildID)
	if s == nil {
		return nil, ErrNotAttached
	}
	clip := audio.File(path)
	return s.queue.Enqueue(ctx, func(context.Context) (playback.Resource, error) {
		return clip, nil
	})
}

// StopSpeaking interrupts the current item and discards the rest. It reports
// whether anything was stopped or dropped.
func (m *Manager) StopSpeaking(guildID string) bool {
	s := m.session(guildID)
	if s == nil {
		return false
	}
	stopped := s.queue.StopCurrent()
	return s.queue.Clear() > 0 || stopped
}
