// Package session owns the voice session of every guild: one capture router,
// one playback queue and one transport connection, created and torn down
// together.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/mina/internal/audio"
	"github.com/keshon/mina/internal/capture"
	"github.com/keshon/mina/internal/core"
	"github.com/keshon/mina/internal/playback"
	"github.com/keshon/mina/internal/storage"
	"github.com/keshon/mina/internal/tts"
)

var (
	ErrNotAttached    = errors.New("session: not attached to a voice channel")
	ErrUserNotInVoice = errors.New("session: user is not in a voice channel")
)

const (
	ChatterCooldown  = 10 * time.Second
	GreetingCooldown = 20 * time.Minute
	ConsentNotice    = "Voice transcription is now active."
	botVoiceID       = "BOT_TTS"
	botVoiceName     = "Mina 🤖"
	greetDelay       = 5 * time.Second
)

// Connection is one live voice connection.
type Connection interface {
	ChannelID() string
	Receiver() capture.Receiver
	Output() playback.Output
	// Listen starts delivering speaking-start events.
	Listen(onSpeaking func(userID string))
	// Done is closed when the transport drops the connection.
	Done() <-chan struct{}
	Disconnect() error
}

type Transport interface {
	Join(ctx context.Context, guildID, channelID string) (Connection, error)
}

// Directory reads guild state from the transport.
type Directory interface {
	UserVoiceChannel(guildID, userID string) (string, bool)
	MemberName(guildID, userID string) string
	GuildName(guildID string) string
	ChannelName(channelID string) string
	// ChannelMembers lists the human users in a voice channel.
	ChannelMembers(guildID, channelID string) []string
}

type Presence interface {
	Status() string
	SetStatus(status string) error
}

type Synthesizer interface {
	Generate(ctx context.Context, text string, v tts.Voice) (*audio.Clip, error)
}

// Handler turns an utterance into a plan.
type Handler interface {
	Handle(ctx context.Context, text string, uc core.UtteranceContext) (core.Plan, error)
}

type Satellite interface {
	SendCommand(userID, kind string, payload map[string]any) bool
}

type Scheduler interface {
	Schedule(r storage.Reminder) bool
}

type Settings interface {
	IsOptedOut(userID string) bool
	Voice(userID string) string
	GlobalVoice() string
	ChatterEnabled() bool
	AIEnabled() bool
}

type Transcripts interface {
	Append(username, userID, text string) error
	Event(username, userID, event string) error
}

// People knows what users told us about themselves.
type People interface {
	DisplayName(userID string) string
	GreetingFacts(userID string) []string
}

// Greeter writes greetings. Errors fall back to fixed phrases.
type Greeter interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Options struct {
	Transport   Transport
	Directory   Directory
	Presence    Presence
	Synthesizer Synthesizer
	Handler     Handler
	Satellite   Satellite
	Settings    Settings
	Transcripts Transcripts
	People      People
	Greeter     Greeter
	Transcriber capture.Transcriber
	NewDecoder  capture.DecoderFactory

	Silence       time.Duration
	ThinkingSound string
	Chatter       map[string]string
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Session is the voice state of one guild.
type Session struct {
	GuildID   string
	ChannelID string
	transient bool

	conn   Connection
	router *capture.Router // nil for transient sessions
	queue  *playback.Queue
	cancel context.CancelFunc
	once   sync.Once
}

// close tears everything down; safe to call more than once.
func (s *Session) close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.queue.Close()
		if s.router != nil {
			s.router.Close()
		}
		err = s.conn.Disconnect()
	})
	return err
}

// AttachOptions tune a new session.
type AttachOptions struct {
	// Silent speaks only the consent notice instead of a greeting.
	Silent bool
	// Transient sessions only speak: no capture and no greeting.
	Transient bool
}

type Manager struct {
	opts Options
	log  zerolog.Logger
	ctx  context.Context

	// attachMu serializes attach and detach so a guild never holds two
	// connections.
	attachMu sync.Mutex

	mu        sync.Mutex
	sessions  map[string]*Session
	scheduler Scheduler

	chatterKeys  []string // lowercased, longest first
	chatterLines map[string]string
	greetDelay   time.Duration

	coolMu      sync.Mutex
	lastChatter map[string]time.Time
	lastGreet   map[string]time.Time
}

func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		opts:         opts,
		log:          opts.Logger,
		ctx:          ctx,
		sessions:     make(map[string]*Session),
		chatterLines: make(map[string]string, len(opts.Chatter)),
		greetDelay:   greetDelay,
		lastChatter:  make(map[string]time.Time),
		lastGreet:    make(map[string]time.Time),
	}
	for k, v := range opts.Chatter {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || v == "" {
			continue
		}
		m.chatterLines[k] = v
		m.chatterKeys = append(m.chatterKeys, k)
	}
	slices.SortFunc(m.chatterKeys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	return m
}

// SetScheduler wires the reminder scheduler after both are built.
func (m *Manager) SetScheduler(s Scheduler) {
	m.mu.Lock()
	m.scheduler = s
	m.mu.Unlock()
}

func (m *Manager) session(guildID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[guildID]
}

// AttachedChannel is the channel the guild's session is in.
func (m *Manager) AttachedChannel(guildID string) (string, bool) {
	if s := m.session(guildID); s != nil {
		return s.ChannelID, true
	}
	return "", false
}

// Sessions returns the guild ids with a live session.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for g := range m.sessions {
		out = append(out, g)
	}
	return out
}

// AttachUser joins the voice channel userID is in.
func (m *Manager) AttachUser(ctx context.Context, guildID, userID string, o AttachOptions) (*Session, error) {
	ch, ok := m.opts.Directory.UserVoiceChannel(guildID, userID)
	if !ok {
		return nil, ErrUserNotInVoice
	}
	return m.Attach(ctx, guildID, ch, o)
}

// Attach joins channelID. An existing session in the same channel is reused,
// one in another channel is torn down first.
func (m *Manager) Attach(ctx context.Context, guildID, channelID string, o AttachOptions) (*Session, error) {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	if cur := m.session(guildID); cur != nil {
		if cur.ChannelID == channelID && (cur.transient == o.Transient || !cur.transient) {
			return cur, nil
		}
		m.teardown(cur, "moving to another channel")
	}

	conn, err := m.opts.Transport.Join(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("join voice: %w", err)
	}

	sctx, cancel := context.WithCancel(m.ctx)
	log := m.log.With().Str("guild", guildID).Str("channel", channelID).Logger()
	s := &Session{
		GuildID:   guildID,
		ChannelID: channelID,
		transient: o.Transient,
		conn:      conn,
		queue:     playback.New(conn.Output(), log.With().Str("component", "player").Logger()),
		cancel:    cancel,
	}

	if !o.Transient {
		s.router = capture.New(sctx, capture.Options{
			Receiver:    conn.Receiver(),
			NewDecoder:  m.opts.NewDecoder,
			Transcriber: m.opts.Transcriber,
			Privacy:     m.opts.Settings,
			Silence:     m.opts.Silence,
			Logger:      log.With().Str("component", "capture").Logger(),
			Handler: func(ctx context.Context, userID, text string) {
				m.HandleUtterance(ctx, guildID, userID, text)
			},
		})
		conn.Listen(func(userID string) { s.router.OnSpeakingStart(userID) })
	}

	m.mu.Lock()
	m.sessions[guildID] = s
	m.mu.Unlock()

	go m.watch(s)
	log.Info().Bool("transient", o.Transient).Msg("attached")

	if !o.Transient {
		go m.greetGroup(sctx, s, o.Silent)
	}
	return s, nil
}

// watch tears the session down when the transport drops it.
func (m *Manager) watch(s *Session) {
	select {
	case <-s.conn.Done():
		m.attachMu.Lock()
		defer m.attachMu.Unlock()
		if m.session(s.GuildID) == s {
			m.teardown(s, "transport disconnected")
		}
	case <-m.ctx.Done():
	}
}

// teardown must run with attachMu held.
func (m *Manager) teardown(s *Session, reason string) {
	m.mu.Lock()
	if m.sessions[s.GuildID] == s {
		delete(m.sessions, s.GuildID)
	}
	m.mu.Unlock()

	if err := s.close(); err != nil {
		m.log.Debug().Err(err).Str("guild", s.GuildID).Msg("disconnect")
	}
	m.log.Info().Str("guild", s.GuildID).Str("reason", reason).Msg("detached")
}

// Detach leaves the guild's voice channel. It reports whether a session
// existed.
func (m *Manager) Detach(guildID string) bool {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	s := m.session(guildID)
	if s == nil {
		return false
	}
	m.teardown(s, "leave requested")
	return true
}

// Close detaches every session.
func (m *Manager) Close() {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.teardown(s, "shutdown")
	}
}
