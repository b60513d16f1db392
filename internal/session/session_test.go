package session

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/mina/internal/audio"
	"github.com/keshon/mina/internal/capture"
	"github.com/keshon/mina/internal/core"
	"github.com/keshon/mina/internal/playback"
	"github.com/keshon/mina/internal/storage"
	"github.com/keshon/mina/internal/tts"
)

type recorder struct {
	mu     sync.Mutex
	played []string
}

func (r *recorder) Play(_ context.Context, res playback.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.played = append(r.played, res.(*audio.Clip).Path)
	return nil
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.played)
}

type noReceiver struct{}

func (noReceiver) Subscribe(string, time.Duration) (capture.Subscription, error) {
	return nil, errors.New("no audio in tests")
}

type fakeConn struct {
	channel string
	out     *recorder
	done    chan struct{}

	mu         sync.Mutex
	listening  bool
	disconnect int
}

func (c *fakeConn) ChannelID() string          { return c.channel }
func (c *fakeConn) Receiver() capture.Receiver { return noReceiver{} }
func (c *fakeConn) Output() playback.Output    { return c.out }
func (c *fakeConn) Done() <-chan struct{}      { return c.done }

func (c *fakeConn) Listen(func(string)) {
	c.mu.Lock()
	c.listening = true
	c.mu.Unlock()
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	c.disconnect++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnect
}

type fakeTransport struct {
	out *recorder
	err error

	mu    sync.Mutex
	conns []*fakeConn
}

func (t *fakeTransport) Join(_ context.Context, _, channelID string) (Connection, error) {
	if t.err != nil {
		return nil, t.err
	}
	c := &fakeConn{channel: channelID, out: t.out, done: make(chan struct{})}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) joined() []*fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.conns)
}

type fakeDirectory struct {
	mu      sync.Mutex
	voice   map[string]string
	members []string
}

func (d *fakeDirectory) UserVoiceChannel(_, userID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.voice[userID]
	return ch, ok
}

func (d *fakeDirectory) MemberName(_, userID string) string { return "member-" + userID }
func (d *fakeDirectory) GuildName(string) string            { return "Guild" }
func (d *fakeDirectory) ChannelName(string) string          { return "General" }

func (d *fakeDirectory) ChannelMembers(string, string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.members)
}

type fakeSettings struct {
	optedOut map[string]bool
	chatter  bool
	ai       bool
}

func (s fakeSettings) IsOptedOut(userID string) bool { return s.optedOut[userID] }
func (s fakeSettings) Voice(string) string           { return "en-US" }
func (s fakeSettings) GlobalVoice() string           { return "en-US" }
func (s fakeSettings) ChatterEnabled() bool          { return s.chatter }
func (s fakeSettings) AIEnabled() bool               { return s.ai }

// echoSynth "synthesizes" a clip whose path is the text itself.
type echoSynth struct{}

func (echoSynth) Generate(_ context.Context, text string, _ tts.Voice) (*audio.Clip, error) {
	return audio.File(text), nil
}

type fixedPlan struct{ plan core.Plan }

func (f fixedPlan) Handle(context.Context, string, core.UtteranceContext) (core.Plan, error) {
	return f.plan, nil
}

type fakeSatellite struct {
	connected bool
	mu        sync.Mutex
	sent      []string
}

func (s *fakeSatellite) SendCommand(userID, kind string, _ map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, userID+":"+kind)
	return s.connected
}

type fakeScheduler struct {
	mu    sync.Mutex
	armed []string
}

func (s *fakeScheduler) Schedule(r storage.Reminder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = append(s.armed, r.ID)
	return true
}

type fakePresence struct {
	mu     sync.Mutex
	status string
}

func (p *fakePresence) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePresence) SetStatus(s string) error {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
	return nil
}

type cannedGreeter string

func (g cannedGreeter) Complete(context.Context, string, string) (string, error) {
	return string(g), nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	m         *Manager
	out       *recorder
	transport *fakeTransport
	dir       *fakeDirectory
	clock     *clock
}

func newHarness(t *testing.T, mutate func(o *Options)) *harness {
	t.Helper()
	h := &harness{
		out:   &recorder{},
		dir:   &fakeDirectory{voice: map[string]string{}},
		clock: &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.transport = &fakeTransport{out: h.out}
	opts := Options{
		Transport:   h.transport,
		Directory:   h.dir,
		Synthesizer: echoSynth{},
		Handler:     fixedPlan{},
		Settings:    fakeSettings{chatter: true},
		Logger:      zerolog.Nop(),
		Now:         h.clock.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.m = NewManager(ctx, opts)
	h.m.greetDelay = 0
	t.Cleanup(func() {
		h.m.Close()
		cancel()
	})
	return h
}

func (h *harness) waitPlayed(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.out.list()) >= n }, time.Second, 5*time.Millisecond)
	return h.out.list()
}

func (h *harness) attachSilently(t *testing.T) *Session {
	t.Helper()
	s, err := h.m.Attach(context.Background(), "g1", "c1", AttachOptions{Silent: true})
	require.NoError(t, err)
	assert.Equal(t, []string{ConsentNotice}, h.waitPlayed(t, 1))
	return s
}

func TestAttachSpeaksConsentNotice(t *testing.T) {
	h := newHarness(t, nil)
	h.attachSilently(t)

	ch, ok := h.m.AttachedChannel("g1")
	assert.True(t, ok)
	assert.Equal(t, "c1", ch)
	assert.True(t, h.transport.joined()[0].listening)
}

func TestAttachReusesAndMoves(t *testing.T) {
	h := newHarness(t, nil)
	first := h.attachSilently(t)

	again, err := h.m.Attach(context.Background(), "g1", "c1", AttachOptions{Silent: true})
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Len(t, h.transport.joined(), 1)

	_, err = h.m.Attach(context.Background(), "g1", "c2", AttachOptions{Silent: true})
	require.NoError(t, err)
	conns := h.transport.joined()
	require.Len(t, conns, 2)
	assert.Equal(t, 1, conns[0].disconnects())
	ch, _ := h.m.AttachedChannel("g1")
	assert.Equal(t, "c2", ch)
}

func TestAttachUserNotInVoice(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.m.AttachUser(context.Background(), "g1", "u1", AttachOptions{})
	assert.ErrorIs(t, err, ErrUserNotInVoice)
}

func TestTransportDropDetaches(t *testing.T) {
	h := newHarness(t, nil)
	h.attachSilently(t)

	close(h.transport.joined()[0].done)
	require.Eventually(t, func() bool {
		_, ok := h.m.AttachedChannel("g1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSpeakRequiresSession(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.m.Speak(context.Background(), "g1", "u1", "hello")
	assert.ErrorIs(t, err, ErrNotAttached)
	assert.False(t, h.m.Detach("g1"))
}

func TestSpeakTransientLeavesAfterwards(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.m.SpeakTransient(context.Background(), "g1", "c9", "u1", "Reminder: stretch"))

	assert.Equal(t, []string{"Reminder: stretch"}, h.out.list(), "transient sessions do not greet")
	conns := h.transport.joined()
	require.Len(t, conns, 1)
	assert.False(t, conns[0].listening)
	assert.Equal(t, 1, conns[0].disconnects())
	_, ok := h.m.AttachedChannel("g1")
	assert.False(t, ok)
}

func TestSpeakTransientJoinFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.err = errors.New("no permission")
	assert.Error(t, h.m.SpeakTransient(context.Background(), "g1", "c9", "u1", "hi"))
}

func TestHandleUtteranceExecutesPlan(t *testing.T) {
	sat := &fakeSatellite{connected: true}
	sched := &fakeScheduler{}
	presence := &fakePresence{}
	h := newHarness(t, func(o *Options) {
		o.Handler = fixedPlan{plan: core.Plan{
			Speak:            "Done.",
			SatelliteCommand: &core.SatelliteCommand{Type: "MEDIA_PAUSE"},
			Reminder:         &storage.Reminder{ID: "r1"},
			Metadata:         core.Metadata{NewStatus: "Thinking about cats"},
		}}
		o.Satellite = sat
		o.Presence = presence
	})
	h.m.SetScheduler(sched)
	h.attachSilently(t)

	h.m.HandleUtterance(context.Background(), "g1", "u1", "mina pause the music")

	assert.Equal(t, []string{ConsentNotice, "Done."}, h.waitPlayed(t, 2))
	assert.Equal(t, []string{"u1:MEDIA_PAUSE"}, sat.sent)
	assert.Equal(t, []string{"r1"}, sched.armed)
	assert.Equal(t, "Thinking about cats", presence.Status())
}

func TestMissingSatelliteIsReported(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Handler = fixedPlan{plan: core.Plan{
			Speak:            "Done.",
			SatelliteCommand: &core.SatelliteCommand{Type: "MEDIA_NEXT"},
		}}
		o.Satellite = &fakeSatellite{}
	})
	h.attachSilently(t)

	h.m.HandleUtterance(context.Background(), "g1", "u1", "mina next song")
	assert.Equal(t, replyNoSatellite, h.waitPlayed(t, 2)[1])
}

type panicky struct{}

func (panicky) Handle(context.Context, string, core.UtteranceContext) (core.Plan, error) {
	panic("boom")
}

func TestHandlerPanicIsContained(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Handler = panicky{} })
	h.attachSilently(t)
	assert.NotPanics(t, func() { h.m.HandleUtterance(context.Background(), "g1", "u1", "hi") })
}

func TestChatterCooldown(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Chatter = map[string]string{"Good Night": "Sleep well!", "night": "Night!"}
	})
	h.attachSilently(t)

	h.m.HandleUtterance(context.Background(), "g1", "u1", "good night everyone")
	assert.Equal(t, "Sleep well!", h.waitPlayed(t, 2)[1], "longer keyword wins")

	assert.False(t, h.m.chatter(context.Background(), "g1", "u1", "night"))
	h.clock.advance(ChatterCooldown)
	assert.True(t, h.m.chatter(context.Background(), "g1", "u1", "night"))
	assert.False(t, h.m.chatter(context.Background(), "g2", "u1", "ok"), "too short")
}

func TestChatterDisabled(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Chatter = map[string]string{"hello": "Hi!"}
		o.Settings = fakeSettings{chatter: false}
	})
	h.attachSilently(t)
	assert.False(t, h.m.chatter(context.Background(), "g1", "u1", "hello there"))
}

func TestThinkingCue(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ThinkingSound = "think.mp3" })
	h.m.PlayThinking(core.UtteranceContext{SessionID: "g1"})
	h.attachSilently(t)

	h.m.PlayThinking(core.UtteranceContext{SessionID: "g1"})
	assert.Equal(t, []string{ConsentNotice, "think.mp3"}, h.waitPlayed(t, 2))
}

func TestUserGreeting(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Settings = fakeSettings{optedOut: map[string]bool{"shy": true}}
	})
	h.attachSilently(t)

	assert.True(t, h.m.greetUser(context.Background(), "g1", "u1"))
	assert.False(t, h.m.greetUser(context.Background(), "g1", "u1"), "cooldown")
	assert.False(t, h.m.greetUser(context.Background(), "g1", "shy"))
	assert.Equal(t, "Hello member-u1, voice transcription is active.", h.waitPlayed(t, 2)[1])

	h.clock.advance(GreetingCooldown)
	assert.True(t, h.m.greetUser(context.Background(), "g1", "u1"))
}

func TestVoiceStateJoinGreets(t *testing.T) {
	h := newHarness(t, nil)
	h.attachSilently(t)

	h.m.OnVoiceStateUpdate(VoiceStateChange{GuildID: "g1", UserID: "bot2", After: "c1", Bot: true})
	h.m.OnVoiceStateUpdate(VoiceStateChange{GuildID: "g1", UserID: "u2", Before: "c7", After: "c1"})
	assert.Equal(t, "Hello member-u2, voice transcription is active.", h.waitPlayed(t, 2)[1])
}

func TestAutoLeaveWhenAlone(t *testing.T) {
	h := newHarness(t, nil)
	h.dir.members = []string{"u2"}
	h.attachSilently(t)

	h.m.OnVoiceStateUpdate(VoiceStateChange{GuildID: "g1", UserID: "u1", Before: "c1"})
	_, ok := h.m.AttachedChannel("g1")
	assert.True(t, ok, "someone is still there")

	h.dir.mu.Lock()
	h.dir.members = nil
	h.dir.mu.Unlock()
	h.m.OnVoiceStateUpdate(VoiceStateChange{GuildID: "g1", UserID: "u2", Before: "c1"})
	_, ok = h.m.AttachedChannel("g1")
	assert.False(t, ok)
}

func TestGroupGreetingKeepsConsent(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Greeter = cannedGreeter(`"Hey Alex!"`)
		o.Settings = fakeSettings{ai: true}
	})
	h.dir.members = []string{"u1"}
	s := h.attachSilently(t)

	assert.Equal(t, "Hey Alex! "+groupConsentTail, h.m.groupGreeting(context.Background(), s))
}

func TestGroupGreetingFallback(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.m.Attach(context.Background(), "g1", "c1", AttachOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{groupFallback}, h.waitPlayed(t, 1))
}

func TestStopSpeaking(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.m.StopSpeaking("g1"))
	h.attachSilently(t)
	assert.False(t, h.m.StopSpeaking("g1"), "nothing queued")
}

func TestLoadChatter(t *testing.T) {
	m, err := LoadChatter(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, m)
}
