package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/mina/internal/capture"
	"github.com/keshon/mina/internal/playback"
	"github.com/keshon/mina/internal/session"
	"github.com/keshon/mina/internal/stream"
)

var errConnectionClosed = errors.New("voice connection closed")

// Transport joins voice channels through the gateway session.
type Transport struct {
	dg     *discordgo.Session
	ffmpeg string
	log    zerolog.Logger

	mu    sync.Mutex
	conns map[string]*voiceConn
}

func newTransport(dg *discordgo.Session, ffmpeg string, log zerolog.Logger) *Transport {
	return &Transport{dg: dg, ffmpeg: ffmpeg, log: log, conns: make(map[string]*voiceConn)}
}

// Join connects to channelID listening (not deafened) and unmuted.
func (t *Transport) Join(ctx context.Context, guildID, channelID string) (session.Connection, error) {
	vc, err := t.dg.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("channel voice join: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = vc.Disconnect()
		return nil, err
	}

	rctx, cancel := context.WithCancel(context.Background())
	c := &voiceConn{
		vc:        vc,
		guildID:   guildID,
		channelID: channelID,
		recv:      newReceiver(),
		done:      make(chan struct{}),
		cancel:    cancel,
		t:         t,
	}
	c.out = stream.NewOutput(c, t.ffmpeg, t.log.With().Str("guild", guildID).Logger())

	vc.AddHandler(func(_ *discordgo.VoiceConnection, u *discordgo.VoiceSpeakingUpdate) {
		c.recv.mapSSRC(uint32(u.SSRC), u.UserID)
	})
	go c.recv.run(rctx, vc.OpusRecv)

	t.mu.Lock()
	if old := t.conns[guildID]; old != nil {
		old.drop()
	}
	t.conns[guildID] = c
	t.mu.Unlock()
	return c, nil
}

// dropped marks the guild's connection as lost, for example after the bot was
// disconnected or moved by someone else.
func (t *Transport) dropped(guildID, channelID string) {
	t.mu.Lock()
	c := t.conns[guildID]
	if c != nil && c.channelID != channelID {
		delete(t.conns, guildID)
	} else {
		c = nil
	}
	t.mu.Unlock()

	if c != nil {
		t.log.Info().Str("guild", guildID).Msg("voice connection lost")
		c.drop()
	}
}

func (t *Transport) forget(c *voiceConn) {
	t.mu.Lock()
	if t.conns[c.guildID] == c {
		delete(t.conns, c.guildID)
	}
	t.mu.Unlock()
}

// voiceConn implements session.Connection and stream.Sink.
type voiceConn struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string
	recv      *receiver
	out       *stream.Output
	t         *Transport

	done     chan struct{}
	dropOnce sync.Once
	cancel   context.CancelFunc
	closeErr error
	closed   sync.Once
}

func (c *voiceConn) ChannelID() string          { return c.channelID }
func (c *voiceConn) Receiver() capture.Receiver { return c.recv }
func (c *voiceConn) Output() playback.Output    { return c.out }
func (c *voiceConn) Done() <-chan struct{}      { return c.done }

func (c *voiceConn) Listen(onSpeaking func(userID string)) {
	c.recv.listen(onSpeaking)
}

func (c *voiceConn) drop() {
	c.dropOnce.Do(func() { close(c.done) })
}

func (c *voiceConn) Disconnect() error {
	c.closed.Do(func() {
		c.cancel()
		c.recv.close()
		c.t.forget(c)
		c.drop()
		c.closeErr = c.vc.Disconnect()
	})
	return c.closeErr
}

func (c *voiceConn) SetSpeaking(on bool) error {
	return c.vc.Speaking(on)
}

func (c *voiceConn) SendOpus(ctx context.Context, frame []byte) error {
	select {
	case c.vc.OpusSend <- frame:
		return nil
	case <-c.done:
		return errConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
