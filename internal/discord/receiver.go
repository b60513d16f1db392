package discord

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/mina/internal/capture"
)

// opusSilence is the frame Discord clients send when they stop talking.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

const subscriptionBuffer = 64

var errReceiverClosed = errors.New("voice receiver closed")

// receiver demultiplexes the connection's Opus stream by SSRC into per-user
// subscriptions. A packet from a user with no subscription counts as the
// start of speech.
type receiver struct {
	mu         sync.Mutex
	users      map[uint32]string
	subs       map[string]*subscription
	onSpeaking func(userID string)
	closed     bool
}

func newReceiver() *receiver {
	return &receiver{
		users: make(map[uint32]string),
		subs:  make(map[string]*subscription),
	}
}

func (r *receiver) mapSSRC(ssrc uint32, userID string) {
	r.mu.Lock()
	r.users[ssrc] = userID
	r.mu.Unlock()
}

func (r *receiver) listen(fn func(userID string)) {
	r.mu.Lock()
	r.onSpeaking = fn
	r.mu.Unlock()
}

func (r *receiver) lookup(ssrc uint32) (string, *subscription, func(string), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", nil, nil, false
	}
	user, ok := r.users[ssrc]
	return user, r.subs[user], r.onSpeaking, ok
}

// deliver routes one packet. Unknown SSRCs and silence frames are dropped.
func (r *receiver) deliver(ssrc uint32, opus []byte) {
	if len(opus) == 0 || bytes.Equal(opus, opusSilence) {
		return
	}
	user, sub, onSpeaking, ok := r.lookup(ssrc)
	if !ok {
		return
	}
	if sub == nil {
		if onSpeaking == nil {
			return
		}
		// The callback subscribes synchronously when it wants the audio.
		onSpeaking(user)
		if _, sub, _, _ = r.lookup(ssrc); sub == nil {
			return
		}
	}
	sub.push(opus)
}

// run feeds packets from the voice connection until ctx ends or the channel
// closes.
func (r *receiver) run(ctx context.Context, packets <-chan *discordgo.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-packets:
			if !ok {
				return
			}
			r.deliver(p.SSRC, p.Opus)
		}
	}
}

func (r *receiver) Subscribe(userID string, silence time.Duration) (capture.Subscription, error) {
	if silence <= 0 {
		silence = capture.DefaultSilence
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errReceiverClosed
	}
	if old := r.subs[userID]; old != nil {
		go old.Close()
	}
	s := &subscription{
		r:       r,
		userID:  userID,
		silence: silence,
		packets: make(chan []byte, subscriptionBuffer),
	}
	// the timer may fire before AfterFunc returns; Close waits on s.mu
	s.mu.Lock()
	s.timer = time.AfterFunc(silence, s.Close)
	s.mu.Unlock()
	r.subs[userID] = s
	return s, nil
}

func (r *receiver) forget(s *subscription) {
	r.mu.Lock()
	if r.subs[s.userID] == s {
		delete(r.subs, s.userID)
	}
	r.mu.Unlock()
}

func (r *receiver) close() {
	r.mu.Lock()
	r.closed = true
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// subscription ends after silence without packets.
type subscription struct {
	r       *receiver
	userID  string
	silence time.Duration
	timer   *time.Timer
	packets chan []byte

	mu    sync.Mutex
	ended bool
}

func (s *subscription) Packets() <-chan []byte { return s.packets }

func (s *subscription) push(opus []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.timer.Reset(s.silence)
	select {
	case s.packets <- opus:
	default:
		// consumer is lagging, drop
	}
}

func (s *subscription) Close() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.timer.Stop()
	close(s.packets)
	s.mu.Unlock()

	s.r.forget(s)
}
