package discord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/mina/internal/capture"
)

// subscribeOnSpeak mimics the capture router: it subscribes on every start.
type subscribeOnSpeak struct {
	r       *receiver
	silence time.Duration

	mu     sync.Mutex
	starts []string
	subs   []capture.Subscription
}

func (s *subscribeOnSpeak) onSpeaking(userID string) {
	sub, err := s.r.Subscribe(userID, s.silence)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.starts = append(s.starts, userID)
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

func (s *subscribeOnSpeak) sub(i int) capture.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[i]
}

func (s *subscribeOnSpeak) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.starts)
}

func TestReceiverStartsCaptureOnFirstPacket(t *testing.T) {
	r := newReceiver()
	l := &subscribeOnSpeak{r: r, silence: time.Minute}
	r.listen(l.onSpeaking)
	r.mapSSRC(7, "u1")

	r.deliver(99, []byte{1}) // unknown ssrc
	r.deliver(7, opusSilence)
	assert.Equal(t, 0, l.count())

	r.deliver(7, []byte{1})
	r.deliver(7, []byte{2})
	require.Equal(t, 1, l.count())

	pk := l.sub(0).Packets()
	assert.Equal(t, []byte{1}, <-pk)
	assert.Equal(t, []byte{2}, <-pk)
}

func TestReceiverSilenceEndsSubscription(t *testing.T) {
	r := newReceiver()
	l := &subscribeOnSpeak{r: r, silence: 30 * time.Millisecond}
	r.listen(l.onSpeaking)
	r.mapSSRC(7, "u1")

	r.deliver(7, []byte{1})
	pk := l.sub(0).Packets()
	<-pk
	select {
	case _, ok := <-pk:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription did not end after silence")
	}

	r.deliver(7, []byte{3})
	assert.Equal(t, 2, l.count(), "speaking again starts a new capture")
}

func TestReceiverWithoutListenerDrops(t *testing.T) {
	r := newReceiver()
	r.mapSSRC(7, "u1")
	r.deliver(7, []byte{1})

	sub, err := r.Subscribe("u1", time.Minute)
	require.NoError(t, err)
	r.deliver(7, []byte{2})
	assert.Equal(t, []byte{2}, <-sub.Packets())

	sub.Close()
	sub.Close()
	_, ok := <-sub.Packets()
	assert.False(t, ok)
}

func TestReceiverTinySilenceEndsCleanly(t *testing.T) {
	r := newReceiver()
	for range 200 {
		sub, err := r.Subscribe("u1", time.Nanosecond)
		require.NoError(t, err)
		select {
		case _, ok := <-sub.Packets():
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("subscription outlived its silence window")
		}
	}
}

func TestReceiverCloseEndsEverything(t *testing.T) {
	r := newReceiver()
	sub, err := r.Subscribe("u1", time.Minute)
	require.NoError(t, err)

	r.close()
	_, ok := <-sub.Packets()
	assert.False(t, ok)

	_, err = r.Subscribe("u2", time.Minute)
	assert.ErrorIs(t, err, errReceiverClosed)
}

func TestReceiverRunFeedsPackets(t *testing.T) {
	r := newReceiver()
	r.mapSSRC(5, "u1")
	sub, err := r.Subscribe("u1", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	packets := make(chan *discordgo.Packet, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.run(ctx, packets)
	}()

	packets <- &discordgo.Packet{SSRC: 5, Opus: []byte{9}}
	assert.Equal(t, []byte{9}, <-sub.Packets())

	cancel()
	<-done
}
