package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clip struct {
	name     string
	disposed atomic.Int32
}

func (c *clip) Dispose() { c.disposed.Add(1) }

// gatedOutput blocks each Play until the test releases it.
type gatedOutput struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	order   []string
	started chan string
	release chan error
}

func newGatedOutput() *gatedOutput {
	return &gatedOutput{started: make(chan string, 16), release: make(chan error)}
}

func (o *gatedOutput) Play(ctx context.Context, r Resource) error {
	c := r.(*clip)
	o.mu.Lock()
	o.active++
	o.maxSeen = max(o.maxSeen, o.active)
	o.order = append(o.order, c.name)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
	}()

	o.started <- c.name
	select {
	case err := <-o.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ready(c *clip) Synthesize {
	return func(context.Context) (Resource, error) { return c, nil }
}

func recv(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("item never resolved")
		return false
	}
}

func waitStarted(t *testing.T, o *gatedOutput) string {
	t.Helper()
	select {
	case name := <-o.started:
		return name
	case <-time.After(2 * time.Second):
		t.Fatal("nothing started playing")
		return ""
	}
}

func TestFIFOAndSingleActive(t *testing.T) {
	out := newGatedOutput()
	q := New(out, zerolog.Nop())

	a, b := &clip{name: "A"}, &clip{name: "B"}
	doneA, err := q.Enqueue(context.Background(), ready(a))
	require.NoError(t, err)
	doneB, err := q.Enqueue(context.Background(), ready(b))
	require.NoError(t, err)

	assert.Equal(t, "A", waitStarted(t, out))
	select {
	case name := <-out.started:
		t.Fatalf("%s started before A completed", name)
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, q.Playing())

	out.release <- nil
	assert.True(t, recv(t, doneA))
	assert.Equal(t, "B", waitStarted(t, out))
	out.release <- nil
	assert.True(t, recv(t, doneB))

	assert.Equal(t, []string{"A", "B"}, out.order)
	assert.Equal(t, 1, out.maxSeen)
	assert.EqualValues(t, 1, a.disposed.Load())
	assert.EqualValues(t, 1, b.disposed.Load())
}

func TestOrderHoldsWhenLaterSynthesisIsFaster(t *testing.T) {
	out := newGatedOutput()
	q := New(out, zerolog.Nop())

	slowGate := make(chan struct{})
	slow := &clip{name: "slow"}
	fast := &clip{name: "fast"}

	doneSlow, _ := q.Enqueue(context.Background(), func(context.Context) (Resource, error) {
		<-slowGate
		return slow, nil
	})
	doneFast, _ := q.Enqueue(context.Background(), ready(fast))

	close(slowGate)
	assert.Equal(t, "slow", waitStarted(t, out))
	out.release <- nil
	assert.Equal(t, "fast", waitStarted(t, out))
	out.release <- nil

	assert.True(t, recv(t, doneSlow))
	assert.True(t, recv(t, doneFast))
}

func TestFailuresKeepDraining(t *testing.T) {
	out := newGatedOutput()
	q := New(out, zerolog.Nop())

	doneBad, _ := q.Enqueue(context.Background(), func(context.Context) (Resource, error) {
		return nil, errors.New("tts down")
	})
	errClip := &clip{name: "err"}
	doneErr, _ := q.Enqueue(context.Background(), ready(errClip))
	good := &clip{name: "good"}
	doneGood, _ := q.Enqueue(context.Background(), ready(good))

	assert.False(t, recv(t, doneBad))
	assert.Equal(t, "err", waitStarted(t, out))
	out.release <- errors.New("device gone")
	assert.False(t, recv(t, doneErr))

	assert.Equal(t, "good", waitStarted(t, out))
	out.release <- nil
	assert.True(t, recv(t, doneGood))
	assert.EqualValues(t, 1, errClip.disposed.Load())
}

func TestStopCurrentAdvances(t *testing.T) {
	out := newGatedOutput()
	q := New(out, zerolog.Nop())

	a, b := &clip{name: "A"}, &clip{name: "B"}
	doneA, _ := q.Enqueue(context.Background(), ready(a))
	doneB, _ := q.Enqueue(context.Background(), ready(b))

	waitStarted(t, out)
	assert.True(t, q.StopCurrent())
	assert.False(t, recv(t, doneA))
	assert.EqualValues(t, 1, a.disposed.Load())

	assert.Equal(t, "B", waitStarted(t, out))
	out.release <- nil
	assert.True(t, recv(t, doneB))
	assert.False(t, q.StopCurrent())
}

func TestClear(t *testing.T) {
	out := newGatedOutput()
	q := New(out, zerolog.Nop())

	assert.Zero(t, q.Clear())

	a := &clip{name: "A"}
	doneA, _ := q.Enqueue(context.Background(), ready(a))
	waitStarted(t, out)

	b := &clip{name: "B"}
	lateGate := make(chan struct{})
	late := &clip{name: "late"}
	doneB, _ := q.Enqueue(context.Background(), ready(b))
	doneLate, _ := q.Enqueue(context.Background(), func(context.Context) (Resource, error) {
		<-lateGate
		return late, nil
	})

	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Clear())
	assert.False(t, recv(t, doneB))
	assert.False(t, recv(t, doneLate))

	close(lateGate)
	assert.Eventually(t, func() bool { return late.disposed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return b.disposed.Load() == 1 }, time.Second, 5*time.Millisecond)

	out.release <- nil
	assert.True(t, recv(t, doneA))
	assert.EqualValues(t, 1, late.disposed.Load())
	assert.EqualValues(t, 1, b.disposed.Load())
}

func TestClose(t *testing.T) {
	out := newGatedOutput()
	q := New(out, zerolog.Nop())

	a := &clip{name: "A"}
	doneA, _ := q.Enqueue(context.Background(), ready(a))
	waitStarted(t, out)
	doneB, _ := q.Enqueue(context.Background(), ready(&clip{name: "B"}))

	q.Close()
	assert.False(t, recv(t, doneA))
	assert.False(t, recv(t, doneB))

	_, err := q.Enqueue(context.Background(), ready(&clip{name: "C"}))
	assert.ErrorIs(t, err, ErrQueueClosed)
}
