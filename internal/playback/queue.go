// Package playback serializes audio onto a session's single output. Items play
// strictly in enqueue order, one at a time, and every item reports exactly one
// result.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var ErrQueueClosed = errors.New("playback queue is closed")

// Resource is something playable that must be released after use.
type Resource interface {
	Dispose()
}

// Output plays one resource to completion, or until ctx is cancelled.
type Output interface {
	Play(ctx context.Context, r Resource) error
}

// Synthesize produces the resource for one item.
type Synthesize func(ctx context.Context) (Resource, error)

type item struct {
	ctx    context.Context
	cancel context.CancelFunc

	ready chan struct{} // closed once res/err are set
	res   Resource
	err   error

	once sync.Once
	done chan bool
}

func (it *item) resolve(ok bool) {
	it.once.Do(func() {
		it.done <- ok
		close(it.done)
	})
}

// disposeWhenReady releases the resource of an item that will never play,
// including one whose synthesis is still running.
func (it *item) disposeWhenReady() {
	go func() {
		<-it.ready
		if it.res != nil {
			it.res.Dispose()
		}
	}()
}

type Queue struct {
	out Output
	log zerolog.Logger

	mu      sync.Mutex
	pending []*item
	current *item
	running bool // drain loop active
	playing bool // current item is on the output
	closed  bool
}

func New(out Output, log zerolog.Logger) *Queue {
	return &Queue{out: out, log: log}
}

// Enqueue takes a FIFO slot immediately and starts synthesis in the
// background. The returned channel yields true only if the item played to
// completion.
func (q *Queue) Enqueue(ctx context.Context, synth Synthesize) (<-chan bool, error) {
	ictx, cancel := context.WithCancel(ctx)
	it := &item{
		ctx:    ictx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan bool, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cancel()
		return nil, ErrQueueClosed
	}
	q.pending = append(q.pending, it)
	start := !q.running
	q.running = true
	q.mu.Unlock()

	go q.synthesize(it, synth)
	if start {
		go q.drain()
	}
	return it.done, nil
}

func (q *Queue) synthesize(it *item, synth Synthesize) {
	defer close(it.ready)
	defer func() {
		if r := recover(); r != nil {
			it.res, it.err = nil, fmt.Errorf("synthesis panicked: %v", r)
		}
	}()

	res, err := synth(it.ctx)
	if err != nil && res != nil {
		res.Dispose()
		res = nil
	}
	if err == nil && res == nil {
		err = errors.New("synthesis produced nothing")
	}
	it.res, it.err = res, err
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		it := q.pending[0]
		q.pending = q.pending[1:]
		q.current = it
		q.mu.Unlock()

		ok := q.play(it)

		q.mu.Lock()
		q.current = nil
		q.playing = false
		q.mu.Unlock()

		it.resolve(ok)
	}
}

// play runs one item and always disposes its resource before returning.
func (q *Queue) play(it *item) (ok bool) {
	defer it.cancel()

	select {
	case <-it.ready:
	case <-it.ctx.Done():
		it.disposeWhenReady()
		return false
	}

	if it.err != nil {
		q.log.Warn().Err(it.err).Msg("synthesis failed, skipping item")
		return false
	}
	defer it.res.Dispose()

	if it.ctx.Err() != nil {
		return false
	}

	q.mu.Lock()
	q.playing = true
	q.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("output panicked")
			ok = false
		}
	}()

	if err := q.out.Play(it.ctx, it.res); err != nil {
		if it.ctx.Err() == nil {
			q.log.Error().Err(err).Msg("playback failed")
		}
		return false
	}
	return it.ctx.Err() == nil
}

// StopCurrent cancels the in-flight item, which then resolves false and the
// queue moves on. It reports whether anything was in flight.
func (q *Queue) StopCurrent() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		return false
	}
	q.current.cancel()
	return true
}

// Clear discards every item that has not started yet and returns how many
// were dropped. Discarded items resolve false.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range dropped {
		it.cancel()
		it.disposeWhenReady()
		it.resolve(false)
	}
	return len(dropped)
}

// Close refuses new items, discards pending ones and stops the current one.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.Clear()
	q.StopCurrent()
}

// Playing reports whether a resource is on the output right now.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len is the number of items waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
