// Package capture turns "user started speaking" events into one supervised
// decode-and-transcribe task per speaker and hands recognized text onward.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSilence ends a capture after this much trailing silence.
const DefaultSilence = time.Second

// textBacklog is how many recognized texts may wait for a busy handler
// before the transcriber loop blocks.
const textBacklog = 16

// Subscription delivers one speaker's Opus packets until the transport ends
// it (trailing silence) or Close is called.
type Subscription interface {
	Packets() <-chan []byte
	Close()
}

type Receiver interface {
	Subscribe(userID string, silence time.Duration) (Subscription, error)
}

// Decoder turns one Opus packet into mono 16 kHz PCM samples.
type Decoder interface {
	Decode(packet []byte) ([]int16, error)
}

type DecoderFactory func() (Decoder, error)

// Transcriber reads s16le PCM and yields recognized texts until the stream
// ends. A non-nil error ends the sequence.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm io.Reader, userID string) iter.Seq2[string, error]
}

type Privacy interface {
	IsOptedOut(userID string) bool
}

// Handler receives each recognized text. It runs on its own goroutine.
type Handler func(ctx context.Context, userID, text string)

type Options struct {
	Receiver    Receiver
	NewDecoder  DecoderFactory
	Transcriber Transcriber
	Privacy     Privacy
	Handler     Handler
	Silence     time.Duration
	Logger      zerolog.Logger
}

// Router owns the capture state of one voice session.
type Router struct {
	opts   Options
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(ctx context.Context, opts Options) *Router {
	if opts.Silence <= 0 {
		opts.Silence = DefaultSilence
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Router{
		opts:   opts,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}
}

// OnSpeakingStart begins capturing userID unless the user opted out or is
// already being captured. It reports whether a capture was started.
func (r *Router) OnSpeakingStart(userID string) bool {
	if r.opts.Privacy != nil && r.opts.Privacy.IsOptedOut(userID) {
		return false
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if _, busy := r.active[userID]; busy {
		r.mu.Unlock()
		return false
	}
	r.active[userID] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	sub, err := r.opts.Receiver.Subscribe(userID, r.opts.Silence)
	if err != nil {
		r.log.Warn().Err(err).Str("user", userID).Msg("subscribe failed")
		r.release(userID)
		r.wg.Done()
		return false
	}

	go r.capture(userID, sub)
	return true
}

// Active reports whether userID currently has a capture running.
func (r *Router) Active(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[userID]
	return ok
}

// Close stops every capture and waits for captures and handlers to return.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

func (r *Router) release(userID string) {
	r.mu.Lock()
	delete(r.active, userID)
	r.mu.Unlock()
}

func (r *Router) capture(userID string, sub Subscription) {
	defer r.wg.Done()
	defer r.release(userID)

	log := r.log.With().Str("user", userID).Logger()

	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	dec, err := r.opts.NewDecoder()
	if err != nil {
		sub.Close()
		log.Error().Err(err).Msg("failed to create decoder")
		return
	}

	pr, pw := io.Pipe()
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		pw.CloseWithError(pump(ctx, sub, dec, pw))
	}()

	defer func() {
		cancel()
		sub.Close()
		pr.Close()
		<-pumped
	}()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("transcriber panicked")
		}
	}()

	texts := make(chan string, textBacklog)
	r.wg.Add(1)
	go r.handleTexts(userID, texts)
	defer close(texts)

	for text, err := range r.opts.Transcriber.Transcribe(ctx, pr, userID) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("transcription failed")
			}
			return
		}
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		select {
		case texts <- text:
		case <-ctx.Done():
			return
		}
	}
}

// handleTexts runs the handler for one capture's texts in emission order.
func (r *Router) handleTexts(userID string, texts <-chan string) {
	defer r.wg.Done()
	for text := range texts {
		r.handle(userID, text)
	}
}

func (r *Router) handle(userID, text string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("user", userID).Msg("utterance handler panicked")
		}
	}()
	r.opts.Handler(r.ctx, userID, text)
}

// pump decodes packets into w until the subscription ends. A nil return means
// the speaker went quiet.
func pump(ctx context.Context, sub Subscription, dec Decoder, w io.Writer) error {
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-sub.Packets():
			if !ok {
				return nil
			}
			pcm, err := dec.Decode(pkt)
			if err != nil {
				return fmt.Errorf("decode opus: %w", err)
			}
			buf = buf[:0]
			for _, s := range pcm {
				buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
			}
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
}
