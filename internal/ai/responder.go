// Package ai answers free-form prompts through a chat-completions provider.
package ai

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/mina/pkg/retrylimit"
)

const (
	ReplyBusy      = "I'm having trouble thinking right now. The networks are busy."
	defaultPersona = "You are Mina, a friendly voice assistant in a Discord voice channel. Answer in one or two short spoken sentences."
	requestTimeout = 45 * time.Second
)

// ModelSource supplies the runtime model override, if any.
type ModelSource interface {
	AIModel() string
}

type Options struct {
	Provider      Provider
	Models        ModelSource
	Model         string
	FallbackModel string
	PersonaFile   string
	Logger        zerolog.Logger
}

// Responder never fails: after every model is exhausted it answers with an
// apology.
type Responder struct {
	opts    Options
	persona string
	limiter *retrylimit.AdaptiveLimiter
	log     zerolog.Logger
}

func NewResponder(opts Options) *Responder {
	return &Responder{
		opts:    opts,
		persona: loadPersona(opts.PersonaFile, opts.Logger),
		limiter: retrylimit.NewAdaptiveLimiter(2, 1, 5, 1, 0.5),
		log:     opts.Logger,
	}
}

func loadPersona(path string, log zerolog.Logger) string {
	if path == "" {
		return defaultPersona
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", path).Msg("cannot read persona, using default")
		}
		return defaultPersona
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return defaultPersona
}

func (r *Responder) models() []string {
	selected := r.opts.Model
	if r.opts.Models != nil {
		if m := r.opts.Models.AIModel(); m != "" {
			selected = m
		}
	}
	out := []string{selected}
	if fb := r.opts.FallbackModel; fb != "" && fb != selected {
		out = append(out, fb)
	}
	return out
}

// Complete returns the raw reply or the last provider error.
func (r *Responder) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	msgs := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for _, model := range r.models() {
		var reply string
		cfg := retrylimit.DefaultRetryConfig()
		cfg.MaxAttempts = 2
		cfg.Logger = r.log
		err := retrylimit.WithRetryConfig(ctx, func() error {
			var err error
			reply, err = r.opts.Provider.Generate(ctx, model, msgs)
			return err
		}, r.limiter, cfg)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		r.log.Warn().Err(err).Str("model", model).Msg("model failed")
	}
	return "", lastErr
}

// GenerateResponse answers prompt in the assistant persona.
func (r *Responder) GenerateResponse(ctx context.Context, prompt string) string {
	if r.opts.Provider == nil {
		return "I'm missing my AI provider configuration."
	}
	reply, err := r.Complete(ctx, r.persona, prompt)
	if err != nil {
		r.log.Error().Err(err).Msg("all models failed")
		return ReplyBusy
	}
	return reply
}
