// Package pipeline turns one recognized utterance into a plan: wake-word
// gate, command lookup, then the AI fallback.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keshon/mina/internal/command"
	"github.com/keshon/mina/internal/core"
	"github.com/keshon/mina/internal/nlu"
)

// MinTriggerConfidence is the bar an utterance must clear to reach the AI.
const MinTriggerConfidence = 0.6

var statusTag = regexp.MustCompile(`(?i)\[status:\s*"?(.*?)"?\]`)

// Responder produces a reply for a prompt. It never fails; on provider
// trouble it returns something speakable.
type Responder interface {
	GenerateResponse(ctx context.Context, prompt string) string
}

type Memory interface {
	GetContext(userID, name, text string) string
	LearnFromInteraction(ctx context.Context, userID, query, reply string)
}

type Settings interface {
	AIEnabled() bool
}

type Options struct {
	Classifier nlu.Classifier
	Registry   *command.Registry
	Responder  Responder
	Memory     Memory
	Settings   Settings
	Logger     zerolog.Logger

	// OnAccept, when set, runs once an utterance is known to lead somewhere
	// (a command or an AI request) and before that work starts.
	OnAccept func(uc core.UtteranceContext)
}

type Pipeline struct {
	opts     Options
	log      zerolog.Logger
	learners sync.WaitGroup
}

func New(opts Options) *Pipeline {
	return &Pipeline{opts: opts, log: opts.Logger}
}

// Handle processes text spoken by uc.UserID. The returned error is only
// non-nil when a matched command failed.
func (p *Pipeline) Handle(ctx context.Context, text string, uc core.UtteranceContext) (core.Plan, error) {
	a := p.opts.Classifier.Classify(text)
	if !a.Triggered {
		return core.Plan{}, nil
	}

	log := p.log.With().Str("user", uc.UserID).Str("guild", uc.SessionID).Logger()
	log.Debug().
		Str("normalized", a.Normalized).
		Str("domain", string(a.Intent.Domain)).
		Float64("confidence", a.Intent.Confidence).
		Float64("trigger", a.Intent.TriggerConfidence).
		Msg("wake word")

	if m, ok := p.opts.Registry.FindMatch(a.Remainder, uc); ok {
		log.Info().Str("command", m.Binding.Name).Msg("matched command")
		p.accept(uc)
		select {
		case res := <-p.opts.Registry.Execute(ctx, m, uc):
			if res.Err != nil {
				return core.Plan{}, fmt.Errorf("command %s: %w", m.Binding.Name, res.Err)
			}
			return res.Plan, nil
		case <-ctx.Done():
			return core.Plan{}, ctx.Err()
		}
	}

	if a.Intent.TriggerConfidence < MinTriggerConfidence {
		log.Debug().Msg("low trigger confidence, ignoring")
		return core.Plan{}, nil
	}
	if p.opts.Settings != nil && !p.opts.Settings.AIEnabled() {
		return core.Plan{}, nil
	}

	p.accept(uc)
	return p.ask(ctx, a.Remainder, uc), nil
}

func (p *Pipeline) accept(uc core.UtteranceContext) {
	if p.opts.OnAccept != nil {
		p.opts.OnAccept(uc)
	}
}

func (p *Pipeline) ask(ctx context.Context, query string, uc core.UtteranceContext) core.Plan {
	status := uc.CurrentStatus
	if status == "" {
		status = "Online"
	}

	var b strings.Builder
	if p.opts.Memory != nil {
		b.WriteString(p.opts.Memory.GetContext(uc.UserID, uc.DisplayName, query))
	}
	fmt.Fprintf(&b, "\n[Your Current Status: %q]\nUser: %s", status, query)

	reply := p.opts.Responder.GenerateResponse(ctx, b.String())
	if strings.TrimSpace(reply) == "" {
		return core.Plan{}
	}

	var plan core.Plan
	spoken := reply
	if m := statusTag.FindStringSubmatch(reply); m != nil {
		plan.Metadata.NewStatus = strings.TrimSpace(m[1])
		spoken = strings.TrimSpace(statusTag.ReplaceAllString(reply, ""))
	}
	plan.Speak = spoken

	if p.opts.Memory != nil {
		p.learn(ctx, uc.UserID, query, spoken)
	}
	return plan
}

// learn hands the exchange to memory without holding up the reply.
func (p *Pipeline) learn(ctx context.Context, userID, query, reply string) {
	ctx = context.WithoutCancel(ctx)
	p.learners.Add(1)
	go func() {
		defer p.learners.Done()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Interface("panic", r).Msg("memory learner panicked")
			}
		}()
		p.opts.Memory.LearnFromInteraction(ctx, userID, query, reply)
	}()
}

// Wait blocks until background learners finish.
func (p *Pipeline) Wait() {
	p.learners.Wait()
}
