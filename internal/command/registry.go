// Package command holds the ordered set of voice commands that bypass the AI.
// Bindings are checked in registration order and the first hit wins.
package command

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/keshon/mina/internal/core"
)

// Executor turns a matched utterance into a plan.
type Executor func(ctx context.Context, m Match, uc core.UtteranceContext) (core.Plan, error)

// Predicate decides whether a binding applies to text.
type Predicate func(text string, uc core.UtteranceContext) bool

// Binding is either pattern-based or predicate-based, never both.
type Binding struct {
	Name      string
	patterns  []*regexp.Regexp
	predicate Predicate
	exec      Executor
}

// Patterns binds case-insensitive regular expressions to exec.
func Patterns(name string, exec Executor, exprs ...string) Binding {
	b := Binding{Name: name, exec: exec}
	for _, e := range exprs {
		b.patterns = append(b.patterns, regexp.MustCompile(`(?i)`+e))
	}
	return b
}

// When binds an arbitrary predicate to exec.
func When(name string, pred Predicate, exec Executor) Binding {
	return Binding{Name: name, predicate: pred, exec: exec}
}

// Match is a successful lookup.
type Match struct {
	Binding      *Binding
	Text         string
	PatternIndex int      // -1 for predicate bindings
	Groups       []string // submatches of the hit pattern
}

// Result is what an asynchronous execution delivers.
type Result struct {
	Plan core.Plan
	Err  error
}

type Registry struct {
	mu       sync.RWMutex
	bindings []*Binding
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends b; earlier registrations take precedence.
func (r *Registry) Register(b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, &b)
}

// Names lists bindings in precedence order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.bindings))
	for i, b := range r.bindings {
		names[i] = b.Name
	}
	return names
}

// FindMatch returns the first binding that accepts text.
func (r *Registry) FindMatch(text string, uc core.UtteranceContext) (Match, bool) {
	r.mu.RLock()
	bindings := r.bindings
	r.mu.RUnlock()

	for _, b := range bindings {
		if b.predicate != nil {
			if b.predicate(text, uc) {
				return Match{Binding: b, Text: text, PatternIndex: -1}, true
			}
			continue
		}
		for i, re := range b.patterns {
			if groups := re.FindStringSubmatch(text); groups != nil {
				return Match{Binding: b, Text: text, PatternIndex: i, Groups: groups}, true
			}
		}
	}
	return Match{}, false
}

// Execute runs the matched binding on its own goroutine. The channel receives
// exactly one Result.
func (r *Registry) Execute(ctx context.Context, m Match, uc core.UtteranceContext) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				out <- Result{Err: fmt.Errorf("command %q panicked: %v", m.Binding.Name, rec)}
			}
		}()
		plan, err := m.Binding.exec(ctx, m, uc)
		out <- Result{Plan: plan, Err: err}
	}()
	return out
}

// Run looks up and executes text, waiting for the result. ok is false when no
// binding matched.
func (r *Registry) Run(ctx context.Context, text string, uc core.UtteranceContext) (plan core.Plan, ok bool, err error) {
	m, found := r.FindMatch(text, uc)
	if !found {
		return core.Plan{}, false, nil
	}

	select {
	case res := <-r.Execute(ctx, m, uc):
		return res.Plan, true, res.Err
	case <-ctx.Done():
		return core.Plan{}, true, ctx.Err()
	}
}
