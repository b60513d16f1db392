package cmd

import "context"

// Middleware wraps a command, for example with logging or a guild check.
type Middleware func(Command) Command

// Apply applies middlewares in order; the last in the list is the outermost.
func Apply(c Command, mws ...Middleware) Command {
	for _, mw := range mws {
		c = mw(c)
	}
	return c
}

// Unwrappable is implemented by wrapped commands so adapters can reach the
// command underneath, e.g. to look for a slash definition.
type Unwrappable interface {
	Command
	Unwrap() Command
}

type wrapped struct {
	inner Command
	run   func(ctx context.Context, inv *Invocation) error
}

func (w *wrapped) Name() string        { return w.inner.Name() }
func (w *wrapped) Description() string { return w.inner.Description() }
func (w *wrapped) Unwrap() Command     { return w.inner }

func (w *wrapped) Run(ctx context.Context, inv *Invocation) error {
	return w.run(ctx, inv)
}

// Wrap returns a command that runs run instead of c.Run and keeps c's
// identity.
func Wrap(c Command, run func(ctx context.Context, inv *Invocation) error) Command {
	return &wrapped{inner: c, run: run}
}

// Root unwraps c down to the command that is not a wrapper.
func Root(c Command) Command {
	for {
		u, ok := c.(Unwrappable)
		if !ok {
			return c
		}
		c = u.Unwrap()
	}
}
