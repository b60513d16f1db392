// Package cmd is a transport-agnostic command core: a command has a name, a
// description and Run(ctx, invocation). Registration and dispatch belong to
// the adapter (Discord slash commands here).
package cmd

import (
	"context"
	"fmt"
)

// Invocation carries the adapter's payload to a command.
type Invocation struct {
	Args []string
	Data any
}

type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}

// Payload returns inv.Data as T.
func Payload[T any](inv *Invocation) (T, error) {
	v, ok := inv.Data.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cmd: payload is %T, want %T", inv.Data, zero)
	}
	return v, nil
}
