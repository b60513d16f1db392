package cmd

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var ErrDuplicate = errors.New("cmd: duplicate command name")

// Registry stores commands by name. Dispatch is left to the adapter.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds c. Names are unique.
func (r *Registry) Register(c Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[c.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, c.Name())
	}
	r.commands[c.Name()] = c
	return nil
}

// Get returns the command with the given name, or nil.
func (r *Registry) Get(name string) Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[name]
}

// GetAll returns all registered commands, sorted by name.
func (r *Registry) GetAll() []Command {
	r.mu.RLock()
	list := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	r.mu.RUnlock()

	slices.SortFunc(list, func(a, b Command) int { return strings.Compare(a.Name(), b.Name()) })
	return list
}
