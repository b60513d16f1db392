// Package jobmgr tracks named, cancellable background jobs.
//
//	jm := jobmgr.NewManager(nil)
//	_ = jm.StartAfter("reminder:42", time.Minute, func(ctx context.Context) error {
//	    return deliver(ctx)
//	})
//	_ = jm.Stop("reminder:42")
//
// No retries and no persistence: jobs live in memory and are removed once they
// return.
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	ErrExists     = errors.New("job already running")
	ErrNotRunning = errors.New("job not running")
	ErrClosed     = errors.New("job manager closed")
)

// StatusReporter receives lifecycle events such as "running:x",
// "error:x:reason" and "done:x".
type StatusReporter func(string)

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*job
	closed   bool
	wg       sync.WaitGroup
	Reporter StatusReporter
}

// NewManager creates a Manager. The reporter may be nil.
func NewManager(reporter StatusReporter) *Manager {
	return &Manager{
		jobs:     make(map[string]*job),
		Reporter: reporter,
	}
}

// StartAsync runs runner on its own goroutine. Names are unique among running
// jobs.
func (m *Manager) StartAsync(name string, runner func(ctx context.Context) error) error {
	return m.StartAfter(name, 0, runner)
}

// StartAfter waits delay, then runs runner. Stopping the job before the delay
// elapses means runner never runs.
func (m *Manager) StartAfter(name string, delay time.Duration, runner func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, exists := m.jobs[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	m.jobs[name] = j
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer close(j.done)
		defer m.forget(name, j)
		defer cancel()

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				m.report("cancelled:" + name)
				return
			case <-t.C:
			}
		}

		m.report("running:" + name)
		if err := runner(ctx); err != nil {
			m.report("error:" + name + ":" + err.Error())
			return
		}
		m.report("done:" + name)
	}()

	return nil
}

func (m *Manager) forget(name string, j *job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs[name] == j {
		delete(m.jobs, name)
	}
}

// Stop cancels a job by name. The job's runner sees its context cancelled.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	j.cancel()
	delete(m.jobs, name)
	return nil
}

// Running reports whether name is armed or running.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok
}

// List returns the sorted names of active jobs.
func (m *Manager) List() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	m.mu.Unlock()

	slices.Sort(out)
	return out
}

// Status summarizes active jobs, e.g. "Running jobs: a, b".
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

// Close cancels every job and waits for their goroutines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for name, j := range m.jobs {
		j.cancel()
		delete(m.jobs, name)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
