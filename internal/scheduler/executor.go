// Package scheduler implements the single-host priority queue: admission,
// preemption, cooperative execution, and resume of durable processes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/whiteout-project/wosbot/internal/clock"
	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/process"
	"github.com/whiteout-project/wosbot/internal/store"
)

// ErrYielded is returned by a handler that observed preemption (or parked
// itself for rate-limit backoff) at a cooperative checkpoint. It is not a
// failure: progress is already persisted and the process is back in the queue.
var ErrYielded = errors.New("scheduler: process yielded")

// Handler executes one admission of a process. Implementations must call
// Checkpoint.Continue between externally visible steps and return ErrYielded
// when it reports the process is no longer active.
type Handler interface {
	Run(ctx context.Context, proc *store.Process, cp *Checkpoint) error
}

// Checkpoint is the cooperative-cancellation token handed to handlers. It
// answers one question from the store's view: is this process still active?
type Checkpoint struct {
	registry *process.Registry
	clk      clock.Clock
	id       int64
}

// Continue reports whether the process is still active. A false result means
// the scheduler moved the process back to queued (preemption) and the handler
// must persist progress and return ErrYielded without side effects.
func (c *Checkpoint) Continue() (bool, error) {
	p, err := c.registry.Get(c.id)
	if err != nil {
		return false, err
	}
	return p.Status == store.StatusActive, nil
}

// SleepChecking sleeps for total in quantum-sized increments, re-checking
// Continue between increments so preemption latency stays bounded by the
// quantum. Returns false if the process was preempted during the sleep.
func (c *Checkpoint) SleepChecking(ctx context.Context, total, quantum time.Duration) (bool, error) {
	if quantum <= 0 {
		quantum = 2 * time.Second
	}
	deadline := c.clk.Now().Add(total)
	for {
		remaining := deadline.Sub(c.clk.Now())
		if remaining <= 0 {
			return true, nil
		}
		step := remaining
		if step > quantum {
			step = quantum
		}
		if err := c.clk.Sleep(ctx, step); err != nil {
			return false, err
		}
		ok, err := c.Continue()
		if err != nil || !ok {
			return ok, err
		}
	}
}

// ProcessID returns the process this checkpoint belongs to.
func (c *Checkpoint) ProcessID() int64 { return c.id }

// Executor dispatches an active process to the handler registered for its
// action kind.
type Executor struct {
	registry *process.Registry
	clk      clock.Clock
	log      *slog.Logger

	mu       sync.RWMutex
	handlers map[store.Action]Handler
}

// NewExecutor creates an executor with an empty handler registry.
func NewExecutor(registry *process.Registry, clk clock.Clock) *Executor {
	return &Executor{
		registry: registry,
		clk:      clk,
		log:      logging.WithComponent("executor"),
		handlers: make(map[store.Action]Handler),
	}
}

// Register binds a handler to an action kind, replacing any previous binding.
func (e *Executor) Register(action store.Action, h Handler) {
	e.mu.Lock()
	e.handlers[action] = h
	e.mu.Unlock()
}

// Run loads the process and executes its handler. The return value follows
// the handler contract: nil means the pass completed, ErrYielded means the
// process parked itself, anything else is a hard failure. An unregistered
// action is a programming error and fails the process.
func (e *Executor) Run(ctx context.Context, id int64) error {
	proc, err := e.registry.Get(id)
	if err != nil {
		return fmt.Errorf("load process %d: %w", id, err)
	}

	e.mu.RLock()
	handler := e.handlers[proc.Action]
	e.mu.RUnlock()
	if handler == nil {
		return fmt.Errorf("no handler registered for action %q (process %d)", proc.Action, id)
	}

	cp := &Checkpoint{registry: e.registry, clk: e.clk, id: id}
	return handler.Run(ctx, proc, cp)
}
