package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whiteout-project/wosbot/internal/clock"
	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/process"
	"github.com/whiteout-project/wosbot/internal/store"
)

// QueueConfig configures queue admission behavior.
type QueueConfig struct {
	// WakeInterval is how often the queue re-checks for resume-eligible
	// processes whose rate-limit backoff has passed.
	WakeInterval time.Duration
}

// DefaultQueueConfig returns default queue settings.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{WakeInterval: 5 * time.Second}
}

// CompletionListener is notified after a process reaches a terminal status.
// The refresh engine uses it to re-arm per-alliance timers.
type CompletionListener func(proc *store.Process)

// Queue is the admission/preemption state machine. It admits at most one
// active process at a time, evicts it when a strictly-higher-priority process
// arrives, and periodically wakes processes whose resume_after has passed.
type Queue struct {
	config   *QueueConfig
	registry *process.Registry
	store    *store.Store
	executor *Executor
	clk      clock.Clock
	metrics  *Metrics
	log      *slog.Logger

	mu         sync.Mutex
	running    bool
	activeID   int64 // 0 when idle
	listeners  []CompletionListener
	wakeCh     chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}
	inFlightWG sync.WaitGroup
}

// NewQueue creates the queue manager.
func NewQueue(config *QueueConfig, registry *process.Registry, st *store.Store, executor *Executor, clk clock.Clock) *Queue {
	if config == nil {
		config = DefaultQueueConfig()
	}
	return &Queue{
		config:   config,
		registry: registry,
		store:    st,
		executor: executor,
		clk:      clk,
		metrics:  NewMetrics(),
		log:      logging.WithComponent("queue"),
		wakeCh:   make(chan struct{}, 1),
	}
}

// OnCompletion registers a listener invoked after every terminal transition.
// Must be called before Start.
func (q *Queue) OnCompletion(fn CompletionListener) {
	q.listeners = append(q.listeners, fn)
}

// Metrics returns the queue's counters.
func (q *Queue) Metrics() *Metrics { return q.metrics }

// Start launches the admission loop.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	q.log.Info("queue started", slog.Duration("wake_interval", q.config.WakeInterval))
	go q.run(ctx)
	q.wake()
	return nil
}

// Stop shuts the admission loop down and waits for the in-flight process
// goroutine, if any, to return. The in-flight process stays queued or active
// in storage; the boot-time recovery sweep handles it on next start.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	<-q.doneCh
	q.inFlightWG.Wait()
	q.log.Info("queue stopped")
}

// Submit notifies the queue that a new process exists. Admission happens on
// the queue goroutine; a strictly-higher-priority submission preempts the
// active process at its next cooperative checkpoint.
func (q *Queue) Submit(id int64) {
	q.log.Debug("process submitted", slog.Int64("process_id", id))
	q.wake()
}

// ActiveProcessID returns the currently running process id, or 0 when idle.
func (q *Queue) ActiveProcessID() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeID
}

func (q *Queue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.doneCh)

	ticker := time.NewTicker(q.config.WakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-q.wakeCh:
			q.admit(ctx)
		case <-ticker.C:
			// Periodic wake covers resume_after expiry.
			q.admit(ctx)
		}
	}
}

// admit is the single admission step. With no active process it activates the
// best runnable candidate; with one it checks whether the queue head beats it
// and requests preemption if so.
func (q *Queue) admit(ctx context.Context) {
	q.mu.Lock()
	activeID := q.activeID
	q.mu.Unlock()

	if activeID != 0 {
		q.maybePreempt(activeID)
		return
	}

	candidate, err := q.store.GetNextQueuedProcess(q.clk.Now())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			q.log.Error("queue poll failed", slog.Any("error", err))
			q.systemLog("error", "queue poll failed: "+err.Error())
		}
		return
	}

	if err := q.registry.UpdateStatus(candidate.ID, store.StatusActive); err != nil {
		q.log.Error("activation failed",
			slog.Int64("process_id", candidate.ID),
			slog.Any("error", err),
		)
		q.systemLog("error", "activation failed: "+err.Error())
		return
	}

	q.mu.Lock()
	q.activeID = candidate.ID
	q.mu.Unlock()
	q.metrics.Admitted()

	runID := uuid.NewString()
	q.log.Info("process admitted",
		slog.Int64("process_id", candidate.ID),
		slog.String("action", string(candidate.Action)),
		slog.Int64("priority", candidate.Priority),
		slog.String("run_id", runID),
	)

	q.inFlightWG.Add(1)
	go q.runProcess(ctx, candidate.ID, runID)
}

// maybePreempt parks the active process if a strictly-higher-priority
// runnable process is queued. The handler observes the status flip at its
// next checkpoint and yields; the preemptor is activated once it returns.
func (q *Queue) maybePreempt(activeID int64) {
	active, err := q.registry.Get(activeID)
	if err != nil || active.Status != store.StatusActive {
		return
	}

	// Cheap existence check before loading the full candidate row; most wakes
	// find nothing that beats the active process.
	higher, err := q.store.HasHigherPriorityQueued(active.Priority, q.clk.Now())
	if err != nil || !higher {
		return
	}

	top, err := q.store.GetNextQueuedProcess(q.clk.Now())
	if err != nil {
		return
	}
	if top.Priority >= active.Priority {
		return
	}

	if err := q.registry.SetPreemption(activeID, top.ID); err != nil {
		q.log.Error("preemption write failed",
			slog.Int64("process_id", activeID),
			slog.Any("error", err),
		)
		return
	}
	q.metrics.Preempted()
	q.log.Info("process preempted",
		slog.Int64("victim", activeID),
		slog.Int64("preemptor", top.ID),
		slog.Int64("victim_priority", active.Priority),
		slog.Int64("preemptor_priority", top.Priority),
	)
}

// runProcess drives one admission through the executor and records the
// outcome. Runs on its own goroutine; exactly one exists at a time.
func (q *Queue) runProcess(ctx context.Context, id int64, runID string) {
	defer q.inFlightWG.Done()

	err := q.executor.Run(ctx, id)

	q.mu.Lock()
	q.activeID = 0
	q.mu.Unlock()

	log := q.log.With(slog.Int64("process_id", id), slog.String("run_id", runID))
	switch {
	case err == nil:
		q.complete(id, log)
	case errors.Is(err, ErrYielded):
		// Progress persisted, process already queued. Nothing to write.
		q.metrics.Yielded()
		log.Info("process yielded")
	case ctx.Err() != nil:
		// Shutdown race: leave the process for the recovery sweep.
		log.Info("process interrupted by shutdown")
		return
	default:
		q.fail(id, err, log)
	}

	q.wake()
}

func (q *Queue) complete(id int64, log *slog.Logger) {
	if err := q.registry.UpdateStatus(id, store.StatusCompleted); err != nil {
		log.Error("completion write failed", slog.Any("error", err))
		q.systemLog("error", "completion write failed: "+err.Error())
		return
	}
	q.metrics.Completed()
	log.Info("process completed")
	q.notify(id)
}

func (q *Queue) fail(id int64, cause error, log *slog.Logger) {
	if err := q.registry.UpdateStatus(id, store.StatusFailed); err != nil {
		log.Error("failure write failed", slog.Any("error", err))
		q.systemLog("error", "failure write failed: "+err.Error())
		return
	}
	q.metrics.Failed()
	log.Error("process failed", slog.Any("error", cause))
	q.systemLog("error", "process failed: "+cause.Error())
	q.notify(id)
}

func (q *Queue) notify(id int64) {
	proc, err := q.registry.Get(id)
	if err != nil {
		return
	}
	for _, fn := range q.listeners {
		fn(proc)
	}
}

func (q *Queue) systemLog(level, msg string) {
	if err := q.store.AppendSystemLog(level, "queue", msg); err != nil {
		q.log.Warn("system log write failed", slog.Any("error", err))
	}
}
