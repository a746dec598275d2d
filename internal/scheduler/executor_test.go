package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/whiteout-project/wosbot/internal/clock"
	"github.com/whiteout-project/wosbot/internal/process"
	"github.com/whiteout-project/wosbot/internal/store"
)

type handlerFunc func(ctx context.Context, proc *store.Process, cp *Checkpoint) error

func (f handlerFunc) Run(ctx context.Context, proc *store.Process, cp *Checkpoint) error {
	return f(ctx, proc, cp)
}

func newTestRegistry(t *testing.T) (*process.Registry, *store.Store) {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return process.NewRegistry(st), st
}

func createQueued(t *testing.T, reg *process.Registry, action store.Action) int64 {
	t.Helper()
	id, err := reg.Create(process.CreateRequest{Action: action, Target: 1, PlayerIDs: []int64{1}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func TestExecutorDispatchesByAction(t *testing.T) {
	reg, _ := newTestRegistry(t)
	exec := NewExecutor(reg, clock.New())

	ran := false
	exec.Register(store.ActionRefresh, handlerFunc(func(ctx context.Context, proc *store.Process, cp *Checkpoint) error {
		ran = true
		if cp.ProcessID() != proc.ID {
			t.Errorf("checkpoint id = %d, want %d", cp.ProcessID(), proc.ID)
		}
		return nil
	}))

	id := createQueued(t, reg, store.ActionRefresh)
	if err := exec.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Error("handler did not run")
	}
}

func TestExecutorRejectsUnregisteredAction(t *testing.T) {
	reg, _ := newTestRegistry(t)
	exec := NewExecutor(reg, clock.New())

	id := createQueued(t, reg, store.ActionAddPlayer)
	if err := exec.Run(context.Background(), id); err == nil {
		t.Error("Run succeeded with no handler registered")
	}
}

func TestCheckpointContinue(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id := createQueued(t, reg, store.ActionRefresh)
	cp := &Checkpoint{registry: reg, clk: clock.New(), id: id}

	// Still queued: not active.
	ok, err := cp.Continue()
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if ok {
		t.Error("Continue = true for queued process")
	}

	if err := reg.UpdateStatus(id, store.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	ok, err = cp.Continue()
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if !ok {
		t.Error("Continue = false for active process")
	}
}

func TestSleepCheckingCompletesWhenActive(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id := createQueued(t, reg, store.ActionRefresh)
	if err := reg.UpdateStatus(id, store.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	cp := &Checkpoint{registry: reg, clk: clock.New(), id: id}
	active, err := cp.SleepChecking(context.Background(), 30*time.Millisecond, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("SleepChecking: %v", err)
	}
	if !active {
		t.Error("SleepChecking = false, want true for undisturbed process")
	}
}

func TestSleepCheckingObservesPreemption(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id := createQueued(t, reg, store.ActionRefresh)
	if err := reg.UpdateStatus(id, store.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = reg.SetPreemption(id, 999)
	}()

	cp := &Checkpoint{registry: reg, clk: clock.New(), id: id}
	start := time.Now()
	active, err := cp.SleepChecking(context.Background(), 5*time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("SleepChecking: %v", err)
	}
	if active {
		t.Error("SleepChecking = true, want false after preemption")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("SleepChecking took %s, preemption not observed promptly", elapsed)
	}
}

func TestSleepCheckingHonorsContext(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id := createQueued(t, reg, store.ActionRefresh)
	if err := reg.UpdateStatus(id, store.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cp := &Checkpoint{registry: reg, clk: clock.New(), id: id}
	if _, err := cp.SleepChecking(ctx, time.Second, 10*time.Millisecond); err == nil {
		t.Error("SleepChecking ignored cancelled context")
	}
}
