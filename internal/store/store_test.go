package store

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreateProcess(t *testing.T, s *Store, action Action, target, priority int64) int64 {
	t.Helper()
	id, err := s.CreateProcess(&Process{
		Action:   action,
		Target:   target,
		Priority: priority,
		Progress: NewProgress([]int64{1, 2}),
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	return id
}

func TestCreateAndGetProcess(t *testing.T) {
	s := newTestStore(t)

	id := mustCreateProcess(t, s, ActionRefresh, 7, 300_000)

	p, err := s.GetProcess(id)
	if err != nil {
		t.Fatalf("GetProcess: %v", err)
	}
	if p.Action != ActionRefresh {
		t.Errorf("Action = %q, want %q", p.Action, ActionRefresh)
	}
	if p.Target != 7 {
		t.Errorf("Target = %d, want 7", p.Target)
	}
	if p.Status != StatusQueued {
		t.Errorf("Status = %q, want %q", p.Status, StatusQueued)
	}
	if p.Progress == nil || len(p.Progress.Pending) != 2 {
		t.Errorf("Progress.Pending = %v, want [1 2]", p.Progress)
	}
	if p.ResumeAfter != nil || p.PreemptedBy != nil || p.CompletedAt != nil {
		t.Errorf("new process has resume/preempt/completed fields set: %+v", p)
	}
}

func TestGetProcessNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetProcess(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProcess(42) error = %v, want ErrNotFound", err)
	}
}

func TestGetNextQueuedProcessOrdering(t *testing.T) {
	s := newTestStore(t)

	low := mustCreateProcess(t, s, ActionAutoRefresh, 1, 400_000)
	high := mustCreateProcess(t, s, ActionAddPlayer, 1, 100_000)
	_ = low

	next, err := s.GetNextQueuedProcess(time.Now())
	if err != nil {
		t.Fatalf("GetNextQueuedProcess: %v", err)
	}
	if next.ID != high {
		t.Errorf("next = %d, want %d (lower priority value wins)", next.ID, high)
	}
}

func TestGetNextQueuedProcessTieBreaksFIFO(t *testing.T) {
	s := newTestStore(t)

	first := mustCreateProcess(t, s, ActionRefresh, 1, 300_000)
	second := mustCreateProcess(t, s, ActionRefresh, 2, 300_000)
	_ = second

	next, err := s.GetNextQueuedProcess(time.Now())
	if err != nil {
		t.Fatalf("GetNextQueuedProcess: %v", err)
	}
	if next.ID != first {
		t.Errorf("next = %d, want %d (earlier creation wins at equal priority)", next.ID, first)
	}
}

func TestGetNextQueuedProcessSkipsBackoff(t *testing.T) {
	s := newTestStore(t)

	parked := mustCreateProcess(t, s, ActionAddPlayer, 1, 100_000)
	other := mustCreateProcess(t, s, ActionRefresh, 1, 300_000)

	now := time.Now()
	if err := s.SetResumeAfter(parked, now.Add(time.Hour)); err != nil {
		t.Fatalf("SetResumeAfter: %v", err)
	}

	next, err := s.GetNextQueuedProcess(now)
	if err != nil {
		t.Fatalf("GetNextQueuedProcess: %v", err)
	}
	if next.ID != other {
		t.Errorf("next = %d, want %d (backed-off process skipped)", next.ID, other)
	}

	// Once the backoff passes, the better-priority process is eligible again.
	next, err = s.GetNextQueuedProcess(now.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("GetNextQueuedProcess after backoff: %v", err)
	}
	if next.ID != parked {
		t.Errorf("next = %d, want %d after resume_after passes", next.ID, parked)
	}
}

func TestSingleActiveInvariant(t *testing.T) {
	s := newTestStore(t)

	a := mustCreateProcess(t, s, ActionRefresh, 1, 300_000)
	b := mustCreateProcess(t, s, ActionRefresh, 2, 300_000)

	if err := s.UpdateProcessStatus(a, StatusActive); err != nil {
		t.Fatalf("activate a: %v", err)
	}
	if err := s.UpdateProcessStatus(b, StatusActive); !errors.Is(err, ErrActiveExists) {
		t.Errorf("second activation error = %v, want ErrActiveExists", err)
	}

	// After a leaves active, b may be activated.
	if err := s.UpdateProcessStatus(a, StatusCompleted); err != nil {
		t.Fatalf("complete a: %v", err)
	}
	if err := s.UpdateProcessStatus(b, StatusActive); err != nil {
		t.Errorf("activate b after a completed: %v", err)
	}
}

func TestTerminalStampsCompletedAt(t *testing.T) {
	s := newTestStore(t)

	id := mustCreateProcess(t, s, ActionRefresh, 1, 300_000)
	if err := s.UpdateProcessStatus(id, StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.UpdateProcessStatus(id, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	p, err := s.GetProcess(id)
	if err != nil {
		t.Fatalf("GetProcess: %v", err)
	}
	if p.CompletedAt == nil {
		t.Error("CompletedAt = nil, want timestamp")
	}
}

func TestSetPreemptionClearsResumeAfter(t *testing.T) {
	s := newTestStore(t)

	victim := mustCreateProcess(t, s, ActionAutoRefresh, 1, 400_000)
	preemptor := mustCreateProcess(t, s, ActionAddPlayer, 1, 100_000)

	if err := s.UpdateProcessStatus(victim, StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.SetResumeAfter(victim, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SetResumeAfter: %v", err)
	}
	if err := s.SetPreemption(victim, preemptor); err != nil {
		t.Fatalf("SetPreemption: %v", err)
	}

	p, err := s.GetProcess(victim)
	if err != nil {
		t.Fatalf("GetProcess: %v", err)
	}
	if p.Status != StatusQueued {
		t.Errorf("Status = %q, want queued", p.Status)
	}
	if p.PreemptedBy == nil || *p.PreemptedBy != preemptor {
		t.Errorf("PreemptedBy = %v, want %d", p.PreemptedBy, preemptor)
	}
	if p.ResumeAfter != nil {
		t.Errorf("ResumeAfter = %v, want nil after preemption", p.ResumeAfter)
	}
}

func TestReactivationClearsPreemptedBy(t *testing.T) {
	s := newTestStore(t)

	id := mustCreateProcess(t, s, ActionRefresh, 1, 300_000)
	if err := s.UpdateProcessStatus(id, StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.SetPreemption(id, 99); err != nil {
		t.Fatalf("SetPreemption: %v", err)
	}
	if err := s.UpdateProcessStatus(id, StatusActive); err != nil {
		t.Fatalf("reactivate: %v", err)
	}

	p, _ := s.GetProcess(id)
	if p.PreemptedBy != nil {
		t.Errorf("PreemptedBy = %v, want nil after reactivation", p.PreemptedBy)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	s := newTestStore(t)

	crashed := mustCreateProcess(t, s, ActionRefresh, 1, 300_000)
	if err := s.UpdateProcessStatus(crashed, StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	parked := mustCreateProcess(t, s, ActionAutoRefresh, 2, 400_000)
	if err := s.SetPreemption(parked, crashed); err != nil {
		t.Fatalf("SetPreemption: %v", err)
	}

	n, err := s.RecoverInterrupted()
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}

	p, _ := s.GetProcess(crashed)
	if p.Status != StatusQueued {
		t.Errorf("crashed process status = %q, want queued", p.Status)
	}
	pp, _ := s.GetProcess(parked)
	if pp.Status != StatusQueued || pp.PreemptedBy == nil {
		t.Errorf("parked process disturbed by sweep: %+v", pp)
	}
}

func TestCountProcessesByStatus(t *testing.T) {
	s := newTestStore(t)

	mustCreateProcess(t, s, ActionRefresh, 1, 300_000)
	mustCreateProcess(t, s, ActionRefresh, 2, 300_000)
	done := mustCreateProcess(t, s, ActionAddPlayer, 1, 100_000)
	if err := s.UpdateProcessStatus(done, StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.UpdateProcessStatus(done, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	counts, err := s.CountProcessesByStatus()
	if err != nil {
		t.Fatalf("CountProcessesByStatus: %v", err)
	}
	if counts[StatusQueued] != 2 {
		t.Errorf("queued = %d, want 2", counts[StatusQueued])
	}
	if counts[StatusCompleted] != 1 {
		t.Errorf("completed = %d, want 1", counts[StatusCompleted])
	}
}

func TestGetPendingProcessForAlliance(t *testing.T) {
	s := newTestStore(t)

	id := mustCreateProcess(t, s, ActionAutoRefresh, 5, 400_000)
	mustCreateProcess(t, s, ActionAutoRefresh, 6, 400_000)

	p, err := s.GetPendingProcessForAlliance(ActionAutoRefresh, 5)
	if err != nil {
		t.Fatalf("GetPendingProcessForAlliance: %v", err)
	}
	if p.ID != id {
		t.Errorf("pending = %d, want %d", p.ID, id)
	}

	if err := s.UpdateProcessStatus(id, StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.UpdateProcessStatus(id, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.GetPendingProcessForAlliance(ActionAutoRefresh, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("after completion error = %v, want ErrNotFound", err)
	}
}

func TestHasHigherPriorityQueued(t *testing.T) {
	s := newTestStore(t)

	mustCreateProcess(t, s, ActionAutoRefresh, 1, 400_000)
	got, err := s.HasHigherPriorityQueued(300_000, time.Now())
	if err != nil {
		t.Fatalf("HasHigherPriorityQueued: %v", err)
	}
	if got {
		t.Error("HasHigherPriorityQueued = true, want false")
	}

	mustCreateProcess(t, s, ActionAddPlayer, 1, 100_000)
	got, err = s.HasHigherPriorityQueued(300_000, time.Now())
	if err != nil {
		t.Fatalf("HasHigherPriorityQueued: %v", err)
	}
	if !got {
		t.Error("HasHigherPriorityQueued = false, want true")
	}
}
