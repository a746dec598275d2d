package process

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/whiteout-project/wosbot/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewRegistry(st), st
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		action           store.Action
		alliancePriority int64
		want             int64
	}{
		{store.ActionAddPlayer, 0, 100_000},
		{store.ActionRedeemCode, 1, 200_001},
		{store.ActionRedeemCode, 50, 200_050},
		{store.ActionRedeemCode, 99_999, 299_999},
		{store.ActionRefresh, 0, 300_000},
		{store.ActionAutoRefresh, 0, 400_000},
	}
	for _, tt := range tests {
		got, err := PriorityFor(tt.action, tt.alliancePriority)
		if err != nil {
			t.Errorf("PriorityFor(%s, %d): %v", tt.action, tt.alliancePriority, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PriorityFor(%s, %d) = %d, want %d", tt.action, tt.alliancePriority, got, tt.want)
		}
	}
}

func TestPriorityForRejectsBadInput(t *testing.T) {
	if _, err := PriorityFor(store.ActionRedeemCode, 0); err == nil {
		t.Error("redeem with alliance priority 0 accepted")
	}
	if _, err := PriorityFor(store.ActionRedeemCode, 100_000); err == nil {
		t.Error("redeem with alliance priority 100000 accepted")
	}
	if _, err := PriorityFor(store.Action("bogus"), 0); err == nil {
		t.Error("unknown action accepted")
	}
}

func TestCreateValidatesRequest(t *testing.T) {
	r, _ := newTestRegistry(t)

	if _, err := r.Create(CreateRequest{Action: store.ActionRefresh, Target: -1, PlayerIDs: []int64{1}}); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("negative target error = %v, want ErrInvalidTarget", err)
	}
	if _, err := r.Create(CreateRequest{Action: store.ActionRefresh, Target: 1}); !errors.Is(err, ErrNoPlayers) {
		t.Errorf("empty ids error = %v, want ErrNoPlayers", err)
	}
}

func TestCreateSeedsProgressAndDetails(t *testing.T) {
	r, _ := newTestRegistry(t)

	code, _ := json.Marshal("WINTER")
	id, err := r.Create(CreateRequest{
		Action:           store.ActionRedeemCode,
		Target:           3,
		AlliancePriority: 7,
		PlayerIDs:        []int64{10, 20},
		CreatedBy:        "admin#1",
		Details:          map[string]json.RawMessage{"gift_code": code},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	p, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Priority != 200_007 {
		t.Errorf("Priority = %d, want 200007", p.Priority)
	}
	if len(p.Progress.Pending) != 2 {
		t.Errorf("Pending = %v, want [10 20]", p.Progress.Pending)
	}
	if _, ok := p.Details["gift_code"]; !ok {
		t.Error("details missing gift_code")
	}
	if _, ok := p.Details["player_ids"]; !ok {
		t.Error("details missing player_ids")
	}
	if p.CreatedBy != "admin#1" {
		t.Errorf("CreatedBy = %q, want admin#1", p.CreatedBy)
	}
}

// Target zero is a system validation (no alliance), allowed for redeems.
func TestCreateAllowsZeroTarget(t *testing.T) {
	r, _ := newTestRegistry(t)

	code, _ := json.Marshal("PROBE")
	if _, err := r.Create(CreateRequest{
		Action:           store.ActionRedeemCode,
		Target:           0,
		AlliancePriority: 1,
		PlayerIDs:        []int64{42},
		Details:          map[string]json.RawMessage{"gift_code": code},
	}); err != nil {
		t.Errorf("Create with target 0: %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.Create(CreateRequest{Action: store.ActionRefresh, Target: 1, PlayerIDs: []int64{1}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// queued -> completed is not a legal transition.
	if err := r.UpdateStatus(id, store.StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("queued->completed error = %v, want ErrInvalidTransition", err)
	}

	if err := r.UpdateStatus(id, store.StatusActive); err != nil {
		t.Fatalf("queued->active: %v", err)
	}
	// active -> queued is preemption/yield.
	if err := r.UpdateStatus(id, store.StatusQueued); err != nil {
		t.Fatalf("active->queued: %v", err)
	}
	if err := r.UpdateStatus(id, store.StatusActive); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	if err := r.UpdateStatus(id, store.StatusCompleted); err != nil {
		t.Fatalf("active->completed: %v", err)
	}

	// Terminal processes are never resurrected.
	for _, next := range []store.Status{store.StatusQueued, store.StatusActive, store.StatusFailed} {
		if err := r.UpdateStatus(id, next); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("completed->%s error = %v, want ErrInvalidTransition", next, err)
		}
	}
}

func TestUpdateProgressEnforcesBuckets(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.Create(CreateRequest{Action: store.ActionAddPlayer, Target: 1, PlayerIDs: []int64{1, 2}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// addplayer may use the existing bucket.
	good := store.NewProgress([]int64{1, 2})
	if err := good.Move(1, store.BucketExisting); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := r.UpdateProgress(id, good); err != nil {
		t.Errorf("UpdateProgress(existing): %v", err)
	}

	// but never changed/unchanged, which belong to refresh kinds.
	bad := store.NewProgress([]int64{1, 2})
	if err := bad.Move(1, store.BucketChanged); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := r.UpdateProgress(id, bad); err == nil {
		t.Error("UpdateProgress accepted changed bucket for addplayer")
	}
}

func TestUpdateProgressRejectsPartitionViolation(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.Create(CreateRequest{Action: store.ActionRefresh, Target: 1, PlayerIDs: []int64{1}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	p := store.NewProgress([]int64{1})
	p.Done = append(p.Done, 1) // 1 now both pending and done
	if err := r.UpdateProgress(id, p); err == nil {
		t.Error("UpdateProgress accepted duplicated fid")
	}
}

func TestRecoverInterrupted(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.Create(CreateRequest{Action: store.ActionRefresh, Target: 1, PlayerIDs: []int64{1}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.UpdateStatus(id, store.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	n, err := r.RecoverInterrupted()
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}
	p, _ := r.Get(id)
	if p.Status != store.StatusQueued {
		t.Errorf("status = %q, want queued", p.Status)
	}
}
