// Package process defines the durable work-unit model: priority computation,
// lifecycle transitions, and progress-document validation over the store.
package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/store"
)

// Priority bases per action kind. Lower value wins. The 100k gaps keep action
// kinds totally ordered; the redeem offset folds in the alliance priority so
// a more-important alliance's redeem strictly precedes a less-important one's.
const (
	PriorityAddPlayer   = 100_000
	PriorityRedeemBase  = 200_000
	PriorityRefresh     = 300_000
	PriorityAutoRefresh = 400_000
)

// Errors returned by the registry.
var (
	ErrInvalidTransition = errors.New("process: invalid status transition")
	ErrInvalidTarget     = errors.New("process: target must be a non-negative alliance id")
	ErrNoPlayers         = errors.New("process: player id set must not be empty")
)

// PriorityFor computes the scheduling priority for an action. alliancePriority
// is only consulted for redeem processes and must be in 1..99999 there.
func PriorityFor(action store.Action, alliancePriority int64) (int64, error) {
	switch action {
	case store.ActionAddPlayer:
		return PriorityAddPlayer, nil
	case store.ActionRedeemCode:
		if alliancePriority < 1 || alliancePriority > 99_999 {
			return 0, fmt.Errorf("process: alliance priority %d out of range 1..99999", alliancePriority)
		}
		return PriorityRedeemBase + alliancePriority, nil
	case store.ActionRefresh:
		return PriorityRefresh, nil
	case store.ActionAutoRefresh:
		return PriorityAutoRefresh, nil
	default:
		return 0, fmt.Errorf("process: unknown action %q", action)
	}
}

// allowedBuckets maps each action to the progress buckets it may populate.
var allowedBuckets = map[store.Action]map[store.Bucket]bool{
	store.ActionAddPlayer: {
		store.BucketPending: true, store.BucketDone: true,
		store.BucketFailed: true, store.BucketExisting: true,
	},
	store.ActionRefresh: {
		store.BucketPending: true, store.BucketDone: true, store.BucketFailed: true,
		store.BucketChanged: true, store.BucketUnchanged: true,
	},
	store.ActionAutoRefresh: {
		store.BucketPending: true, store.BucketDone: true, store.BucketFailed: true,
		store.BucketChanged: true, store.BucketUnchanged: true,
	},
	store.ActionRedeemCode: {
		store.BucketPending: true, store.BucketDone: true, store.BucketFailed: true,
	},
}

// Registry provides validated CRUD over processes.
type Registry struct {
	store *store.Store
	log   *slog.Logger
}

// NewRegistry creates a registry over the given store.
func NewRegistry(st *store.Store) *Registry {
	return &Registry{
		store: st,
		log:   logging.WithComponent("registry"),
	}
}

// CreateRequest describes a process to enqueue.
type CreateRequest struct {
	Action store.Action
	// Target is the alliance id; zero is allowed for system validations.
	Target int64
	// AlliancePriority feeds the redeem priority offset; ignored otherwise.
	AlliancePriority int64
	PlayerIDs        []int64
	CreatedBy        string
	// Details carries action-specific fields (e.g. the gift code). The
	// player id set is stored alongside it.
	Details map[string]json.RawMessage
}

// Create validates the request, computes its priority, seeds progress with
// every id pending, and writes the process as queued. Returns the new id.
func (r *Registry) Create(req CreateRequest) (int64, error) {
	if req.Target < 0 {
		return 0, ErrInvalidTarget
	}
	if len(req.PlayerIDs) == 0 {
		return 0, ErrNoPlayers
	}

	priority, err := PriorityFor(req.Action, req.AlliancePriority)
	if err != nil {
		return 0, err
	}

	details := req.Details
	if details == nil {
		details = make(map[string]json.RawMessage)
	}
	ids, err := json.Marshal(req.PlayerIDs)
	if err != nil {
		return 0, fmt.Errorf("marshal player ids: %w", err)
	}
	details["player_ids"] = ids

	id, err := r.store.CreateProcess(&store.Process{
		Action:    req.Action,
		Target:    req.Target,
		Priority:  priority,
		Details:   details,
		Progress:  store.NewProgress(req.PlayerIDs),
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return 0, err
	}

	r.log.Info("process created",
		slog.Int64("process_id", id),
		slog.String("action", string(req.Action)),
		slog.Int64("target", req.Target),
		slog.Int64("priority", priority),
		slog.Int("players", len(req.PlayerIDs)),
	)
	if req.CreatedBy != "" {
		detail := fmt.Sprintf("process %d (%s) for alliance %d, %d players", id, req.Action, req.Target, len(req.PlayerIDs))
		if err := r.store.AppendAdminLog(req.CreatedBy, "create_process", detail); err != nil {
			r.log.Warn("admin log write failed", slog.Any("error", err))
		}
	}
	return id, nil
}

// Get loads a process by id.
func (r *Registry) Get(id int64) (*store.Process, error) {
	return r.store.GetProcess(id)
}

// UpdateStatus transitions a process, rejecting transitions the lifecycle
// does not allow. Terminal processes are never resurrected.
func (r *Registry) UpdateStatus(id int64, next store.Status) error {
	p, err := r.store.GetProcess(id)
	if err != nil {
		return err
	}
	if !transitionAllowed(p.Status, next) {
		return fmt.Errorf("%w: %s -> %s (process %d)", ErrInvalidTransition, p.Status, next, id)
	}
	return r.store.UpdateProcessStatus(id, next)
}

func transitionAllowed(from, to store.Status) bool {
	switch from {
	case store.StatusQueued:
		return to == store.StatusActive || to == store.StatusFailed
	case store.StatusActive:
		return to == store.StatusQueued || to == store.StatusCompleted || to == store.StatusFailed
	default:
		return false
	}
}

// UpdateProgress validates the document against the action's allowed bucket
// set and the partition invariant, then replaces it atomically.
func (r *Registry) UpdateProgress(id int64, progress *store.Progress) error {
	p, err := r.store.GetProcess(id)
	if err != nil {
		return err
	}

	allowed := allowedBuckets[p.Action]
	if allowed == nil {
		return fmt.Errorf("process: unknown action %q", p.Action)
	}
	for bucket, ids := range progress.Buckets() {
		if len(ids) > 0 && !allowed[bucket] {
			return fmt.Errorf("process: bucket %s not allowed for action %s", bucket, p.Action)
		}
	}
	if err := progress.CheckPartition(); err != nil {
		return fmt.Errorf("process: %w", err)
	}

	return r.store.UpdateProcessProgress(id, progress)
}

// SetResumeAfter records when rate-limit backoff ends for a queued process.
func (r *Registry) SetResumeAfter(id int64, at time.Time) error {
	return r.store.SetResumeAfter(id, at)
}

// SetPreemption parks the victim back in the queue with its evictor recorded.
func (r *Registry) SetPreemption(victimID, preemptorID int64) error {
	return r.store.SetPreemption(victimID, preemptorID)
}

// RecoverInterrupted runs the boot-time crash-recovery sweep and logs the
// number of processes that will be re-admitted.
func (r *Registry) RecoverInterrupted() (int64, error) {
	n, err := r.store.RecoverInterrupted()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("recovered interrupted processes", slog.Int64("count", n))
	}
	return n, nil
}
