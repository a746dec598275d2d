// Package refresh implements the per-alliance auto-refresh loop: scheduling,
// player fetch and diff, change persistence, and notification emission.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/whiteout-project/wosbot/internal/api"
	"github.com/whiteout-project/wosbot/internal/clock"
	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/process"
	"github.com/whiteout-project/wosbot/internal/scheduler"
	"github.com/whiteout-project/wosbot/internal/store"
)

// Config holds the engine's pacing, thresholds, and rendering limits.
type Config struct {
	// RateLimitDelay is the back-off after a rate-limited API response.
	RateLimitDelay time.Duration
	// PreemptionQuantum bounds how long a backoff sleeps between status
	// re-checks, and therefore preemption latency.
	PreemptionQuantum time.Duration
	// MessageDelay is the spacing between consecutive notification sends.
	MessageDelay time.Duration
	// SendRetryDelay is how long a process parks after a failed notification
	// send before it becomes runnable again.
	SendRetryDelay time.Duration
	// ExistThreshold is how many consecutive "role not exist" responses a
	// player accumulates before deletion is considered.
	ExistThreshold int
	Limits         RenderLimits
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		RateLimitDelay:    60 * time.Second,
		PreemptionQuantum: 2 * time.Second,
		MessageDelay:      2 * time.Second,
		SendRetryDelay:    30 * time.Second,
		ExistThreshold:    3,
		Limits:            RenderLimits{MaxEmbeds: 10, MaxDescription: 4096},
	}
}

// Submitter is the slice of the queue the engine needs.
type Submitter interface {
	Submit(id int64)
}

// Engine owns per-alliance refresh timers and is the action handler for the
// refresh and auto_refresh process kinds.
type Engine struct {
	config   *Config
	registry *process.Registry
	store    *store.Store
	queue    Submitter
	remote   api.PlayerAPI
	sink     NotificationSink
	clk      clock.Clock
	metrics  *scheduler.Metrics
	log      *slog.Logger

	mu sync.Mutex
	// activeRefreshes tracks the single-flight auto_refresh per alliance.
	// Storage is the source of truth across restarts.
	activeRefreshes map[int64]int64
	// scheduledRefreshes maps alliance id to its armed one-shot timer.
	scheduledRefreshes map[int64]*armedTimer
	running            bool
	stopCh             chan struct{}
	timerWG            sync.WaitGroup
}

type armedTimer struct {
	timer  clock.Timer
	fireAt time.Time
	cancel chan struct{}
}

// NewEngine creates the refresh engine.
func NewEngine(config *Config, registry *process.Registry, st *store.Store, queue Submitter,
	remote api.PlayerAPI, sink NotificationSink, clk clock.Clock, metrics *scheduler.Metrics) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config:             config,
		registry:           registry,
		store:              st,
		queue:              queue,
		remote:             remote,
		sink:               sink,
		clk:                clk,
		metrics:            metrics,
		log:                logging.WithComponent("refresh"),
		activeRefreshes:    make(map[int64]int64),
		scheduledRefreshes: make(map[int64]*armedTimer),
	}
}

// Start restores per-alliance schedules after boot. Alliances with a
// recovered queued/active auto_refresh process keep their single-flight
// marker and are re-armed only after that process completes; the rest get a
// fresh timer.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	alliances, err := e.store.ListAlliances()
	if err != nil {
		return fmt.Errorf("refresh: list alliances: %w", err)
	}

	for _, a := range alliances {
		if a.Interval == "" {
			continue
		}
		if _, err := ParseInterval(a.Interval); err != nil {
			e.log.Warn("skipping alliance with invalid interval",
				slog.Int64("alliance_id", a.ID),
				slog.String("interval", a.Interval),
			)
			continue
		}

		recovered, err := e.store.GetPendingProcessForAlliance(store.ActionAutoRefresh, a.ID)
		if err == nil {
			e.mu.Lock()
			e.activeRefreshes[a.ID] = recovered.ID
			e.mu.Unlock()
			e.log.Info("auto-refresh in flight from previous run",
				slog.Int64("alliance_id", a.ID),
				slog.Int64("process_id", recovered.ID),
			)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("refresh: recover alliance %d: %w", a.ID, err)
		}
		e.scheduleNext(a)
	}

	e.log.Info("refresh engine started", slog.Int("alliances", len(alliances)))
	return nil
}

// Stop cancels all armed timers and waits for their goroutines.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	for id, at := range e.scheduledRefreshes {
		at.timer.Stop()
		close(at.cancel)
		delete(e.scheduledRefreshes, id)
	}
	e.mu.Unlock()

	e.timerWG.Wait()
	e.log.Info("refresh engine stopped")
}

// ScheduledFires returns a snapshot of alliance id to next fire time, for
// status reporting.
func (e *Engine) ScheduledFires() map[int64]time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int64]time.Time, len(e.scheduledRefreshes))
	for id, at := range e.scheduledRefreshes {
		out[id] = at.fireAt
	}
	return out
}

// scheduleNext arms (replacing any previous handle) the alliance's one-shot
// timer from its current interval. No-op when the engine is stopped.
func (e *Engine) scheduleNext(a *store.Alliance) {
	iv, err := ParseInterval(a.Interval)
	if err != nil {
		return
	}
	fireAt := NextFire(iv, e.clk.Now())

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	if prev, ok := e.scheduledRefreshes[a.ID]; ok {
		prev.timer.Stop()
		close(prev.cancel)
	}
	at := &armedTimer{
		timer:  e.clk.TimerAt(fireAt),
		fireAt: fireAt,
		cancel: make(chan struct{}),
	}
	e.scheduledRefreshes[a.ID] = at
	e.mu.Unlock()

	e.log.Info("auto-refresh scheduled",
		slog.Int64("alliance_id", a.ID),
		slog.Time("fire_at", fireAt),
	)

	e.timerWG.Add(1)
	go func() {
		defer e.timerWG.Done()
		select {
		case <-at.timer.C():
			e.onTimerFire(a.ID, at)
		case <-at.cancel:
		}
	}()
}

func (e *Engine) onTimerFire(allianceID int64, at *armedTimer) {
	e.mu.Lock()
	if e.scheduledRefreshes[allianceID] == at {
		delete(e.scheduledRefreshes, allianceID)
	}
	e.mu.Unlock()

	if err := e.TriggerAutoRefresh(allianceID); err != nil {
		e.log.Error("auto-refresh trigger failed",
			slog.Int64("alliance_id", allianceID),
			slog.Any("error", err),
		)
		// Re-arm so a transient failure does not silence the alliance.
		if a, aerr := e.store.GetAlliance(allianceID); aerr == nil {
			e.scheduleNext(a)
		}
	}
}

// TriggerAutoRefresh creates and submits an auto_refresh process for the
// alliance. A fire while one is already queued or active is an idempotent
// no-op; an alliance with no players just re-arms.
func (e *Engine) TriggerAutoRefresh(allianceID int64) error {
	e.mu.Lock()
	if _, inFlight := e.activeRefreshes[allianceID]; inFlight {
		e.mu.Unlock()
		e.log.Debug("auto-refresh already in flight", slog.Int64("alliance_id", allianceID))
		return nil
	}
	e.mu.Unlock()

	a, err := e.store.GetAlliance(allianceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil // deleted since scheduling; drop silently
		}
		return err
	}

	fids, err := e.alliancePlayerIDs(allianceID)
	if err != nil {
		return err
	}
	if len(fids) == 0 {
		e.scheduleNext(a)
		return nil
	}

	id, err := e.registry.Create(process.CreateRequest{
		Action:    store.ActionAutoRefresh,
		Target:    allianceID,
		PlayerIDs: fids,
		CreatedBy: "scheduler",
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.activeRefreshes[allianceID] = id
	e.mu.Unlock()

	e.queue.Submit(id)
	return nil
}

// CreateManualRefresh enqueues a one-shot, higher-priority refresh of the
// alliance on behalf of createdBy.
func (e *Engine) CreateManualRefresh(allianceID int64, createdBy string) (int64, error) {
	if _, err := e.store.GetAlliance(allianceID); err != nil {
		return 0, err
	}
	fids, err := e.alliancePlayerIDs(allianceID)
	if err != nil {
		return 0, err
	}
	if len(fids) == 0 {
		return 0, fmt.Errorf("refresh: alliance %d has no players", allianceID)
	}

	id, err := e.registry.Create(process.CreateRequest{
		Action:    store.ActionRefresh,
		Target:    allianceID,
		PlayerIDs: fids,
		CreatedBy: createdBy,
	})
	if err != nil {
		return 0, err
	}
	e.queue.Submit(id)
	return id, nil
}

func (e *Engine) alliancePlayerIDs(allianceID int64) ([]int64, error) {
	players, err := e.store.GetPlayersByAlliance(allianceID)
	if err != nil {
		return nil, err
	}
	fids := make([]int64, 0, len(players))
	for _, p := range players {
		fids = append(fids, p.FID)
	}
	return fids, nil
}

// OnProcessTerminal is the queue completion listener. For refresh kinds it
// clears the single-flight marker and re-arms the alliance's timer from the
// current alliance row — the interval may have been edited while the process
// ran, and a deleted alliance gets no timer. Any valid interval re-arms,
// including the daily "@HH:MM" form.
func (e *Engine) OnProcessTerminal(proc *store.Process) {
	if proc.Action != store.ActionAutoRefresh && proc.Action != store.ActionRefresh {
		return
	}

	e.mu.Lock()
	if id, ok := e.activeRefreshes[proc.Target]; ok && id == proc.ID {
		delete(e.activeRefreshes, proc.Target)
	}
	e.mu.Unlock()

	a, err := e.store.GetAlliance(proc.Target)
	if err != nil {
		return // deleted mid-flight; no reschedule
	}
	if a.Interval == "" {
		return
	}
	if proc.Action == store.ActionRefresh && a.ChannelID == "" {
		return
	}
	e.scheduleNext(a)
}

// Run executes one admission of a refresh or auto_refresh process. It drains
// progress.pending one player at a time, observing preemption between
// iterations and during backoff, and emits change notifications only when the
// pass finishes without preemption.
func (e *Engine) Run(ctx context.Context, proc *store.Process, cp *scheduler.Checkpoint) error {
	log := e.log.With(
		slog.Int64("process_id", proc.ID),
		slog.Int64("alliance_id", proc.Target),
		slog.String("action", string(proc.Action)),
	)

	alliance, err := e.store.GetAlliance(proc.Target)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("alliance deleted, refresh pass abandoned")
			return nil
		}
		return fmt.Errorf("refresh: load alliance: %w", err)
	}

	progress := proc.Progress
	if progress == nil {
		progress = store.NewProgress(nil)
	}

	for progress.Remaining() {
		fid := progress.Pending[0]

		ok, err := cp.Continue()
		if err != nil {
			return fmt.Errorf("refresh: checkpoint: %w", err)
		}
		if !ok {
			// Preempted. Buckets are already persisted after every move;
			// one final write covers anything in flight.
			e.persistProgress(proc.ID, progress, log)
			return scheduler.ErrYielded
		}

		player, err := e.store.GetPlayer(fid)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Deleted mid-flight.
				e.moveAndPersist(proc.ID, progress, fid, store.BucketFailed, log)
				continue
			}
			return fmt.Errorf("refresh: load player %d: %w", fid, err)
		}

		res := e.remote.FetchPlayer(ctx, fid)
		switch res.Outcome {
		case api.OutcomeNotExist:
			if err := e.handleNotExist(player, log); err != nil {
				return err
			}
			e.moveAndPersist(proc.ID, progress, fid, store.BucketDone, log)

		case api.OutcomeRateLimited:
			e.persistProgress(proc.ID, progress, log)
			if err := e.registry.SetResumeAfter(proc.ID, e.clk.Now().Add(e.config.RateLimitDelay)); err != nil {
				log.Warn("resume_after write failed", slog.Any("error", err))
			}
			log.Info("rate limited, backing off",
				slog.Int64("fid", fid),
				slog.Duration("delay", e.config.RateLimitDelay),
			)
			active, err := cp.SleepChecking(ctx, e.config.RateLimitDelay, e.config.PreemptionQuantum)
			if err != nil {
				return err
			}
			if !active {
				return scheduler.ErrYielded
			}
			// Retry the same fid; do not advance.

		case api.OutcomeErr:
			log.Warn("player fetch failed", slog.Int64("fid", fid), slog.Any("error", res.Err))
			e.systemLog("warn", fmt.Sprintf("fetch fid %d failed: %v", fid, res.Err))
			e.moveAndPersist(proc.ID, progress, fid, store.BucketFailed, log)

		case api.OutcomeOK:
			bucket, err := e.applyFetch(proc.ID, progress, player, res.Player, log)
			if err != nil {
				return err
			}
			e.moveAndPersist(proc.ID, progress, fid, bucket, log)
		}
	}

	if len(progress.DetectedChanges) > 0 && alliance.ChannelID != "" {
		yielded, err := e.emitNotifications(ctx, alliance, progress, proc.ID, cp, log)
		if err != nil {
			return err
		}
		if yielded {
			return scheduler.ErrYielded
		}
	}

	progress.DetectedChanges = nil
	e.persistProgress(proc.ID, progress, log)

	log.Info("refresh pass finished",
		slog.Int("done", len(progress.Done)),
		slog.Int("changed", len(progress.Changed)),
		slog.Int("unchanged", len(progress.Unchanged)),
		slog.Int("failed", len(progress.Failed)),
	)
	return nil
}

// handleNotExist increments the player's strike counter and deletes the row
// once the threshold is hit with auto-delete enabled.
func (e *Engine) handleNotExist(player *store.Player, log *slog.Logger) error {
	count, err := e.store.IncrementPlayerExist(player.FID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("refresh: exist counter: %w", err)
	}

	if count >= e.config.ExistThreshold && e.store.AutoDelete() {
		if err := e.store.DeletePlayer(player.FID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("refresh: delete player %d: %w", player.FID, err)
		}
		log.Info("player deleted after non-existence strikes",
			slog.Int64("fid", player.FID),
			slog.Int("strikes", count),
		)
		e.systemLog("info", fmt.Sprintf("player %d deleted after %d non-existence strikes", player.FID, count))
	}
	return nil
}

// applyFetch diffs the snapshot against the stored player, persists detected
// changes into progress first (so preemption cannot lose them), then applies
// the player update and history rows in one transaction. Returns the bucket
// the fid moves to.
func (e *Engine) applyFetch(procID int64, progress *store.Progress, player *store.Player,
	snap *api.PlayerSnapshot, log *slog.Logger) (store.Bucket, error) {

	if player.Exist > 0 {
		if err := e.store.ResetPlayerExist(player.FID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("refresh: reset exist: %w", err)
		}
	}

	changes := DiffPlayer(player, snap)
	if len(changes) == 0 {
		return store.BucketUnchanged, nil
	}

	updated := ApplySnapshot(player, snap)
	progress.DetectedChanges = append(progress.DetectedChanges, store.ChangeEntry{
		FID:      player.FID,
		Nickname: updated.Nickname,
		Changes:  changes,
	})
	e.persistProgress(procID, progress, log)

	if err := e.store.ApplyPlayerUpdate(updated, changes, e.clk.Now()); err != nil {
		return "", fmt.Errorf("refresh: apply update for %d: %w", player.FID, err)
	}
	return store.BucketChanged, nil
}

// emitNotifications sends the batched change messages with the configured
// inter-message delay, checking preemption between sends. Progress keeps the
// detected changes until every send succeeds, so delivery is at-least-once: a
// failed send parks the process back in the queue with a backoff and the next
// admission re-emits the persisted changes.
func (e *Engine) emitNotifications(ctx context.Context, alliance *store.Alliance,
	progress *store.Progress, procID int64, cp *scheduler.Checkpoint, log *slog.Logger) (yielded bool, err error) {

	messages := BuildMessages(alliance.Name, progress.DetectedChanges, e.config.Limits)
	for i, msg := range messages {
		if i > 0 {
			active, err := cp.SleepChecking(ctx, e.config.MessageDelay, e.config.PreemptionQuantum)
			if err != nil {
				return false, err
			}
			if !active {
				return true, nil
			}
		}
		if err := e.sink.Send(ctx, alliance.ChannelID, msg); err != nil {
			return e.parkAfterSendFailure(procID, progress, alliance.ID, err, log)
		}
		if e.metrics != nil {
			e.metrics.NotificationSent()
		}
	}

	log.Info("change notifications sent",
		slog.Int("messages", len(messages)),
		slog.Int("entries", len(progress.DetectedChanges)),
	)
	return false, nil
}

// parkAfterSendFailure requeues the process with a retry backoff instead of
// failing it. The detected changes stay in progress, so the re-admitted pass
// rebuilds and resends them; resent messages may duplicate ones delivered
// before the failure.
func (e *Engine) parkAfterSendFailure(procID int64, progress *store.Progress,
	allianceID int64, cause error, log *slog.Logger) (bool, error) {

	e.systemLog("error", fmt.Sprintf("notification send failed for alliance %d: %v", allianceID, cause))
	log.Warn("notification send failed, parking for retry",
		slog.Any("error", cause),
		slog.Duration("delay", e.config.SendRetryDelay),
	)

	e.persistProgress(procID, progress, log)
	// A concurrent preemption may have requeued the row already; that state
	// is exactly what this transition wants.
	if err := e.registry.UpdateStatus(procID, store.StatusQueued); err != nil && !errors.Is(err, process.ErrInvalidTransition) {
		return false, fmt.Errorf("refresh: requeue after send failure: %w", err)
	}
	if err := e.registry.SetResumeAfter(procID, e.clk.Now().Add(e.config.SendRetryDelay)); err != nil {
		log.Warn("resume_after write failed", slog.Any("error", err))
	}
	return true, nil
}

// moveAndPersist advances one fid to its outcome bucket and writes progress.
// A failed write is logged and retried implicitly by the next iteration's
// persist; it never crashes the pass.
func (e *Engine) moveAndPersist(procID int64, progress *store.Progress, fid int64, bucket store.Bucket, log *slog.Logger) {
	if err := progress.Move(fid, bucket); err != nil {
		log.Error("bucket move failed", slog.Int64("fid", fid), slog.Any("error", err))
		return
	}
	e.persistProgress(procID, progress, log)
}

func (e *Engine) persistProgress(procID int64, progress *store.Progress, log *slog.Logger) {
	if err := e.registry.UpdateProgress(procID, progress); err != nil {
		log.Warn("progress write failed", slog.Any("error", err))
		e.systemLog("warn", fmt.Sprintf("progress write failed for process %d: %v", procID, err))
	}
}

func (e *Engine) systemLog(level, msg string) {
	if err := e.store.AppendSystemLog(level, "refresh", msg); err != nil {
		e.log.Warn("system log write failed", slog.Any("error", err))
	}
}
