// Package handlers implements the simpler action kinds. They share the
// refresh engine's checkpoint and rate-limit conventions.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/whiteout-project/wosbot/internal/api"
	"github.com/whiteout-project/wosbot/internal/clock"
	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/process"
	"github.com/whiteout-project/wosbot/internal/scheduler"
	"github.com/whiteout-project/wosbot/internal/store"
)

// Config holds pacing shared by the simple handlers.
type Config struct {
	RateLimitDelay    time.Duration
	PreemptionQuantum time.Duration
}

// DefaultConfig returns handler defaults.
func DefaultConfig() *Config {
	return &Config{
		RateLimitDelay:    60 * time.Second,
		PreemptionQuantum: 2 * time.Second,
	}
}

// AddPlayer fetches each pending fid from the remote and inserts it into the
// target alliance. Ids already present move to the existing bucket.
type AddPlayer struct {
	config   *Config
	registry *process.Registry
	store    *store.Store
	remote   api.PlayerAPI
	clk      clock.Clock
	log      *slog.Logger
}

// NewAddPlayer creates the addplayer handler.
func NewAddPlayer(config *Config, registry *process.Registry, st *store.Store, remote api.PlayerAPI, clk clock.Clock) *AddPlayer {
	if config == nil {
		config = DefaultConfig()
	}
	return &AddPlayer{
		config:   config,
		registry: registry,
		store:    st,
		remote:   remote,
		clk:      clk,
		log:      logging.WithComponent("addplayer"),
	}
}

// Run implements scheduler.Handler.
func (h *AddPlayer) Run(ctx context.Context, proc *store.Process, cp *scheduler.Checkpoint) error {
	log := h.log.With(slog.Int64("process_id", proc.ID), slog.Int64("alliance_id", proc.Target))

	progress := proc.Progress
	if progress == nil {
		progress = store.NewProgress(nil)
	}

	for progress.Remaining() {
		fid := progress.Pending[0]

		ok, err := cp.Continue()
		if err != nil {
			return fmt.Errorf("addplayer: checkpoint: %w", err)
		}
		if !ok {
			persistProgress(h.registry, proc.ID, progress, log)
			return scheduler.ErrYielded
		}

		res := h.remote.FetchPlayer(ctx, fid)
		switch res.Outcome {
		case api.OutcomeRateLimited:
			persistProgress(h.registry, proc.ID, progress, log)
			if err := h.registry.SetResumeAfter(proc.ID, h.clk.Now().Add(h.config.RateLimitDelay)); err != nil {
				log.Warn("resume_after write failed", slog.Any("error", err))
			}
			active, err := cp.SleepChecking(ctx, h.config.RateLimitDelay, h.config.PreemptionQuantum)
			if err != nil {
				return err
			}
			if !active {
				return scheduler.ErrYielded
			}
			// Retry the same fid.

		case api.OutcomeNotExist:
			log.Info("fid does not exist", slog.Int64("fid", fid))
			moveAndPersist(h.registry, proc.ID, progress, fid, store.BucketFailed, log)

		case api.OutcomeErr:
			log.Warn("fetch failed", slog.Int64("fid", fid), slog.Any("error", res.Err))
			moveAndPersist(h.registry, proc.ID, progress, fid, store.BucketFailed, log)

		case api.OutcomeOK:
			created, err := h.store.UpsertPlayer(&store.Player{
				FID:          fid,
				AllianceID:   proc.Target,
				Nickname:     res.Player.Nickname,
				FurnaceLevel: res.Player.StoveLv,
				State:        res.Player.KID,
			})
			if err != nil {
				return fmt.Errorf("addplayer: upsert %d: %w", fid, err)
			}
			bucket := store.BucketDone
			if !created {
				bucket = store.BucketExisting
			}
			moveAndPersist(h.registry, proc.ID, progress, fid, bucket, log)
		}
	}

	log.Info("addplayer pass finished",
		slog.Int("done", len(progress.Done)),
		slog.Int("existing", len(progress.Existing)),
		slog.Int("failed", len(progress.Failed)),
	)
	return nil
}

func moveAndPersist(reg *process.Registry, procID int64, progress *store.Progress, fid int64, bucket store.Bucket, log *slog.Logger) {
	if err := progress.Move(fid, bucket); err != nil {
		log.Error("bucket move failed", slog.Int64("fid", fid), slog.Any("error", err))
		return
	}
	persistProgress(reg, procID, progress, log)
}

func persistProgress(reg *process.Registry, procID int64, progress *store.Progress, log *slog.Logger) {
	if err := reg.UpdateProgress(procID, progress); err != nil {
		log.Warn("progress write failed", slog.Any("error", err))
	}
}
