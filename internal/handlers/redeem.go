package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/whiteout-project/wosbot/internal/api"
	"github.com/whiteout-project/wosbot/internal/clock"
	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/process"
	"github.com/whiteout-project/wosbot/internal/scheduler"
	"github.com/whiteout-project/wosbot/internal/store"
)

// RedeemGiftCode redeems one gift code for every pending fid, skipping
// players who already have a usage row. A process with target 0 is a system
// validation probing the code against a single test fid.
type RedeemGiftCode struct {
	config   *Config
	registry *process.Registry
	store    *store.Store
	remote   api.PlayerAPI
	clk      clock.Clock
	log      *slog.Logger
}

// NewRedeemGiftCode creates the redeem handler.
func NewRedeemGiftCode(config *Config, registry *process.Registry, st *store.Store, remote api.PlayerAPI, clk clock.Clock) *RedeemGiftCode {
	if config == nil {
		config = DefaultConfig()
	}
	return &RedeemGiftCode{
		config:   config,
		registry: registry,
		store:    st,
		remote:   remote,
		clk:      clk,
		log:      logging.WithComponent("redeem"),
	}
}

// GiftCodeOf extracts the gift code from a process's details.
func GiftCodeOf(proc *store.Process) (string, error) {
	raw, ok := proc.Details["gift_code"]
	if !ok {
		return "", fmt.Errorf("redeem: process %d has no gift_code", proc.ID)
	}
	var code string
	if err := json.Unmarshal(raw, &code); err != nil || code == "" {
		return "", fmt.Errorf("redeem: process %d has invalid gift_code", proc.ID)
	}
	return code, nil
}

// Run implements scheduler.Handler.
func (h *RedeemGiftCode) Run(ctx context.Context, proc *store.Process, cp *scheduler.Checkpoint) error {
	log := h.log.With(slog.Int64("process_id", proc.ID), slog.Int64("alliance_id", proc.Target))

	code, err := GiftCodeOf(proc)
	if err != nil {
		return err
	}
	log = log.With(slog.String("gift_code", code))

	progress := proc.Progress
	if progress == nil {
		progress = store.NewProgress(nil)
	}

	// Bulk pre-filter: fids that already redeemed this code short-circuit to
	// done without an API call.
	redeemed, err := h.store.CheckBulkUsage(code, progress.Pending)
	if err != nil {
		return fmt.Errorf("redeem: bulk usage check: %w", err)
	}
	if len(redeemed) > 0 {
		for _, fid := range redeemed {
			if err := progress.Move(fid, store.BucketDone); err != nil {
				log.Error("bucket move failed", slog.Int64("fid", fid), slog.Any("error", err))
			}
		}
		persistProgress(h.registry, proc.ID, progress, log)
		log.Info("pre-filtered already-redeemed players", slog.Int("count", len(redeemed)))
	}

	for progress.Remaining() {
		fid := progress.Pending[0]

		ok, err := cp.Continue()
		if err != nil {
			return fmt.Errorf("redeem: checkpoint: %w", err)
		}
		if !ok {
			persistProgress(h.registry, proc.ID, progress, log)
			return scheduler.ErrYielded
		}

		// A usage row may appear after the bulk pre-filter, e.g. when a
		// recorded redemption's bucket write was lost. Never redeem twice.
		already, err := h.store.HasCodeUsage(fid, code)
		if err != nil {
			return fmt.Errorf("redeem: usage check %d: %w", fid, err)
		}
		if already {
			moveAndPersist(h.registry, proc.ID, progress, fid, store.BucketDone, log)
			continue
		}

		res := h.remote.RedeemCode(ctx, fid, code)
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
			log.Warn("redeem call failed", slog.Int64("fid", fid), slog.Any("error", res.Err))
			moveAndPersist(h.registry, proc.ID, progress, fid, store.BucketFailed, log)

		case api.OutcomeOK:
			if err := h.store.RecordCodeUsage(&store.CodeUsage{FID: fid, GiftCode: code, Status: res.Status}); err != nil {
				return fmt.Errorf("redeem: record usage %d: %w", fid, err)
			}
			bucket := store.BucketDone
			if res.Status == api.RedeemInvalidCode || res.Status == api.RedeemExpired {
				bucket = store.BucketFailed
			}
			moveAndPersist(h.registry, proc.ID, progress, fid, bucket, log)
		}
	}

	log.Info("redeem pass finished",
		slog.Int("done", len(progress.Done)),
		slog.Int("failed", len(progress.Failed)),
	)
	return nil
}
