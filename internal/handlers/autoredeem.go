package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/process"
	"github.com/whiteout-project/wosbot/internal/store"
)

// EnqueueRedeemAll fans a gift code out to every auto-redeem alliance: one
// redeem process per alliance, offset by the alliance's priority so more
// important alliances redeem first. Players who already have a usage row for
// the code are filtered out up front; alliances with nothing left to redeem
// are skipped. Returns the created process ids in alliance-priority order.
//
// The processes are written queued; the running daemon's admission ticker
// picks them up, so this is safe to call from a separate CLI invocation.
func EnqueueRedeemAll(registry *process.Registry, st *store.Store, code, createdBy string) ([]int64, error) {
	log := logging.WithComponent("redeem")

	if code == "" {
		return nil, fmt.Errorf("redeem: empty gift code")
	}

	alliances, err := st.ListAlliances()
	if err != nil {
		return nil, fmt.Errorf("redeem: list alliances: %w", err)
	}

	targets := make([]*store.Alliance, 0, len(alliances))
	ids := make([]int64, 0, len(alliances))
	for _, a := range alliances {
		if a.AutoRedeem {
			targets = append(targets, a)
			ids = append(ids, a.ID)
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	counts, err := st.GetPlayerCountsByAllianceIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("redeem: player counts: %w", err)
	}

	redeemed, err := st.GetFidsWhoRedeemedCode(code)
	if err != nil {
		return nil, fmt.Errorf("redeem: usage lookup: %w", err)
	}
	already := make(map[int64]bool, len(redeemed))
	for _, fid := range redeemed {
		already[fid] = true
	}

	raw, err := json.Marshal(code)
	if err != nil {
		return nil, fmt.Errorf("redeem: marshal code: %w", err)
	}

	var created []int64
	for _, a := range targets {
		if counts[a.ID] == 0 {
			continue
		}
		players, err := st.GetPlayersByAlliance(a.ID)
		if err != nil {
			return nil, fmt.Errorf("redeem: players of alliance %d: %w", a.ID, err)
		}
		fids := make([]int64, 0, len(players))
		for _, p := range players {
			if !already[p.FID] {
				fids = append(fids, p.FID)
			}
		}
		if len(fids) == 0 {
			log.Info("alliance fully redeemed, skipping",
				slog.Int64("alliance_id", a.ID),
				slog.String("gift_code", code),
			)
			continue
		}

		id, err := registry.Create(process.CreateRequest{
			Action:           store.ActionRedeemCode,
			Target:           a.ID,
			AlliancePriority: a.Priority,
			PlayerIDs:        fids,
			CreatedBy:        createdBy,
			Details:          map[string]json.RawMessage{"gift_code": raw},
		})
		if err != nil {
			return created, fmt.Errorf("redeem: create process for alliance %d: %w", a.ID, err)
		}
		created = append(created, id)
	}
	return created, nil
}
