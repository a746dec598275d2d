package refresh

import (
	"reflect"
	"testing"

	"github.com/whiteout-project/wosbot/internal/api"
	"github.com/whiteout-project/wosbot/internal/store"
)

func TestDiffPlayerNoChanges(t *testing.T) {
	stored := &store.Player{FID: 1, Nickname: "Ape", FurnaceLevel: 20, State: 3}
	snap := &api.PlayerSnapshot{FID: 1, Nickname: "Ape", StoveLv: 20, KID: 3}

	if changes := DiffPlayer(stored, snap); len(changes) != 0 {
		t.Errorf("changes = %v, want none", changes)
	}
}

func TestDiffPlayerAllFields(t *testing.T) {
	stored := &store.Player{FID: 1, Nickname: "Ape", FurnaceLevel: 20, State: 3}
	snap := &api.PlayerSnapshot{FID: 1, Nickname: "Bear", StoveLv: 21, KID: 4}

	changes := DiffPlayer(stored, snap)
	want := []store.Change{
		{Field: "nickname", Old: "Ape", New: "Bear"},
		{Field: "furnace_level", Old: "20", New: "21"},
		{Field: "state", Old: "3", New: "4"},
	}
	if !reflect.DeepEqual(changes, want) {
		t.Errorf("changes = %v, want %v", changes, want)
	}
}

func TestDiffPlayerNormalizesEmptyNickname(t *testing.T) {
	// An empty remote nickname equals a stored "Unknown": no change.
	stored := &store.Player{FID: 1, Nickname: "Unknown", FurnaceLevel: 20, State: 3}
	snap := &api.PlayerSnapshot{FID: 1, Nickname: "", StoveLv: 20, KID: 3}

	if changes := DiffPlayer(stored, snap); len(changes) != 0 {
		t.Errorf("changes = %v, want none after normalization", changes)
	}
}

func TestApplySnapshot(t *testing.T) {
	stored := &store.Player{FID: 1, AllianceID: 9, Nickname: "Ape", FurnaceLevel: 20, State: 3, Exist: 2}
	snap := &api.PlayerSnapshot{FID: 1, Nickname: "", StoveLv: 25, KID: 4}

	updated := ApplySnapshot(stored, snap)
	if updated.Nickname != "Unknown" || updated.FurnaceLevel != 25 || updated.State != 4 {
		t.Errorf("updated = %+v", updated)
	}
	if updated.Exist != 0 {
		t.Errorf("Exist = %d, want 0 after a successful fetch", updated.Exist)
	}
	if updated.AllianceID != 9 {
		t.Errorf("AllianceID = %d, want untouched 9", updated.AllianceID)
	}
	if stored.FurnaceLevel != 20 {
		t.Error("ApplySnapshot mutated its input")
	}
}
