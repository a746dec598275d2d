package refresh

import (
	"strconv"

	"github.com/whiteout-project/wosbot/internal/api"
	"github.com/whiteout-project/wosbot/internal/store"
)

// Tracked field names, matching the change-history tables.
const (
	FieldNickname = "nickname"
	FieldFurnace  = "furnace_level"
	FieldState    = "state"
)

// normalizeNickname applies the default the remote sometimes omits.
func normalizeNickname(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// DiffPlayer compares the stored player against a fetched snapshot across the
// three tracked fields. Any value inequality after normalization is a change;
// there is no threshold or debounce.
func DiffPlayer(stored *store.Player, snap *api.PlayerSnapshot) []store.Change {
	var changes []store.Change

	if old, new := normalizeNickname(stored.Nickname), normalizeNickname(snap.Nickname); old != new {
		changes = append(changes, store.Change{Field: FieldNickname, Old: old, New: new})
	}
	if stored.FurnaceLevel != snap.StoveLv {
		changes = append(changes, store.Change{
			Field: FieldFurnace,
			Old:   strconv.FormatInt(stored.FurnaceLevel, 10),
			New:   strconv.FormatInt(snap.StoveLv, 10),
		})
	}
	if stored.State != snap.KID {
		changes = append(changes, store.Change{
			Field: FieldState,
			Old:   strconv.FormatInt(stored.State, 10),
			New:   strconv.FormatInt(snap.KID, 10),
		})
	}
	return changes
}

// ApplySnapshot returns the player's post-update field values from a snapshot.
func ApplySnapshot(stored *store.Player, snap *api.PlayerSnapshot) *store.Player {
	updated := *stored
	updated.Nickname = normalizeNickname(snap.Nickname)
	updated.FurnaceLevel = snap.StoveLv
	updated.State = snap.KID
	updated.Exist = 0
	return &updated
}
