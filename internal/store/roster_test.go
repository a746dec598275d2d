package store

import (
	"errors"
	"testing"
	"time"
)

func mustCreateAlliance(t *testing.T, s *Store, priority int64, name string) int64 {
	t.Helper()
	id, err := s.CreateAlliance(&Alliance{Priority: priority, Name: name, ChannelID: "chan", Interval: "60"})
	if err != nil {
		t.Fatalf("CreateAlliance: %v", err)
	}
	return id
}

func TestAllianceCRUD(t *testing.T) {
	s := newTestStore(t)

	id := mustCreateAlliance(t, s, 10, "North")

	a, err := s.GetAlliance(id)
	if err != nil {
		t.Fatalf("GetAlliance: %v", err)
	}
	if a.Name != "North" || a.Priority != 10 || a.Interval != "60" {
		t.Errorf("alliance = %+v, want North/10/60", a)
	}

	a.Interval = "@03:30"
	a.AutoRedeem = true
	if err := s.UpdateAlliance(a); err != nil {
		t.Fatalf("UpdateAlliance: %v", err)
	}
	a2, _ := s.GetAlliance(id)
	if a2.Interval != "@03:30" || !a2.AutoRedeem {
		t.Errorf("updated alliance = %+v", a2)
	}

	if err := s.DeleteAlliance(id); err != nil {
		t.Fatalf("DeleteAlliance: %v", err)
	}
	if _, err := s.GetAlliance(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete error = %v, want ErrNotFound", err)
	}
}

func TestListAlliancesOrdersByPriority(t *testing.T) {
	s := newTestStore(t)

	mustCreateAlliance(t, s, 20, "Second")
	mustCreateAlliance(t, s, 10, "First")

	list, err := s.ListAlliances()
	if err != nil {
		t.Fatalf("ListAlliances: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Name != "First" || list[1].Name != "Second" {
		t.Errorf("order = %s, %s, want First, Second", list[0].Name, list[1].Name)
	}
}

func TestUpsertPlayer(t *testing.T) {
	s := newTestStore(t)
	aid := mustCreateAlliance(t, s, 10, "North")

	created, err := s.UpsertPlayer(&Player{FID: 100, AllianceID: aid, Nickname: "Ape", FurnaceLevel: 20, State: 3})
	if err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
	if !created {
		t.Error("created = false, want true for new fid")
	}

	created, err = s.UpsertPlayer(&Player{FID: 100, AllianceID: aid, Nickname: "Bear", FurnaceLevel: 21, State: 3})
	if err != nil {
		t.Fatalf("UpsertPlayer again: %v", err)
	}
	if created {
		t.Error("created = true, want false for existing fid")
	}

	p, err := s.GetPlayer(100)
	if err != nil {
		t.Fatalf("GetPlayer: %v", err)
	}
	if p.Nickname != "Bear" || p.FurnaceLevel != 21 {
		t.Errorf("player = %+v, want Bear/21", p)
	}
}

func TestDeleteAllianceCascadesPlayers(t *testing.T) {
	s := newTestStore(t)
	aid := mustCreateAlliance(t, s, 10, "North")

	if _, err := s.UpsertPlayer(&Player{FID: 100, AllianceID: aid, Nickname: "Ape"}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
	if err := s.DeleteAlliance(aid); err != nil {
		t.Fatalf("DeleteAlliance: %v", err)
	}
	if _, err := s.GetPlayer(100); !errors.Is(err, ErrNotFound) {
		t.Errorf("player survived alliance delete: err = %v", err)
	}
}

func TestExistCounter(t *testing.T) {
	s := newTestStore(t)
	aid := mustCreateAlliance(t, s, 10, "North")
	if _, err := s.UpsertPlayer(&Player{FID: 100, AllianceID: aid, Nickname: "Ape"}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementPlayerExist(100)
		if err != nil {
			t.Fatalf("IncrementPlayerExist: %v", err)
		}
		if got != want {
			t.Errorf("exist = %d, want %d", got, want)
		}
	}

	if err := s.ResetPlayerExist(100); err != nil {
		t.Fatalf("ResetPlayerExist: %v", err)
	}
	p, _ := s.GetPlayer(100)
	if p.Exist != 0 {
		t.Errorf("exist after reset = %d, want 0", p.Exist)
	}
}

func TestApplyPlayerUpdateAppendsHistory(t *testing.T) {
	s := newTestStore(t)
	aid := mustCreateAlliance(t, s, 10, "North")
	if _, err := s.UpsertPlayer(&Player{FID: 100, AllianceID: aid, Nickname: "Ape", FurnaceLevel: 20}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}

	now := time.Now()
	updated := &Player{FID: 100, AllianceID: aid, Nickname: "Bear", FurnaceLevel: 21, State: 4}
	changes := []Change{
		{Field: "nickname", Old: "Ape", New: "Bear"},
		{Field: "furnace_level", Old: "20", New: "21"},
		{Field: "state", Old: "0", New: "4"},
	}
	if err := s.ApplyPlayerUpdate(updated, changes, now); err != nil {
		t.Fatalf("ApplyPlayerUpdate: %v", err)
	}

	p, _ := s.GetPlayer(100)
	if p.Nickname != "Bear" || p.FurnaceLevel != 21 || p.State != 4 {
		t.Errorf("player = %+v, want Bear/21/4", p)
	}

	furnace, err := s.GetFieldChanges("furnace_changes", 100, 10)
	if err != nil {
		t.Fatalf("GetFieldChanges(furnace): %v", err)
	}
	if len(furnace) != 1 || furnace[0].Old != "20" || furnace[0].New != "21" {
		t.Errorf("furnace history = %+v, want one 20→21 row", furnace)
	}

	nick, err := s.GetFieldChanges("nickname_changes", 100, 10)
	if err != nil {
		t.Fatalf("GetFieldChanges(nickname): %v", err)
	}
	if len(nick) != 1 || nick[0].Old != "Ape" {
		t.Errorf("nickname history = %+v, want one Ape→Bear row", nick)
	}

	// State has no history table; only the player row reflects it.
	if _, err := s.GetFieldChanges("state_changes", 100, 10); err == nil {
		t.Error("GetFieldChanges accepted unknown table")
	}
}

func TestGetPlayerCountsByAllianceIDs(t *testing.T) {
	s := newTestStore(t)
	a1 := mustCreateAlliance(t, s, 10, "North")
	a2 := mustCreateAlliance(t, s, 20, "South")

	for fid := int64(1); fid <= 3; fid++ {
		if _, err := s.UpsertPlayer(&Player{FID: fid, AllianceID: a1, Nickname: "P"}); err != nil {
			t.Fatalf("UpsertPlayer: %v", err)
		}
	}

	counts, err := s.GetPlayerCountsByAllianceIDs([]int64{a1, a2})
	if err != nil {
		t.Fatalf("GetPlayerCountsByAllianceIDs: %v", err)
	}
	if counts[a1] != 3 {
		t.Errorf("counts[a1] = %d, want 3", counts[a1])
	}
	if _, ok := counts[a2]; ok {
		t.Errorf("counts[a2] present = %d, want absent", counts[a2])
	}
}
