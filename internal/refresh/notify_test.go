package refresh

import (
	"strings"
	"testing"

	"github.com/whiteout-project/wosbot/internal/store"
)

func changeEntry(fid int64, nickname string, changes ...store.Change) store.ChangeEntry {
	return store.ChangeEntry{FID: fid, Nickname: nickname, Changes: changes}
}

func TestBuildMessagesGroupsByFieldInOrder(t *testing.T) {
	entries := []store.ChangeEntry{
		changeEntry(1, "Ape",
			store.Change{Field: FieldState, Old: "3", New: "4"},
			store.Change{Field: FieldNickname, Old: "Old", New: "Ape"},
		),
		changeEntry(2, "Bear",
			store.Change{Field: FieldFurnace, Old: "20", New: "21"},
		),
	}

	msgs := BuildMessages("North", entries, RenderLimits{MaxEmbeds: 10, MaxDescription: 4096})
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	embeds := msgs[0].Embeds
	if len(embeds) != 3 {
		t.Fatalf("embeds = %d, want 3", len(embeds))
	}
	if !strings.Contains(embeds[0].Title, "Nickname") ||
		!strings.Contains(embeds[1].Title, "Furnace") ||
		!strings.Contains(embeds[2].Title, "State") {
		t.Errorf("group order = %q, %q, %q", embeds[0].Title, embeds[1].Title, embeds[2].Title)
	}
	if !strings.Contains(embeds[0].Title, "North") {
		t.Errorf("title %q missing alliance name", embeds[0].Title)
	}
	if want := "**Ape** (1): Old → Ape"; embeds[0].Description != want {
		t.Errorf("description = %q, want %q", embeds[0].Description, want)
	}
}

func TestBuildMessagesNoChanges(t *testing.T) {
	if msgs := BuildMessages("North", nil, RenderLimits{}); msgs != nil {
		t.Errorf("messages = %v, want nil", msgs)
	}
}

func TestBuildMessagesChunksLongDescriptions(t *testing.T) {
	var entries []store.ChangeEntry
	for i := int64(1); i <= 10; i++ {
		entries = append(entries, changeEntry(i, "Player",
			store.Change{Field: FieldFurnace, Old: "20", New: "21"}))
	}

	// Each line is ~25 chars; a 60-char limit forces multiple blocks.
	msgs := BuildMessages("North", entries, RenderLimits{MaxEmbeds: 10, MaxDescription: 60})
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	embeds := msgs[0].Embeds
	if len(embeds) < 2 {
		t.Fatalf("embeds = %d, want chunked into several", len(embeds))
	}
	for _, e := range embeds {
		if len(e.Description) > 60 {
			t.Errorf("description length %d exceeds limit", len(e.Description))
		}
	}
	// Continuation blocks carry a counter suffix.
	if !strings.HasSuffix(embeds[1].Title, "(2)") {
		t.Errorf("second title = %q, want (2) suffix", embeds[1].Title)
	}
	if strings.Contains(embeds[0].Title, "(1)") {
		t.Errorf("first title = %q, should not carry a counter", embeds[0].Title)
	}
}

func TestBuildMessagesSplitsByMaxEmbeds(t *testing.T) {
	var entries []store.ChangeEntry
	for i := int64(1); i <= 6; i++ {
		entries = append(entries, changeEntry(i, "Player",
			store.Change{Field: FieldFurnace, Old: "20", New: "21"}))
	}

	msgs := BuildMessages("North", entries, RenderLimits{MaxEmbeds: 2, MaxDescription: 30})
	if len(msgs) < 2 {
		t.Fatalf("messages = %d, want several", len(msgs))
	}
	for _, m := range msgs {
		if len(m.Embeds) > 2 {
			t.Errorf("message carries %d embeds, limit 2", len(m.Embeds))
		}
	}
}
