package refresh

import (
	"context"
	"fmt"
	"strings"

	"github.com/whiteout-project/wosbot/internal/store"
)

// Embed is one grouped block inside a notification message.
type Embed struct {
	Title       string
	Description string
}

// Message is one outbound channel message carrying grouped change blocks.
type Message struct {
	Embeds []Embed
}

// NotificationSink delivers messages to a channel at-least-once. The sink's
// own rate-limit handling is orthogonal to the game-API budget.
type NotificationSink interface {
	Send(ctx context.Context, channelID string, msg *Message) error
}

// RenderLimits bounds notification batching.
type RenderLimits struct {
	// MaxEmbeds is the maximum grouped blocks per message.
	MaxEmbeds int
	// MaxDescription is the maximum rendered length of one block.
	MaxDescription int
}

// changeGroupOrder fixes the emission order of the three change kinds.
var changeGroupOrder = []string{FieldNickname, FieldFurnace, FieldState}

var changeGroupTitles = map[string]string{
	FieldNickname: "Nickname Changes",
	FieldFurnace:  "Furnace Level Changes",
	FieldState:    "State Changes",
}

// BuildMessages groups detected changes by field kind and renders them into
// messages honoring the embed and description limits. Overflow blocks get an
// "(n)" title suffix.
func BuildMessages(allianceName string, entries []store.ChangeEntry, limits RenderLimits) []*Message {
	if limits.MaxEmbeds <= 0 {
		limits.MaxEmbeds = 10
	}
	if limits.MaxDescription <= 0 {
		limits.MaxDescription = 4096
	}

	var embeds []Embed
	for _, field := range changeGroupOrder {
		lines := renderGroupLines(field, entries)
		if len(lines) == 0 {
			continue
		}
		title := fmt.Sprintf("%s — %s", allianceName, changeGroupTitles[field])
		embeds = append(embeds, chunkLines(title, lines, limits.MaxDescription)...)
	}

	var messages []*Message
	for start := 0; start < len(embeds); start += limits.MaxEmbeds {
		end := start + limits.MaxEmbeds
		if end > len(embeds) {
			end = len(embeds)
		}
		messages = append(messages, &Message{Embeds: embeds[start:end]})
	}
	return messages
}

// renderGroupLines produces one line per player change of the given field.
func renderGroupLines(field string, entries []store.ChangeEntry) []string {
	var lines []string
	for _, entry := range entries {
		for _, c := range entry.Changes {
			if c.Field != field {
				continue
			}
			lines = append(lines, fmt.Sprintf("**%s** (%d): %s → %s",
				entry.Nickname, entry.FID, c.Old, c.New))
		}
	}
	return lines
}

// chunkLines packs lines into embeds whose descriptions stay under maxLen,
// suffixing continuation blocks with a counter.
func chunkLines(title string, lines []string, maxLen int) []Embed {
	var embeds []Embed
	var b strings.Builder

	flush := func() {
		if b.Len() == 0 {
			return
		}
		t := title
		if len(embeds) > 0 {
			t = fmt.Sprintf("%s (%d)", title, len(embeds)+1)
		}
		embeds = append(embeds, Embed{Title: t, Description: b.String()})
		b.Reset()
	}

	for _, line := range lines {
		if b.Len() > 0 && b.Len()+len(line)+1 > maxLen {
			flush()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	flush()
	return embeds
}
