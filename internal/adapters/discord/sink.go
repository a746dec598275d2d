package discord

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/refresh"
)

// embedColor is the accent used on change-report embeds.
const embedColor = 0x5865F2

// Sink adapts the Discord client to the refresh engine's notification
// interface. Discord-side throttling is retried in place; it is independent
// of the game-API budget.
type Sink struct {
	client     *Client
	maxRetries int
	log        *slog.Logger
}

// NewSink creates a notification sink over the client.
func NewSink(client *Client) *Sink {
	return &Sink{
		client:     client,
		maxRetries: 3,
		log:        logging.WithComponent("discord"),
	}
}

// Send delivers one grouped change message to the channel. A 429 from
// Discord waits out the demanded delay and retries up to maxRetries times.
func (s *Sink) Send(ctx context.Context, channelID string, msg *refresh.Message) error {
	embeds := make([]Embed, len(msg.Embeds))
	for i, e := range msg.Embeds {
		embeds[i] = Embed{Title: e.Title, Description: e.Description, Color: embedColor}
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		_, err := s.client.SendEmbeds(ctx, channelID, embeds)
		if err == nil {
			return nil
		}
		lastErr = err

		var ra *RetryAfterError
		if !errors.As(err, &ra) {
			return err
		}
		s.log.Warn("discord throttled, retrying",
			slog.String("channel_id", channelID),
			slog.Duration("retry_after", ra.RetryAfter),
			slog.Int("attempt", attempt+1),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ra.RetryAfter):
		}
	}
	return lastErr
}
