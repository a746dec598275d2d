package store

import (
	"encoding/json"
	"time"
)

// Action identifies the kind of work a process performs.
type Action string

// Known process actions.
const (
	ActionAddPlayer   Action = "addplayer"
	ActionRefresh     Action = "refresh"
	ActionAutoRefresh Action = "auto_refresh"
	ActionRedeemCode  Action = "redeem_giftcode"
)

// Status is a process lifecycle state.
type Status string

// Process statuses.
const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status cannot transition further.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Process is a durable unit of work consumed by the scheduler.
// Target is an alliance id; zero is allowed for system validations.
type Process struct {
	ID          int64
	Action      Action
	Target      int64
	Status      Status
	Priority    int64
	Details     map[string]json.RawMessage
	Progress    *Progress
	ResumeAfter *time.Time
	PreemptedBy *int64
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Progress partitions a process's player ids into outcome buckets. Every id
// from the original set belongs to exactly one bucket; DetectedChanges is an
// auxiliary list of diffs awaiting notification, not a bucket.
type Progress struct {
	Pending   []int64 `json:"pending"`
	Done      []int64 `json:"done"`
	Failed    []int64 `json:"failed"`
	Existing  []int64 `json:"existing,omitempty"`
	Changed   []int64 `json:"changed,omitempty"`
	Unchanged []int64 `json:"unchanged,omitempty"`

	DetectedChanges []ChangeEntry `json:"detectedChanges,omitempty"`
}

// NewProgress seeds a progress document with every id pending.
func NewProgress(playerIDs []int64) *Progress {
	pending := make([]int64, len(playerIDs))
	copy(pending, playerIDs)
	return &Progress{Pending: pending}
}

// Change records one observed field transition for a player.
type Change struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// ChangeEntry groups the changes observed for one player in a refresh pass,
// together with the snapshot that produced them.
type ChangeEntry struct {
	FID      int64    `json:"fid"`
	Nickname string   `json:"nickname"`
	Changes  []Change `json:"changes"`
}

// Alliance is an externally managed roster group. Interval is either a
// positive minute count ("60") or a daily wall-clock time ("@03:30").
type Alliance struct {
	ID         int64
	Priority   int64
	Name       string
	ChannelID  string
	Interval   string
	AutoRedeem bool
}

// Player is one tracked game account.
type Player struct {
	FID          int64
	AllianceID   int64
	Nickname     string
	FurnaceLevel int64
	State        int64
	// Exist counts consecutive "role not exist" responses, 0..threshold.
	Exist    int
	IsRich   bool
	VIPCount int
}

// FieldChange is one appended row in a change-history table.
type FieldChange struct {
	FID       int64
	Old       string
	New       string
	Timestamp time.Time
}

// CodeUsage records a gift-code redemption outcome for one player.
type CodeUsage struct {
	FID      int64
	GiftCode string
	Status   string
}

// LogEntry is a persisted system-log row.
type LogEntry struct {
	ID        int64
	Level     string
	Component string
	Message   string
	Timestamp time.Time
}
