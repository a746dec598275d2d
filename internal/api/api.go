// Package api defines the game-API boundary: player fetches and gift-code
// redemption with explicit outcome kinds instead of error-typed control flow.
package api

import "context"

// Outcome classifies a remote response. Handlers switch on it; only OutcomeErr
// carries a Go error.
type Outcome int

// Outcomes.
const (
	// OutcomeOK means the call succeeded and the payload is populated.
	OutcomeOK Outcome = iota
	// OutcomeNotExist means the remote reported the role does not exist.
	OutcomeNotExist
	// OutcomeRateLimited means the remote throttled the call; retry the same
	// unit after backoff without advancing progress.
	OutcomeRateLimited
	// OutcomeErr covers transient network failures and unknown responses.
	OutcomeErr
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotExist:
		return "not_exist"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "error"
	}
}

// PlayerSnapshot is the remote view of one player.
type PlayerSnapshot struct {
	FID         int64  `json:"fid"`
	Nickname    string `json:"nickname"`
	StoveLv     int64  `json:"stove_lv"`
	KID         int64  `json:"kid"`
	AvatarImage string `json:"avatar_image"`
}

// FetchResult is the sum-type result of a player fetch.
type FetchResult struct {
	Outcome Outcome
	Player  *PlayerSnapshot
	Err     error
}

// RedeemResult is the sum-type result of a gift-code redemption.
// Status carries the remote's verdict ("success", "already_redeemed",
// "invalid_code", "expired") when Outcome is OK.
type RedeemResult struct {
	Outcome Outcome
	Status  string
	Err     error
}

// Redeem status values persisted to the usage table.
const (
	RedeemSuccess         = "success"
	RedeemAlreadyRedeemed = "already_redeemed"
	RedeemInvalidCode     = "invalid_code"
	RedeemExpired         = "expired"
)

// PlayerAPI is the remote game API consumed by the action handlers. All calls
// share one process-wide rate budget.
type PlayerAPI interface {
	FetchPlayer(ctx context.Context, fid int64) FetchResult
	RedeemCode(ctx context.Context, fid int64, code string) RedeemResult
}
