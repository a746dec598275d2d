package api

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Remote error codes observed from the gift-code API.
const (
	codeRoleNotExist = 40004
	codeCodeNotFound = 40014
	codeCodeExpired  = 40007
	codeAlreadyUsed  = 40008
	codeSameTypeUsed = 40011
	codeTimeoutRetry = 40010
)

// Client is the HTTP implementation of PlayerAPI against the game's
// gift-code API. Requests are form-encoded and signed with an md5 digest of
// the sorted parameters plus the shared secret. Every call waits on the
// shared Budget before going out.
type Client struct {
	baseURL    string
	secret     string
	budget     *Budget
	httpClient *http.Client
	// counter is invoked once per issued request; wired to queue metrics.
	counter func(rateLimited bool)
}

// NewClient creates a game API client.
func NewClient(baseURL, secret string, budget *Budget) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		budget:  budget,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetRequestCounter registers a per-request observer used for metrics.
func (c *Client) SetRequestCounter(fn func(rateLimited bool)) {
	c.counter = fn
}

type apiResponse struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	ErrCode int             `json:"err_code"`
	Data    json.RawMessage `json:"data"`
}

// FetchPlayer fetches a player snapshot by fid.
func (c *Client) FetchPlayer(ctx context.Context, fid int64) FetchResult {
	resp, outcome, err := c.post(ctx, "/player", url.Values{
		"fid": {strconv.FormatInt(fid, 10)},
	})
	if outcome != OutcomeOK {
		return FetchResult{Outcome: outcome, Err: err}
	}

	switch resp.ErrCode {
	case 0:
	case codeRoleNotExist:
		return FetchResult{Outcome: OutcomeNotExist}
	default:
		return FetchResult{Outcome: OutcomeErr, Err: fmt.Errorf("api: player fetch err_code %d: %s", resp.ErrCode, resp.Msg)}
	}

	var snap PlayerSnapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		return FetchResult{Outcome: OutcomeErr, Err: fmt.Errorf("api: parse player payload: %w", err)}
	}
	snap.FID = fid
	return FetchResult{Outcome: OutcomeOK, Player: &snap}
}

// RedeemCode redeems a gift code for a player.
func (c *Client) RedeemCode(ctx context.Context, fid int64, code string) RedeemResult {
	resp, outcome, err := c.post(ctx, "/gift_code", url.Values{
		"fid": {strconv.FormatInt(fid, 10)},
		"cdk": {code},
	})
	if outcome != OutcomeOK {
		return RedeemResult{Outcome: outcome, Err: err}
	}

	switch resp.ErrCode {
	case 0:
		return RedeemResult{Outcome: OutcomeOK, Status: RedeemSuccess}
	case codeAlreadyUsed, codeSameTypeUsed:
		return RedeemResult{Outcome: OutcomeOK, Status: RedeemAlreadyRedeemed}
	case codeCodeNotFound:
		return RedeemResult{Outcome: OutcomeOK, Status: RedeemInvalidCode}
	case codeCodeExpired:
		return RedeemResult{Outcome: OutcomeOK, Status: RedeemExpired}
	case codeRoleNotExist:
		return RedeemResult{Outcome: OutcomeNotExist}
	default:
		return RedeemResult{Outcome: OutcomeErr, Err: fmt.Errorf("api: redeem err_code %d: %s", resp.ErrCode, resp.Msg)}
	}
}

// post signs and sends one form-encoded request under the shared budget.
func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (*apiResponse, Outcome, error) {
	if c.budget != nil {
		if err := c.budget.Wait(ctx); err != nil {
			return nil, OutcomeErr, err
		}
	}

	form.Set("time", strconv.FormatInt(time.Now().UnixMilli(), 10))
	form.Set("sign", c.sign(form))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, OutcomeErr, fmt.Errorf("api: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	rateLimited := false
	defer func() {
		if c.counter != nil {
			c.counter(rateLimited)
		}
	}()
	if err != nil {
		return nil, OutcomeErr, fmt.Errorf("api: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		rateLimited = true
		return nil, OutcomeRateLimited, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, OutcomeErr, fmt.Errorf("api: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, OutcomeErr, fmt.Errorf("api: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, OutcomeErr, fmt.Errorf("api: parse response: %w", err)
	}
	if parsed.ErrCode == codeTimeoutRetry {
		// The remote signals rate limiting in-band as well as via HTTP 429.
		rateLimited = true
		return nil, OutcomeRateLimited, nil
	}
	return &parsed, OutcomeOK, nil
}

// sign computes the md5 digest over the sorted form parameters concatenated
// with the shared secret, the scheme the remote expects.
func (c *Client) sign(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(form.Get(k))
	}
	b.WriteString(c.secret)

	return fmt.Sprintf("%x", md5.Sum([]byte(b.String())))
}
