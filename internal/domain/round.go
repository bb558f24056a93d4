package domain

import "github.com/shopspring/decimal"

// BuyEvent is one classified buy attributed to a wallet.
type BuyEvent struct {
	WalletID   string // fee payer of the buy transaction
	ObservedAt int64  // Unix timestamp in milliseconds
	Signature  string // transaction signature, empty for simulated events
}

// LeaderboardEntry is one ranked wallet in the current round.
type LeaderboardEntry struct {
	Wallet   string `json:"wallet"`
	BuyCount int    `json:"buyCount"`
}

// PayoutResult is the outcome of a single payout attempt.
// Reward is zero whenever Success is false.
type PayoutResult struct {
	Success   bool            `json:"success"`
	Reward    decimal.Decimal `json:"reward"`
	Signature string          `json:"signature,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RoundResult is the immutable record of a closed round.
// Corresponds to round_results table in PostgreSQL / ClickHouse.
type RoundResult struct {
	RoundNumber int64           `json:"roundNumber"`
	Wallet      string          `json:"wallet,omitempty"` // empty when nobody bought
	BuyCount    int             `json:"buyCount"`
	Reward      decimal.Decimal `json:"reward"`
	Signature   string          `json:"signature,omitempty"`
	Error       string          `json:"error,omitempty"`
	Success     bool            `json:"success"`
	Timestamp   int64           `json:"timestamp"` // close time, Unix ms
}

// HasWinner reports whether the round had at least one buy.
func (r RoundResult) HasWinner() bool { return r.Wallet != "" }

// EngineState is the persisted round bookkeeping.
// Corresponds to data/gamestate.json (or engine_state row in PostgreSQL).
type EngineState struct {
	RoundNumber  int64           `json:"roundNumber"` // next round to open
	Winners      []RoundResult   `json:"winners"`     // newest last, bounded
	TotalPayouts decimal.Decimal `json:"totalPayouts"`
	LastWinner   *RoundResult    `json:"lastWinner"`
}

// Clone returns a deep copy of s.
func (s *EngineState) Clone() *EngineState {
	if s == nil {
		return nil
	}
	out := &EngineState{
		RoundNumber:  s.RoundNumber,
		Winners:      append([]RoundResult(nil), s.Winners...),
		TotalPayouts: s.TotalPayouts,
	}
	if s.LastWinner != nil {
		lw := *s.LastWinner
		out.LastWinner = &lw
	}
	return out
}
