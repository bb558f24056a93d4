package round

import (
	"github.com/shopspring/decimal"

	"buymax/internal/domain"
)

// State is the composite view pushed to observers on every change.
type State struct {
	RoundNumber       int64                     `json:"roundNumber"`
	RoundStartTime    int64                     `json:"roundStartTime"` // Unix ms
	TimeRemaining     int64                     `json:"timeRemaining"`  // ms
	RoundDuration     int64                     `json:"roundDuration"`  // ms
	Leaderboard       []domain.LeaderboardEntry `json:"leaderboard"`
	TotalParticipants int                       `json:"totalParticipants"`
	LastWinner        *domain.RoundResult       `json:"lastWinner"`
	RecentWinners     []domain.RoundResult      `json:"recentWinners"`
	TotalPayouts      decimal.Decimal           `json:"totalPayouts"`
	DevWalletBalance  decimal.Decimal           `json:"devWalletBalance"`
	PotentialReward   decimal.Decimal           `json:"potentialReward"`
	RewardPercentage  decimal.Decimal           `json:"rewardPercentage"`
	IsRunning         bool                      `json:"isRunning"`
}

// Phase is the engine lifecycle phase.
type Phase string

const (
	PhaseStopped Phase = "stopped"
	PhaseRunning Phase = "running"
	// PhaseClosing covers payout and persistence of the finished round.
	PhaseClosing Phase = "closing"
)

// Sizes of the bounded views.
const (
	MaxWinners         = 50
	StateLeaderboardN  = 10
	StateRecentWinners = 5
)

// recentNewestFirst returns up to n results from winners (stored newest
// last) in reverse order.
func recentNewestFirst(winners []domain.RoundResult, n int) []domain.RoundResult {
	if n <= 0 || n > len(winners) {
		n = len(winners)
	}
	out := make([]domain.RoundResult, 0, n)
	for i := len(winners) - 1; i >= len(winners)-n; i-- {
		out = append(out, winners[i])
	}
	return out
}
