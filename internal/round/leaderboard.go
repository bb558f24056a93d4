package round

import (
	"sort"

	"buymax/internal/domain"
)

// Leaderboard counts buys per wallet and remembers first-insertion order,
// which breaks ties.
type Leaderboard struct {
	order  []string
	counts map[string]int
}

// NewLeaderboard returns an empty leaderboard.
func NewLeaderboard() *Leaderboard {
	return &Leaderboard{counts: make(map[string]int)}
}

// Increment adds one buy for wallet and returns its new count.
func (l *Leaderboard) Increment(wallet string) int {
	if _, ok := l.counts[wallet]; !ok {
		l.order = append(l.order, wallet)
	}
	l.counts[wallet]++
	return l.counts[wallet]
}

// Count returns the buys recorded for wallet.
func (l *Leaderboard) Count(wallet string) int {
	return l.counts[wallet]
}

// Len returns the number of distinct wallets.
func (l *Leaderboard) Len() int {
	return len(l.order)
}

// Leader returns the wallet with the strictly highest count. Scanning in
// insertion order with a strict comparison keeps the earliest wallet on ties.
func (l *Leaderboard) Leader() (wallet string, count int, ok bool) {
	for _, w := range l.order {
		if c := l.counts[w]; c > count {
			wallet, count = w, c
		}
	}
	return wallet, count, wallet != ""
}

// Top returns up to limit entries by count descending, ties in insertion
// order. limit <= 0 returns all entries.
func (l *Leaderboard) Top(limit int) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, len(l.order))
	for i, w := range l.order {
		entries[i] = domain.LeaderboardEntry{Wallet: w, BuyCount: l.counts[w]}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].BuyCount > entries[j].BuyCount
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
