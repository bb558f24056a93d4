package round

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"buymax/internal/domain"
)

func TestLeaderboard_Counts(t *testing.T) {
	l := NewLeaderboard()
	assert.Equal(t, 1, l.Increment("A"))
	assert.Equal(t, 2, l.Increment("A"))
	assert.Equal(t, 1, l.Increment("B"))

	assert.Equal(t, 2, l.Count("A"))
	assert.Equal(t, 1, l.Count("B"))
	assert.Equal(t, 0, l.Count("C"))
	assert.Equal(t, 2, l.Len())
}

func TestLeaderboard_TieKeepsFirstArrival(t *testing.T) {
	l := NewLeaderboard()
	for i := 0; i < 3; i++ {
		l.Increment("A")
	}
	for i := 0; i < 3; i++ {
		l.Increment("B")
	}

	wallet, count, ok := l.Leader()
	assert.True(t, ok)
	assert.Equal(t, "A", wallet)
	assert.Equal(t, 3, count)
}

func TestLeaderboard_StrictMaximum(t *testing.T) {
	l := NewLeaderboard()
	add := func(w string, n int) {
		for i := 0; i < n; i++ {
			l.Increment(w)
		}
	}
	add("A", 5)
	add("B", 7)
	add("C", 7)

	wallet, count, ok := l.Leader()
	assert.True(t, ok)
	assert.Equal(t, "B", wallet)
	assert.Equal(t, 7, count)

	assert.Equal(t, []domain.LeaderboardEntry{
		{Wallet: "B", BuyCount: 7},
		{Wallet: "C", BuyCount: 7},
		{Wallet: "A", BuyCount: 5},
	}, l.Top(0))
	assert.Len(t, l.Top(2), 2)
}

func TestLeaderboard_Empty(t *testing.T) {
	l := NewLeaderboard()
	_, _, ok := l.Leader()
	assert.False(t, ok)
	assert.Empty(t, l.Top(10))
}
