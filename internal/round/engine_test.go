package round

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buymax/internal/domain"
	"buymax/internal/storage"
	"buymax/internal/storage/memory"
)

type payCall struct {
	wallet   string
	buyCount int
}

type fakePayout struct {
	mu      sync.Mutex
	calls   []payCall
	result  domain.PayoutResult
	balance decimal.Decimal
}

func (f *fakePayout) PayWinner(_ context.Context, wallet string, buyCount int) domain.PayoutResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, payCall{wallet: wallet, buyCount: buyCount})
	return f.result
}

func (f *fakePayout) TreasuryBalance(context.Context) decimal.Decimal { return f.balance }

func (f *fakePayout) RewardPercentage() decimal.Decimal { return decimal.NewFromInt(5) }

func (f *fakePayout) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// blockingPayout holds PayWinner until release is closed.
type blockingPayout struct {
	*fakePayout
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPayout) PayWinner(ctx context.Context, wallet string, buyCount int) domain.PayoutResult {
	close(b.entered)
	<-b.release
	return b.fakePayout.PayWinner(ctx, wallet, buyCount)
}

type engineFixture struct {
	payout  *fakePayout
	states  *memory.StateStore
	history *memory.HistoryStore
}

func newFixture() *engineFixture {
	return &engineFixture{
		payout: &fakePayout{
			result:  domain.PayoutResult{Success: true, Reward: decimal.RequireFromString("0.05"), Signature: "sig"},
			balance: decimal.NewFromInt(1),
		},
		states:  memory.NewStateStore(),
		history: memory.NewHistoryStore(storage.DefaultHistoryCap),
	}
}

func (f *engineFixture) engine(d time.Duration, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	return NewEngine(f.payout, f.states, f.history, d, opts...)
}

// closeNow ends the open round as if its timer fired.
func closeNow(e *Engine) {
	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()
	e.endRound(gen)
}

func TestEngine_RecordBuyRequiresRunning(t *testing.T) {
	f := newFixture()
	e := f.engine(time.Hour)
	e.Initialize(context.Background())

	assert.False(t, e.RecordBuy("A"))
	assert.Empty(t, e.Leaderboard(10))

	e.Start(context.Background())
	defer e.Stop()

	assert.True(t, e.RecordBuy("A"))
	assert.True(t, e.RecordBuy("A"))
	assert.True(t, e.RecordBuy("B"))
	assert.Equal(t, []domain.LeaderboardEntry{{Wallet: "A", BuyCount: 2}, {Wallet: "B", BuyCount: 1}}, e.Leaderboard(10))
}

func TestEngine_ConcurrentBuys(t *testing.T) {
	f := newFixture()
	e := f.engine(time.Hour)
	e.Start(context.Background())
	defer e.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.RecordBuy("A")
		}()
	}
	wg.Wait()

	assert.Equal(t, []domain.LeaderboardEntry{{Wallet: "A", BuyCount: 50}}, e.Leaderboard(10))
}

func TestEngine_RoundEndPaysLeader(t *testing.T) {
	f := newFixture()
	e := f.engine(time.Hour)
	e.Initialize(context.Background())
	e.Start(context.Background())
	defer e.Stop()

	for i := 0; i < 3; i++ {
		e.RecordBuy("A")
	}
	for i := 0; i < 3; i++ {
		e.RecordBuy("B")
	}

	closeNow(e)

	require.Equal(t, 1, f.payout.callCount())
	assert.Equal(t, payCall{wallet: "A", buyCount: 3}, f.payout.calls[0])
	assert.Equal(t, int64(2), e.RoundNumber())
	assert.Equal(t, PhaseRunning, e.Phase())
	assert.Empty(t, e.Leaderboard(10), "next round starts empty")

	winners := e.RecentWinners(5)
	require.Len(t, winners, 1)
	assert.Equal(t, int64(1), winners[0].RoundNumber)
	assert.Equal(t, "A", winners[0].Wallet)
	assert.True(t, winners[0].Success)

	st := e.State(context.Background())
	assert.True(t, st.TotalPayouts.Equal(decimal.RequireFromString("0.05")))
	require.NotNil(t, st.LastWinner)
	assert.Equal(t, "sig", st.LastWinner.Signature)
}

func TestEngine_EmptyRoundOpensNext(t *testing.T) {
	f := newFixture()
	e := f.engine(time.Hour)
	e.Start(context.Background())
	defer e.Stop()

	closeNow(e)

	assert.Zero(t, f.payout.callCount())
	assert.Equal(t, int64(2), e.RoundNumber())
	assert.Equal(t, PhaseRunning, e.Phase())
	assert.Empty(t, e.RecentWinners(5))

	history, err := e.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].HasWinner())
}

func TestEngine_FailedPayoutIsRecorded(t *testing.T) {
	f := newFixture()
	f.payout.result = domain.PayoutResult{Success: false, Reward: decimal.Zero, Error: "reward below minimum threshold"}
	e := f.engine(time.Hour)
	e.Start(context.Background())
	defer e.Stop()

	e.RecordBuy("A")
	closeNow(e)

	st := e.State(context.Background())
	require.NotNil(t, st.LastWinner)
	assert.False(t, st.LastWinner.Success)
	assert.Equal(t, "reward below minimum threshold", st.LastWinner.Error)
	assert.True(t, st.TotalPayouts.IsZero())
	assert.Equal(t, int64(2), st.RoundNumber)
}

func TestEngine_NumberingPersistedAndResumed(t *testing.T) {
	f := newFixture()
	e := f.engine(time.Hour)
	e.Initialize(context.Background())
	e.Start(context.Background())

	e.RecordBuy("A")
	closeNow(e)
	closeNow(e)
	e.Stop()

	saved, err := f.states.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.RoundNumber)
	require.Len(t, saved.Winners, 1)

	resumed := f.engine(time.Hour)
	resumed.Initialize(context.Background())
	assert.Equal(t, int64(3), resumed.RoundNumber())
	assert.Len(t, resumed.RecentWinners(5), 1)
}

func TestEngine_ResumesFromHistoryWithoutState(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.history.Append(context.Background(), &domain.RoundResult{RoundNumber: 41}))

	e := f.engine(time.Hour)
	e.Initialize(context.Background())
	assert.Equal(t, int64(42), e.RoundNumber())
}

func TestEngine_StopIsIdempotentAndDisarms(t *testing.T) {
	f := newFixture()
	e := f.engine(30 * time.Millisecond)
	e.Start(context.Background())
	e.RecordBuy("A")

	e.Stop()
	e.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, f.payout.callCount(), "no round end after Stop")
	assert.Equal(t, int64(1), e.RoundNumber())
	assert.Equal(t, PhaseStopped, e.Phase())
	assert.False(t, e.RecordBuy("A"))
}

func TestEngine_TimerClosesRounds(t *testing.T) {
	f := newFixture()
	e := f.engine(20 * time.Millisecond)
	e.Start(context.Background())
	defer e.Stop()

	require.Eventually(t, func() bool { return e.RoundNumber() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_StateView(t *testing.T) {
	f := newFixture()
	now := time.UnixMilli(1704067200000)
	e := f.engine(15*time.Minute, WithClock(func() time.Time { return now }))
	e.Start(context.Background())
	defer e.Stop()

	for i := 0; i < 12; i++ {
		e.RecordBuy(string(rune('a' + i)))
	}
	now = now.Add(5 * time.Minute)

	st := e.State(context.Background())
	assert.Equal(t, int64(1), st.RoundNumber)
	assert.Equal(t, int64(1704067200000), st.RoundStartTime)
	assert.Equal(t, (10 * time.Minute).Milliseconds(), st.TimeRemaining)
	assert.Equal(t, (15 * time.Minute).Milliseconds(), st.RoundDuration)
	assert.Len(t, st.Leaderboard, StateLeaderboardN)
	assert.Equal(t, 12, st.TotalParticipants)
	assert.True(t, st.DevWalletBalance.Equal(decimal.NewFromInt(1)))
	assert.True(t, st.PotentialReward.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, st.IsRunning)
	assert.Nil(t, st.LastWinner)
}

func TestEngine_RecentWinnersNewestFirstAndCapped(t *testing.T) {
	f := newFixture()
	e := f.engine(time.Hour)
	e.Start(context.Background())
	defer e.Stop()

	for i := 0; i < MaxWinners+5; i++ {
		e.RecordBuy("A")
		closeNow(e)
	}

	all := e.RecentWinners(0)
	require.Len(t, all, MaxWinners)
	assert.Equal(t, int64(MaxWinners+5), all[0].RoundNumber)

	st := e.State(context.Background())
	require.Len(t, st.RecentWinners, StateRecentWinners)
	assert.Equal(t, int64(MaxWinners+5), st.RecentWinners[0].RoundNumber)
	assert.Equal(t, int64(MaxWinners+1), st.RecentWinners[4].RoundNumber)
}

func TestEngine_PublishesStateChanges(t *testing.T) {
	f := newFixture()
	var (
		mu     sync.Mutex
		states []State
	)
	e := f.engine(time.Hour, WithPublisher(func(_ context.Context, st State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	}))
	e.Start(context.Background())
	defer e.Stop()

	e.RecordBuy("A")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1].TotalParticipants == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_PublishesEveryBuyInOrder(t *testing.T) {
	f := newFixture()
	var (
		mu     sync.Mutex
		states []State
	)
	e := f.engine(time.Hour, WithPublisher(func(_ context.Context, st State) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	}))
	e.Start(context.Background())
	defer e.Stop()

	const buys = 10
	for i := 0; i < buys; i++ {
		require.True(t, e.RecordBuy("A"))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == buys+1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, states[0].Leaderboard, "round start")
	for i := 1; i <= buys; i++ {
		require.Len(t, states[i].Leaderboard, 1)
		assert.Equal(t, i, states[i].Leaderboard[0].BuyCount)
		assert.True(t, states[i].DevWalletBalance.Equal(decimal.NewFromInt(1)))
	}
}

func TestEngine_StopFlushesRoundTransition(t *testing.T) {
	f := newFixture()
	var (
		mu     sync.Mutex
		states []State
	)
	e := f.engine(time.Hour, WithPublisher(func(_ context.Context, st State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	}))
	e.Start(context.Background())
	e.RecordBuy("A")
	closeNow(e)
	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 3)
	assert.Equal(t, int64(2), states[2].RoundNumber)
	require.NotNil(t, states[2].LastWinner)
	assert.Equal(t, "A", states[2].LastWinner.Wallet)
}

func TestEngine_StopWaitsForInFlightClose(t *testing.T) {
	f := newFixture()
	pay := &blockingPayout{fakePayout: f.payout, entered: make(chan struct{}), release: make(chan struct{})}
	e := NewEngine(pay, f.states, f.history, time.Hour, WithLogger(log.New(io.Discard, "", 0)))
	e.Initialize(context.Background())
	e.Start(context.Background())
	e.RecordBuy("A")

	go closeNow(e)
	select {
	case <-pay.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("payout never started")
	}
	assert.Equal(t, PhaseClosing, e.Phase())

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the payout was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(pay.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the payout finished")
	}

	assert.Equal(t, PhaseStopped, e.Phase())
	assert.Equal(t, int64(2), e.RoundNumber())
	assert.Equal(t, 1, f.payout.callCount())
	assert.False(t, e.RecordBuy("A"))

	e.mu.Lock()
	armed := e.timer != nil
	e.mu.Unlock()
	assert.False(t, armed, "no timer armed after Stop")

	saved, err := f.states.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.RoundNumber)

	history, err := f.history.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].RoundNumber)
}

func TestEngine_ResumesAfterHistoryWhenStateLags(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	require.NoError(t, f.states.SaveState(ctx, &domain.EngineState{RoundNumber: 3, TotalPayouts: decimal.Zero}))
	require.NoError(t, f.history.Append(ctx, &domain.RoundResult{RoundNumber: 3, Reward: decimal.Zero}))

	e := f.engine(time.Hour)
	e.Initialize(ctx)
	assert.Equal(t, int64(4), e.RoundNumber())

	e.Start(ctx)
	defer e.Stop()
	closeNow(e)

	history, err := f.history.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(4), history[0].RoundNumber)
}
