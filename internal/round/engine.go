// Package round runs fixed-length rounds ranked by buy count and pays the
// leader of each round when its timer fires.
package round

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"buymax/internal/domain"
	"buymax/internal/observability"
	"buymax/internal/storage"
)

// Payout pays winners and reports the treasury.
type Payout interface {
	PayWinner(ctx context.Context, wallet string, buyCount int) domain.PayoutResult
	TreasuryBalance(ctx context.Context) decimal.Decimal
	RewardPercentage() decimal.Decimal
}

// Publisher receives the composite state once per change, in order.
type Publisher func(ctx context.Context, st State)

// Engine owns the leaderboard and the round timer.
//
// Exactly one timer is armed while running. Each armed timer carries a
// generation; a timer whose generation is no longer current does nothing,
// so Stop and round transitions never race with a stale round end.
type Engine struct {
	payout   Payout
	states   storage.StateStore
	history  storage.HistoryStore
	duration time.Duration
	logger   *log.Logger
	now      func() time.Time
	publish  Publisher

	mu            sync.Mutex
	phase         Phase
	stopRequested bool
	roundNumber   int64
	roundStart    time.Time
	board         *Leaderboard
	winners       []domain.RoundResult
	totalPayouts  decimal.Decimal
	lastWinner    *domain.RoundResult
	timer         *time.Timer
	gen           uint64
	runCtx        context.Context
	stopBcast     context.CancelFunc

	// pending holds one snapshot per change until the broadcaster publishes it.
	pending []State
	bcastOn bool

	closing sync.WaitGroup
	bcastWG sync.WaitGroup
	wake    chan struct{}
}

// Option configures Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock overrides the time source used for timestamps and remaining time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithPublisher sets the state change publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publish = p
	}
}

// NewEngine creates a stopped engine at round 1.
func NewEngine(p Payout, states storage.StateStore, history storage.HistoryStore, duration time.Duration, opts ...Option) *Engine {
	e := &Engine{
		payout:       p,
		states:       states,
		history:      history,
		duration:     duration,
		logger:       log.New(os.Stdout, "[round] ", log.LstdFlags|log.Lshortfile),
		now:          time.Now,
		phase:        PhaseStopped,
		roundNumber:  1,
		board:        NewLeaderboard(),
		totalPayouts: decimal.Zero,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize restores persisted engine state. The round number is the
// larger of the stored next round and the newest history entry plus one,
// so a round whose state save failed is not reopened. Load errors are
// logged and treated as no state.
func (e *Engine) Initialize(ctx context.Context) {
	st, err := e.states.LoadState(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.logger.Printf("Failed to load engine state, starting fresh: %v", err)
	}
	var newest int64
	if recent, err := e.history.Recent(ctx, 1); err != nil {
		e.logger.Printf("Failed to read round history: %v", err)
	} else if len(recent) > 0 {
		newest = recent[0].RoundNumber
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if st != nil {
		if st.RoundNumber > 0 {
			e.roundNumber = st.RoundNumber
		}
		e.winners = append([]domain.RoundResult(nil), st.Winners...)
		if len(e.winners) > MaxWinners {
			e.winners = e.winners[len(e.winners)-MaxWinners:]
		}
		e.totalPayouts = st.TotalPayouts
		if st.LastWinner != nil {
			lw := *st.LastWinner
			e.lastWinner = &lw
		}
	}
	if newest >= e.roundNumber {
		if st != nil {
			e.logger.Printf("Stored state is behind history (next #%d, history #%d)", e.roundNumber, newest)
		}
		e.roundNumber = newest + 1
	}

	observability.SetCurrentRound(e.roundNumber)
	e.logger.Printf("Round engine initialized at round #%d", e.roundNumber)
}

// Start opens the current round with a full duration and arms its timer.
// The publisher runs until Stop. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.phase != PhaseStopped {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseRunning
	e.stopRequested = false
	e.runCtx = ctx
	e.roundStart = e.now()
	e.armLocked()

	bctx, cancel := context.WithCancel(ctx)
	e.stopBcast = cancel
	e.bcastOn = e.publish != nil
	if e.bcastOn {
		e.bcastWG.Add(1)
		go e.broadcastLoop(bctx)
	}
	e.queueLocked()
	number := e.roundNumber
	e.mu.Unlock()

	e.logger.Printf("Round #%d started", number)
	observability.SetCurrentRound(number)
	e.signal()
}

// Stop disarms the timer and waits for an in-flight round close. No round
// ends after Stop returns. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopRequested = true
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	wasRunning := e.phase != PhaseStopped
	if e.phase == PhaseRunning {
		e.phase = PhaseStopped
	}
	cancel := e.stopBcast
	e.stopBcast = nil
	e.mu.Unlock()

	e.closing.Wait()

	e.mu.Lock()
	e.bcastOn = false
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.bcastWG.Wait()

	if wasRunning {
		e.logger.Printf("Round engine stopped")
	}
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// RoundNumber returns the number of the open round.
func (e *Engine) RoundNumber() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roundNumber
}

// RecordBuy counts one buy for wallet in the open round. It reports false
// when no round is accepting buys.
func (e *Engine) RecordBuy(wallet string) bool {
	e.mu.Lock()
	if e.phase != PhaseRunning {
		e.mu.Unlock()
		return false
	}
	count := e.board.Increment(wallet)
	size := e.board.Len()
	e.queueLocked()
	e.mu.Unlock()

	observability.SetLeaderboardSize(size)
	e.logger.Printf("%s... now has %d buys", shortWallet(wallet), count)
	e.signal()
	return true
}

// Leaderboard returns up to limit entries of the open round.
func (e *Engine) Leaderboard(limit int) []domain.LeaderboardEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.board.Top(limit)
}

// RecentWinners returns up to limit results, newest first.
func (e *Engine) RecentWinners(limit int) []domain.RoundResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return recentNewestFirst(e.winners, limit)
}

// History returns up to limit entries of the persisted round log, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]domain.RoundResult, error) {
	return e.history.Recent(ctx, limit)
}

// State assembles the composite view. The treasury balance is read live.
func (e *Engine) State(ctx context.Context) State {
	e.mu.Lock()
	st := e.snapshotLocked()
	e.mu.Unlock()
	return e.withTreasury(st, e.payout.TreasuryBalance(ctx))
}

// snapshotLocked captures everything in State except the treasury fields.
func (e *Engine) snapshotLocked() State {
	st := State{
		RoundNumber:       e.roundNumber,
		RoundStartTime:    e.roundStart.UnixMilli(),
		TimeRemaining:     e.remainingLocked().Milliseconds(),
		RoundDuration:     e.duration.Milliseconds(),
		Leaderboard:       e.board.Top(StateLeaderboardN),
		TotalParticipants: e.board.Len(),
		RecentWinners:     recentNewestFirst(e.winners, StateRecentWinners),
		TotalPayouts:      e.totalPayouts,
		IsRunning:         e.phase != PhaseStopped,
	}
	if e.lastWinner != nil {
		lw := *e.lastWinner
		st.LastWinner = &lw
	}
	return st
}

// withTreasury fills the balance derived fields of st.
func (e *Engine) withTreasury(st State, balance decimal.Decimal) State {
	pct := e.payout.RewardPercentage()
	st.DevWalletBalance = balance
	st.RewardPercentage = pct
	st.PotentialReward = balance.Mul(pct).Div(decimal.NewFromInt(100))
	return st
}

// remainingLocked returns the time left in the open round.
func (e *Engine) remainingLocked() time.Duration {
	if e.phase != PhaseRunning {
		return 0
	}
	remaining := e.duration - e.now().Sub(e.roundStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// armLocked schedules the end of the open round.
func (e *Engine) armLocked() {
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(e.remainingLocked(), func() {
		e.endRound(gen)
	})
}

// endRound closes the round armed with gen, pays the leader, commits the
// result and opens the next round.
func (e *Engine) endRound(gen uint64) {
	e.mu.Lock()
	if e.phase != PhaseRunning || gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseClosing
	e.timer = nil
	e.closing.Add(1)
	defer e.closing.Done()

	number := e.roundNumber
	leader, count, hasLeader := e.board.Leader()
	// A payout that has started runs to completion even during shutdown.
	ctx := context.WithoutCancel(e.runCtx)
	e.mu.Unlock()

	start := time.Now()
	e.logger.Printf("Round #%d ended", number)

	result := domain.RoundResult{RoundNumber: number, Reward: decimal.Zero}
	outcome := "no_participants"
	if hasLeader {
		e.logger.Printf("Winner: %s with %d buys", leader, count)
		pr := e.payout.PayWinner(ctx, leader, count)
		result.Wallet = leader
		result.BuyCount = count
		result.Success = pr.Success
		result.Signature = pr.Signature
		result.Error = pr.Error
		if pr.Success {
			result.Reward = pr.Reward
			outcome = "paid"
		} else {
			outcome = "payout_failed"
		}
	} else {
		e.logger.Printf("No participants this round")
	}
	result.Timestamp = e.now().UnixMilli()

	e.mu.Lock()
	if result.HasWinner() {
		e.winners = append(e.winners, result)
		if len(e.winners) > MaxWinners {
			e.winners = e.winners[len(e.winners)-MaxWinners:]
		}
		if result.Success {
			e.totalPayouts = e.totalPayouts.Add(result.Reward)
		}
		lw := result
		e.lastWinner = &lw
	} else {
		e.lastWinner = nil
	}
	snapshot := &domain.EngineState{
		RoundNumber:  number + 1,
		Winners:      append([]domain.RoundResult(nil), e.winners...),
		TotalPayouts: e.totalPayouts,
		LastWinner:   e.lastWinner,
	}
	e.mu.Unlock()

	e.commit(ctx, snapshot, &result)

	e.mu.Lock()
	e.roundNumber = number + 1
	e.board = NewLeaderboard()
	e.roundStart = e.now()
	next := e.roundNumber
	if e.stopRequested {
		e.phase = PhaseStopped
	} else {
		e.phase = PhaseRunning
		e.armLocked()
	}
	opened := e.phase == PhaseRunning
	e.queueLocked()
	e.mu.Unlock()

	observability.RecordRoundClosed(outcome, time.Since(start).Seconds())
	observability.SetCurrentRound(next)
	observability.SetLeaderboardSize(0)
	if opened {
		e.logger.Printf("Round #%d started", next)
	}
	e.signal()
}

// commit persists the closed round. Failures are logged; the in-memory
// state stays authoritative.
func (e *Engine) commit(ctx context.Context, snapshot *domain.EngineState, result *domain.RoundResult) {
	if err := e.history.Append(ctx, result); err != nil {
		observability.RecordPersistError("history")
		e.logger.Printf("Failed to append round #%d to history: %v", result.RoundNumber, err)
	}
	if err := e.states.SaveState(ctx, snapshot); err != nil {
		observability.RecordPersistError("state")
		e.logger.Printf("Failed to save engine state: %v", err)
	}
}

// queueLocked records a snapshot of the current state for the broadcaster.
func (e *Engine) queueLocked() {
	if e.bcastOn {
		e.pending = append(e.pending, e.snapshotLocked())
	}
}

// signal wakes the broadcaster without blocking.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// broadcastLoop publishes queued snapshots in order until ctx is done, then
// flushes what is left.
func (e *Engine) broadcastLoop(ctx context.Context) {
	defer e.bcastWG.Done()
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.bcastOn = false
			e.mu.Unlock()
			e.drain(context.WithoutCancel(ctx))
			return
		case <-e.wake:
			e.drain(ctx)
		}
	}
}

// drain publishes every pending snapshot. The treasury is read once per batch.
func (e *Engine) drain(ctx context.Context) {
	for {
		e.mu.Lock()
		batch := e.pending
		e.pending = nil
		e.mu.Unlock()
		if len(batch) == 0 {
			return
		}

		balance := e.payout.TreasuryBalance(ctx)
		for _, st := range batch {
			e.publish(ctx, e.withTreasury(st, balance))
		}
	}
}

func shortWallet(w string) string {
	if len(w) > 8 {
		return w[:8]
	}
	return w
}
