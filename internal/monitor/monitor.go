// Package monitor turns on-chain activity for the configured asset into buy
// events. Without an asset, or when the subscription cannot be established,
// it emits synthetic buys from a fixed demo wallet pool instead.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"buymax/internal/domain"
	"buymax/internal/observability"
	"buymax/internal/solana"
)

// Mode is the monitor's current source of buy events.
type Mode string

const (
	ModeStopped    Mode = "stopped"
	ModeSubscribed Mode = "subscribed"
	ModeSimulated  Mode = "simulated"
)

const (
	sourceChain     = "chain"
	sourceSimulated = "simulated"
)

// Transaction fetch retry settings.
const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
)

var errTransactionNotFound = errors.New("transaction not found")

// Status is the externally visible monitor state.
type Status struct {
	Running        bool   `json:"running"`
	Mode           Mode   `json:"mode"`
	CurrentAssetID string `json:"currentAssetId,omitempty"`
}

// ConfigSource provides the asset to monitor.
type ConfigSource interface {
	Current() domain.DynamicConfig
}

// BuyHandler receives every classified buy.
type BuyHandler func(domain.BuyEvent)

// Monitor watches one asset at a time.
//
// Every Start opens a new epoch. Events carry the epoch they were produced
// in and are delivered only while it is current; Stop advances the epoch
// under the write side of gate, so once Stop returns no event from the
// previous target reaches the handler.
type Monitor struct {
	rpc        solana.RPCClient
	ws         solana.WSClient
	cfg        ConfigSource
	classifier Classifier
	onBuy      BuyHandler
	logger     *log.Logger
	now        func() time.Time

	demoWallets []string
	minDelay    time.Duration
	maxDelay    time.Duration

	fetchRetries int
	fetchDelay   time.Duration

	// lifecycle serializes Start, Stop and Restart.
	lifecycle sync.Mutex
	gate      sync.RWMutex
	epoch     atomic.Uint64

	mu     sync.Mutex
	root   context.Context
	status Status
	cancel context.CancelFunc
	sub    *solana.LogSubscription
	wg     sync.WaitGroup
}

// Option configures Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithClassifier replaces the default buy classifier.
func WithClassifier(c Classifier) Option {
	return func(m *Monitor) {
		m.classifier = c
	}
}

// WithSimulatedDelay sets the range of the delay between demo buys.
func WithSimulatedDelay(lo, hi time.Duration) Option {
	return func(m *Monitor) {
		m.minDelay = lo
		m.maxDelay = hi
	}
}

// WithDemoWallets replaces the demo wallet pool.
func WithDemoWallets(wallets []string) Option {
	return func(m *Monitor) {
		if len(wallets) > 0 {
			m.demoWallets = wallets
		}
	}
}

// WithFetchRetry sets the transaction fetch attempts and base backoff.
func WithFetchRetry(attempts int, base time.Duration) Option {
	return func(m *Monitor) {
		if attempts > 0 {
			m.fetchRetries = attempts
		}
		m.fetchDelay = base
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a stopped monitor. A nil ws client means only simulated mode
// is available.
func New(rpc solana.RPCClient, ws solana.WSClient, cfg ConfigSource, onBuy BuyHandler, opts ...Option) *Monitor {
	m := &Monitor{
		rpc:          rpc,
		ws:           ws,
		cfg:          cfg,
		classifier:   NewDefaultClassifier(),
		onBuy:        onBuy,
		logger:       log.New(os.Stdout, "[monitor] ", log.LstdFlags|log.Lshortfile),
		now:          time.Now,
		demoWallets:  DemoWallets,
		minDelay:     DefaultMinDelay,
		maxDelay:     DefaultMaxDelay,
		fetchRetries: maxRetries,
		fetchDelay:   baseRetryDelay,
		status:       Status{Mode: ModeStopped},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start begins monitoring the currently configured asset. Background loops
// live until Stop or until the context of the first Start is done.
// Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.root == nil {
		m.root = ctx
	}
	m.mu.Unlock()

	return m.start(ctx)
}

// Stop ends monitoring. Safe to call more than once.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stop()
}

// Restart stops the monitor and starts it again against the current config.
// ctx bounds only the subscription request.
func (m *Monitor) Restart(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	observability.RecordMonitorRestart()
	m.logger.Printf("Restarting monitor")

	m.stop()

	m.mu.Lock()
	if m.root == nil {
		m.root = context.Background()
	}
	m.mu.Unlock()

	return m.start(ctx)
}

func (m *Monitor) start(ctx context.Context) error {
	m.mu.Lock()
	if m.status.Running {
		m.mu.Unlock()
		return nil
	}
	root := m.root
	m.mu.Unlock()

	if err := root.Err(); err != nil {
		return fmt.Errorf("monitor context: %w", err)
	}

	epoch := m.epoch.Add(1)
	loopCtx, cancel := context.WithCancel(root)

	asset := m.cfg.Current().AssetID
	mode := ModeSimulated
	var sub *solana.LogSubscription

	switch {
	case asset == "":
		m.logger.Printf("Token mint not configured, running in demo mode")
	case m.ws == nil:
		m.logger.Printf("No WebSocket client, running in demo mode")
	default:
		var err error
		sub, err = m.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{asset}})
		if err != nil {
			m.logger.Printf("Failed to subscribe to %s, falling back to demo mode: %v", asset, err)
			sub = nil
		} else {
			mode = ModeSubscribed
			m.logger.Printf("Subscribed to logs mentioning %s", asset)
		}
	}

	m.wg.Add(1)
	if sub != nil {
		go m.consume(loopCtx, epoch, asset, sub)
	} else {
		go m.simulate(loopCtx, epoch)
	}

	m.mu.Lock()
	m.status = Status{Running: true, Mode: mode, CurrentAssetID: asset}
	m.cancel = cancel
	m.sub = sub
	m.mu.Unlock()

	observability.SetMonitorMode(string(mode))
	return nil
}

func (m *Monitor) stop() {
	// Invalidate in-flight events before tearing anything down.
	m.gate.Lock()
	m.epoch.Add(1)
	m.gate.Unlock()

	m.mu.Lock()
	cancel, sub, wasRunning := m.cancel, m.sub, m.status.Running
	m.cancel = nil
	m.sub = nil
	m.status = Status{Mode: ModeStopped}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sub.Unsubscribe(ctx); err != nil {
			m.logger.Printf("Unsubscribe failed: %v", err)
		}
		done()
	}

	m.wg.Wait()

	if wasRunning {
		m.logger.Printf("Monitor stopped")
	}
	observability.SetMonitorMode(string(ModeStopped))
}

// consume fans each notification out to its own goroutine.
func (m *Monitor) consume(ctx context.Context, epoch uint64, asset string, sub *solana.LogSubscription) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-sub.C:
			if !ok {
				return
			}
			observability.RecordNotification()

			// Skip failed transactions
			if notif.Err != nil {
				observability.RecordDropped("failed_tx")
				continue
			}

			m.wg.Add(1)
			go m.process(ctx, epoch, asset, notif)
		}
	}
}

// process fetches and classifies one notified transaction. Errors are
// logged and yield no event.
func (m *Monitor) process(ctx context.Context, epoch uint64, asset string, notif solana.LogNotification) {
	defer m.wg.Done()

	tx, err := m.retryGetTransaction(ctx, notif.Signature)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Printf("Failed to fetch transaction %s: %v", notif.Signature, err)
		}
		observability.RecordDropped("fetch_error")
		return
	}

	buyer, ok := m.classifier.Classify(tx, asset)
	if !ok {
		observability.RecordDropped("not_buy")
		return
	}

	m.emit(epoch, domain.BuyEvent{
		WalletID:   buyer,
		ObservedAt: m.now().UnixMilli(),
		Signature:  notif.Signature,
	}, sourceChain)
}

// emit delivers ev if epoch is still current.
func (m *Monitor) emit(epoch uint64, ev domain.BuyEvent, source string) bool {
	m.gate.RLock()
	defer m.gate.RUnlock()

	if m.epoch.Load() != epoch {
		observability.RecordDropped("stale_epoch")
		return false
	}
	observability.RecordBuy(source)
	if m.onBuy != nil {
		m.onBuy(ev)
	}
	return true
}

// retryGetTransaction fetches a transaction with exponential backoff retry.
// A transaction the node does not know yet is retried like an error.
func (m *Monitor) retryGetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	var lastErr error

	for attempt := 0; attempt < m.fetchRetries; attempt++ {
		if attempt > 0 {
			delay := m.fetchDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		tx, err := m.rpc.GetTransaction(ctx, signature)
		if err == nil && tx != nil {
			return tx, nil
		}
		if err == nil {
			err = errTransactionNotFound
		}
		lastErr = err
	}

	return nil, fmt.Errorf("after %d attempts: %w", m.fetchRetries, lastErr)
}
