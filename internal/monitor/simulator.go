package monitor

import (
	"context"
	"math/rand"
	"time"

	"buymax/internal/domain"
)

// DemoWallets is the fixed wallet pool used in simulated mode.
var DemoWallets = []string{
	"DemoWallet1111111111111111111111111111111111",
	"DemoWallet2222222222222222222222222222222222",
	"DemoWallet3333333333333333333333333333333333",
	"DemoWallet4444444444444444444444444444444444",
	"DemoWallet5555555555555555555555555555555555",
}

// Simulated buy spacing.
const (
	DefaultMinDelay = 3 * time.Second
	DefaultMaxDelay = 8 * time.Second
)

// nextDelay returns a uniform delay in [minDelay, maxDelay).
func (m *Monitor) nextDelay() time.Duration {
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	return m.minDelay + time.Duration(rand.Int63n(int64(m.maxDelay-m.minDelay)))
}

// simulate emits a demo buy after every randomized delay until ctx is done.
func (m *Monitor) simulate(ctx context.Context, epoch uint64) {
	defer m.wg.Done()

	m.logger.Printf("Demo mode active, simulating buys from %d wallets", len(m.demoWallets))

	for {
		timer := time.NewTimer(m.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		wallet := m.demoWallets[rand.Intn(len(m.demoWallets))]
		m.emit(epoch, domain.BuyEvent{
			WalletID:   wallet,
			ObservedAt: m.now().UnixMilli(),
		}, sourceSimulated)
	}
}
