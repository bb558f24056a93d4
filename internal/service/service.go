// Package service is the engine's single entry point: it owns the monitor,
// connects it to the round engine and exposes the inbound operations used
// by the HTTP layer.
package service

import (
	"context"
	"log"
	"os"

	"buymax/internal/config"
	"buymax/internal/domain"
	"buymax/internal/monitor"
	"buymax/internal/round"
	"buymax/internal/solana"
)

// Leaderboard and winners query bounds.
const (
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 100
	DefaultWinnersLimit     = 10
	DefaultHistoryLimit     = 100
)

// Events receives outbound notifications the engine does not publish itself.
type Events interface {
	BuyObserved(ctx context.Context, ev domain.BuyEvent)
	ConfigUpdated(ctx context.Context, cfg domain.SanitizedConfig)
}

// ApplyResult is returned by ApplyConfig.
type ApplyResult struct {
	Config     domain.SanitizedConfig `json:"config"`
	Monitoring monitor.Status         `json:"monitoring"`
}

// Service wires the config store, monitor and round engine together.
type Service struct {
	cfg     *config.Store
	engine  *round.Engine
	monitor *monitor.Monitor
	events  Events
	logger  *log.Logger

	unsubscribe []func()
}

// Option configures Service.
type Option func(*options)

type options struct {
	logger     *log.Logger
	events     Events
	monitorOps []monitor.Option
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithEvents sets the outbound event receiver.
func WithEvents(e Events) Option {
	return func(o *options) {
		o.events = e
	}
}

// WithMonitorOptions passes options to the chain monitor.
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(o *options) {
		o.monitorOps = append(o.monitorOps, opts...)
	}
}

// New creates the service and registers its config listeners. A nil ws
// client limits the monitor to simulated mode.
func New(store *config.Store, rpc solana.RPCClient, ws solana.WSClient, engine *round.Engine, opts ...Option) *Service {
	o := &options{
		logger: log.New(os.Stdout, "[service] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Service{
		cfg:    store,
		engine: engine,
		events: o.events,
		logger: o.logger,
	}
	s.monitor = monitor.New(rpc, ws, store, s.recordBuy, o.monitorOps...)

	// Monitor restart runs before observers hear about the new config.
	s.unsubscribe = append(s.unsubscribe,
		store.Subscribe(s.restartMonitor),
		store.Subscribe(s.announceConfig),
	)
	return s
}

// Start initializes the engine, starts monitoring and opens the first round.
// Background work lives until Stop or until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.engine.Initialize(ctx)
	if err := s.monitor.Start(ctx); err != nil {
		return err
	}
	s.engine.Start(ctx)
	return nil
}

// Stop stops monitoring, then the round engine, and detaches the listeners.
func (s *Service) Stop() {
	s.monitor.Stop()
	s.engine.Stop()
	for _, u := range s.unsubscribe {
		u()
	}
	s.unsubscribe = nil
}

// GetState returns the composite engine state.
func (s *Service) GetState(ctx context.Context) round.State {
	return s.engine.State(ctx)
}

// GetLeaderboard returns up to limit entries of the open round.
func (s *Service) GetLeaderboard(limit int) []domain.LeaderboardEntry {
	return s.engine.Leaderboard(clamp(limit, DefaultLeaderboardLimit, MaxLeaderboardLimit))
}

// GetSanitizedConfig returns the config without secrets.
func (s *Service) GetSanitizedConfig() domain.SanitizedConfig {
	return s.cfg.Sanitized()
}

// GetMonitoringStatus returns the monitor state.
func (s *Service) GetMonitoringStatus() monitor.Status {
	return s.monitor.Status()
}

// ValidateCandidateConfig checks u without applying it.
func (s *Service) ValidateCandidateConfig(u config.Update) error {
	return s.cfg.Validate(u)
}

// ApplyConfig validates, persists and activates u. When it returns, the
// monitor already watches the new asset. Validation failures leave
// everything untouched and return a *config.ValidationError.
func (s *Service) ApplyConfig(ctx context.Context, u config.Update) (ApplyResult, error) {
	next, err := s.cfg.Update(ctx, u)
	if err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{
		Config:     next.Sanitize(),
		Monitoring: s.monitor.Status(),
	}, nil
}

// RecentWinners returns up to limit results with a winner, newest first.
func (s *Service) RecentWinners(limit int) []domain.RoundResult {
	return s.engine.RecentWinners(clamp(limit, DefaultWinnersLimit, round.MaxWinners))
}

// History returns up to limit closed rounds from the persisted log, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]domain.RoundResult, error) {
	return s.engine.History(ctx, clamp(limit, DefaultHistoryLimit, 0))
}

// recordBuy is the monitor callback.
func (s *Service) recordBuy(ev domain.BuyEvent) {
	if !s.engine.RecordBuy(ev.WalletID) {
		return
	}
	if s.events != nil {
		s.events.BuyObserved(context.Background(), ev)
	}
}

// restartMonitor points the monitor at a changed asset. A configured asset
// that is only simulated is retried too.
func (s *Service) restartMonitor(ctx context.Context, cfg domain.DynamicConfig) error {
	st := s.monitor.Status()
	if !st.Running {
		return nil
	}
	retry := cfg.AssetID != "" && st.Mode != monitor.ModeSubscribed
	if st.CurrentAssetID == cfg.AssetID && !retry {
		return nil
	}
	s.logger.Printf("Asset changed (%q -> %q), restarting monitor", st.CurrentAssetID, cfg.AssetID)
	return s.monitor.Restart(ctx)
}

func (s *Service) announceConfig(ctx context.Context, cfg domain.DynamicConfig) error {
	if s.events != nil {
		s.events.ConfigUpdated(ctx, cfg.Sanitize())
	}
	return nil
}

// clamp returns def for n <= 0 and caps n at upper when upper > 0.
func clamp(n, def, upper int) int {
	if n <= 0 {
		n = def
	}
	if upper > 0 && n > upper {
		n = upper
	}
	return n
}
