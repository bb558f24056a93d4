// Package main runs the rewards engine: chain monitor, round engine,
// payouts, the HTTP API and the WebSocket event stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"buymax/internal/api"
	"buymax/internal/config"
	"buymax/internal/notify"
	"buymax/internal/payout"
	"buymax/internal/round"
	"buymax/internal/service"
	"buymax/internal/solana"
	"buymax/internal/storage"
	chstore "buymax/internal/storage/clickhouse"
	"buymax/internal/storage/file"
	"buymax/internal/storage/memory"
	"buymax/internal/storage/migrations"
	pgstore "buymax/internal/storage/postgres"
)

// stores holds the persistence backends selected by settings.
type stores struct {
	config  storage.ConfigStore
	state   storage.StateStore
	history storage.HistoryStore
}

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if err := config.LoadEnvFile(".env"); err != nil {
		logger.Printf("Failed to load .env: %v", err)
	}

	settings, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		logger.Fatalf("Invalid settings: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, settings, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Chain clients
	rpc := solana.NewHTTPClient(settings.RPCURL)
	ws, err := solana.NewWSClient(ctx, settings.WSURL, nil, log.New(os.Stdout, "[solana-ws] ", log.LstdFlags|log.Lshortfile))
	if err != nil {
		logger.Fatalf("Failed to connect to %s: %v", settings.WSURL, err)
	}
	defer ws.Close()

	cfgStore := config.NewStore(st.config, config.WithSeed(config.SeedFromSettings(settings)))
	cfg := cfgStore.Load(ctx)
	if !cfg.IsComplete() {
		logger.Println("Configuration incomplete: set the token mint and dev wallet through /api/config")
	}

	executor := payout.NewExecutor(rpc, solana.NewSender(rpc), cfgStore, payout.Params{
		RewardPercentage: settings.RewardPercentage,
		MinReward:        settings.MinReward,
	})

	// Outbound events
	var svc *service.Service
	hub := notify.NewHub(
		notify.WithAllowedOrigin(settings.FrontendURL),
		notify.WithWelcome(func(ctx context.Context) (notify.Event, bool) {
			if svc == nil {
				return notify.Event{}, false
			}
			return notify.Event{Type: notify.KindStateChanged, Data: svc.GetState(ctx)}, true
		}),
	)
	sinks := []notify.Sink{hub, notify.NewLogSink(nil)}
	if settings.RedisAddr != "" {
		redisSink := notify.NewRedisSink(settings.RedisAddr, settings.RedisPrefix)
		if err := redisSink.Ping(ctx); err != nil {
			logger.Printf("Redis at %s not reachable yet: %v", settings.RedisAddr, err)
		}
		sinks = append(sinks, redisSink)
		logger.Printf("Publishing events to Redis %s (prefix %q)", settings.RedisAddr, settings.RedisPrefix)
	}
	if len(settings.KafkaBrokers) > 0 {
		sinks = append(sinks, notify.NewKafkaSink(settings.KafkaBrokers, settings.KafkaTopic))
		logger.Printf("Publishing events to Kafka %v (topic %s)", settings.KafkaBrokers, settings.KafkaTopic)
	}
	dispatcher := notify.NewDispatcher(sinks)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Printf("Failed to close sinks: %v", err)
		}
	}()

	engine := round.NewEngine(executor, st.state, st.history, settings.RoundDuration,
		round.WithPublisher(func(ctx context.Context, s round.State) {
			dispatcher.StateChanged(ctx, s)
		}),
	)
	svc = service.New(cfgStore, rpc, ws, engine, service.WithEvents(dispatcher))

	server := api.NewServer(svc,
		api.WithFrontendURL(settings.FrontendURL),
		api.WithEventStream(hub),
	)

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		case <-done:
			return
		}
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, svc, server, hub, ":"+strconv.Itoa(settings.Port), logger)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// run starts the engine and serves HTTP until ctx is done.
func run(ctx context.Context, svc *service.Service, server *api.Server, hub *notify.Hub, addr string, logger *log.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := svc.Start(gctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Printf("Engine started (monitoring: %s)", svc.GetMonitoringStatus().Mode)

	g.Go(func() error {
		return server.ListenAndServe(gctx, addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Println("Stopping engine...")
		svc.Stop()
		return hub.Close()
	})

	return g.Wait()
}

// createStores selects persistence backends. The returned cleanup closes
// any database connections.
func createStores(ctx context.Context, s config.Settings, logger *log.Logger) (*stores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return nil, cleanup, fmt.Errorf("create data dir: %w", err)
	}

	// Config holds the treasury secret and stays in a 0600 file on every backend.
	st := &stores{
		config: file.NewConfigStore(filepath.Join(s.DataDir, file.ConfigFileName)),
	}

	switch s.Storage {
	case config.StorageMemory:
		logger.Println("Using in-memory state storage")
		st.state = memory.NewStateStore()
		st.history = memory.NewHistoryStore(storage.DefaultHistoryCap)

	case config.StoragePostgres:
		logger.Println("Connecting to PostgreSQL...")
		pool, err := pgstore.NewPool(ctx, s.PostgresDSN)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		logger.Println("Running PostgreSQL migrations...")
		report, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return nil, cleanup, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Printf("PostgreSQL %s", report)
		st.state = pgstore.NewStateStore(pool)
		st.history = pgstore.NewHistoryStore(pool, storage.DefaultHistoryCap)

	default:
		logger.Printf("Using file storage in %s", s.DataDir)
		st.state = file.NewStateStore(filepath.Join(s.DataDir, file.StateFileName))
		st.history = file.NewHistoryStore(filepath.Join(s.DataDir, file.HistoryFileName), storage.DefaultHistoryCap)
	}

	if s.ClickhouseDSN != "" {
		logger.Println("Running ClickHouse migrations...")
		conn, report, err := migrations.RunClickhouseMigrations(ctx, s.ClickhouseDSN)
		if err != nil {
			return nil, cleanup, fmt.Errorf("clickhouse migrations: %w", err)
		}
		logger.Printf("ClickHouse %s", report)
		closers = append(closers, func() { conn.Close() })
		st.history = chstore.NewHistoryStore(conn, storage.DefaultHistoryCap)
		logger.Println("Round history goes to ClickHouse")
	}

	return st, cleanup, nil
}
