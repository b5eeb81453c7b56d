package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"papertrade-core/internal/api"
	"papertrade-core/internal/audit"
	"papertrade-core/internal/events"
	"papertrade-core/internal/market"
	"papertrade-core/internal/monitor"
	"papertrade-core/internal/papertrade"
	"papertrade-core/internal/persistence"
	"papertrade-core/internal/portfolio"
	"papertrade-core/internal/reconciliation"
	"papertrade-core/internal/safety"
	"papertrade-core/internal/simulation"
	"papertrade-core/pkg/config"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/logger"
	"papertrade-core/pkg/market/binance"
	"papertrade-core/pkg/trace"
	"papertrade-core/pkg/vault"
)

const credentialKeyEnv = "CREDENTIAL_KEY"

func main() {
	log := logger.Must(logger.ConfigFromEnv())
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	log.Info("starting paper-trading core",
		zap.String("version", cfg.Version),
		zap.String("port", cfg.Port),
		zap.Strings("exchanges", cfg.Exchanges),
	)

	if err := trace.Init(cfg.TracingEnabled, cfg.Version); err != nil {
		log.Warn("tracing init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Compliance persistence
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal("db init failed", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal("db migrations failed", zap.Error(err))
	}
	writer := persistence.NewBatchWriter(database.DB, 100, time.Second, log)
	recorder := persistence.NewRecorder(writer, log)

	sinks := []audit.Sink{audit.NewLogSink(log), recorder}
	var grpcSink *audit.GRPCSink
	if cfg.ComplianceGRPCAddr != "" {
		if grpcSink, err = audit.DialGRPCSink(cfg.ComplianceGRPCAddr, log); err != nil {
			log.Warn("compliance sink unavailable", zap.String("addr", cfg.ComplianceGRPCAddr), zap.Error(err))
		} else {
			sinks = append(sinks, grpcSink)
		}
	}
	trail := audit.NewTrail(cfg.AuditCapacity, audit.WithSinks(sinks...))

	// Safety first: nothing else starts in a non-paper environment.
	bus := events.NewBus()
	guard := safety.NewGuard(
		safety.EnvironmentFromConfig(cfg),
		safety.NewPermissionValidator(cfg.PermissionCacheTTL),
		trail,
		safety.WithBus(bus),
		safety.WithLogger(log),
	)
	if err := guard.ValidatePaperTradingMode(); err != nil {
		log.Fatal("paper-trading mode validation failed", zap.Error(err))
	}

	// Market data
	rng := simulation.NewLockedRand(cfg.SimSeed)
	conditions := market.NewConditionsBook(rng, bus)

	var rest *binance.Client
	var source market.PriceSource
	if cfg.BinanceRESTEnabled {
		rest = binance.NewClient(cfg.ExchangeSandbox["binance"]).WithLimiter(rate.NewLimiter(rate.Limit(10), 20))
		source = rest
	}
	prices := market.NewPriceBook(source, log)

	switch {
	case cfg.UseMockFeed:
		feed := &market.MockFeed{Prices: prices, Bus: bus, Rand: rng, Symbols: cfg.Symbols}
		feed.Start(ctx)
		log.Info("mock price feed started", zap.Strings("symbols", cfg.Symbols))
	case cfg.BinanceStreamEnabled || rest != nil:
		feed := &market.BinanceFeed{
			Prices:     prices,
			Conditions: conditions,
			Bus:        bus,
			Symbols:    cfg.Symbols,
			Log:        log.Named("feed"),
		}
		if cfg.BinanceStreamEnabled {
			feed.Stream = binance.NewStreamClient(cfg.ExchangeSandbox["binance"], log)
		}
		if rest != nil {
			feed.Stats = rest
		}
		if err := feed.Start(ctx); err != nil {
			log.Warn("binance feed failed to start; using fallback prices", zap.Error(err))
		}
	}

	// Simulation + ledger
	schedule := config.DefaultFeeSchedule()
	if cfg.FeeSchedulePath != "" {
		if schedule, err = config.LoadFeeSchedule(cfg.FeeSchedulePath); err != nil {
			log.Fatal("fee schedule load failed", zap.String("path", cfg.FeeSchedulePath), zap.Error(err))
		}
	}
	metrics := monitor.NewSimulationMetrics()

	ledger := portfolio.NewLedger(cfg.InitialBalance,
		portfolio.WithCurrency(cfg.Currency),
		portfolio.WithPriceLookup(prices),
		portfolio.WithTradeHook(recorder.RecordTrade),
		portfolio.WithLogger(log),
	)
	engine := simulation.NewEngine(simulation.ConfigFrom(cfg), conditions, prices,
		simulation.WithRand(rng),
		simulation.WithFeeModel(simulation.NewFeeModel(schedule)),
		simulation.WithBus(bus),
		simulation.WithTrail(trail),
		simulation.WithMetrics(metrics),
		simulation.WithLogger(log),
		simulation.WithCancelHook(papertrade.CancelHook(ledger, recorder)),
	)

	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, Alerts: monitor.LogAlertSink{Log: log}, Log: log}
	mon.Start(ctx)

	reconciler := reconciliation.NewService(engine, ledger, cfg.ReconcileInterval,
		reconciliation.WithTrail(trail),
		reconciliation.WithLogger(log),
	)
	reconciler.Start(ctx)

	opts := []papertrade.Option{
		papertrade.WithRecorder(recorder),
		papertrade.WithMetrics(metrics),
		papertrade.WithLogger(log),
	}
	switch keyring, err := vault.KeyringFromEnv(credentialKeyEnv); {
	case err == nil:
		opts = append(opts, papertrade.WithCredentialVault(database.Queries(), keyring))
	case errors.Is(err, vault.ErrNoKey):
		log.Info("credential storage disabled", zap.String("env", credentialKeyEnv))
	default:
		log.Fatal("credential keyring invalid", zap.Error(err))
	}
	svc := papertrade.NewService(guard, engine, ledger, trail, opts...)
	dispatcher := papertrade.NewDispatcher(svc, cfg.AsyncWorkers, log)

	adminSecret := ""
	if cfg.EnableAdminRoute {
		adminSecret = cfg.AdminJWTSecret
		if adminSecret == "" {
			log.Warn("ENABLE_ADMIN_ROUTES set without ADMIN_JWT_SECRET; admin routes stay disabled")
		}
	}

	server := api.NewServer(api.Deps{
		Svc:         svc,
		Dispatcher:  dispatcher,
		Guard:       guard,
		Bus:         bus,
		DB:          database,
		Metrics:     metrics,
		Reconciler:  reconciler,
		Journal:     writer,
		JWTSecret:   cfg.JWTSecret,
		AdminSecret: adminSecret,
		Logger:      log,
	}, api.SystemMeta{
		PaperTradingMode: cfg.PaperTradingMode,
		Exchanges:        cfg.Exchanges,
		Symbols:          cfg.Symbols,
		UseMockFeed:      cfg.UseMockFeed,
		Version:          cfg.Version,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown requested", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("api listening", zap.String("addr", ":"+cfg.Port), zap.Float64("safety_score", guard.SafetyScore()))
	if err := server.Start(ctx, ":"+cfg.Port); err != nil {
		log.Error("api server stopped", zap.Error(err))
	}

	// Drain in dependency order: no new orders, then journal, then sinks.
	cancel()
	dispatcher.Close()
	if err := writer.Close(); err != nil {
		log.Warn("batch writer close failed", zap.Error(err))
	}
	if grpcSink != nil {
		_ = grpcSink.Close()
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := trace.Shutdown(shutdownCtx); err != nil {
		log.Warn("trace shutdown failed", zap.Error(err))
	}
	sent, dropped := bus.Stats()
	log.Info("shutdown complete", zap.Uint64("events_sent", sent), zap.Uint64("events_dropped", dropped))
}
