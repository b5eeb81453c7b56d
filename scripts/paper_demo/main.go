package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"papertrade-core/internal/audit"
	"papertrade-core/internal/papertrade"
	"papertrade-core/internal/portfolio"
	"papertrade-core/internal/safety"
	"papertrade-core/internal/simulation"
	"papertrade-core/pkg/config"
	"papertrade-core/pkg/logger"
	"papertrade-core/pkg/trading"
)

// paper_demo runs a few order flows through the full in-process stack:
// guard, simulation engine and ledger. It touches no exchange and no
// database.
//
// Usage:
//   go run ./scripts/paper_demo
//
// It will:
//   1) BUY then SELL the same symbol within balance limits.
//   2) Try a BUY that exceeds the balance.
//   3) Try a request carrying a withdraw action.
//   4) Print the portfolio and the paper-trade audit report.

const demoUser = "demo-user"

func main() {
	log := logger.Must(logger.Config{Level: "INFO", Format: "console"})
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	trail := audit.NewTrail(cfg.AuditCapacity, audit.WithSinks(audit.NewLogSink(log)))
	guard := safety.NewGuard(safety.EnvironmentFromConfig(cfg), safety.NewPermissionValidator(cfg.PermissionCacheTTL), trail,
		safety.WithLogger(log))
	if err := guard.ValidatePaperTradingMode(); err != nil {
		log.Fatal("environment is not paper-only", zap.Error(err))
	}

	ledger := portfolio.NewLedger(cfg.InitialBalance, portfolio.WithCurrency(cfg.Currency))
	engine := simulation.NewEngine(simulation.ConfigFrom(cfg), nil, nil,
		simulation.WithRand(simulation.NewLockedRand(cfg.SimSeed)),
		simulation.WithTrail(trail),
		simulation.WithLogger(log),
		simulation.WithCancelHook(papertrade.CancelHook(ledger, nil)),
	)
	svc := papertrade.NewService(guard, engine, ledger, trail, papertrade.WithLogger(log))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Info("[SCENARIO 1] market BUY then SELL BTCUSDT")
	submit(ctx, log, svc, map[string]any{"symbol": "BTCUSDT", "side": "BUY", "type": "MARKET", "quantity": 0.05})
	submit(ctx, log, svc, map[string]any{"symbol": "BTCUSDT", "side": "SELL", "type": "MARKET", "quantity": 0.05})

	log.Info("[SCENARIO 2] oversized BUY")
	submit(ctx, log, svc, map[string]any{"symbol": "BTCUSDT", "side": "BUY", "type": "MARKET", "quantity": 100})

	log.Info("[SCENARIO 3] request carrying a withdraw action")
	submit(ctx, log, svc, map[string]any{"symbol": "BTCUSDT", "side": "BUY", "quantity": 0.01, "action": "withdraw"})

	sum, err := svc.Portfolio(ctx, demoUser)
	if err != nil {
		log.Fatal("portfolio", zap.Error(err))
	}
	printJSON("portfolio", sum)
	printJSON("paper-trade report", svc.AuditReport(trading.TimeRange{}))
	fmt.Printf("\nsafety score: %.2f\n", svc.SafetyScore())
}

func submit(ctx context.Context, log *zap.Logger, svc *papertrade.Service, body map[string]any) {
	o, err := svc.Submit(ctx, safety.InboundRequest{Method: "POST", Path: "/api/orders", UserID: demoUser, Body: body})
	if err != nil {
		log.Warn("order not filled", zap.Error(err))
		return
	}
	log.Info("order simulated",
		zap.String("id", o.OrderID),
		zap.String("status", string(o.Status)),
		zap.Float64("reference", o.ReferencePrice),
		zap.Float64("executed", o.ExecutedPrice),
		zap.Float64("slippage_pct", o.Meta.SlippagePercent),
		zap.Float64("fee", o.Meta.Fee),
	)
}

func printJSON(title string, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", title, err)
		return
	}
	fmt.Printf("\n== %s ==\n%s\n", title, out)
}
