package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"papertrade-core/internal/safety"
	"papertrade-core/pkg/config"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/market/binance"
)

// safety_check verifies a deployment before (or while) it runs: the
// paper-trading invariants, the compliance database schema, Binance public
// connectivity and the local API.
//
// Usage:
//   go run ./scripts/safety_check [--json]
//
// Exit code 1 when any check is UNHEALTHY.

type CheckStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Report struct {
	Overall  string        `json:"overall"`
	Services []CheckStatus `json:"services"`
}


func main() {
	fmt.Println("Paper-trading safety check")
	fmt.Println("==========================")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config load failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := Report{Overall: "HEALTHY"}
	report.Services = append(report.Services, checkEnvironment(cfg)...)
	report.Services = append(report.Services, checkDatabase(cfg))
	report.Services = append(report.Services, checkBinance(ctx, cfg))
	report.Services = append(report.Services, checkAPIServer(cfg))

	for _, svc := range report.Services {
		if svc.Status == "UNHEALTHY" {
			report.Overall = "UNHEALTHY"
			break
		} else if svc.Status == "DEGRADED" {
			report.Overall = "DEGRADED"
		}
	}

	fmt.Println("Results:")
	fmt.Println("--------")
	for _, svc := range report.Services {
		icon := "✓"
		if svc.Status == "UNHEALTHY" {
			icon = "✗"
		} else if svc.Status == "DEGRADED" {
			icon = "⚠"
		}
		fmt.Printf("%s %-28s %-9s %s\n", icon, svc.Service, svc.Status, svc.Message)
	}
	fmt.Println()
	fmt.Printf("Overall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	}
	if report.Overall == "UNHEALTHY" {
		os.Exit(1)
	}
}

func status(service string) CheckStatus {
	return CheckStatus{Service: service, Status: "HEALTHY", Timestamp: time.Now()}
}

// checkEnvironment reports every paper-trading invariant on its own line.
func checkEnvironment(cfg *config.Config) []CheckStatus {
	checks := safety.NewEnvironmentValidator(safety.EnvironmentFromConfig(cfg)).Checks()
	out := make([]CheckStatus, 0, len(checks))
	for _, c := range checks {
		s := status("invariant " + c.Name)
		if !c.Passed {
			s.Status = "UNHEALTHY"
			s.Message = c.Detail
		}
		out = append(out, s)
	}
	return out
}

func checkDatabase(cfg *config.Config) CheckStatus {
	s := status("Database")
	database, err := db.New(cfg.DBPath)
	if err != nil {
		s.Status = "UNHEALTHY"
		s.Message = fmt.Sprintf("open failed: %v", err)
		return s
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	missing, err := database.MissingTables(ctx)
	if err != nil {
		s.Status = "UNHEALTHY"
		s.Message = err.Error()
		return s
	}
	if len(missing) > 0 {
		s.Status = "DEGRADED"
		s.Message = fmt.Sprintf("tables missing (created on first start): %v", missing)
		return s
	}
	s.Message = cfg.DBPath
	return s
}

func checkBinance(ctx context.Context, cfg *config.Config) CheckStatus {
	s := status("Binance public API")
	if !cfg.BinanceRESTEnabled && !cfg.BinanceStreamEnabled {
		s.Status = "DEGRADED"
		s.Message = "disabled; synthetic prices in use"
		return s
	}
	testnet := cfg.ExchangeSandbox["binance"]
	if err := binance.NewClient(testnet).Ping(ctx); err != nil {
		s.Status = "UNHEALTHY"
		s.Message = fmt.Sprintf("ping failed: %v", err)
		return s
	}
	network := "MAINNET (public data only)"
	if testnet {
		network = "TESTNET"
	}
	s.Message = "reachable on " + network
	return s
}

func checkAPIServer(cfg *config.Config) CheckStatus {
	s := status("API server")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", cfg.Port))
	if err != nil {
		s.Status = "DEGRADED"
		s.Message = fmt.Sprintf("not reachable: %v", err)
		return s
	}
	defer resp.Body.Close()

	var body struct {
		PaperTradingMode bool `json:"paperTradingMode"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&body) != nil {
		s.Status = "DEGRADED"
		s.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return s
	}
	if !body.PaperTradingMode {
		s.Status = "UNHEALTHY"
		s.Message = "server does not report paper-trading mode"
		return s
	}
	s.Message = "running in paper-trading mode"
	return s
}
