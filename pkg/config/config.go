package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the paper-trading core.
type Config struct {
	Port    string
	Version string

	// Safety invariants
	PaperTradingMode  bool
	EnableRealTrades  bool
	EnableWithdrawals bool
	Exchanges         []string
	ExchangeSandbox   map[string]bool // exchange -> sandbox/testnet endpoint in use

	// Ledger
	InitialBalance float64
	Currency       string

	// Simulation model
	SimBaseSlippagePercent  float64
	SimVolatilityMultiplier float64
	SimLiquidityThreshold   float64 // order value above which size scaling applies
	SimMaxSlippagePercent   float64
	SimBaseDelayMs          int
	SimMaxDelayMs           int
	SimLimitFillProbability float64
	SimImpactCoefficient    float64
	SimEnableSlippage       bool
	SimEnableFees           bool
	SimEnableDelay          bool
	SimEnableImpact         bool
	SimSeed                 int64 // 0 = time-seeded
	SimOrderStoreCapacity   int
	FeeSchedulePath         string
	PermissionCacheTTL      time.Duration
	AsyncWorkers            int
	ReconcileInterval       time.Duration

	// Audit / compliance
	AuditCapacity      int
	DBPath             string
	ComplianceGRPCAddr string

	// Market data
	UseMockFeed          bool
	BinanceStreamEnabled bool
	BinanceRESTEnabled   bool
	Symbols              []string

	// Auth
	JWTSecret        string
	AdminJWTSecret   string
	EnableAdminRoute bool

	// Observability
	TracingEnabled bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	exchanges := splitAndTrim(strings.ToLower(getEnv("EXCHANGES", "binance")))
	sandbox := make(map[string]bool, len(exchanges))
	for _, ex := range exchanges {
		sandbox[ex] = getEnvBool("EXCHANGE_SANDBOX_"+strings.ToUpper(ex), true)
	}

	return &Config{
		Port:                    getEnv("PORT", "8080"),
		Version:                 getEnv("APP_VERSION", "v1.0-dev"),
		PaperTradingMode:        getEnvBool("PAPER_TRADING_MODE", true),
		EnableRealTrades:        getEnvBool("ENABLE_REAL_TRADES", false),
		EnableWithdrawals:       getEnvBool("ENABLE_WITHDRAWALS", false),
		Exchanges:               exchanges,
		ExchangeSandbox:         sandbox,
		InitialBalance:          getEnvFloat("PAPER_INITIAL_BALANCE", 10000.0),
		Currency:                getEnv("PAPER_CURRENCY", "USDT"),
		SimBaseSlippagePercent:  getEnvFloat("SIM_BASE_SLIPPAGE_PERCENT", 0.05),
		SimVolatilityMultiplier: getEnvFloat("SIM_VOLATILITY_MULTIPLIER", 2.0),
		SimLiquidityThreshold:   getEnvFloat("SIM_LIQUIDITY_THRESHOLD", 100000),
		SimMaxSlippagePercent:   getEnvFloat("SIM_MAX_SLIPPAGE_PERCENT", 2.0),
		SimBaseDelayMs:          getEnvInt("SIM_BASE_DELAY_MS", 50),
		SimMaxDelayMs:           getEnvInt("SIM_MAX_DELAY_MS", 2000),
		SimLimitFillProbability: getEnvFloat("SIM_LIMIT_FILL_PROBABILITY", 0.8),
		SimImpactCoefficient:    getEnvFloat("SIM_IMPACT_COEFFICIENT", 0.1),
		SimEnableSlippage:       getEnvBool("SIM_ENABLE_SLIPPAGE", true),
		SimEnableFees:           getEnvBool("SIM_ENABLE_FEES", true),
		SimEnableDelay:          getEnvBool("SIM_ENABLE_DELAY", true),
		SimEnableImpact:         getEnvBool("SIM_ENABLE_IMPACT", true),
		SimSeed:                 int64(getEnvInt("SIM_SEED", 0)),
		SimOrderStoreCapacity:   getEnvInt("SIM_ORDER_STORE_CAPACITY", 1000),
		FeeSchedulePath:         getEnv("FEE_SCHEDULE_PATH", ""),
		PermissionCacheTTL:      getEnvDuration("PERMISSION_CACHE_TTL", 5*time.Minute),
		AsyncWorkers:            getEnvInt("ASYNC_WORKERS", 8),
		ReconcileInterval:       getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		AuditCapacity:           getEnvInt("AUDIT_CAPACITY", 1000),
		DBPath:                  getEnv("DB_PATH", "./data/paper_trading.db"),
		ComplianceGRPCAddr:      getEnv("COMPLIANCE_GRPC_ADDR", ""),
		UseMockFeed:             getEnvBool("USE_MOCK_FEED", true),
		BinanceStreamEnabled:    getEnvBool("BINANCE_STREAM_ENABLED", false),
		BinanceRESTEnabled:      getEnvBool("BINANCE_REST_ENABLED", false),
		Symbols:                 splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		JWTSecret:               getEnv("JWT_SECRET", "dev-secret"),
		AdminJWTSecret:          getEnv("ADMIN_JWT_SECRET", ""),
		EnableAdminRoute:        getEnvBool("ENABLE_ADMIN_ROUTES", false),
		TracingEnabled:          getEnvBool("TRACING_ENABLED", false),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
