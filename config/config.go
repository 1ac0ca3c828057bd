package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"polyCopyBot/internal/adapters/logger" // Import the logger package for LogLevel
	"polyCopyBot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Tracked counterparties
	TargetTraders []string // Wallet addresses whose trades produce signals

	// Wallet / signing
	WalletAddress string
	ProxyWallet   string // Venue proxy wallet, when trading through one
	PrivateKey    string
	CLOBAPIKey    string

	// Endpoints
	RPCHTTPURL string
	RPCWSURL   string // Optional; empty disables the pending-tx stream
	DataAPIURL string
	CLOBAPIURL string

	// Contracts
	USDCContract    string
	MarketContracts []string // Pending-tx destination match set

	// Trading Parameters
	Mode               domain.Mode
	TradeMultiplier    float64 // Scales the copied size in copy mode
	FrontrunRatio      float64 // Fraction of the counterparty's size in frontrun mode
	GasPriceMultiplier float64 // Gas escalation factor in frontrun mode; <=0 disables
	RetryLimit         int
	MinTradeSizeUSD    float64
	SlippageTolerance  float64 // Price-protection band, e.g. 0.05 for 5%
	TotalExposureCap   float64 // USD; <=0 disables
	MarketExposureCap  float64 // USD per market/token key; <=0 disables
	MinGasReserve      float64 // Native-token floor before any buy

	// Monitoring
	PollInterval time.Duration
	CutoffWindow time.Duration
	DedupTTL     time.Duration

	// Database
	DBPath string // Empty disables the durable dedup store

	// Health endpoint
	HealthPort int

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Connection Settings (pending-tx websocket)
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// Default market contracts the pending-tx matcher watches: the conditional
// tokens framework and the CLOB exchange.
var defaultMarketContracts = []string{
	"0x4bfb41d5b3570dfe5a4bde6f4f13907e456f2b13",
	"0x89c5cc945dd550bcffb72fe42bff002429f46fec",
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Tracked counterparties
	cfg.TargetTraders = getEnvAsList("TARGET_TRADERS", nil)
	if len(cfg.TargetTraders) == 0 {
		errs = append(errs, "TARGET_TRADERS must list at least one wallet address")
	}

	// Wallet / signing
	cfg.WalletAddress = getEnv("WALLET_ADDRESS", "")
	if cfg.WalletAddress == "" {
		errs = append(errs, "WALLET_ADDRESS must be set")
	}
	cfg.ProxyWallet = getEnv("PROXY_WALLET", "")
	cfg.PrivateKey = getEnv("PRIVATE_KEY", "")
	if cfg.PrivateKey == "" {
		errs = append(errs, "PRIVATE_KEY must be set")
	}
	cfg.CLOBAPIKey = getEnv("CLOB_API_KEY", "")

	// Endpoints
	cfg.RPCHTTPURL = getEnv("RPC_HTTP_URL", "")
	if cfg.RPCHTTPURL == "" {
		errs = append(errs, "RPC_HTTP_URL must be set")
	}
	cfg.RPCWSURL = getEnv("RPC_WS_URL", "")
	cfg.DataAPIURL = getEnv("DATA_API_URL", "https://data-api.polymarket.com")
	cfg.CLOBAPIURL = getEnv("CLOB_API_URL", "https://clob.polymarket.com")

	// Contracts
	cfg.USDCContract = getEnv("USDC_CONTRACT", "0x2791bca1f2de4661ed88a30c99a7a9449aa84174")
	cfg.MarketContracts = getEnvAsList("MARKET_CONTRACTS", defaultMarketContracts)

	// Trading Parameters
	modeStr := strings.ToLower(getEnv("MODE", string(domain.ModeCopy)))
	switch domain.Mode(modeStr) {
	case domain.ModeCopy, domain.ModeFrontrun:
		cfg.Mode = domain.Mode(modeStr)
	default:
		errs = append(errs, fmt.Sprintf("invalid MODE '%s' (expected 'copy' or 'frontrun')", modeStr))
	}

	cfg.TradeMultiplier, err = getEnvAsFloatRequired("TRADE_MULTIPLIER", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_MULTIPLIER: %v", err))
	} else if cfg.TradeMultiplier <= 0 {
		errs = append(errs, "TRADE_MULTIPLIER must be positive")
	}

	cfg.FrontrunRatio, err = getEnvAsFloatRequired("FRONTRUN_RATIO", 0.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FRONTRUN_RATIO: %v", err))
	} else if cfg.FrontrunRatio <= 0 || cfg.FrontrunRatio > 1.0 {
		errs = append(errs, "FRONTRUN_RATIO must be between 0.0 (exclusive) and 1.0")
	}

	cfg.GasPriceMultiplier, err = getEnvAsFloatRequired("GAS_PRICE_MULTIPLIER", 1.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid GAS_PRICE_MULTIPLIER: %v", err))
	}

	cfg.RetryLimit, err = getEnvAsIntRequired("RETRY_LIMIT", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RETRY_LIMIT: %v", err))
	} else if cfg.RetryLimit <= 0 {
		errs = append(errs, "RETRY_LIMIT must be positive")
	}

	cfg.MinTradeSizeUSD, err = getEnvAsFloatRequired("MIN_TRADE_SIZE_USD", 100.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_TRADE_SIZE_USD: %v", err))
	} else if cfg.MinTradeSizeUSD < 0 {
		errs = append(errs, "MIN_TRADE_SIZE_USD cannot be negative")
	}

	cfg.SlippageTolerance, err = getEnvAsFloatRequired("SLIPPAGE_TOLERANCE", 0.05)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_TOLERANCE: %v", err))
	} else if cfg.SlippageTolerance < 0 || cfg.SlippageTolerance >= 1.0 {
		errs = append(errs, "SLIPPAGE_TOLERANCE must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TotalExposureCap = getEnvAsFloat("TOTAL_EXPOSURE_CAP_USD", 0) // <=0 disables
	cfg.MarketExposureCap = getEnvAsFloat("MARKET_EXPOSURE_CAP_USD", 0)

	cfg.MinGasReserve, err = getEnvAsFloatRequired("MIN_GAS_RESERVE", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_GAS_RESERVE: %v", err))
	} else if cfg.MinGasReserve < 0 {
		errs = append(errs, "MIN_GAS_RESERVE cannot be negative")
	}

	// Monitoring
	pollIntervalMs := getEnvAsInt("POLL_INTERVAL_MS", 1000)
	if pollIntervalMs <= 0 {
		errs = append(errs, "POLL_INTERVAL_MS must be positive")
	}
	cfg.PollInterval = time.Duration(pollIntervalMs) * time.Millisecond

	cutoffSeconds := getEnvAsInt("CUTOFF_WINDOW_SECONDS", 60)
	if cutoffSeconds <= 0 {
		errs = append(errs, "CUTOFF_WINDOW_SECONDS must be positive")
	}
	cfg.CutoffWindow = time.Duration(cutoffSeconds) * time.Second

	dedupHours := getEnvAsInt("DEDUP_TTL_HOURS", 24)
	if dedupHours <= 0 {
		errs = append(errs, "DEDUP_TTL_HOURS must be positive")
	}
	cfg.DedupTTL = time.Duration(dedupHours) * time.Hour

	// Database (empty path disables durable dedup)
	cfg.DBPath = getEnv("DB_PATH", "./data/copybot.db")

	// Health endpoint
	cfg.HealthPort = getEnvAsInt("HEALTH_PORT", 8080)
	if cfg.HealthPort <= 0 || cfg.HealthPort > 65535 {
		errs = append(errs, "HEALTH_PORT must be a valid TCP port")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsList accepts either a JSON array ("[\"0xabc\",\"0xdef\"]") or a
// comma-separated list. Entries are trimmed and lower-cased; empties dropped.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}

	var parts []string
	if strings.HasPrefix(valueStr, "[") {
		if err := json.Unmarshal([]byte(valueStr), &parts); err != nil {
			return defaultValue
		}
	} else {
		parts = strings.Split(valueStr, ",")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
