package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreBackendMemory   = "memory"
	StoreBackendPostgres = "postgres"
)

// Config holds all configuration for the service
type Config struct {
	Env       string
	LogLevel  string
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	App       AppConfig
	Features  FeatureFlags
	Bridge    BridgeConfig
	Reconcile ReconcileConfig
	Quote     QuoteConfig
	// RPCEndpoints maps chain ID -> JSON-RPC endpoint used for receipt lookups
	RPCEndpoints map[int64]string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// StoreConfig selects where payment records live
type StoreConfig struct {
	Backend string // "memory" or "postgres"
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// AppConfig holds public identifiers handed to the dashboard
type AppConfig struct {
	ChainID                int64 // home chain of the dashboard
	TomoClientID           string
	WalletConnectProjectID string
}

// FeatureFlags toggles dashboard features
type FeatureFlags struct {
	CrossChain  bool
	Marketplace bool
	Staking     bool
}

// BridgeConfig holds deBridge integration settings
type BridgeConfig struct {
	AppURL         string  // swap interface the deep links point to
	ReferralCode   string  // default "r" parameter, optional
	DLNAPIEndpoint string  // order status API
	DLNRateLimit   float64 // requests per second
}

// ReconcileConfig holds polling reconciler settings
type ReconcileConfig struct {
	Interval      time.Duration
	Concurrency   int
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxPendingAge time.Duration
	LookupTimeout time.Duration
	BatchSize     int
}

// QuoteConfig holds per-client limits for the quote endpoint
type QuoteConfig struct {
	RateLimit float64
	Burst     int
}

// rpcEnvKeys maps chain ID -> env var with the RPC endpoint for that chain
var rpcEnvKeys = map[int64]string{
	1315:  "STORY_RPC_ENDPOINT",
	1:     "ETH_RPC_ENDPOINT",
	8453:  "BASE_RPC_ENDPOINT",
	42161: "ARBITRUM_RPC_ENDPOINT",
	137:   "POLYGON_RPC_ENDPOINT",
	56:    "BSC_RPC_ENDPOINT",
}

// LoadEnvFile loads variables from a .env file without overriding the
// process environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", ""),
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ip_guardian"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		App: AppConfig{
			ChainID:                int64(getEnvInt("CHAIN_ID", 1315)),
			TomoClientID:           getEnv("TOMO_CLIENT_ID", ""),
			WalletConnectProjectID: getEnv("WALLETCONNECT_PROJECT_ID", ""),
		},
		Features: FeatureFlags{
			CrossChain:  getEnvBool("FEATURE_CROSS_CHAIN", true),
			Marketplace: getEnvBool("FEATURE_MARKETPLACE", true),
			Staking:     getEnvBool("FEATURE_STAKING", true),
		},
		Bridge: BridgeConfig{
			AppURL:         getEnv("DEBRIDGE_APP_URL", "https://app.debridge.finance/"),
			ReferralCode:   getEnv("DEBRIDGE_REFERRAL_CODE", ""),
			DLNAPIEndpoint: strings.TrimRight(getEnv("DLN_API_ENDPOINT", "https://stats-api.dln.trade"), "/"),
			DLNRateLimit:   getEnvFloat("DLN_RATE_LIMIT_RPS", 5),
		},
		Reconcile: ReconcileConfig{
			Interval:      getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
			Concurrency:   getEnvInt("RECONCILE_CONCURRENCY", 4),
			MaxAttempts:   getEnvInt("RECONCILE_MAX_ATTEMPTS", 5),
			BaseBackoff:   getEnvDuration("RECONCILE_BASE_BACKOFF", 30*time.Second),
			MaxBackoff:    getEnvDuration("RECONCILE_MAX_BACKOFF", 10*time.Minute),
			MaxPendingAge: getEnvDuration("RECONCILE_MAX_PENDING_AGE", 24*time.Hour),
			LookupTimeout: getEnvDuration("RECONCILE_LOOKUP_TIMEOUT", 15*time.Second),
			BatchSize:     getEnvInt("RECONCILE_BATCH_SIZE", 200),
		},
		Quote: QuoteConfig{
			RateLimit: getEnvFloat("QUOTE_RATE_LIMIT_RPS", 10),
			Burst:     getEnvInt("QUOTE_RATE_LIMIT_BURST", 20),
		},
		RPCEndpoints: make(map[int64]string),
	}

	// Durable storage whenever a database is configured
	backend := getEnv("STORE_BACKEND", "")
	if backend == "" {
		if cfg.Database.Host != "" {
			backend = StoreBackendPostgres
		} else {
			backend = StoreBackendMemory
		}
	}
	cfg.Store.Backend = strings.ToLower(backend)

	loadRPCEndpoints(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadRPCEndpoints picks up the optional per-chain RPC endpoints
func loadRPCEndpoints(cfg *Config) {
	for chainID, key := range rpcEnvKeys {
		if rpc := getEnv(key, ""); rpc != "" {
			cfg.RPCEndpoints[chainID] = rpc
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.Bridge.AppURL == "" {
		return fmt.Errorf("deBridge app URL is required")
	}

	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	if c.Reconcile.Concurrency <= 0 {
		return fmt.Errorf("reconcile concurrency must be positive")
	}
	if c.Reconcile.MaxAttempts <= 0 {
		return fmt.Errorf("reconcile max attempts must be positive")
	}
	if c.Reconcile.BaseBackoff > c.Reconcile.MaxBackoff {
		return fmt.Errorf("reconcile base backoff %s exceeds max backoff %s",
			c.Reconcile.BaseBackoff, c.Reconcile.MaxBackoff)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
