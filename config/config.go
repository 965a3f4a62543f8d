package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Polymarket endpoints and credentials
	Polymarket PolymarketConfig `json:"polymarket"`

	// On-chain access
	Chain ChainConfig `json:"chain"`

	// Trigger engine behavior
	Engine EngineConfig `json:"engine"`

	// Order-book watcher behavior
	Watcher WatcherConfig `json:"watcher"`

	// Settlement sweep behavior
	Settlement SettlementConfig `json:"settlement"`

	// Spread gate data source
	Binance BinanceConfig `json:"binance"`

	// Storage
	Storage StorageConfig `json:"storage"`

	// Strategies file
	StrategiesFile string `json:"strategies_file"`

	// Health/stats server
	HealthServer HealthServerConfig `json:"health_server"`
}

// PolymarketConfig holds CLOB/Gamma endpoints and the trading account.
type PolymarketConfig struct {
	GammaAPIURL   string `json:"gamma_api_url"`
	ClobAPIURL    string `json:"clob_api_url"`
	ClobWSURL     string `json:"clob_ws_url"`
	PrivateKey    string `json:"-"` // signer key, env var only
	FunderAddress string `json:"funder_address"`
	// SignatureType selects the exchange signing scheme (0 EOA, 1 email
	// proxy, 2 gnosis safe proxy).
	SignatureType int `json:"signature_type"`
	// NegRisk routes orders through the neg-risk exchange contract.
	NegRisk bool `json:"neg_risk"`
	// RequestsPerSecond bounds authed CLOB calls.
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// ChainConfig holds the RPC endpoint and the conditional-tokens contract.
type ChainConfig struct {
	RPCURL      string        `json:"rpc_url"`
	CTFAddress  string        `json:"ctf_address"`
	CallTimeout time.Duration `json:"call_timeout"`
}

// EngineConfig holds trigger sizing and submission behavior.
type EngineConfig struct {
	// TargetPrice is the capped aggressive price every order targets;
	// sizing never chases the observed best bid.
	TargetPrice float64 `json:"target_price"`
	// MinAmountUSDC below which a candidate fails with "insufficient amount".
	MinAmountUSDC float64 `json:"min_amount_usdc"`
	// SubmitAttempts and SubmitRetryDelay bound order submission retries.
	SubmitAttempts   int           `json:"submit_attempts"`
	SubmitRetryDelay time.Duration `json:"submit_retry_delay"`
	// FillQueryDelay is how long to wait after submission before querying
	// the actual fill.
	FillQueryDelay time.Duration `json:"fill_query_delay"`
	// CallTimeout bounds each external call made while executing a trigger.
	CallTimeout time.Duration `json:"call_timeout"`
}

// WatcherConfig holds stream subscription behavior.
type WatcherConfig struct {
	// ReconnectBackoff is the fixed wait before reconnecting after an
	// error or close; the watcher never gives up.
	ReconnectBackoff time.Duration `json:"reconnect_backoff"`
	// ResubscribeSlack delays the proactive rollover resubscribe slightly
	// past the soonest cycle end so the new market exists upstream.
	ResubscribeSlack time.Duration `json:"resubscribe_slack"`
	// ResolveTimeout bounds each market metadata lookup.
	ResolveTimeout time.Duration `json:"resolve_timeout"`
}

// SettlementConfig holds reconciliation sweep behavior.
type SettlementConfig struct {
	SweepInterval time.Duration `json:"sweep_interval"`
	CallTimeout   time.Duration `json:"call_timeout"`
}

// BinanceConfig holds the klines endpoint for the spread gate.
type BinanceConfig struct {
	APIURL string `json:"api_url"`
}

// StorageConfig holds the SQLite database location.
type StorageConfig struct {
	Path string `json:"path"`
}

// HealthServerConfig holds health/stats server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Polymarket: PolymarketConfig{
			GammaAPIURL:       "https://gamma-api.polymarket.com",
			ClobAPIURL:        "https://clob.polymarket.com",
			ClobWSURL:         "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			SignatureType:     2,
			NegRisk:           false,
			RequestsPerSecond: 5,
		},
		Chain: ChainConfig{
			RPCURL:      "https://polygon-rpc.com",
			CTFAddress:  "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
			CallTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			TargetPrice:      0.99,
			MinAmountUSDC:    1.0,
			SubmitAttempts:   3,
			SubmitRetryDelay: 500 * time.Millisecond,
			FillQueryDelay:   2 * time.Second,
			CallTimeout:      10 * time.Second,
		},
		Watcher: WatcherConfig{
			ReconnectBackoff: 10 * time.Second,
			ResubscribeSlack: 2 * time.Second,
			ResolveTimeout:   10 * time.Second,
		},
		Settlement: SettlementConfig{
			SweepInterval: 10 * time.Second,
			CallTimeout:   10 * time.Second,
		},
		Binance: BinanceConfig{
			APIURL: "https://api.binance.com",
		},
		Storage: StorageConfig{
			Path: "tailbot.db",
		},
		StrategiesFile: "strategies.yaml",
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Polymarket: PolymarketConfig{
			GammaAPIURL:       envString("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
			ClobAPIURL:        envString("CLOB_API_URL", "https://clob.polymarket.com"),
			ClobWSURL:         envString("CLOB_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
			PrivateKey:        envString("POLYMARKET_PRIVATE_KEY", ""),
			FunderAddress:     envString("POLYMARKET_FUNDER_ADDRESS", ""),
			SignatureType:     envInt("POLYMARKET_SIGNATURE_TYPE", 2),
			NegRisk:           envBoolDefault("POLYMARKET_NEG_RISK", false),
			RequestsPerSecond: envFloat("CLOB_REQUESTS_PER_SECOND", 5),
		},

		Chain: ChainConfig{
			RPCURL:      envString("CHAIN_RPC_URL", "https://polygon-rpc.com"),
			CTFAddress:  envString("CHAIN_CTF_ADDRESS", "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"),
			CallTimeout: envDuration("CHAIN_CALL_TIMEOUT", 10*time.Second),
		},

		Engine: EngineConfig{
			TargetPrice:      envFloat("ENGINE_TARGET_PRICE", 0.99),
			MinAmountUSDC:    envFloat("ENGINE_MIN_AMOUNT_USDC", 1.0),
			SubmitAttempts:   envInt("ENGINE_SUBMIT_ATTEMPTS", 3),
			SubmitRetryDelay: envDuration("ENGINE_SUBMIT_RETRY_DELAY", 500*time.Millisecond),
			FillQueryDelay:   envDuration("ENGINE_FILL_QUERY_DELAY", 2*time.Second),
			CallTimeout:      envDuration("ENGINE_CALL_TIMEOUT", 10*time.Second),
		},

		Watcher: WatcherConfig{
			ReconnectBackoff: envDuration("WATCHER_RECONNECT_BACKOFF", 10*time.Second),
			ResubscribeSlack: envDuration("WATCHER_RESUBSCRIBE_SLACK", 2*time.Second),
			ResolveTimeout:   envDuration("WATCHER_RESOLVE_TIMEOUT", 10*time.Second),
		},

		Settlement: SettlementConfig{
			SweepInterval: envDuration("SETTLEMENT_SWEEP_INTERVAL", 10*time.Second),
			CallTimeout:   envDuration("SETTLEMENT_CALL_TIMEOUT", 10*time.Second),
		},

		Binance: BinanceConfig{
			APIURL: envString("BINANCE_API_URL", "https://api.binance.com"),
		},

		Storage: StorageConfig{
			Path: envString("STORAGE_PATH", "tailbot.db"),
		},

		StrategiesFile: envString("STRATEGIES_FILE", "strategies.yaml"),

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", 8080),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
