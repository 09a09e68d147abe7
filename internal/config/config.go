package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Security   SecurityConfig
	Strategy   StrategyConfig
	Monitoring MonitoringConfig
	Logging    LoggingConfig
	Venues     map[string]VenueCredential
}

// VenueCredential carries the auth material a venue adapter needs to
// Connect. For Hyperliquid, APIKey holds the main wallet address and
// Secret holds the agent wallet's private key; Passphrase is unused.
type VenueCredential struct {
	Enabled    bool
	APIKey     string
	Secret     string
	Passphrase string
	Testnet    bool
}

// ServerConfig controls the read-only HTTP control surface.
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig connects to the Postgres-backed state store.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig covers at-rest secrets, not trading logic.
type SecurityConfig struct {
	JWTSecret     string
	EncryptionKey string
	// APIKeyHash is a bcrypt hash (pkg/crypto.HashPassword) of the
	// operator key required on the control surface's /api/v1 routes.
	// Empty disables the check (local/dev use).
	APIKeyHash string
}

// StrategyConfig is the funding-arbitrage decision pipeline's tuning surface.
// Field names and defaults track the strategy's external configuration table.
type StrategyConfig struct {
	// Universe & signal
	UniverseSize             int
	StaticSymbols            []string
	FRDiffMin                float64
	MinPersistenceWindows    int
	MinPairScore             float64
	ExpectedEdgeMinBps       float64
	MinOpenInterestUSD       float64
	MinLiquidityScore        float64
	AllowSingleExchangePairs bool
	UniverseWeightSpread     float64
	UniverseWeightCoverage   float64
	UniverseWeightRate       float64

	// Sizing
	InitialCapitalUSD       float64
	MaxNewPositionsPerCycle int
	MaxNotionalPerPairUSD   float64
	CapitalFraction         float64
	MinOrderUSD             float64

	// Risk caps
	MaxTotalNotionalUSD     float64
	MaxNotionalPerSymbolUSD float64
	MaxNotionalPerVenueUSD  float64
	MaxLeverage             float64
	NormalLeverageCap       float64
	ReduceLeverageCap       float64
	ReduceModeDrawdownPct   float64
	MaxDrawdownStopPct      float64
	RebalanceThresholdPct   float64

	// Execution
	FeeBpsPerLeg         float64
	PartialFillTolerance float64
	LegFillTimeout       time.Duration
	PerAttemptTimeout    time.Duration
	PerIntentDeadline    time.Duration
	MaxRetries           int
	RetryBackoff         time.Duration

	// Orchestrator
	CyclePeriod                 time.Duration
	CycleDeadline                time.Duration
	InstanceLockLeaseMultiplier  int

	// Aggregator client
	AggregatorURL      string
	AggregatorCacheTTL time.Duration
}

// MonitoringConfig configures the best-effort alert sink.
type MonitoringConfig struct {
	WebhookURL           string
	AnomalyEquityDropPct float64
	AnomalyFailRatio     float64
}

// LoggingConfig selects zap's output shape.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "funding_arb"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APIKeyHash:    getEnv("FUNDING_ARB_API_KEY_HASH", ""),
		},
		Strategy: StrategyConfig{
			UniverseSize:             getEnvAsInt("FUNDING_ARB_UNIVERSE_SIZE", 25),
			StaticSymbols:            getEnvAsStringSlice("FUNDING_ARB_STATIC_SYMBOLS", nil),
			FRDiffMin:                getEnvAsFloat("FUNDING_ARB_FR_DIFF_MIN", 0.002),
			MinPersistenceWindows:    getEnvAsInt("FUNDING_ARB_MIN_PERSISTENCE_WINDOWS", 1),
			MinPairScore:             getEnvAsFloat("FUNDING_ARB_MIN_PAIR_SCORE", 0.30),
			ExpectedEdgeMinBps:       getEnvAsFloat("FUNDING_ARB_EXPECTED_EDGE_MIN_BPS", 1.0),
			MinOpenInterestUSD:       getEnvAsFloat("FUNDING_ARB_MIN_OPEN_INTEREST_USD", 5_000_000),
			MinLiquidityScore:        getEnvAsFloat("FUNDING_ARB_MIN_LIQUIDITY_SCORE", 0.30),
			AllowSingleExchangePairs: getEnvAsBool("FUNDING_ARB_ALLOW_SINGLE_EXCHANGE_PAIRS", true),
			UniverseWeightSpread:     getEnvAsFloat("FUNDING_ARB_UNIVERSE_WEIGHT_SPREAD", 0.60),
			UniverseWeightCoverage:   getEnvAsFloat("FUNDING_ARB_UNIVERSE_WEIGHT_COVERAGE", 0.25),
			UniverseWeightRate:       getEnvAsFloat("FUNDING_ARB_UNIVERSE_WEIGHT_RATE", 0.15),

			InitialCapitalUSD:       getEnvAsFloat("FUNDING_ARB_INITIAL_CAPITAL_USD", 1000),
			MaxNewPositionsPerCycle: getEnvAsInt("FUNDING_ARB_MAX_NEW_POSITIONS_PER_CYCLE", 1),
			MaxNotionalPerPairUSD:   getEnvAsFloat("FUNDING_ARB_MAX_NOTIONAL_PER_PAIR_USD", 40),
			CapitalFraction:         getEnvAsFloat("FUNDING_ARB_CAPITAL_FRACTION", 0.40),
			MinOrderUSD:             getEnvAsFloat("FUNDING_ARB_MIN_ORDER_USD", 10),

			MaxTotalNotionalUSD:     getEnvAsFloat("FUNDING_ARB_MAX_TOTAL_NOTIONAL_USD", 50),
			MaxNotionalPerSymbolUSD: getEnvAsFloat("FUNDING_ARB_MAX_NOTIONAL_PER_SYMBOL_USD", 40),
			MaxNotionalPerVenueUSD:  getEnvAsFloat("FUNDING_ARB_MAX_NOTIONAL_PER_VENUE_USD", 75_000),
			MaxLeverage:             getEnvAsFloat("FUNDING_ARB_MAX_LEVERAGE", 5.0),
			NormalLeverageCap:       getEnvAsFloat("FUNDING_ARB_NORMAL_LEVERAGE_CAP", 2.0),
			ReduceLeverageCap:       getEnvAsFloat("FUNDING_ARB_REDUCE_LEVERAGE_CAP", 1.0),
			ReduceModeDrawdownPct:   getEnvAsFloat("FUNDING_ARB_REDUCE_MODE_DRAWDOWN_PCT", 0.10),
			MaxDrawdownStopPct:      getEnvAsFloat("FUNDING_ARB_MAX_DRAWDOWN_STOP_PCT", 0.15),
			RebalanceThresholdPct:   getEnvAsFloat("FUNDING_ARB_REBALANCE_THRESHOLD_PCT", 0.20),

			FeeBpsPerLeg:         getEnvAsFloat("FUNDING_ARB_FEE_BPS_PER_LEG", 4.0),
			PartialFillTolerance: getEnvAsFloat("FUNDING_ARB_PARTIAL_FILL_TOLERANCE", 0.10),
			LegFillTimeout:       getEnvAsDuration("FUNDING_ARB_LEG_FILL_TIMEOUT", 10*time.Second),
			PerAttemptTimeout:    getEnvAsDuration("FUNDING_ARB_PER_ATTEMPT_TIMEOUT", 5*time.Second),
			PerIntentDeadline:    getEnvAsDuration("FUNDING_ARB_PER_INTENT_DEADLINE", 30*time.Second),
			MaxRetries:           getEnvAsInt("FUNDING_ARB_MAX_RETRIES", 3),
			RetryBackoff:         getEnvAsDuration("FUNDING_ARB_RETRY_BACKOFF", 500*time.Millisecond),

			CyclePeriod:                 getEnvAsDuration("FUNDING_ARB_CYCLE_PERIOD", 10*time.Minute),
			CycleDeadline:               getEnvAsDuration("FUNDING_ARB_CYCLE_DEADLINE", 2*time.Minute),
			InstanceLockLeaseMultiplier: getEnvAsInt("FUNDING_ARB_INSTANCE_LOCK_LEASE_MULTIPLIER", 3),

			AggregatorURL:      getEnv("FUNDING_ARB_AGGREGATOR_URL", "http://localhost:9000/funding"),
			AggregatorCacheTTL: getEnvAsDuration("FUNDING_ARB_AGGREGATOR_CACHE_TTL", 60*time.Second),
		},
		Monitoring: MonitoringConfig{
			WebhookURL:           getEnv("FUNDING_ARB_MONITORING_WEBHOOK_URL", ""),
			AnomalyEquityDropPct: getEnvAsFloat("FUNDING_ARB_ANOMALY_EQUITY_DROP_PCT", 0.05),
			AnomalyFailRatio:     getEnvAsFloat("FUNDING_ARB_ANOMALY_FAIL_RATIO", 0.20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	cfg.Venues = loadVenueCredentials()

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadVenueCredentials reads per-venue auth material from the environment.
// Each venue is only wired into the Router if <VENUE>_ENABLED is true,
// letting an operator run with a subset of venues connected.
func loadVenueCredentials() map[string]VenueCredential {
	venues := []string{"bybit", "okx", "bingx", "hyperliquid"}
	out := make(map[string]VenueCredential, len(venues))
	for _, v := range venues {
		prefix := "FUNDING_ARB_" + upper(v) + "_"
		out[v] = VenueCredential{
			Enabled:    getEnvAsBool(prefix+"ENABLED", false),
			APIKey:     getEnv(prefix+"API_KEY", ""),
			Secret:     getEnv(prefix+"API_SECRET", ""),
			Passphrase: getEnv(prefix+"PASSPHRASE", ""),
			Testnet:    getEnvAsBool(prefix+"TESTNET", false),
		}
	}
	return out
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY is not required: venue credentials are read straight
	// from the environment (loadVenueCredentials) and never persisted, so
	// there is nothing at rest to encrypt today. It's reserved for a future
	// credentials-at-rest path (pkg/crypto.Encrypt); if set, it must still
	// be a valid AES-256 key.
	if c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256 if set")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required for authenticating the control surface")
	}
	if c.Security.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be changed from its default value")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	return nil
}

func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}
	s := c.Strategy
	if s.MaxRetries < 0 || s.MaxRetries > 10 {
		return fmt.Errorf("FUNDING_ARB_MAX_RETRIES must be between 0 and 10, got %d", s.MaxRetries)
	}
	if s.ReduceModeDrawdownPct >= s.MaxDrawdownStopPct {
		return fmt.Errorf("FUNDING_ARB_REDUCE_MODE_DRAWDOWN_PCT must be less than FUNDING_ARB_MAX_DRAWDOWN_STOP_PCT")
	}
	if s.MaxNewPositionsPerCycle < 0 {
		return fmt.Errorf("FUNDING_ARB_MAX_NEW_POSITIONS_PER_CYCLE cannot be negative")
	}
	if s.CyclePeriod <= 0 {
		return fmt.Errorf("FUNDING_ARB_CYCLE_PERIOD must be positive, got %v", s.CyclePeriod)
	}
	if s.UniverseWeightSpread+s.UniverseWeightCoverage+s.UniverseWeightRate == 0 {
		return fmt.Errorf("universe weights must not all be zero")
	}
	return nil
}

// DSN returns the connection string for the state-store database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword is safe to include in logs.
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	start := 0
	for i := 0; i <= len(valueStr); i++ {
		if i == len(valueStr) || valueStr[i] == ',' {
			if i > start {
				out = append(out, valueStr[start:i])
			}
			start = i + 1
		}
	}
	return out
}
