package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Solana   SolanaConfig
	Search   SearchConfig
	Order    OrderConfig
	Server   ServerConfig
	Log      LogConfig
	App      AppConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Path     string
}

// SolanaConfig holds ledger connection and wallet settings
type SolanaConfig struct {
	Endpoint           string
	WSEndpoint         string
	AirdropEndpoint    string
	AirdropEnabled     bool
	AirdropThreshold   decimal.Decimal
	AirdropAmount      decimal.Decimal
	ProgramID          solana.PublicKey
	FeePayerPrivateKey string
	ConfirmTimeout     time.Duration
}

// SearchConfig holds search provider settings
type SearchConfig struct {
	Endpoint        string
	SubscriptionKey string
	MaxResults      int
}

// OrderConfig holds the sell-order price ladder
type OrderConfig struct {
	BasePrice        decimal.Decimal
	PriceStep        decimal.Decimal
	LamportsPerToken uint64
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string
	Encoding    string
	Development bool
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Environment    string
	AdminJWTSecret string
	BugsnagAPIKey  string
	SweepOnStart   bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var errs []string
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	endpoint := getEnv("ENDPOINT", "")
	config := &Config{
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "search_market"),
			Path:     getEnv("DB_PATH", "agent.db"),
		},
		Solana: SolanaConfig{
			Endpoint:           endpoint,
			WSEndpoint:         getEnv("WS_ENDPOINT", ""),
			AirdropEndpoint:    getEnv("AIRDROP_ENDPOINT", endpoint),
			FeePayerPrivateKey: getEnv("FEE_PAYER_PRIVATE_KEY", ""),
		},
		Search: SearchConfig{
			Endpoint:        getEnv("SEARCH_ENDPOINT", "https://api.bing.microsoft.com/v7.0/search"),
			SubscriptionKey: getEnv("AZURE_SUBSCRIPTION_KEY", ""),
		},
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		App: AppConfig{
			Environment:    getEnv("APP_ENV", "production"),
			AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
			BugsnagAPIKey:  getEnv("BUGSNAG_API_KEY", ""),
		},
	}

	// Validate required fields
	if endpoint == "" {
		fail("ENDPOINT is required")
	}
	if config.Search.SubscriptionKey == "" {
		fail("AZURE_SUBSCRIPTION_KEY is required")
	}

	programID := getEnv("PROGRAM_ID", "")
	if programID == "" {
		fail("PROGRAM_ID is required")
	} else if pk, err := solana.PublicKeyFromBase58(programID); err != nil {
		fail("PROGRAM_ID is not a valid public key: %v", err)
	} else {
		config.Solana.ProgramID = pk
	}

	if key := config.Solana.FeePayerPrivateKey; key != "" {
		if raw, err := base58.Decode(key); err != nil || len(raw) != 64 {
			fail("FEE_PAYER_PRIVATE_KEY must be a base58 encoded 64-byte key")
		}
	}

	var err error
	if config.Solana.AirdropEnabled, err = strconv.ParseBool(getEnv("AIRDROP_ENABLED", "true")); err != nil {
		fail("AIRDROP_ENABLED: %v", err)
	}
	if config.App.SweepOnStart, err = strconv.ParseBool(getEnv("SWEEP_ON_START", "false")); err != nil {
		fail("SWEEP_ON_START: %v", err)
	}
	if config.Solana.ConfirmTimeout, err = time.ParseDuration(getEnv("CONFIRM_TIMEOUT", "90s")); err != nil || config.Solana.ConfirmTimeout <= 0 {
		fail("CONFIRM_TIMEOUT must be a positive duration")
	}
	if config.Search.MaxResults, err = strconv.Atoi(getEnv("SEARCH_MAX_RESULTS", "10")); err != nil || config.Search.MaxResults <= 0 {
		fail("SEARCH_MAX_RESULTS must be a positive integer")
	}
	if config.Order.LamportsPerToken, err = strconv.ParseUint(getEnv("LAMPORTS_PER_TOKEN", "1000000000"), 10, 64); err != nil || config.Order.LamportsPerToken == 0 {
		fail("LAMPORTS_PER_TOKEN must be a positive integer")
	}

	config.Solana.AirdropThreshold = getDecimal("AIRDROP_THRESHOLD_SOL", "0.01", fail)
	config.Solana.AirdropAmount = getDecimal("AIRDROP_AMOUNT_SOL", "1", fail)
	config.Order.BasePrice = getDecimal("ORDER_BASE_PRICE_SOL", "0.2", fail)
	config.Order.PriceStep = getDecimal("ORDER_PRICE_STEP_SOL", "0.01", fail)

	if !config.Solana.AirdropAmount.IsPositive() {
		fail("AIRDROP_AMOUNT_SOL must be positive")
	}
	if !config.Order.BasePrice.IsPositive() {
		fail("ORDER_BASE_PRICE_SOL must be positive")
	}
	if !config.Order.PriceStep.IsPositive() {
		fail("ORDER_PRICE_STEP_SOL must be positive")
	}
	if config.Search.MaxResults > 0 && config.Order.BasePrice.IsPositive() {
		lowest := config.Order.BasePrice.Sub(config.Order.PriceStep.Mul(decimal.NewFromInt(int64(config.Search.MaxResults - 1))))
		if !lowest.IsPositive() {
			fail("order price ladder reaches %s SOL before %d results", lowest, config.Search.MaxResults)
		}
	}

	switch config.Database.Driver {
	case "postgres", "sqlite":
	default:
		fail("DB_DRIVER must be postgres or sqlite, got %q", config.Database.Driver)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	return config, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// SubscriptionEndpoint returns the websocket URL, derived from the RPC URL when
// unset. An explicit RPC port maps to the next port up, where validators serve pubsub.
func (c *SolanaConfig) SubscriptionEndpoint() string {
	if c.WSEndpoint != "" {
		return c.WSEndpoint
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return c.Endpoint
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return c.Endpoint
	}

	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return c.Endpoint
		}
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(n+1))
	}
	return u.String()
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDecimal(key, defaultValue string, fail func(string, ...interface{})) decimal.Decimal {
	d, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		fail("%s: %v", key, err)
		return decimal.Zero
	}
	return d
}
