package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ftfeed/apps/ftfeed/internal/model"
)

type Config struct {
	RpcURL        string
	TradeWSURL    string
	L1RpcURL      string
	ProfileAPIURL string
	DbURL         string
	KafkaBroker   string
	KafkaTopic    string
	// Notifications are only published to Kafka when this is set.
	KafkaNotificationTopic string
	APIPort                int
	LogLevel               string

	MarketplaceAddress string
	BridgeAddress      string

	RPCTimeout          time.Duration
	ProfileTimeout      time.Duration
	ProfileCooldown     time.Duration
	ProfileRefreshAfter time.Duration
	ProfileRateLimit    float64
	ProfileRateBurst    int
	CooldownCapacity    int

	TradePollInterval             time.Duration
	SubscriberTradePollInterval   time.Duration
	DepositPollInterval           time.Duration
	SubscriberDepositPollInterval time.Duration
	TradeBlockWindow              uint64
	DepositBlockWindow            uint64
	DepositProcessedCapacity      int

	AdmittedCap        int
	DepositAdmittedCap int
	PendingMaxAge      time.Duration
	Gradient           model.Gradient
	TimeLocation       *time.Location

	RequireWallet       bool
	SubscriberAddresses []string
	SubscriptionSubject string
	PublishInterval     time.Duration
}

// NewConfig loads configuration from environment variables and exits on error
func NewConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

// Load reads the .env file if present, then the environment.
func Load() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	var missing []string
	required := func(key string) string {
		value := os.Getenv(key)
		if value == "" {
			missing = append(missing, key)
		}
		return value
	}

	cfg := &Config{
		RpcURL:                 required("RPC_URL"),
		TradeWSURL:             os.Getenv("TRADE_WS_URL"),
		L1RpcURL:               required("L1_RPC_URL"),
		ProfileAPIURL:          strings.TrimRight(required("PROFILE_API_URL"), "/"),
		DbURL:                  os.Getenv("DB_URL"),
		KafkaBroker:            os.Getenv("KAFKA_BROKER"),
		KafkaTopic:             getEnv("KAFKA_TOPIC", "ftfeed-admitted"),
		KafkaNotificationTopic: os.Getenv("KAFKA_NOTIFICATION_TOPIC"),
		APIPort:                getEnvInt("API_PORT", 8080),
		LogLevel:               getEnv("LOG_LEVEL", "info"),

		MarketplaceAddress: getEnv("MARKETPLACE_ADDRESS", "0xcf205808ed36593aa40a44f10c7f7c2f67d4a4d4"),
		BridgeAddress:      getEnv("BRIDGE_ADDRESS", "0x3154Cf16ccdb4C6d922629664174b904d80F2C35"),

		RPCTimeout:          getEnvDuration("RPC_TIMEOUT", 10*time.Second),
		ProfileTimeout:      getEnvDuration("PROFILE_TIMEOUT", 10*time.Second),
		ProfileCooldown:     getEnvDuration("PROFILE_COOLDOWN", 60*time.Second),
		ProfileRefreshAfter: getEnvDuration("PROFILE_REFRESH_AFTER", 0),
		ProfileRateLimit:    getEnvFloat("PROFILE_RATE_LIMIT", 10),
		ProfileRateBurst:    getEnvInt("PROFILE_RATE_BURST", 5),
		CooldownCapacity:    getEnvInt("PROFILE_COOLDOWN_CAPACITY", 10000),

		TradePollInterval:             getEnvDuration("TRADE_POLL_INTERVAL", 15*time.Second),
		SubscriberTradePollInterval:   getEnvDuration("SUBSCRIBER_TRADE_POLL_INTERVAL", 2*time.Second),
		DepositPollInterval:           getEnvDuration("DEPOSIT_POLL_INTERVAL", 30*time.Second),
		SubscriberDepositPollInterval: getEnvDuration("SUBSCRIBER_DEPOSIT_POLL_INTERVAL", 10*time.Second),
		TradeBlockWindow:              getEnvUint64("TRADE_BLOCK_WINDOW", 5),
		DepositBlockWindow:            getEnvUint64("DEPOSIT_BLOCK_WINDOW", 100),
		DepositProcessedCapacity:      getEnvInt("DEPOSIT_PROCESSED_CAPACITY", 100000),

		AdmittedCap:        getEnvInt("ADMITTED_CAP", 500),
		DepositAdmittedCap: getEnvInt("DEPOSIT_ADMITTED_CAP", 100),

		RequireWallet:       getEnvBool("REQUIRE_WALLET", false),
		SubscriberAddresses: getEnvList("SUBSCRIBER_ADDRESSES"),
		SubscriptionSubject: strings.ToLower(os.Getenv("SUBSCRIPTION_SUBJECT")),
		PublishInterval:     getEnvDuration("PUBLISH_INTERVAL", 3*time.Second),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("environment variables not set: %s", strings.Join(missing, ", "))
	}

	cfg.PendingMaxAge = getEnvDuration("PENDING_MAX_AGE", 2*cfg.ProfileCooldown)

	gradient, err := model.ParseGradient(getEnv("COLOR_GRADIENT", "0.1:500,0.3:700,900"))
	if err != nil {
		return nil, err
	}
	cfg.Gradient = gradient

	location, err := time.LoadLocation(getEnv("TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.TimeLocation = location

	if cfg.AdmittedCap <= 0 || cfg.DepositAdmittedCap <= 0 {
		return nil, fmt.Errorf("admitted caps must be positive")
	}

	return cfg, nil
}

// ExportEnabled reports whether admitted events are exported through the outbox.
func (c *Config) ExportEnabled() bool {
	return c.DbURL != "" && c.KafkaBroker != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1m30s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, strings.ToLower(part))
		}
	}
	return values
}
