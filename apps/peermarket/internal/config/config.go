package config

import (
	"github.com/joho/godotenv"
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	RpcURL           string
	OfferProgramID   string
	TradeProgramID   string
	PriceProgramID   string
	ProfileProgramID string
	PriceStateAddr   string
	OracleURL        string
	FallbackURL      string
	FallbackAPIKey   string
	DbURL            string
	KafkaBroker      string
	KafkaTopic       string
	SignerKeyPath    string
	OfferCacheTTL    time.Duration
	PriceCacheTTL    time.Duration
	APIPort          int
}

// NewConfig loads configuration from environment variables
func NewConfig() *Config {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	return &Config{
		RpcURL:           getEnvOrFatal("RPC_URL"),
		OfferProgramID:   getEnvOrFatal("OFFER_PROGRAM_ID"),
		TradeProgramID:   getEnvOrFatal("TRADE_PROGRAM_ID"),
		PriceProgramID:   getEnvOrFatal("PRICE_PROGRAM_ID"),
		ProfileProgramID: getEnvOrFatal("PROFILE_PROGRAM_ID"),
		PriceStateAddr:   getEnvOrFatal("PRICE_STATE_ADDRESS"),
		OracleURL:        getEnvOrDefault("ORACLE_URL", "https://hermes.pyth.network"),
		FallbackURL:      getEnvOrDefault("FALLBACK_PRICE_URL", ""),
		FallbackAPIKey:   getEnvOrDefault("FALLBACK_PRICE_API_KEY", ""),
		DbURL:            getEnvOrDefault("DB_URL", ""),
		KafkaBroker:      getEnvOrDefault("KAFKA_BROKER", ""),
		KafkaTopic:       getEnvOrDefault("KAFKA_TOPIC", "trade-events"),
		SignerKeyPath:    getEnvOrDefault("SIGNER_KEY_PATH", ""),
		OfferCacheTTL:    getEnvDuration("OFFER_CACHE_TTL", 30*time.Second),
		PriceCacheTTL:    getEnvDuration("PRICE_CACHE_TTL", 60*time.Second),
		APIPort:          getEnvInt("API_PORT", 8080),
	}
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	log.Fatalf("Warning: environment variable %s not set", key)

	return ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
