// Package config loads process configuration from the environment,
// with a .env file (if present) as a lower-priority source than real
// environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	GRPCAddr string
	LogLevel string

	LedgerDBPath string
	WALDir       string
	SnapshotDir  string

	KafkaBrokers      []string
	KafkaMarketTopic  string
	SaramaBrokers     []string
	SaramaOutboxTopic string

	Symbols []SymbolConfig

	SubscriberBufferSize int
	QueueDepth           int

	SnapshotInterval time.Duration
}

type SymbolConfig struct {
	Base  string
	Quote string

	PriceTick     int64
	QtyStep       int64
	PriceTickSize decimal.Decimal
	QtyStepSize   decimal.Decimal

	MakerFeeRateBps int64
	TakerFeeRateBps int64
}

// Load reads .env (if present) then the environment, falling back to
// sane single-node defaults for anything unset.
func Load(envPath string) Config {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := Config{
		GRPCAddr:             getEnv("GRPC_ADDR", ":50051"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LedgerDBPath:         getEnv("LEDGER_DB_PATH", "./data/ledger"),
		WALDir:               getEnv("WAL_DIR", "./data/wal"),
		SnapshotDir:          getEnv("SNAPSHOT_DIR", "./data/snapshots"),
		KafkaMarketTopic:     getEnv("KAFKA_MARKET_TOPIC", "market-data"),
		SaramaOutboxTopic:    getEnv("SARAMA_OUTBOX_TOPIC", "user-events"),
		SubscriberBufferSize: getEnvInt("SUBSCRIBER_BUFFER_SIZE", 256),
		QueueDepth:           getEnvInt("ENGINE_QUEUE_DEPTH", 4096),
		SnapshotInterval:     getEnvDuration("SNAPSHOT_INTERVAL", 5*time.Minute),
	}
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS", []string{"localhost:9092"})
	cfg.SaramaBrokers = getEnvList("SARAMA_BROKERS", []string{"localhost:9092"})
	cfg.Symbols = defaultSymbols()
	return cfg
}

// defaultSymbols seeds the canonical tick 0.01 / step 0.0001 configuration:
// every internal price unit is one cent, every internal quantity unit is
// one ten-thousandth of the base asset, so PriceTick/QtyStep of 1 mean
// "any integer count of those units is tradeable".
func defaultSymbols() []SymbolConfig {
	return []SymbolConfig{
		{
			Base: "BTC", Quote: "USD",
			PriceTick: 1, QtyStep: 1,
			PriceTickSize: decimal.New(1, -2), QtyStepSize: decimal.New(1, -4),
			MakerFeeRateBps: 5, TakerFeeRateBps: 10,
		},
		{
			Base: "ETH", Quote: "USD",
			PriceTick: 1, QtyStep: 1,
			PriceTickSize: decimal.New(1, -2), QtyStepSize: decimal.New(1, -4),
			MakerFeeRateBps: 5, TakerFeeRateBps: 10,
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
