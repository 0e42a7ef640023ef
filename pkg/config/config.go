package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// StoreBackend is one of memory, sqlite, postgres, redis.
	StoreBackend  string
	DatabaseURL   string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int

	// Sandbox exposes routes that mint tokens, airdrop lamports and stock
	// vaults against the in-memory collaborators.
	Sandbox bool

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool

	// ConfigFile is an optional YAML overlay, see LoadFile.
	ConfigFile string

	Fees    FeesConfig    `yaml:"fees"`
	Archive ArchiveConfig `yaml:"archive"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:      getenv("PORT", "8080"),
		LogLevel:  getenv("LOG_LEVEL", "INFO"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		StoreBackend:  getenv("STORE_BACKEND", "memory"),
		DatabaseURL:   getenv("DATABASE_URL", "postgres://transmuter@localhost:5432/transmuter?sslmode=disable"),
		SQLitePath:    getenv("SQLITE_PATH", "transmuter.db"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		RateLimitRPS:   getenvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getenvInt("RATE_LIMIT_BURST", 40),

		Sandbox: os.Getenv("SANDBOX") == "true",

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",

		ConfigFile: os.Getenv("TRANSMUTER_CONFIG"),

		Archive: ArchiveConfig{
			Backend: getenv("ARCHIVE_BACKEND", "file"),
			Dir:     getenv("ARCHIVE_DIR", "./snapshots"),
			Bucket:  os.Getenv("ARCHIVE_BUCKET"),
			Prefix:  getenv("ARCHIVE_PREFIX", "snapshots/"),
			Region:  os.Getenv("AWS_REGION"),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}
