package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"strconv"
	"time"

	"pospay.backend/pkg/crypto"
)

// Config holds all configuration values
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	POS      POSConfig
	Ledger   LedgerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + strconv.Itoa(c.Port) + "/" + c.DBName + "?sslmode=" + c.SSLMode + "&prepare_threshold=0"
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	PASSWORD string
}

// JWTConfig holds identity token verification settings
type JWTConfig struct {
	Secret       string
	AccessExpiry time.Duration
}

// POSConfig holds payment request lifecycle settings
type POSConfig struct {
	RequestTTL          time.Duration
	SweepInterval       time.Duration
	SweepBatch          int
	SigningSecretHex    string
	SigningKeyID        string
	OfflineIntentMaxAge time.Duration
	IdempotencyTTL      time.Duration
}

// SigningKey derives the payload signing key from the configured secret.
func (c POSConfig) SigningKey() (ed25519.PrivateKey, error) {
	secret, err := crypto.DecodeSecretHex(c.SigningSecretHex)
	if err != nil {
		return nil, err
	}
	return crypto.DeriveSigningKey(secret, c.SigningKeyID)
}

// UsesPlaceholderSecret reports whether the signing secret is empty or all zero
// bytes, the development fallback.
func (c POSConfig) UsesPlaceholderSecret() bool {
	secret, err := hex.DecodeString(c.SigningSecretHex)
	if err != nil {
		return false
	}
	for _, b := range secret {
		if b != 0 {
			return false
		}
	}
	return true
}

// LedgerConfig points at the wallet ledger. An empty URL selects the logging ledger.
type LedgerConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "pospay"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			PASSWORD: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_SECRET", "change-this-in-production"),
			AccessExpiry: getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		POS: POSConfig{
			RequestTTL:          getEnvAsDuration("POS_REQUEST_TTL", 5*time.Minute),
			SweepInterval:       getEnvAsDuration("POS_EXPIRY_SWEEP_INTERVAL", 30*time.Second),
			SweepBatch:          getEnvAsInt("POS_EXPIRY_SWEEP_BATCH", 100),
			SigningSecretHex:    getEnv("POS_SIGNING_SECRET", "0000000000000000000000000000000000000000000000000000000000000000"), // 32-bytes hex string
			SigningKeyID:        getEnv("POS_SIGNING_KEY_ID", "pos-1"),
			OfflineIntentMaxAge: getEnvAsDuration("OFFLINE_INTENT_MAX_AGE", 24*time.Hour),
			IdempotencyTTL:      getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Ledger: LedgerConfig{
			URL:     getEnv("LEDGER_URL", ""),
			APIKey:  getEnv("LEDGER_API_KEY", ""),
			Timeout: getEnvAsDuration("LEDGER_TIMEOUT", 10*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
