package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreBaseURL   string
	StoreAPIToken  string
	StoreTimeout   time.Duration
	StoreRateLimit float64 // ストアへのリクエストレート（req/sec）

	// Journal Database
	DatabaseURL string

	// Expiry
	ProviderNearExpiryDays int
	ClientNearExpiryDays   int

	// Lease
	DefaultLeaseDays int

	// Lock
	RedisURL string // 空の場合はプロセス内ロックを使用する
	LockTTL  time.Duration

	// Worker
	ExpiryScanInterval time.Duration
	RecoverInterval    time.Duration
	RecoverMaxAttempts int

	// Rate Limit
	RateLimitGeneral  int
	RateLimitMutation int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.StoreBaseURL = os.Getenv("STORE_BASE_URL")
	if cfg.StoreBaseURL == "" {
		missing = append(missing, "STORE_BASE_URL")
	}

	cfg.StoreAPIToken = os.Getenv("STORE_API_TOKEN")
	if cfg.StoreAPIToken == "" {
		missing = append(missing, "STORE_API_TOKEN")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 10*time.Second)
	cfg.StoreRateLimit = getEnvFloat("STORE_RATE_LIMIT", 5.0)
	cfg.ProviderNearExpiryDays = getEnvInt("PROVIDER_NEAR_EXPIRY_DAYS", 5)
	cfg.ClientNearExpiryDays = getEnvInt("CLIENT_NEAR_EXPIRY_DAYS", 5)
	cfg.DefaultLeaseDays = getEnvInt("DEFAULT_LEASE_DAYS", 30)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.LockTTL = getEnvDuration("LOCK_TTL", 30*time.Second)
	cfg.ExpiryScanInterval = getEnvDuration("EXPIRY_SCAN_INTERVAL", 10*time.Minute)
	cfg.RecoverInterval = getEnvDuration("RECOVER_INTERVAL", time.Minute)
	cfg.RecoverMaxAttempts = getEnvInt("RECOVER_MAX_ATTEMPTS", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
