package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアの種別
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	Store       string
	DatabaseURL string

	// User directory cache
	RedisURL     string
	UserCacheTTL time.Duration

	// Identity
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	// Worker
	QueueStatsInterval time.Duration
	IdempotencyKeyTTL  time.Duration
	CleanupInterval    time.Duration

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort        string
	WorkerMetricsPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// STORE=memory の場合はDATABASE_URLを必須としない。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Store = strings.ToLower(getEnvString("STORE", StorePostgres))
	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return nil, fmt.Errorf("unsupported STORE value: %q (want %q or %q)", cfg.Store, StorePostgres, StoreMemory)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.Store == StorePostgres {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.UserCacheTTL = getEnvDuration("USER_CACHE_TTL", 10*time.Minute)
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "helpdesk")
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 12*time.Hour)
	cfg.QueueStatsInterval = getEnvDuration("QUEUE_STATS_INTERVAL", time.Minute)
	cfg.IdempotencyKeyTTL = getEnvDuration("IDEMPOTENCY_KEY_TTL", 24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

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

// getEnvDuration は "90s" のようなDuration形式、または秒数の整数を受け付ける。
// 0以下の値は無効としてデフォルト値を返す。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs := getEnvInt(key, -1)
		if secs <= 0 {
			return defaultVal
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return defaultVal
	}
	return d
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
