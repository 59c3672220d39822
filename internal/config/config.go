package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hitoshi/hcegateway/internal/site"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Local store
	LocalStoreURL string
	DatabaseURL   string

	// Federation
	Sites         *site.Registry
	SiteName      string
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration
	RelayMaxBody  int64

	// FHIR
	FHIRURL string

	// Auth
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitLogin   int

	// Server
	ServerPort      string
	ShutdownTimeout time.Duration

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または拠点一覧が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.LocalStoreURL = firstEnv("LOCAL_STORE_URL", "POSTGREST_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.LocalStoreURL == "" && cfg.DatabaseURL == "" {
		missing = append(missing, "LOCAL_STORE_URL or DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	sites, err := site.ParseRegistry(firstEnv("SITE_URLS", "SEDES_URLS"))
	if err != nil {
		return nil, fmt.Errorf("invalid SITE_URLS: %w", err)
	}
	cfg.Sites = sites

	// Optional fields with defaults
	cfg.SiteName = getEnvString("SITE_NAME", "local")
	cfg.LocalTimeout = getEnvDuration("LOCAL_TIMEOUT", 30*time.Second)
	cfg.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", 5*time.Second)
	cfg.RelayMaxBody = getEnvInt64("RELAY_MAX_BODY", 10485760)
	cfg.FHIRURL = firstEnv("FHIR_URL", "HAPI_FHIR_URL")
	// トークンの有効期間は24時間固定
	cfg.TokenTTL = 24 * time.Hour
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// UsesPostgREST はローカルストアとしてPostgRESTを使うかを返す。
// LOCAL_STORE_URL が設定されていればDATABASE_URLより優先する。
func (c *Config) UsesPostgREST() bool {
	return c.LocalStoreURL != ""
}

// firstEnv は最初に設定されている環境変数の値を返す。
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt などの数値系ヘルパーは、解析できない値と0以下の値をデフォルト値に置き換える。
func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
