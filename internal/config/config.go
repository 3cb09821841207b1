// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 生成プロバイダの種類
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// minJWTSecretBytes はトークン署名鍵の最小長。HS256の鍵長に合わせる。
const minJWTSecretBytes = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	// Provider
	Provider              string
	ProviderTimeout       time.Duration
	MockDelay             time.Duration
	OpenAIAPIKey          string
	OpenAIModel           string
	OpenAIBaseURL         string
	OpenAITemperature     float32
	OpenAIMaxTokens       int
	OpenAICostPer1KTokens float64

	// Quota / History
	FreeDailyLimit      int
	HistoryMaxPageSize  int
	CommitRetryAttempts int

	// Rate Limit（req/min）
	RateLimitGeneral    int
	RateLimitGeneration int

	// Server
	ServerPort         string
	AppEnv             string
	LogLevel           slog.Level
	CORSAllowedOrigins []string
}

// IsDevelopment は開発モードかどうかを返す。
// 開発モードではエラーレスポンスに内部原因を含める。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// LoadDotEnv は指定された.envファイルを環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.Provider = strings.ToLower(getEnvString("PROVIDER", ProviderOpenAI))
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.Provider == ProviderOpenAI && cfg.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes)
	}
	if cfg.Provider != ProviderOpenAI && cfg.Provider != ProviderMock {
		return nil, fmt.Errorf("PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderMock, cfg.Provider)
	}

	// Optional fields with defaults
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 7*24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second)
	cfg.MockDelay = getEnvDuration("MOCK_PROVIDER_DELAY", 0)
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "")
	cfg.OpenAITemperature = float32(getEnvFloat("OPENAI_TEMPERATURE", 0.7))
	cfg.OpenAIMaxTokens = getEnvInt("OPENAI_MAX_TOKENS", 2000)
	cfg.OpenAICostPer1KTokens = getEnvFloat("OPENAI_COST_PER_1K_TOKENS", 0.002)
	cfg.FreeDailyLimit = getEnvInt("FREE_DAILY_LIMIT", 3)
	cfg.HistoryMaxPageSize = getEnvInt("HISTORY_MAX_PAGE_SIZE", 50)
	cfg.CommitRetryAttempts = getEnvInt("COMMIT_RETRY_ATTEMPTS", 3)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 100)
	cfg.RateLimitGeneration = getEnvInt("RATE_LIMIT_GENERATION", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AppEnv = getEnvString("APP_ENV", "production")
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"})

	if cfg.FreeDailyLimit < 0 {
		return nil, fmt.Errorf("FREE_DAILY_LIMIT must not be negative, got %d", cfg.FreeDailyLimit)
	}
	if err := requirePositiveDuration("TOKEN_TTL", cfg.TokenTTL); err != nil {
		return nil, err
	}
	if err := requirePositiveDuration("PROVIDER_TIMEOUT", cfg.ProviderTimeout); err != nil {
		return nil, err
	}
	for _, v := range []struct {
		key   string
		value int
	}{
		{"HISTORY_MAX_PAGE_SIZE", cfg.HistoryMaxPageSize},
		{"COMMIT_RETRY_ATTEMPTS", cfg.CommitRetryAttempts},
		{"RATE_LIMIT_GENERAL", cfg.RateLimitGeneral},
		{"RATE_LIMIT_GENERATION", cfg.RateLimitGeneration},
	} {
		if v.value <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", v.key, v.value)
		}
	}

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

// getEnvList はカンマ区切りの値を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
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

func requirePositiveDuration(key string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return nil
}
