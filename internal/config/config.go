// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Backend service（認証API・ストレージ）
	// 未設定でも起動はできるが、設定エンドポイントは500を返す。
	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`

	// Storage
	Storage StorageConfig `envPrefix:"STORAGE_"`

	// Auth
	AuthAutoRefresh   bool          `env:"AUTH_AUTO_REFRESH" envDefault:"true"`
	AuthRefreshMargin time.Duration `env:"AUTH_REFRESH_MARGIN" envDefault:"1m"`

	// Admin console session
	SessionMaxAge      time.Duration `env:"SESSION_MAX_AGE" envDefault:"168h"`
	ConsoleIdleTimeout time.Duration `env:"CONSOLE_IDLE_TIMEOUT" envDefault:"1h"`
	SessionStore       string        `env:"SESSION_STORE" envDefault:"postgres"`
	RedisURL           string        `env:"REDIS_URL"`

	// Content
	RosterSource string `env:"ROSTER_SOURCE" envDefault:"static"`

	// Dashboard
	MaxUploadSize         int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"`
	BulkDeleteConcurrency int   `env:"BULK_DELETE_CONCURRENCY" envDefault:"8"`

	// Rate Limit（req/min/IP）
	RateLimitContact int `env:"RATE_LIMIT_CONTACT" envDefault:"5"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`

	// Contact notification
	ResendAPIKey      string `env:"RESEND_API_KEY"`
	ContactNotifyTo   string `env:"CONTACT_NOTIFY_TO"`
	ContactNotifyFrom string `env:"CONTACT_NOTIFY_FROM" envDefault:"MDB Website <noreply@mdb.dev>"`

	// Cleanup
	ContactRetentionDays int           `env:"CONTACT_RETENTION_DAYS" envDefault:"0"`
	CleanupInterval      time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	// ワーカーの/metricsを公開するポート
	WorkerMetricsPort string `env:"WORKER_METRICS_PORT" envDefault:"9091"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`
	StaticDir  string `env:"STATIC_DIR" envDefault:"web/static"`

	// リバースプロキシ配下でX-Forwarded-For / X-Real-IPをクライアントIPとして扱う
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// StorageConfig はS3互換オブジェクトストレージの設定。
// Endpointが未設定の場合はバックエンドのストレージREST APIを使用する。
type StorageConfig struct {
	Endpoint      string `env:"ENDPOINT"`
	AccessKey     string `env:"ACCESS_KEY"`
	SecretKey     string `env:"SECRET_KEY"`
	Region        string `env:"REGION" envDefault:"us-east-1"`
	UseSSL        bool   `env:"USE_SSL" envDefault:"true"`
	Bucket        string `env:"BUCKET" envDefault:"images"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

// S3Enabled はS3互換エンドポイントが設定されているかどうかを返す。
func (s StorageConfig) S3Enabled() bool {
	return s.Endpoint != ""
}

// BackendConfigured はバックエンドの接続情報が揃っているかどうかを返す。
func (c *Config) BackendConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envファイルがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Required fields
	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if cfg.Storage.S3Enabled() {
		if cfg.Storage.AccessKey == "" {
			missing = append(missing, "STORAGE_ACCESS_KEY")
		}
		if cfg.Storage.SecretKey == "" {
			missing = append(missing, "STORAGE_SECRET_KEY")
		}
	}
	if cfg.SessionStore == "redis" && cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.SupabaseURL = strings.TrimRight(cfg.SupabaseURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// validate は列挙値と数値範囲を検証する。
func (c *Config) validate() error {
	switch c.SessionStore {
	case "postgres", "redis":
	default:
		return fmt.Errorf("SESSION_STORE must be postgres or redis, got %q", c.SessionStore)
	}
	switch c.RosterSource {
	case "static", "database":
	default:
		return fmt.Errorf("ROSTER_SOURCE must be static or database, got %q", c.RosterSource)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}
	if c.BulkDeleteConcurrency <= 0 {
		c.BulkDeleteConcurrency = 1
	}
	return nil
}
