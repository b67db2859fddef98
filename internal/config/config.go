// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ジョブレコードの保存先です。
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 認証設定（APP_USERNAME が空ならログイン不要）
	AppUsername     string
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string

	// サーバー設定
	Port     string
	GinMode  string // debug, release, test
	LogLevel string

	CORSAllowedOrigins string // カンマ区切り

	// ジョブストア
	DataDir         string // uploads/ と outputs/ を置くディレクトリ
	StoreBackend    string // memory, redis, sqlite
	StoreRedisURL   string
	StoreSQLitePath string

	// 入力制限
	MaxFileSize      int64
	MaxFiles         int
	MaxPages         int
	JobExpireMinutes int // 0 以下なら期限切れジョブを削除しない

	// 非同期キュー（QUEUE_REDIS_URL が空なら全て同期処理）
	QueueRedisURL       string
	QueueConcurrency    int
	AsyncThresholdBytes int64
	AsyncThresholdPages int
	JobResultBaseURL    string

	// 外部ツール（空なら対応する処理を無効化）
	GhostscriptPath string
	PDFToPPMPath    string
	PDFToTextPath   string
	LibreOfficePath string
	RenderDPI       int

	// S3互換ストレージ（S3_BUCKET が空なら使用しない）
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PresignMinutes  int
}

var defaults = map[string]any{
	"PORT":                  "8080",
	"GIN_MODE":              "debug",
	"LOG_LEVEL":             "info",
	"CORS_ALLOWED_ORIGINS":  "http://localhost:5173",
	"DATA_DIR":              filepath.Join(os.TempDir(), "docforge"),
	"STORE_BACKEND":         StoreMemory,
	"STORE_SQLITE_PATH":     "",
	"MAX_FILE_SIZE":         int64(100 << 20),
	"MAX_FILES":             20,
	"MAX_PAGES":             2000,
	"JOB_EXPIRE_MINUTES":    60,
	"QUEUE_REDIS_URL":       "",
	"QUEUE_CONCURRENCY":     4,
	"ASYNC_THRESHOLD_BYTES": int64(50 << 20),
	"ASYNC_THRESHOLD_PAGES": 120,
	"GHOSTSCRIPT_PATH":      "gs",
	"PDFTOPPM_PATH":         "pdftoppm",
	"PDFTOTEXT_PATH":        "pdftotext",
	"LIBREOFFICE_PATH":      "soffice",
	"RENDER_DPI":            150,
	"S3_REGION":             "auto",
	"S3_PRESIGN_MINUTES":    15,
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{
		AppUsername:     v.GetString("APP_USERNAME"),
		AppPasswordHash: v.GetString("APP_PASSWORD_HASH"),
		SessionSecret:   v.GetString("SESSION_SECRET"),

		Port:     v.GetString("PORT"),
		GinMode:  v.GetString("GIN_MODE"),
		LogLevel: v.GetString("LOG_LEVEL"),

		CORSAllowedOrigins: v.GetString("CORS_ALLOWED_ORIGINS"),

		DataDir:         v.GetString("DATA_DIR"),
		StoreBackend:    strings.ToLower(v.GetString("STORE_BACKEND")),
		StoreRedisURL:   v.GetString("STORE_REDIS_URL"),
		StoreSQLitePath: v.GetString("STORE_SQLITE_PATH"),

		MaxFileSize:      v.GetInt64("MAX_FILE_SIZE"),
		MaxFiles:         v.GetInt("MAX_FILES"),
		MaxPages:         v.GetInt("MAX_PAGES"),
		JobExpireMinutes: v.GetInt("JOB_EXPIRE_MINUTES"),

		QueueRedisURL:       v.GetString("QUEUE_REDIS_URL"),
		QueueConcurrency:    v.GetInt("QUEUE_CONCURRENCY"),
		AsyncThresholdBytes: v.GetInt64("ASYNC_THRESHOLD_BYTES"),
		AsyncThresholdPages: v.GetInt("ASYNC_THRESHOLD_PAGES"),
		JobResultBaseURL:    v.GetString("JOB_RESULT_BASE_URL"),

		GhostscriptPath: v.GetString("GHOSTSCRIPT_PATH"),
		PDFToPPMPath:    v.GetString("PDFTOPPM_PATH"),
		PDFToTextPath:   v.GetString("PDFTOTEXT_PATH"),
		LibreOfficePath: v.GetString("LIBREOFFICE_PATH"),
		RenderDPI:       v.GetInt("RENDER_DPI"),

		S3Bucket:          v.GetString("S3_BUCKET"),
		S3Region:          v.GetString("S3_REGION"),
		S3Endpoint:        v.GetString("S3_ENDPOINT"),
		S3AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
		S3PresignMinutes:  v.GetInt("S3_PRESIGN_MINUTES"),
	}
	if cfg.StoreBackend == StoreRedis && cfg.StoreRedisURL == "" {
		cfg.StoreRedisURL = cfg.QueueRedisURL
	}
	if cfg.StoreBackend == StoreSQLite && cfg.StoreSQLitePath == "" {
		cfg.StoreSQLitePath = filepath.Join(cfg.DataDir, "jobs.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.StoreRedisURL == "" {
			return fmt.Errorf("STORE_REDIS_URL (or QUEUE_REDIS_URL) is required for the redis store")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, redis, sqlite (got %q)", c.StoreBackend)
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.MaxFileSize <= 0 || c.MaxFiles <= 0 || c.MaxPages <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE, MAX_FILES and MAX_PAGES must be positive")
	}
	if c.RenderDPI < 36 || c.RenderDPI > 600 {
		return fmt.Errorf("RENDER_DPI must be between 36 and 600 (got %d)", c.RenderDPI)
	}
	if c.AppUsername != "" && (c.AppPasswordHash == "" || c.SessionSecret == "") {
		return fmt.Errorf("APP_PASSWORD_HASH and SESSION_SECRET are required when APP_USERNAME is set")
	}

	// ローカル開発では認証とキューは任意
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
	}
	return nil
}

// AllowedOrigins は CORS_ALLOWED_ORIGINS を分割して返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// AuthEnabled はログインが必要かどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppUsername != ""
}

// JobExpiry は期限切れジョブ削除の閾値です。0 なら削除しません。
func (c *Config) JobExpiry() time.Duration {
	if c.JobExpireMinutes <= 0 {
		return 0
	}
	return time.Duration(c.JobExpireMinutes) * time.Minute
}

// PresignExpiry は署名付きURLの有効期間です。
func (c *Config) PresignExpiry() time.Duration {
	return time.Duration(c.S3PresignMinutes) * time.Minute
}
