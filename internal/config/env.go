package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ServerConfig defines HTTP server and filesystem layout.
type ServerConfig struct {
	Port        string
	UploadDir   string
	ResultDir   string
	MaxUploadMB int64
}

// RedisConfig defines connectivity and key TTLs for the caches.
type RedisConfig struct {
	URL        string
	DocTTL     time.Duration
	ThumbTTL   time.Duration
	SessionTTL time.Duration
}

// ThumbsConfig defines thumbnail rendering behavior.
type ThumbsConfig struct {
	DPI               int
	Quality           int
	Margin            int // speculative pages added around a coalesced batch
	EagerPages        int // pages marked visible before any observer fires
	MaxInflightRender int // concurrent go-fitz renders per document
	Grayscale         bool
}

// ExtractConfig defines extraction session behavior.
type ExtractConfig struct {
	MetadataTimeout time.Duration // hard wall clock for the page-count step
	PageTimeout     time.Duration
	DefaultEngine   string // "standard"|"fast"
	DefaultQuality  string // "high"|"draft"
	BreakerBase     time.Duration
	BreakerMax      time.Duration
}

// WebConfig holds dashboard credentials.
type WebConfig struct {
	Username     string
	Password     string
	PasswordHash string // bcrypt; takes precedence over Password when set
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Server  ServerConfig
	Redis   RedisConfig
	Thumbs  ThumbsConfig
	Extract ExtractConfig
	Web     WebConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/docextract.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_docextract",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Server = ServerConfig{
		Port:        getEnv("PORT", "8080"),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
		ResultDir:   getEnv("RESULT_DIR", "uploads/results"),
		MaxUploadMB: int64(parseInt(getEnv("MAX_UPLOAD_MB", "64"), 64)),
	}

	cfg.Redis = RedisConfig{
		URL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		DocTTL:     parseDuration(getEnv("DOC_TTL", "24h"), 24*time.Hour),
		ThumbTTL:   parseDuration(getEnv("THUMB_TTL", "6h"), 6*time.Hour),
		SessionTTL: parseDuration(getEnv("SESSION_TTL", "24h"), 24*time.Hour),
	}

	cfg.Thumbs = ThumbsConfig{
		DPI:               parseInt(getEnv("THUMB_DPI", "96"), 96),
		Quality:           parseInt(getEnv("THUMB_QUALITY", "70"), 70),
		Margin:            parseInt(getEnv("THUMB_BATCH_MARGIN", "2"), 2),
		EagerPages:        parseInt(getEnv("THUMB_EAGER_PAGES", "8"), 8),
		MaxInflightRender: parseInt(getEnv("THUMB_MAX_INFLIGHT_RENDER", "2"), 2),
		Grayscale:         parseBool(getEnv("THUMB_GRAYSCALE", "0")),
	}

	cfg.Extract = ExtractConfig{
		MetadataTimeout: parseDuration(getEnv("METADATA_TIMEOUT", "30s"), 30*time.Second),
		PageTimeout:     parseDuration(getEnv("PAGE_TIMEOUT", "60s"), 60*time.Second),
		DefaultEngine:   getEnv("DEFAULT_ENGINE", "standard"),
		DefaultQuality:  getEnv("DEFAULT_QUALITY", "high"),
		BreakerBase:     parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMax:      parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Web = WebConfig{
		Username:     getEnv("WEB_USERNAME", ""),
		Password:     getEnv("WEB_PASSWORD", ""),
		PasswordHash: getEnv("WEB_PASSWORD_HASH", ""),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
