package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"moviebot/internal/link"

	"go.uber.org/zap"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Бэкенды хранилищ.
const (
	RecordStoreXata  = "xata"
	RecordStoreMongo = "mongo"

	TokenStoreMemory   = "memory"
	TokenStorePostgres = "postgres"
	TokenStoreSQLite   = "sqlite"
)

type Config struct {
	Development bool

	BotToken         string
	TelegramEndpoint string
	TelegramTimeout  time.Duration

	HTTPAddr    string
	WebhookPath string
	WebhookURL  string

	RecordStore    string
	XataAPIKey     string
	XataBaseURL    string
	MongoURI       string
	MongoDatabase  string
	MirrorTable    string
	MirrorRecordID string
	MirrorCacheTTL time.Duration

	BlogURL      string
	DecoyEnabled bool
	FeedCacheTTL time.Duration

	HTTPTimeout time.Duration
	UserAgent   string
	MaxResults  int

	TokenTTL           time.Duration
	TokenSingleUse     bool
	TokenStore         string
	DatabaseDSN        string
	TokenSweepInterval time.Duration

	WarningDeleteAfter time.Duration
	ResultsDeleteAfter time.Duration
	Denylist           []string

	SearchRatePerSec float64
	SearchBurst      int
}

func getEnv(key string, log *zap.Logger) string {
	if val, exists := os.LookupEnv(key); exists && strings.TrimSpace(val) != "" {
		return val
	}
	log.Error("Обязательная переменная окружения не установлена", zap.String("key", key))
	panic("missing required environment variable: " + key)
}

func getEnvDefault(key, def string) string {
	if val, exists := os.LookupEnv(key); exists && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return def
}

// Logging режим и уровень логгера. Нужны раньше Load, которой уже
// требуется логгер.
func Logging() (development bool, level string) {
	return getEnvDefault("ENV", "production") == "development", strings.ToLower(getEnvDefault("LOG_LEVEL", "info"))
}

// Load читает конфигурацию из окружения. Паникует, если нет обязательных
// переменных или значения противоречат друг другу.
func Load(log *zap.Logger) *Config {
	dev, _ := Logging()
	cfg := &Config{
		Development: dev,

		BotToken:         strings.TrimSpace(getEnv("BOT_TOKEN", log)),
		TelegramEndpoint: getEnvDefault("TELEGRAM_API_ENDPOINT", ""),
		TelegramTimeout:  parsePositiveDuration(os.Getenv("TELEGRAM_TIMEOUT"), 10*time.Second),

		HTTPAddr:    getEnvDefault("HTTP_ADDR", ":8080"),
		WebhookPath: normalizePath(getEnvDefault("WEBHOOK_PATH", "/webhook")),
		WebhookURL:  strings.TrimRight(getEnvDefault("WEBHOOK_URL", ""), "/"),

		RecordStore:    strings.ToLower(getEnvDefault("RECORD_STORE", RecordStoreXata)),
		MongoDatabase:  getEnvDefault("MONGODB_DATABASE", "moviebot"),
		MirrorTable:    getEnvDefault("MIRROR_TABLE", "mirrors"),
		MirrorRecordID: getEnvDefault("MIRROR_RECORD_ID", "primary"),
		MirrorCacheTTL: parseDuration(os.Getenv("MIRROR_CACHE_TTL"), 10*time.Minute),

		BlogURL:      strings.TrimRight(getEnvDefault("BLOG_URL", ""), "/"),
		DecoyEnabled: parseBoolDefault(os.Getenv("DECOY_ENABLED"), true),
		FeedCacheTTL: parseDuration(os.Getenv("FEED_CACHE_TTL"), time.Hour),

		HTTPTimeout: parsePositiveDuration(os.Getenv("HTTP_TIMEOUT"), 10*time.Second),
		UserAgent:   getEnvDefault("USER_AGENT", defaultUserAgent),
		MaxResults:  clamp(parseInt(os.Getenv("MAX_RESULTS"), 10), 1, 10),

		TokenTTL:           parsePositiveDuration(os.Getenv("TOKEN_TTL"), 60*time.Minute),
		TokenSingleUse:     parseBool(os.Getenv("TOKEN_SINGLE_USE")),
		TokenStore:         strings.ToLower(getEnvDefault("TOKEN_STORE", TokenStoreMemory)),
		TokenSweepInterval: parsePositiveDuration(os.Getenv("TOKEN_SWEEP_INTERVAL"), 5*time.Minute),

		WarningDeleteAfter: parseDuration(os.Getenv("WARNING_DELETE_AFTER"), 10*time.Second),
		ResultsDeleteAfter: parseDuration(os.Getenv("RESULTS_DELETE_AFTER"), 0),
		Denylist:           parseList(os.Getenv("DENYLIST")),

		SearchRatePerSec: parseFloat(os.Getenv("SEARCH_RATE_PER_SEC"), 0.5),
		SearchBurst:      parseInt(os.Getenv("SEARCH_BURST"), 3),
	}

	if len(cfg.Denylist) == 0 {
		cfg.Denylist = link.DefaultDenylist
	}

	switch cfg.RecordStore {
	case RecordStoreXata:
		cfg.XataAPIKey = strings.TrimSpace(getEnv("XATA_API_KEY", log))
		cfg.XataBaseURL = strings.TrimRight(strings.TrimSpace(getEnv("XATA_BASE_URL", log)), "/")
	case RecordStoreMongo:
		cfg.MongoURI = strings.TrimSpace(getEnv("MONGODB_URI", log))
	default:
		log.Error("unknown record store", zap.String("RECORD_STORE", cfg.RecordStore))
		panic(fmt.Sprintf("unknown RECORD_STORE %q", cfg.RecordStore))
	}

	switch cfg.TokenStore {
	case TokenStoreMemory:
	case TokenStorePostgres, TokenStoreSQLite:
		cfg.DatabaseDSN = strings.TrimSpace(getEnv("DATABASE_DSN", log))
	default:
		log.Error("unknown token store", zap.String("TOKEN_STORE", cfg.TokenStore))
		panic(fmt.Sprintf("unknown TOKEN_STORE %q", cfg.TokenStore))
	}

	return cfg
}

// DecoyActive сообщает, нужно ли оборачивать ссылки через ленту блога.
func (c *Config) DecoyActive() bool {
	return c.DecoyEnabled && c.BlogURL != ""
}

func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseBool(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	return s == "1" || s == "true" || s == "yes" || s == "y"
}

func parseBoolDefault(s string, def bool) bool {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return parseBool(s)
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(s string, def float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// parsePositiveDuration как parseDuration, но ноль тоже заменяется на def.
func parsePositiveDuration(s string, def time.Duration) time.Duration {
	if d := parseDuration(s, def); d > 0 {
		return d
	}
	return def
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
