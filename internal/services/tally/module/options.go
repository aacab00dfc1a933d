package module

import (
	"time"

	gha "gharchive/internal/adapters/ingest/gharchive"
	"gharchive/internal/adapters/ingest/ledger"
	"gharchive/internal/platform/config"
	"gharchive/internal/platform/version"
	"gharchive/internal/services/tally/service"
)

// Ledger backends
const (
	LedgerNone  = "none"
	LedgerPG    = "pg"
	LedgerRedis = "redis"
)

// Options holds configuration for the tally module
type Options struct {
	// Source
	IOTimeout    time.Duration
	BaseURL      string
	UserAgent    string
	DecodePolicy string
	MaxLineBytes int

	// Disk cache for hourly archives; empty disables it
	CacheDir           string
	CacheRefreshRecent time.Duration
	CacheMaxAge        time.Duration
	CacheMaxBytes      int64

	// Ledger
	Ledger        string
	PGURL         string
	PGLogSQL      bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration

	// S3 transport; enabled when a region or endpoint is set
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3AccessKey string
	S3SecretKey string

	// Tally
	Window   time.Duration
	Parallel int

	// OnArchiveDone is set by callers, never from env
	OnArchiveDone func(gha.ArchiveStats)
}

// FromConfig reads the tally options from config with GHA_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("GHA_")
	return Options{
		IOTimeout:    c.MayDuration("IO_TIMEOUT", gha.DefaultIOTimeout),
		BaseURL:      c.MayString("BASE_URL", gha.DefaultBaseURL),
		UserAgent:    c.MayString("USER_AGENT", version.UserAgent("gharchive-tally")),
		DecodePolicy: c.MayEnum("DECODE_POLICY", string(gha.PolicySkip), string(gha.PolicySkip), string(gha.PolicyFail)),
		MaxLineBytes: c.MayInt("MAX_LINE_BYTES", gha.DefaultMaxLineBytes),

		CacheDir:           c.MayString("CACHE_DIR", ""),
		CacheRefreshRecent: c.MayDuration("CACHE_REFRESH_RECENT", 2*time.Hour),
		CacheMaxAge:        c.MayDuration("CACHE_MAX_AGE", 0),
		CacheMaxBytes:      int64(c.MayInt("CACHE_MAX_BYTES", 0)),

		Ledger:        c.MayEnum("LEDGER", LedgerNone, LedgerNone, LedgerPG, LedgerRedis),
		PGURL:         c.MayString("PG_DBURL", ""),
		PGLogSQL:      c.MayBool("PG_LOG_SQL", false),
		RedisAddr:     c.MayString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: c.MayString("REDIS_PASSWORD", ""),
		RedisDB:       c.MayInt("REDIS_DB", 0),
		RedisPrefix:   c.MayString("REDIS_PREFIX", ledger.DefaultRedisPrefix),
		RedisTTL:      c.MayDuration("REDIS_TTL", 0),

		S3Region:    c.MayString("S3_REGION", ""),
		S3Endpoint:  c.MayString("S3_ENDPOINT", ""),
		S3PathStyle: c.MayBool("S3_PATH_STYLE", false),
		S3AccessKey: c.MayString("S3_ACCESS_KEY_ID", ""),
		S3SecretKey: c.MayString("S3_SECRET_ACCESS_KEY", ""),

		Window:   c.MayDuration("WINDOW", service.DefaultWindow),
		Parallel: c.MayInt("PARALLEL", 1),
	}
}
