package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VERIDEX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VERIDEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "VERIDEX_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "VERIDEX_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "VERIDEX_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "VERIDEX_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "VERIDEX_CHAIN_ID")
	setStr(&cfg.Chain.EscrowArtifact, "VERIDEX_CHAIN_ESCROW_ARTIFACT")
	setDuration(&cfg.Chain.ReceiptTimeout, "VERIDEX_CHAIN_RECEIPT_TIMEOUT")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "VERIDEX_SQLITE_PATH")
	setBool(&cfg.SQLite.RunMigrations, "VERIDEX_SQLITE_RUN_MIGRATIONS")
	setInt(&cfg.SQLite.BusyTimeoutMs, "VERIDEX_SQLITE_BUSY_TIMEOUT_MS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VERIDEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VERIDEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VERIDEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VERIDEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VERIDEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VERIDEX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VERIDEX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VERIDEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VERIDEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "VERIDEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VERIDEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VERIDEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VERIDEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VERIDEX_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "VERIDEX_S3_RETENTION_DAYS")

	// ── Search ──
	setStr(&cfg.Search.ExaHost, "VERIDEX_SEARCH_EXA_HOST")
	setStr(&cfg.Search.ExaKey, "VERIDEX_SEARCH_EXA_KEY")
	setStr(&cfg.Search.SerperHost, "VERIDEX_SEARCH_SERPER_HOST")
	setStr(&cfg.Search.SerperKey, "VERIDEX_SEARCH_SERPER_KEY")
	setStr(&cfg.Search.BraveHost, "VERIDEX_SEARCH_BRAVE_HOST")
	setStr(&cfg.Search.BraveKey, "VERIDEX_SEARCH_BRAVE_KEY")
	setInt(&cfg.Search.MaxHits, "VERIDEX_SEARCH_MAX_HITS")
	setInt(&cfg.Search.TimeoutSecs, "VERIDEX_SEARCH_TIMEOUT_SECS")

	// ── LLM ──
	setStr(&cfg.LLM.Host, "VERIDEX_LLM_HOST")
	setStr(&cfg.LLM.APIKey, "VERIDEX_LLM_API_KEY")
	setStr(&cfg.LLM.Model, "VERIDEX_LLM_MODEL")
	setStr(&cfg.LLM.SummaryModel, "VERIDEX_LLM_SUMMARY_MODEL")
	setInt(&cfg.LLM.TimeoutSecs, "VERIDEX_LLM_TIMEOUT_SECS")

	// ── Payment ──
	setBool(&cfg.Payment.Enabled, "VERIDEX_PAYMENT_ENABLED")
	setStr(&cfg.Payment.PayTo, "VERIDEX_PAYMENT_PAY_TO")
	setStr(&cfg.Payment.Asset, "VERIDEX_PAYMENT_ASSET")
	setStr(&cfg.Payment.Network, "VERIDEX_PAYMENT_NETWORK")
	setStr(&cfg.Payment.FacilitatorURL, "VERIDEX_PAYMENT_FACILITATOR_URL")
	setStr(&cfg.Payment.FacilitatorKey, "VERIDEX_PAYMENT_FACILITATOR_KEY")
	setInt64(&cfg.Payment.BasePrice, "VERIDEX_PAYMENT_BASE_PRICE")
	setInt64(&cfg.Payment.SchedulingPrice, "VERIDEX_PAYMENT_SCHEDULING_PRICE")
	setInt64(&cfg.Payment.EmailPrice, "VERIDEX_PAYMENT_EMAIL_PRICE")
	setInt64(&cfg.Payment.MarketPrice, "VERIDEX_PAYMENT_MARKET_PRICE")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.TickInterval, "VERIDEX_SCHEDULER_TICK_INTERVAL")
	setDuration(&cfg.Scheduler.MinLead, "VERIDEX_SCHEDULER_MIN_LEAD")
	setInt(&cfg.Scheduler.BatchSize, "VERIDEX_SCHEDULER_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VERIDEX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VERIDEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VERIDEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.JWTSecret, "VERIDEX_SERVER_JWT_SECRET")
	setDuration(&cfg.Server.SessionTTL, "VERIDEX_SERVER_SESSION_TTL")
	setInt(&cfg.Server.RateLimit, "VERIDEX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "VERIDEX_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.SMTPHost, "VERIDEX_NOTIFY_SMTP_HOST")
	setInt(&cfg.Notify.SMTPPort, "VERIDEX_NOTIFY_SMTP_PORT")
	setStr(&cfg.Notify.SMTPUser, "VERIDEX_NOTIFY_SMTP_USER")
	setStr(&cfg.Notify.SMTPPassword, "VERIDEX_NOTIFY_SMTP_PASSWORD")
	setStr(&cfg.Notify.SMTPFrom, "VERIDEX_NOTIFY_SMTP_FROM")
	setStr(&cfg.Notify.TelegramToken, "VERIDEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VERIDEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VERIDEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VERIDEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VERIDEX_MODE")
	setStr(&cfg.LogLevel, "VERIDEX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
