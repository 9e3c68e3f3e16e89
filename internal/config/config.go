// Package config defines the top-level configuration for the veridex
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by VERIDEX_* environment
// variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Search    SearchConfig    `toml:"search"`
	LLM       LLMConfig       `toml:"llm"`
	Payment   PaymentConfig   `toml:"payment"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the oracle wallet credentials used for contract
// deployment and resolution submission.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds EVM chain parameters.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int64    `toml:"chain_id"`
	EscrowArtifact   string   `toml:"escrow_artifact"`
	ReceiptTimeout   duration `toml:"receipt_timeout"`
	ReceiptPollEvery duration `toml:"receipt_poll_every"`
}

// SQLiteConfig holds database parameters.
type SQLiteConfig struct {
	Path          string `toml:"path"`
	RunMigrations bool   `toml:"run_migrations"`
	BusyTimeoutMs int    `toml:"busy_timeout_ms"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for raw-result
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// SearchConfig holds per-provider search API credentials. A provider with an
// empty key is not wired into the aggregator.
type SearchConfig struct {
	ExaHost      string `toml:"exa_host"`
	ExaKey       string `toml:"exa_key"`
	SerperHost   string `toml:"serper_host"`
	SerperKey    string `toml:"serper_key"`
	BraveHost    string `toml:"brave_host"`
	BraveKey     string `toml:"brave_key"`
	MaxHits      int    `toml:"max_hits"`
	TimeoutSecs  int    `toml:"timeout_secs"`
}

// LLMConfig holds the chat-completions API parameters used by the search
// summarizer and the market resolver.
type LLMConfig struct {
	Host         string `toml:"host"`
	APIKey       string `toml:"api_key"`
	Model        string `toml:"model"`
	SummaryModel string `toml:"summary_model"`
	TimeoutSecs  int    `toml:"timeout_secs"`
}

// PaymentConfig holds the pay-per-call gate parameters. Prices are atomic
// units of the configured asset (e.g. USDC with 6 decimals).
type PaymentConfig struct {
	Enabled          bool   `toml:"enabled"`
	PayTo            string `toml:"pay_to"`
	Asset            string `toml:"asset"`
	Network          string `toml:"network"`
	FacilitatorURL   string `toml:"facilitator_url"`
	FacilitatorKey   string `toml:"facilitator_key"`
	BasePrice        int64  `toml:"base_price"`
	SchedulingPrice  int64  `toml:"scheduling_price"`
	EmailPrice       int64  `toml:"email_price"`
	MarketPrice      int64  `toml:"market_price"`
}

// SchedulerConfig holds the execution-loop parameters.
type SchedulerConfig struct {
	TickInterval duration `toml:"tick_interval"`
	MinLead      duration `toml:"min_lead"`
	BatchSize    int      `toml:"batch_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	JWTSecret    string   `toml:"jwt_secret"`
	SessionTTL   duration `toml:"session_ttl"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials. SMTP is used for
// user-facing query-completion mail; Telegram/Discord are operator alerts.
type NotifyConfig struct {
	SMTPHost          string   `toml:"smtp_host"`
	SMTPPort          int      `toml:"smtp_port"`
	SMTPUser          string   `toml:"smtp_user"`
	SMTPPassword      string   `toml:"smtp_password"`
	SMTPFrom          string   `toml:"smtp_from"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:           "http://localhost:8545",
			ChainID:          84532,
			EscrowArtifact:   "contracts/escrow.json",
			ReceiptTimeout:   duration{90 * time.Second},
			ReceiptPollEvery: duration{2 * time.Second},
		},
		SQLite: SQLiteConfig{
			Path:          "veridex.db",
			RunMigrations: true,
			BusyTimeoutMs: 5000,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "veridex-data",
			ForcePathStyle: true,
			RetentionDays:  30,
		},
		Search: SearchConfig{
			ExaHost:     "https://api.exa.ai",
			SerperHost:  "https://google.serper.dev",
			BraveHost:   "https://api.search.brave.com",
			MaxHits:     5,
			TimeoutSecs: 30,
		},
		LLM: LLMConfig{
			Host:         "https://api.openai.com",
			Model:        "gpt-4o",
			SummaryModel: "gpt-4o-mini",
			TimeoutSecs:  60,
		},
		Payment: PaymentConfig{
			Asset:           "USDC",
			Network:         "eip155:84532",
			BasePrice:       10_000,  // 0.01 USDC
			SchedulingPrice: 5_000,
			EmailPrice:      2_000,
			MarketPrice:     100_000, // 0.10 USDC
		},
		Scheduler: SchedulerConfig{
			TickInterval: duration{time.Minute},
			MinLead:      duration{5 * time.Minute},
			BatchSize:    20,
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8080,
			SessionTTL: duration{24 * time.Hour},
			RateLimit:  60,
			RateWindow: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Validate checks the configuration for fatal problems. It is called once
// at startup, after Load.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "serve", "worker", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q (want serve, worker, or full)", c.Mode)
	}

	if c.SQLite.Path == "" {
		return fmt.Errorf("config: sqlite.path must be set")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr must be set")
	}
	if c.Scheduler.TickInterval.Duration <= 0 {
		return fmt.Errorf("config: scheduler.tick_interval must be positive")
	}
	if c.Scheduler.MinLead.Duration < 0 {
		return fmt.Errorf("config: scheduler.min_lead must not be negative")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
		}
		if c.Server.JWTSecret == "" {
			return fmt.Errorf("config: server.jwt_secret must be set when the server is enabled")
		}
	}

	if c.Payment.Enabled {
		if c.Payment.PayTo == "" {
			return fmt.Errorf("config: payment.pay_to must be set when payment is enabled")
		}
		if c.Payment.FacilitatorURL == "" {
			return fmt.Errorf("config: payment.facilitator_url must be set when payment is enabled")
		}
		if c.Payment.BasePrice <= 0 {
			return fmt.Errorf("config: payment.base_price must be positive")
		}
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("config: chain.rpc_url must be set")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("config: chain.chain_id must be positive")
	}

	if c.Notify.SMTPHost != "" && c.Notify.SMTPFrom == "" {
		return fmt.Errorf("config: notify.smtp_from must be set when notify.smtp_host is set")
	}

	return nil
}
