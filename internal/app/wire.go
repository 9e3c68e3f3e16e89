package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/veridexhq/veridex/internal/blob/s3"
	"github.com/veridexhq/veridex/internal/cache/redis"
	"github.com/veridexhq/veridex/internal/chain"
	"github.com/veridexhq/veridex/internal/config"
	"github.com/veridexhq/veridex/internal/crypto"
	"github.com/veridexhq/veridex/internal/domain"
	"github.com/veridexhq/veridex/internal/notify"
	"github.com/veridexhq/veridex/internal/payment"
	"github.com/veridexhq/veridex/internal/platform/brave"
	"github.com/veridexhq/veridex/internal/platform/exa"
	"github.com/veridexhq/veridex/internal/platform/openai"
	"github.com/veridexhq/veridex/internal/platform/serper"
	"github.com/veridexhq/veridex/internal/resolve"
	"github.com/veridexhq/veridex/internal/search"
	"github.com/veridexhq/veridex/internal/store/sqlite"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Queries domain.QueryStore
	Markets domain.MarketStore
	Users   domain.UserStore
	Audit   domain.AuditStore
	Counter *sqlite.QueryStore

	// Caches
	Nonces      domain.NonceCache
	Sessions    domain.SessionStore
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Blob storage, nil when S3 is disabled.
	Archiver domain.Archiver

	// Chain
	Signer *crypto.Signer
	Escrow *chain.EscrowClient

	// Search and resolution
	Aggregator *search.Aggregator
	Resolver   *resolve.Resolver

	// Payment
	Gate *payment.Gate

	// Notifications
	Mailer   *notify.EmailSender
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- SQLite ---
	dbClient, err := sqlite.New(ctx, sqlite.ClientConfig{
		Path:          cfg.SQLite.Path,
		BusyTimeoutMs: cfg.SQLite.BusyTimeoutMs,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: sqlite: %w", err))
	}
	closers = append(closers, dbClient.Close)

	if cfg.SQLite.RunMigrations {
		if err := dbClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: sqlite migrations: %w", err))
		}
	}

	db := dbClient.DB()
	queryStore := sqlite.NewQueryStore(db)
	deps.Queries = queryStore
	deps.Counter = queryStore
	deps.Markets = sqlite.NewMarketStore(db)
	deps.Users = sqlite.NewUserStore(db)
	deps.Audit = sqlite.NewAuditStore(db)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Nonces = redis.NewNonceCache(redisClient)
	deps.Sessions = redis.NewSessionStore(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), queryStore, deps.Audit)
	}

	// --- Oracle wallet and escrow client ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: wallet key: %w", err))
	}
	signer, err := crypto.NewSigner(key, cfg.Chain.ChainID)
	if err != nil {
		return fail(fmt.Errorf("wire: signer: %w", err))
	}
	deps.Signer = signer

	artifact, err := chain.LoadArtifact(cfg.Chain.EscrowArtifact)
	if err != nil {
		return fail(fmt.Errorf("wire: escrow artifact: %w", err))
	}
	escrow, err := chain.NewEscrowClient(ctx, chain.ClientConfig{
		RPCURL:         cfg.Chain.RPCURL,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
		ReceiptPoll:    cfg.Chain.ReceiptPollEvery.Duration,
	}, signer, artifact, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: escrow client: %w", err))
	}
	closers = append(closers, escrow.Close)
	deps.Escrow = escrow

	// --- Search providers and LLM ---
	llm := openai.NewClient(cfg.LLM.Host, cfg.LLM.APIKey,
		time.Duration(cfg.LLM.TimeoutSecs)*time.Second)

	searchTimeout := time.Duration(cfg.Search.TimeoutSecs) * time.Second
	var providers []search.Provider
	if cfg.Search.ExaKey != "" {
		providers = append(providers, exa.NewClient(cfg.Search.ExaHost, cfg.Search.ExaKey, searchTimeout))
	}
	if cfg.Search.SerperKey != "" {
		providers = append(providers, serper.NewClient(cfg.Search.SerperHost, cfg.Search.SerperKey, searchTimeout))
	}
	if cfg.Search.BraveKey != "" {
		providers = append(providers, brave.NewClient(cfg.Search.BraveHost, cfg.Search.BraveKey, searchTimeout))
	}
	deps.Aggregator = search.NewAggregator(providers, llm, cfg.LLM.SummaryModel, cfg.Search.MaxHits, logger)

	deps.Resolver = resolve.NewResolver(escrow, llm, deps.Markets, deps.Bus, cfg.LLM.Model, logger)

	// --- Payment gate ---
	facilitator := payment.NewFacilitatorClient(cfg.Payment.FacilitatorURL,
		cfg.Payment.FacilitatorKey, 30*time.Second)
	deps.Gate = payment.NewGate(payment.GateConfig{
		Enabled: cfg.Payment.Enabled,
		PayTo:   cfg.Payment.PayTo,
		Asset:   cfg.Payment.Asset,
		Network: cfg.Payment.Network,
		Pricing: payment.Pricing{
			Base:       cfg.Payment.BasePrice,
			Scheduling: cfg.Payment.SchedulingPrice,
			Email:      cfg.Payment.EmailPrice,
			Market:     cfg.Payment.MarketPrice,
		},
	}, facilitator, logger)

	// --- Notifications ---
	if cfg.Notify.SMTPHost != "" {
		deps.Mailer = notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUser,
			Password: cfg.Notify.SMTPPassword,
			From:     cfg.Notify.SMTPFrom,
		})
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
