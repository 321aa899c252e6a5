package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kvasirlabs/cyclearb/internal/cache/redis"
	"github.com/kvasirlabs/cyclearb/internal/config"
	"github.com/kvasirlabs/cyclearb/internal/domain"
	"github.com/kvasirlabs/cyclearb/internal/executor"
	"github.com/kvasirlabs/cyclearb/internal/ledger"
	"github.com/kvasirlabs/cyclearb/internal/notify"
	"github.com/kvasirlabs/cyclearb/internal/platform/jito"
	"github.com/kvasirlabs/cyclearb/internal/platform/jupiter"
	"github.com/kvasirlabs/cyclearb/internal/platform/solana"
	"github.com/kvasirlabs/cyclearb/internal/risk"
	"github.com/kvasirlabs/cyclearb/internal/store/postgres"
	"github.com/kvasirlabs/cyclearb/internal/strategy"
)

// Dependencies bundles everything the application needs to run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TradeStore domain.TradeStore
	PnLStore   domain.PnLStore
	StuckStore domain.StuckAssetStore
	StateStore domain.StateStore

	// Caches and coordination
	PriceCache   domain.PriceCache
	BalanceCache domain.BalanceCache
	LockManager  domain.LockManager
	Window       domain.RequestWindow

	// Platform clients
	Wallet  *solana.Wallet
	Chain   *solana.Client
	Quotes  *jupiter.Client
	Relay   *jito.Relay

	// Core components
	Ledger   *ledger.Ledger
	Gate     *risk.Gate
	Executor *executor.Executor
	Registry *strategy.Registry
	Queue    *strategy.Queue

	Notifier *notify.Notifier
}

// The relay must satisfy the executor's bundle interface directly.
var _ executor.BundleRelay = (*jito.Relay)(nil)

// walletBalance adapts the chain client to the gate's balance fetcher.
type walletBalance struct {
	chain  *solana.Client
	pubkey string
}

func (wb walletBalance) Balance(ctx context.Context) (uint64, error) {
	return wb.chain.GetBalance(ctx, wb.pubkey)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.PnLStore = postgres.NewPnLStore(pool)
	deps.StuckStore = postgres.NewStuckAssetStore(pool)
	deps.StateStore = postgres.NewStateStore(pool)

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
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.BalanceCache = redis.NewBalanceCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Window = redis.NewRequestWindow(redisClient)

	// --- Wallet and platform clients ---
	wallet, err := solana.LoadWallet(cfg.Wallet.KeypairPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: wallet: %w", err)
	}
	if cfg.Wallet.PublicKey != "" && wallet.PublicKey() != cfg.Wallet.PublicKey {
		cleanup()
		return nil, nil, fmt.Errorf("wire: keypair public key %s does not match configured %s",
			wallet.PublicKey(), cfg.Wallet.PublicKey)
	}
	deps.Wallet = wallet

	deps.Chain = solana.NewClient(cfg.RPC.Endpoint, cfg.RPC.Commitment)
	deps.Quotes = jupiter.NewClient(cfg.Quote.BaseURL, cfg.Quote.RequestsPerSecond, cfg.Quote.Timeout.Duration)
	deps.Relay = jito.NewRelay(cfg.Relay.Endpoints, deps.Window,
		cfg.Relay.WindowLimit, cfg.Relay.WindowSpan.Duration, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Core components ---
	deps.Ledger = ledger.New(deps.PnLStore, deps.StateStore, logger)
	deps.Ledger.SetFailClosed(cfg.Risk.FailClosedStorage)
	deps.Gate = risk.NewGate(cfg.Risk, deps.Ledger,
		walletBalance{chain: deps.Chain, pubkey: wallet.PublicKey()}, logger)

	deps.Executor = executor.New(
		deps.Quotes,
		deps.Chain,
		deps.Relay,
		wallet,
		deps.Ledger,
		deps.TradeStore,
		deps.StuckStore,
		executor.Config{
			BaseMint:       cfg.Engine.BaseMint,
			BaseSymbol:     cfg.Engine.BaseSymbol,
			SlippageBps:    cfg.Quote.SlippageBps,
			SendRetries:    cfg.RPC.SendRetries,
			RetryBaseDelay: cfg.RPC.RetryBaseDelay.Duration,
			ConfirmTimeout: cfg.RPC.ConfirmTimeout.Duration,
			TipLamports:    cfg.Relay.TipLamports,
			PollInterval:   cfg.Relay.PollInterval.Duration,
			PollTimeout:    cfg.Relay.PollTimeout.Duration,
		},
		logger,
	)

	deps.Registry = strategy.NewRegistry()
	deps.Queue = strategy.NewQueue(cfg.Engine.QueueSize)

	// The backrun strategy sizes its cycles at the active profile's
	// per-trade ceiling and only emits when the cycle clears the fee buffer.
	profile := cfg.Risk.Profile(cfg.Risk.Level)
	deps.Registry.Register(strategy.NewBackrun(strategy.BackrunConfig{
		BaseMint:      cfg.Engine.BaseMint,
		BaseSymbol:    cfg.Engine.BaseSymbol,
		TradeLamports: profile.MaxTradeLamports,
		SlippageBps:   cfg.Quote.SlippageBps,
		MinProfit:     int64(profile.FeeBufferLamports),
	}, deps.Quotes, logger))

	return deps, cleanup, nil
}
