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
// built-in defaults, applies CYCLEARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CYCLEARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.KeypairPath, "CYCLEARB_WALLET_KEYPAIR_PATH")
	setStr(&cfg.Wallet.PublicKey, "CYCLEARB_WALLET_PUBLIC_KEY")

	// ── RPC ──
	setStr(&cfg.RPC.Endpoint, "CYCLEARB_RPC_ENDPOINT")
	setStr(&cfg.RPC.Commitment, "CYCLEARB_RPC_COMMITMENT")
	setDuration(&cfg.RPC.ConfirmTimeout, "CYCLEARB_RPC_CONFIRM_TIMEOUT")
	setInt(&cfg.RPC.SendRetries, "CYCLEARB_RPC_SEND_RETRIES")
	setDuration(&cfg.RPC.RetryBaseDelay, "CYCLEARB_RPC_RETRY_BASE_DELAY")

	// ── Quote ──
	setStr(&cfg.Quote.BaseURL, "CYCLEARB_QUOTE_BASE_URL")
	setFloat64(&cfg.Quote.RequestsPerSecond, "CYCLEARB_QUOTE_REQUESTS_PER_SECOND")
	setInt(&cfg.Quote.SlippageBps, "CYCLEARB_QUOTE_SLIPPAGE_BPS")

	// ── Relay ──
	setStringSlice(&cfg.Relay.Endpoints, "CYCLEARB_RELAY_ENDPOINTS")
	setUint64(&cfg.Relay.TipLamports, "CYCLEARB_RELAY_TIP_LAMPORTS")
	setDuration(&cfg.Relay.PollInterval, "CYCLEARB_RELAY_POLL_INTERVAL")
	setDuration(&cfg.Relay.PollTimeout, "CYCLEARB_RELAY_POLL_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CYCLEARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CYCLEARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CYCLEARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CYCLEARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CYCLEARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CYCLEARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CYCLEARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CYCLEARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CYCLEARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CYCLEARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CYCLEARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CYCLEARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CYCLEARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CYCLEARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CYCLEARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CYCLEARB_REDIS_TLS_ENABLED")

	// ── Risk ──
	setStr(&cfg.Risk.Level, "CYCLEARB_RISK_LEVEL")
	setFloat64(&cfg.Risk.CapitalUSD, "CYCLEARB_RISK_CAPITAL_USD")
	setBool(&cfg.Risk.FailClosedStorage, "CYCLEARB_RISK_FAIL_CLOSED_STORAGE")

	// ── Engine ──
	setDuration(&cfg.Engine.ScanInterval, "CYCLEARB_ENGINE_SCAN_INTERVAL")
	setDuration(&cfg.Engine.HighActivityInterval, "CYCLEARB_ENGINE_HIGH_ACTIVITY_INTERVAL")
	setStringSlice(&cfg.Engine.HighActivityWindows, "CYCLEARB_ENGINE_HIGH_ACTIVITY_WINDOWS")
	setDuration(&cfg.Engine.PriceTTL, "CYCLEARB_ENGINE_PRICE_TTL")
	setStr(&cfg.Engine.BaseMint, "CYCLEARB_ENGINE_BASE_MINT")
	setStr(&cfg.Engine.BaseSymbol, "CYCLEARB_ENGINE_BASE_SYMBOL")
	setUint64(&cfg.Engine.LowBalanceLamports, "CYCLEARB_ENGINE_LOW_BALANCE_LAMPORTS")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "CYCLEARB_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "CYCLEARB_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Programs, "CYCLEARB_FEED_PROGRAMS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CYCLEARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CYCLEARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CYCLEARB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CYCLEARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CYCLEARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CYCLEARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CYCLEARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CYCLEARB_MODE")
	setStr(&cfg.LogLevel, "CYCLEARB_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
