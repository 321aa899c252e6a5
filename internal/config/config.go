// Package config defines the top-level configuration for the cyclearb engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CYCLEARB_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	RPC      RPCConfig      `toml:"rpc"`
	Quote    QuoteConfig    `toml:"quote"`
	Relay    RelayConfig    `toml:"relay"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Risk     RiskConfig     `toml:"risk"`
	Engine   EngineConfig   `toml:"engine"`
	Feed     FeedConfig     `toml:"feed"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the trading wallet parameters. Key custody is out of
// scope: the keypair is a raw 64-byte ed25519 file the operator provides.
type WalletConfig struct {
	KeypairPath string `toml:"keypair_path"`
	PublicKey   string `toml:"public_key"`
}

// RPCConfig holds chain RPC endpoint parameters.
type RPCConfig struct {
	Endpoint       string   `toml:"endpoint"`
	Commitment     string   `toml:"commitment"` // processed, confirmed, finalized
	ConfirmTimeout duration `toml:"confirm_timeout"`
	SendRetries    int      `toml:"send_retries"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
	HealthInterval duration `toml:"health_interval"`
}

// QuoteConfig holds quote/swap provider parameters.
type QuoteConfig struct {
	BaseURL           string   `toml:"base_url"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	SlippageBps       int      `toml:"slippage_bps"`
	Timeout           duration `toml:"timeout"`
}

// RelayConfig holds atomic-bundle relay parameters. Endpoints are tried in
// order on submission failure.
type RelayConfig struct {
	Endpoints    []string `toml:"endpoints"`
	TipLamports  uint64   `toml:"tip_lamports"`
	PollInterval duration `toml:"poll_interval"`
	PollTimeout  duration `toml:"poll_timeout"`
	WindowLimit  int      `toml:"window_limit"` // max submissions per window across instances
	WindowSpan   duration `toml:"window_span"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
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

// RiskProfile is one named bundle of hard limits. Sizes and exposures are in
// lamports; loss and drawdown ceilings are in USD against configured capital.
type RiskProfile struct {
	MaxDailyLossUSD     float64  `toml:"max_daily_loss_usd"`
	MaxDailyLossPercent float64  `toml:"max_daily_loss_percent"`
	MaxDrawdownPercent  float64  `toml:"max_drawdown_percent"`
	MaxPositions        int      `toml:"max_positions"`
	MaxTradeLamports    uint64   `toml:"max_trade_lamports"`
	MaxExposureLamports uint64   `toml:"max_exposure_lamports"`
	FeeBufferLamports   uint64   `toml:"fee_buffer_lamports"`
	BreakerThreshold    int      `toml:"breaker_threshold"`
	BreakerCooldown     duration `toml:"breaker_cooldown"`
}

// RiskConfig holds risk gate parameters, including the three selectable
// limit profiles and the per-strategy enablement map (fail-closed: strategies
// absent from the map are denied).
type RiskConfig struct {
	Level             string          `toml:"level"`
	CapitalUSD        float64         `toml:"capital_usd"`
	FailClosedStorage bool            `toml:"fail_closed_storage"`
	Strategies        map[string]bool `toml:"strategies"`

	Conservative RiskProfile `toml:"conservative"`
	Standard     RiskProfile `toml:"standard"`
	Aggressive   RiskProfile `toml:"aggressive"`
}

// Profile returns the profile for the given level name, defaulting to the
// standard profile for unknown names.
func (r RiskConfig) Profile(level string) RiskProfile {
	switch strings.ToLower(level) {
	case "conservative":
		return r.Conservative
	case "aggressive":
		return r.Aggressive
	default:
		return r.Standard
	}
}

// EngineConfig holds scan-loop parameters.
type EngineConfig struct {
	ScanInterval         duration `toml:"scan_interval"`
	HighActivityInterval duration `toml:"high_activity_interval"`
	// HighActivityWindows are UTC "HH:MM-HH:MM" ranges with a faster scan.
	HighActivityWindows []string `toml:"high_activity_windows"`
	MaxBreakerSleep     duration `toml:"max_breaker_sleep"`
	PriceTTL            duration `toml:"price_ttl"`
	BaseMint            string   `toml:"base_mint"`
	BaseSymbol          string   `toml:"base_symbol"`
	QueueSize           int      `toml:"queue_size"`
	AgedPositionWarn    duration `toml:"aged_position_warn"`
	LowBalanceLamports  uint64   `toml:"low_balance_lamports"`
	StatsInterval       duration `toml:"stats_interval"`
}

// FeedConfig holds the pending-transaction stream parameters.
type FeedConfig struct {
	Enabled  bool     `toml:"enabled"`
	WsURL    string   `toml:"ws_url"`
	Programs []string `toml:"programs"`
}

// ServerConfig holds the control-surface HTTP parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		RPC: RPCConfig{
			Endpoint:       "https://api.mainnet-beta.solana.com",
			Commitment:     "confirmed",
			ConfirmTimeout: duration{30 * time.Second},
			SendRetries:    3,
			RetryBaseDelay: duration{time.Second},
			HealthInterval: duration{time.Minute},
		},
		Quote: QuoteConfig{
			BaseURL:           "https://quote-api.jup.ag/v6",
			RequestsPerSecond: 8,
			SlippageBps:       50,
			Timeout:           duration{10 * time.Second},
		},
		Relay: RelayConfig{
			Endpoints: []string{
				"https://mainnet.block-engine.jito.wtf/api/v1/bundles",
				"https://amsterdam.mainnet.block-engine.jito.wtf/api/v1/bundles",
				"https://ny.mainnet.block-engine.jito.wtf/api/v1/bundles",
			},
			TipLamports:  10_000,
			PollInterval: duration{2 * time.Second},
			PollTimeout:  duration{30 * time.Second},
			WindowLimit:  5,
			WindowSpan:   duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cyclearb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Risk: RiskConfig{
			Level:      "standard",
			CapitalUSD: 2_000,
			Strategies: map[string]bool{},
			Conservative: RiskProfile{
				MaxDailyLossUSD:     50,
				MaxDailyLossPercent: 2.5,
				MaxDrawdownPercent:  5,
				MaxPositions:        1,
				MaxTradeLamports:    500_000_000,   // 0.5 SOL
				MaxExposureLamports: 1_000_000_000, // 1 SOL
				FeeBufferLamports:   20_000_000,
				BreakerThreshold:    2,
				BreakerCooldown:     duration{30 * time.Minute},
			},
			Standard: RiskProfile{
				MaxDailyLossUSD:     150,
				MaxDailyLossPercent: 7.5,
				MaxDrawdownPercent:  10,
				MaxPositions:        3,
				MaxTradeLamports:    2_000_000_000, // 2 SOL
				MaxExposureLamports: 5_000_000_000, // 5 SOL
				FeeBufferLamports:   20_000_000,
				BreakerThreshold:    3,
				BreakerCooldown:     duration{10 * time.Minute},
			},
			Aggressive: RiskProfile{
				MaxDailyLossUSD:     400,
				MaxDailyLossPercent: 20,
				MaxDrawdownPercent:  20,
				MaxPositions:        8,
				MaxTradeLamports:    5_000_000_000,  // 5 SOL
				MaxExposureLamports: 20_000_000_000, // 20 SOL
				FeeBufferLamports:   20_000_000,
				BreakerThreshold:    5,
				BreakerCooldown:     duration{3 * time.Minute},
			},
		},
		Engine: EngineConfig{
			ScanInterval:         duration{5 * time.Second},
			HighActivityInterval: duration{time.Second},
			HighActivityWindows:  []string{"13:30-16:00", "19:00-21:00"},
			MaxBreakerSleep:      duration{time.Minute},
			PriceTTL:             duration{30 * time.Second},
			BaseMint:             "So11111111111111111111111111111111111111112",
			BaseSymbol:           "SOL",
			QueueSize:            256,
			AgedPositionWarn:     duration{10 * time.Minute},
			LowBalanceLamports:   100_000_000, // 0.1 SOL
			StatsInterval:        duration{5 * time.Minute},
		},
		Feed: FeedConfig{
			Enabled: false,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"stuck_asset", "breaker_trip", "emergency_stop", "low_balance"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"observe": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validCommitments enumerates the accepted RPC commitment levels.
var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, observe)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is required for trade mode.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.KeypairPath == "" {
			errs = append(errs, "wallet: keypair_path must be set for mode trade")
		}
	}

	// RPC
	if c.RPC.Endpoint == "" {
		errs = append(errs, "rpc: endpoint must not be empty")
	}
	if !validCommitments[c.RPC.Commitment] {
		errs = append(errs, fmt.Sprintf("rpc: unknown commitment %q (valid: processed, confirmed, finalized)", c.RPC.Commitment))
	}
	if c.RPC.SendRetries < 1 {
		errs = append(errs, "rpc: send_retries must be >= 1")
	}
	if c.RPC.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "rpc: confirm_timeout must be > 0")
	}

	// Quote
	if c.Quote.BaseURL == "" {
		errs = append(errs, "quote: base_url must not be empty")
	}
	if c.Quote.RequestsPerSecond <= 0 {
		errs = append(errs, "quote: requests_per_second must be > 0")
	}
	if c.Quote.SlippageBps <= 0 {
		errs = append(errs, "quote: slippage_bps must be > 0")
	}

	// Relay
	if len(c.Relay.Endpoints) == 0 {
		errs = append(errs, "relay: at least one endpoint is required")
	}
	if c.Relay.PollInterval.Duration <= 0 {
		errs = append(errs, "relay: poll_interval must be > 0")
	}
	if c.Relay.PollTimeout.Duration < c.Relay.PollInterval.Duration {
		errs = append(errs, "relay: poll_timeout must be >= poll_interval")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Risk
	if c.Risk.CapitalUSD <= 0 {
		errs = append(errs, "risk: capital_usd must be > 0")
	}
	if !strings.EqualFold(c.Risk.Level, "conservative") &&
		!strings.EqualFold(c.Risk.Level, "standard") &&
		!strings.EqualFold(c.Risk.Level, "aggressive") {
		errs = append(errs, fmt.Sprintf("risk: unknown level %q (valid: conservative, standard, aggressive)", c.Risk.Level))
	}
	for _, name := range []string{"conservative", "standard", "aggressive"} {
		p := c.Risk.Profile(name)
		if p.MaxDailyLossUSD <= 0 {
			errs = append(errs, fmt.Sprintf("risk.%s: max_daily_loss_usd must be > 0", name))
		}
		if p.MaxPositions < 1 {
			errs = append(errs, fmt.Sprintf("risk.%s: max_positions must be >= 1", name))
		}
		if p.MaxTradeLamports == 0 {
			errs = append(errs, fmt.Sprintf("risk.%s: max_trade_lamports must be > 0", name))
		}
		if p.MaxExposureLamports == 0 {
			errs = append(errs, fmt.Sprintf("risk.%s: max_exposure_lamports must be > 0", name))
		}
		if p.BreakerThreshold < 1 {
			errs = append(errs, fmt.Sprintf("risk.%s: breaker_threshold must be >= 1", name))
		}
		if p.BreakerCooldown.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("risk.%s: breaker_cooldown must be > 0", name))
		}
	}

	// Engine
	if c.Engine.ScanInterval.Duration <= 0 {
		errs = append(errs, "engine: scan_interval must be > 0")
	}
	if c.Engine.PriceTTL.Duration <= 0 {
		errs = append(errs, "engine: price_ttl must be > 0")
	}
	if c.Engine.BaseMint == "" {
		errs = append(errs, "engine: base_mint must not be empty")
	}
	for _, w := range c.Engine.HighActivityWindows {
		if _, _, err := ParseWindow(w); err != nil {
			errs = append(errs, fmt.Sprintf("engine: bad high_activity_window %q: %v", w, err))
		}
	}

	// Feed
	if c.Feed.Enabled && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url is required when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseWindow parses a "HH:MM-HH:MM" UTC time range into minutes-of-day.
// Ranges may wrap midnight (e.g. "23:00-01:30").
func ParseWindow(s string) (startMin, endMin int, err error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM-HH:MM")
	}
	parse := func(t string) (int, error) {
		var h, m int
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d:%d", &h, &m); err != nil {
			return 0, err
		}
		if h < 0 || h > 23 || m < 0 || m > 59 {
			return 0, fmt.Errorf("out of range: %s", t)
		}
		return h*60 + m, nil
	}
	if startMin, err = parse(parts[0]); err != nil {
		return 0, 0, err
	}
	if endMin, err = parse(parts[1]); err != nil {
		return 0, 0, err
	}
	return startMin, endMin, nil
}
