package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// Quoter is the slice of the quote provider backrun strategies price with.
type Quoter interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*domain.Quote, error)
}

// BackrunConfig tunes the backrun strategy.
type BackrunConfig struct {
	BaseMint      string
	BaseSymbol    string
	TradeLamports uint64
	SlippageBps   int
	MinProfit     int64
	QuoteValidity time.Duration
}

// Backrun reacts to large pending swaps: a swap pushing a pool away from its
// fair price opens a short-lived cycle back through the base asset. The
// strategy quotes the round trip immediately after the event and emits an
// opportunity only when the cycle clears the profit floor.
type Backrun struct {
	cfg    BackrunConfig
	quotes Quoter
	logger *slog.Logger
}

// NewBackrun creates a Backrun strategy.
func NewBackrun(cfg BackrunConfig, quotes Quoter, logger *slog.Logger) *Backrun {
	if cfg.QuoteValidity <= 0 {
		cfg.QuoteValidity = 10 * time.Second
	}
	return &Backrun{
		cfg:    cfg,
		quotes: quotes,
		logger: logger.With(slog.String("strategy", "backrun")),
	}
}

// Name returns the strategy identifier.
func (b *Backrun) Name() string { return "backrun" }

// Scan is a no-op; backrun opportunities come exclusively from the event
// stream.
func (b *Backrun) Scan(_ context.Context) ([]domain.Opportunity, error) {
	return nil, nil
}

// OnPendingTransaction prices a base -> output -> base cycle against the
// pool the pending swap is about to move.
func (b *Backrun) OnPendingTransaction(ctx context.Context, event domain.PendingSwapEvent) (*domain.Opportunity, error) {
	// Only swaps that dump the base asset into a pool are interesting;
	// their price impact is what the cycle captures.
	if event.InputMint != b.cfg.BaseMint || event.OutputMint == b.cfg.BaseMint {
		return nil, nil
	}
	if event.InAmount < b.cfg.TradeLamports {
		return nil, nil
	}

	forward, err := b.quotes.GetQuote(ctx, b.cfg.BaseMint, event.OutputMint, b.cfg.TradeLamports, b.cfg.SlippageBps)
	if err != nil {
		return nil, fmt.Errorf("backrun: forward quote: %w", err)
	}
	if forward == nil {
		return nil, nil
	}

	reverse, err := b.quotes.GetQuote(ctx, event.OutputMint, b.cfg.BaseMint, forward.OutAmount, b.cfg.SlippageBps)
	if err != nil {
		return nil, fmt.Errorf("backrun: reverse quote: %w", err)
	}
	if reverse == nil {
		return nil, nil
	}

	profit := int64(reverse.OutAmount) - int64(b.cfg.TradeLamports)
	if profit < b.cfg.MinProfit {
		return nil, nil
	}

	now := time.Now().UTC()
	opp := &domain.Opportunity{
		ID:             uuid.New().String(),
		Strategy:       b.Name(),
		AssetPath:      []string{b.cfg.BaseSymbol, event.OutputMint, b.cfg.BaseSymbol},
		MintPath:       []string{b.cfg.BaseMint, event.OutputMint, b.cfg.BaseMint},
		InputAmount:    b.cfg.TradeLamports,
		ExpectedOutput: reverse.OutAmount,
		ExpectedProfit: profit,
		Confidence:     0.5,
		Quotes:         []*domain.Quote{forward, reverse},
		Metadata:       map[string]string{"trigger_signature": event.Signature, "pool": event.PoolAddr},
		CreatedAt:      now,
		ExpiresAt:      now.Add(b.cfg.QuoteValidity),
	}

	b.logger.Debug("backrun opportunity",
		slog.String("opportunity_id", opp.ID),
		slog.String("output_mint", event.OutputMint),
		slog.Int64("expected_profit_lamports", profit),
	)
	return opp, nil
}
