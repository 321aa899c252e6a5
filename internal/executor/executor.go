// Package executor turns an approved opportunity into on-chain swaps. It is
// a stateless transformer: given (opportunity, approved amount) it produces
// an ExecutionResult, opening and closing ledger positions along the way.
// Two-leg cycles run leg by leg with partial-failure recovery; trades with
// three or more legs go through the atomic-bundle relay.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// QuoteProvider fetches priced routes and builds unsigned swap transactions.
// A nil quote / empty transaction is a normal outcome, not an error.
type QuoteProvider interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*domain.Quote, error)
	BuildSwapTransaction(ctx context.Context, quote *domain.Quote, userPublicKey string) (string, error)
}

// ChainRPC is the slice of the node RPC the executor uses.
type ChainRPC interface {
	SimulateTransaction(ctx context.Context, signedTx string) (unitsConsumed uint64, err error)
	SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error)
	ConfirmTransaction(ctx context.Context, signature string) error
	GetTokenBalance(ctx context.Context, owner, mint string) (uint64, error)
}

// Signer signs transaction blobs for the trading wallet.
type Signer interface {
	PublicKey() string
	SignTransaction(unsignedTx string) (signedTx, signature string, err error)
}

// BundleRelay submits atomic bundles and reports their status.
type BundleRelay interface {
	SubmitBundle(ctx context.Context, signedTxs []string, tipLamports uint64) (string, error)
	GetBundleStatus(ctx context.Context, bundleID string) (domain.BundleStatus, error)
}

// PositionBook is the ledger slice the executor mutates while a cycle is
// in flight.
type PositionBook interface {
	OpenPosition(p domain.Position) error
	ClosePosition(tradeID string) (domain.Position, bool)
}

// Config holds the execution tunables.
type Config struct {
	BaseMint       string
	BaseSymbol     string
	SlippageBps    int
	SendRetries    int
	RetryBaseDelay time.Duration
	ConfirmTimeout time.Duration
	TipLamports    uint64
	PollInterval   time.Duration
	PollTimeout    time.Duration
}

// Executor executes approved trades. It owns no persistent state beyond the
// trade journal rows it writes.
type Executor struct {
	quotes    QuoteProvider
	rpc       ChainRPC
	relay     BundleRelay
	signer    Signer
	positions PositionBook
	trades    domain.TradeStore
	stuck     domain.StuckAssetStore
	cfg       Config
	logger    *slog.Logger

	now func() time.Time
}

// New creates an Executor.
func New(
	quotes QuoteProvider,
	rpc ChainRPC,
	relay BundleRelay,
	signer Signer,
	positions PositionBook,
	trades domain.TradeStore,
	stuck domain.StuckAssetStore,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.SendRetries < 1 {
		cfg.SendRetries = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Executor{
		quotes:    quotes,
		rpc:       rpc,
		relay:     relay,
		signer:    signer,
		positions: positions,
		trades:    trades,
		stuck:     stuck,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "executor")),
		now:       time.Now,
	}
}

// Execute runs the opportunity at the approved amount. Cycles with two legs
// run leg by leg; anything longer needs atomicity and goes via the relay.
// priceUSD is the fiat price of one whole base unit, used for fiat PnL.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity, amount uint64, priceUSD float64) domain.ExecutionResult {
	start := e.now()
	tradeID := uuid.New().String()

	log := e.logger.With(
		slog.String("trade_id", tradeID),
		slog.String("opportunity_id", opp.ID),
		slog.String("strategy", opp.Strategy),
	)

	if err := opp.Validate(); err != nil {
		return e.finish(ctx, log, start, domain.ExecutionResult{
			TradeID: tradeID,
			Status:  domain.TradeStatusFailed,
			Error:   err.Error(),
		}, opp, amount)
	}
	if opp.Expired(e.now()) {
		return e.finish(ctx, log, start, domain.ExecutionResult{
			TradeID: tradeID,
			Status:  domain.TradeStatusFailed,
			Error:   domain.ErrExpired.Error(),
		}, opp, amount)
	}

	e.journalStart(ctx, log, tradeID, opp, amount)

	var res domain.ExecutionResult
	if opp.Legs() >= 3 {
		res = e.executeViaBundle(ctx, log, tradeID, opp, amount, priceUSD)
	} else {
		res = e.executeArbitrageCycle(ctx, log, tradeID, opp, amount, priceUSD)
	}
	return e.finish(ctx, log, start, res, opp, amount)
}

// finish stamps the duration, persists the final journal row, and logs the
// outcome.
func (e *Executor) finish(ctx context.Context, log *slog.Logger, start time.Time, res domain.ExecutionResult, opp domain.Opportunity, amount uint64) domain.ExecutionResult {
	res.Duration = e.now().Sub(start)

	e.journalFinish(ctx, log, res, opp, amount)

	if res.Success {
		log.Info("trade completed",
			slog.Int64("profit_lamports", res.Profit),
			slog.Float64("profit_usd", res.ProfitUSD),
			slog.Duration("duration", res.Duration),
		)
	} else {
		log.Warn("trade did not complete",
			slog.String("status", string(res.Status)),
			slog.String("error", res.Error),
			slog.Bool("stuck_asset", res.Stuck != nil),
			slog.Duration("duration", res.Duration),
		)
	}
	return res
}

// journalStart inserts the pending journal row. Storage failures are logged
// and swallowed; the journal must never block execution.
func (e *Executor) journalStart(ctx context.Context, log *slog.Logger, tradeID string, opp domain.Opportunity, amount uint64) {
	rec := domain.TradeRecord{
		ID:          tradeID,
		Strategy:    opp.Strategy,
		AssetPath:   opp.AssetPath,
		InputAmount: amount,
		Status:      domain.TradeStatusPending,
		CreatedAt:   e.now().UTC(),
		UpdatedAt:   e.now().UTC(),
	}
	if err := e.trades.Insert(ctx, rec); err != nil {
		log.Error("journal insert failed", slog.String("error", err.Error()))
	}
}

// journalFinish updates the journal row with the final outcome.
func (e *Executor) journalFinish(ctx context.Context, log *slog.Logger, res domain.ExecutionResult, opp domain.Opportunity, amount uint64) {
	rec := domain.TradeRecord{
		ID:          res.TradeID,
		Strategy:    opp.Strategy,
		AssetPath:   opp.AssetPath,
		InputAmount: amount,
		Profit:      res.Profit,
		ProfitUSD:   res.ProfitUSD,
		Status:      res.Status,
		Signatures:  res.Signatures,
		Error:       res.Error,
		UpdatedAt:   e.now().UTC(),
	}
	if err := e.trades.Update(ctx, rec); err != nil {
		log.Error("journal update failed", slog.String("error", err.Error()))
	}
}

// recordStuck persists a stranded-asset record and attaches it to the result.
func (e *Executor) recordStuck(ctx context.Context, log *slog.Logger, res *domain.ExecutionResult, stuck domain.StuckAsset) {
	stuck.Status = domain.RecoveryPending
	stuck.CreatedAt = e.now().UTC()

	id, err := e.stuck.Add(ctx, stuck)
	if err != nil {
		// Never silently dropped: the record rides on the result even when
		// persistence is down.
		log.Error("persist stuck asset failed",
			slog.String("mint", stuck.Mint),
			slog.String("error", err.Error()))
	} else {
		stuck.ID = id
	}

	log.Warn("asset stranded",
		slog.String("mint", stuck.Mint),
		slog.String("symbol", stuck.Symbol),
		slog.Uint64("estimated_amount", stuck.EstimatedAmount),
		slog.String("reason", stuck.Reason),
	)
	res.Stuck = &stuck
}

func lamportsToUSD(lamports int64, priceUSD float64) float64 {
	return float64(lamports) / 1e9 * priceUSD
}

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	return fmt.Sprintf("Executor(wallet=%s)", e.signer.PublicKey())
}
