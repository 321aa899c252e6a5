package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// executeViaBundle runs a cycle of three or more legs as one atomic bundle.
// Either every leg lands or none does, so the partial-failure handling of
// the leg-by-leg path does not apply here. The one ambiguous outcome is a
// status-poll timeout: the bundle may still land after we stop watching, so
// the result keeps every signature and is marked unknown rather than failed.
func (e *Executor) executeViaBundle(ctx context.Context, log *slog.Logger, tradeID string, opp domain.Opportunity, amount uint64, priceUSD float64) domain.ExecutionResult {
	res := domain.ExecutionResult{TradeID: tradeID, Status: domain.TradeStatusFailed}

	// Quote, build, and sign every leg up front. Detection quotes are only
	// trusted for the first leg at the exact approved amount; everything
	// else is re-quoted against what the previous leg produces.
	signedTxs := make([]string, 0, opp.Legs())
	in := amount
	for i := 0; i < opp.Legs(); i++ {
		quote := legQuote(opp, i)
		if quote == nil || quote.InAmount != in {
			fresh, err := e.quotes.GetQuote(ctx, opp.MintPath[i], opp.MintPath[i+1], in, e.cfg.SlippageBps)
			if err != nil {
				res.Error = fmt.Sprintf("leg %d quote: %v", i+1, err)
				return res
			}
			if fresh == nil {
				res.Error = fmt.Sprintf("leg %d: no route", i+1)
				return res
			}
			quote = fresh
		}

		unsignedTx, err := e.quotes.BuildSwapTransaction(ctx, quote, e.signer.PublicKey())
		if err != nil {
			res.Error = fmt.Sprintf("leg %d build swap: %v", i+1, err)
			return res
		}
		if unsignedTx == "" {
			res.Error = fmt.Sprintf("leg %d: swap builder declined route", i+1)
			return res
		}

		signedTx, signature, err := e.signer.SignTransaction(unsignedTx)
		if err != nil {
			res.Error = fmt.Sprintf("leg %d sign: %v", i+1, err)
			return res
		}

		units, err := e.rpc.SimulateTransaction(ctx, signedTx)
		res.ComputeUnits += units
		if err != nil {
			res.Error = fmt.Sprintf("leg %d simulate: %v", i+1, err)
			return res
		}

		signedTxs = append(signedTxs, signedTx)
		res.Signatures = append(res.Signatures, signature)
		in = quote.OutAmount
	}

	// The final leg must land back in the base asset at a profit or the
	// bundle is not worth the tip.
	if in <= amount {
		res.Status = domain.TradeStatusDeclined
		res.Error = fmt.Sprintf("bundle returns %d for %d in, declining submission", in, amount)
		res.Signatures = nil
		log.Info("bundle declined before submission",
			slog.Uint64("in_lamports", amount),
			slog.Uint64("out_lamports", in),
		)
		return res
	}

	bundleID, err := e.relay.SubmitBundle(ctx, signedTxs, e.cfg.TipLamports)
	if err != nil {
		res.Error = fmt.Sprintf("submit bundle: %v", err)
		return res
	}
	res.TipLamports = e.cfg.TipLamports
	log = log.With(slog.String("bundle_id", bundleID))
	log.Debug("bundle submitted", slog.Int("legs", len(signedTxs)))

	status, err := e.awaitBundle(ctx, bundleID)
	switch {
	case err != nil:
		// Fate unknown. Signatures are kept so the recovery sweep can
		// reconcile against the chain later.
		res.Status = domain.TradeStatusUnknown
		res.Error = fmt.Sprintf("bundle %s: %v", bundleID, err)
		return res
	case status == domain.BundleStatusLanded:
		res.Success = true
		res.Status = domain.TradeStatusCompleted
		res.Profit = int64(in) - int64(amount)
		res.ProfitUSD = lamportsToUSD(res.Profit, priceUSD)
		return res
	default:
		res.Error = fmt.Sprintf("bundle %s: %s", bundleID, status)
		res.Signatures = nil
		return res
	}
}

// awaitBundle polls the relay at a fixed interval until the bundle reaches
// a terminal status or the poll window closes.
func (e *Executor) awaitBundle(ctx context.Context, bundleID string) (domain.BundleStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return domain.BundleStatusPending, domain.ErrBundleTimeout
			}
			return domain.BundleStatusPending, ctx.Err()
		case <-ticker.C:
			status, err := e.relay.GetBundleStatus(ctx, bundleID)
			if err != nil {
				// Transient relay errors just cost one poll tick.
				continue
			}
			if status.Terminal() {
				return status, nil
			}
		}
	}
}

// legQuote returns the detection quote for leg i, if the opportunity
// carried one.
func legQuote(opp domain.Opportunity, i int) *domain.Quote {
	if i < len(opp.Quotes) {
		return opp.Quotes[i]
	}
	return nil
}
