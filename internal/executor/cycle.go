package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// executeArbitrageCycle runs a two-leg cycle: base -> intermediate ->
// base. Leg 2 always uses a fresh reverse quote for the amount leg 1
// actually produced, never the quote the opportunity was detected with.
//
// Stranding policy: once leg 1 has filled, the intermediate holding is never
// sold at a known loss. If the fresh reverse quote is missing or would
// realize a loss, the holding is flagged as stranded for the recovery sweep
// instead. Holding is preferable to crystallizing a loss.
func (e *Executor) executeArbitrageCycle(ctx context.Context, log *slog.Logger, tradeID string, opp domain.Opportunity, amount uint64, priceUSD float64) domain.ExecutionResult {
	res := domain.ExecutionResult{TradeID: tradeID, Status: domain.TradeStatusFailed}

	intermediateMint := opp.MintPath[1]
	intermediateSymbol := opp.AssetPath[1]

	// Leg 1: base into the intermediate asset. Reuse the detection quote
	// when it matches the approved amount; a gate-shrunk trade needs a
	// fresh one.
	leg1Quote := firstQuote(opp)
	if leg1Quote == nil || leg1Quote.InAmount != amount {
		fresh, err := e.quotes.GetQuote(ctx, opp.MintPath[0], intermediateMint, amount, e.cfg.SlippageBps)
		if err != nil {
			res.Error = fmt.Sprintf("leg 1 quote: %v", err)
			return res
		}
		if fresh == nil {
			res.Error = "leg 1: no route"
			return res
		}
		leg1Quote = fresh
	}

	leg1, err := e.executeLeg(ctx, log.With(slog.Int("leg", 1)), leg1Quote)
	res.Signatures = append(res.Signatures, leg1.signatures...)
	res.ComputeUnits += leg1.unitsConsumed
	if err != nil {
		// Leg 1 never fills partially: a failed first leg strands nothing.
		res.Error = fmt.Sprintf("leg 1: %v", err)
		return res
	}

	// Capital is now committed in the intermediate asset.
	if err := e.positions.OpenPosition(domain.Position{
		TradeID:       tradeID,
		Strategy:      opp.Strategy,
		Mint:          intermediateMint,
		Symbol:        intermediateSymbol,
		Amount:        amount,
		EntryPriceUSD: priceUSD,
		OpenedAt:      e.now().UTC(),
	}); err != nil {
		log.Error("open position failed", slog.String("error", err.Error()))
	}
	intermediateAmount := leg1Quote.OutAmount

	strand := func(reason, detail string) domain.ExecutionResult {
		e.positions.ClosePosition(tradeID)
		res.Error = detail
		e.recordStuck(ctx, log, &res, domain.StuckAsset{
			Mint:            intermediateMint,
			Symbol:          intermediateSymbol,
			EstimatedAmount: intermediateAmount,
			TradeID:         tradeID,
			Reason:          reason,
		})
		return res
	}

	// Fresh reverse quote for what leg 1 actually bought.
	reverse, err := e.quotes.GetQuote(ctx, intermediateMint, opp.MintPath[0], intermediateAmount, e.cfg.SlippageBps)
	if err != nil || reverse == nil {
		detail := "no reverse route"
		if err != nil {
			detail = fmt.Sprintf("reverse quote: %v", err)
		}
		return strand(domain.StuckReasonNoReverseQuote, detail)
	}

	// Re-evaluate profitability with live prices before committing leg 2.
	if reverse.OutAmount < amount {
		res.Status = domain.TradeStatusDeclined
		out := strand(domain.StuckReasonLossDeclined,
			fmt.Sprintf("reverse swap returns %d for %d in, declining leg 2", reverse.OutAmount, amount))
		log.Info("leg 2 declined to avoid realizing a loss",
			slog.Uint64("in_lamports", amount),
			slog.Uint64("reverse_out_lamports", reverse.OutAmount),
		)
		return out
	}

	leg2, err := e.executeLeg(ctx, log.With(slog.Int("leg", 2)), reverse)
	res.Signatures = append(res.Signatures, leg2.signatures...)
	res.ComputeUnits += leg2.unitsConsumed
	if err != nil {
		return strand(domain.StuckReasonLegFailed, fmt.Sprintf("leg 2: %v", err))
	}

	e.positions.ClosePosition(tradeID)

	res.Success = true
	res.Status = domain.TradeStatusCompleted
	res.Profit = int64(reverse.OutAmount) - int64(amount)
	res.ProfitUSD = lamportsToUSD(res.Profit, priceUSD)
	return res
}

// legOutcome captures what one leg produced regardless of success.
type legOutcome struct {
	signatures    []string
	unitsConsumed uint64
}

// executeLeg builds, signs, simulates, broadcasts, and confirms one swap.
// Every externally-quoted swap is re-simulated before broadcast; the
// broadcast then skips preflight. Send and confirm are retried with
// exponential backoff, and confirmation races the configured timeout so a
// hung RPC cannot block the pipeline.
func (e *Executor) executeLeg(ctx context.Context, log *slog.Logger, quote *domain.Quote) (legOutcome, error) {
	var out legOutcome

	unsignedTx, err := e.quotes.BuildSwapTransaction(ctx, quote, e.signer.PublicKey())
	if err != nil {
		return out, fmt.Errorf("build swap: %w", err)
	}
	if unsignedTx == "" {
		return out, fmt.Errorf("swap builder declined route")
	}

	signedTx, _, err := e.signer.SignTransaction(unsignedTx)
	if err != nil {
		return out, fmt.Errorf("sign: %w", err)
	}

	units, err := e.rpc.SimulateTransaction(ctx, signedTx)
	out.unitsConsumed = units
	if err != nil {
		return out, fmt.Errorf("simulate: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.SendRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, e.cfg.RetryBaseDelay, attempt); err != nil {
				return out, err
			}
			log.Debug("retrying send", slog.Int("attempt", attempt+1))
		}

		signature, err := e.rpc.SendTransaction(ctx, signedTx, true)
		if err != nil {
			lastErr = fmt.Errorf("send: %w", err)
			continue
		}
		out.signatures = append(out.signatures, signature)

		confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
		err = e.rpc.ConfirmTransaction(confirmCtx, signature)
		cancel()
		if err != nil {
			// Fate unknown on timeout: treat as failure locally, keep the
			// signature for out-of-band reconciliation.
			lastErr = fmt.Errorf("confirm %s: %w", signature, err)
			continue
		}

		return out, nil
	}
	return out, lastErr
}

// firstQuote returns the opportunity's first raw quote, if any.
func firstQuote(opp domain.Opportunity) *domain.Quote {
	if len(opp.Quotes) > 0 {
		return opp.Quotes[0]
	}
	return nil
}
