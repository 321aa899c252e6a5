package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kvasirlabs/cyclearb/internal/domain"
	"github.com/kvasirlabs/cyclearb/internal/notify"
)

// recoverySweep runs before every scan: it tries to unwind each pending
// stranded asset and marks the ones that are gone. Failures are logged and
// retried on the next sweep; an unrecoverable asset must never block
// scanning.
func (e *Engine) recoverySweep(ctx context.Context) {
	assets, err := e.stuck.ListPending(ctx)
	if err != nil {
		e.logger.Error("listing stranded assets failed", slog.String("error", err.Error()))
		return
	}

	for _, asset := range assets {
		proof, recovered, err := e.exec.RecoverAsset(ctx, asset)
		if err != nil {
			e.logger.Warn("recovery attempt failed",
				slog.Int64("stuck_id", asset.ID),
				slog.String("mint", asset.Mint),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !recovered {
			continue
		}
		if err := e.stuck.MarkRecovered(ctx, asset.ID, proof); err != nil {
			e.logger.Error("marking asset recovered failed",
				slog.Int64("stuck_id", asset.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.notify(ctx, notify.EventStuckAsset, "Stranded asset recovered",
			fmt.Sprintf("%s from trade %s recovered (%s).", asset.Symbol, asset.TradeID, proof))
	}
}

// reconcileUnknownTrades settles journal rows whose bundle or confirmation
// timed out. The chain is the source of truth: a finalized first signature
// means the whole atomic trade landed.
func (e *Engine) reconcileUnknownTrades(ctx context.Context) {
	records, err := e.trades.ListByStatus(ctx, domain.TradeStatusUnknown, 50)
	if err != nil {
		e.logger.Error("listing unknown trades failed", slog.String("error", err.Error()))
		return
	}

	for _, rec := range records {
		if len(rec.Signatures) == 0 {
			rec.Status = domain.TradeStatusFailed
			rec.Error = "no signatures to reconcile"
			e.updateJournal(ctx, rec)
			continue
		}

		status, err := e.chain.GetSignatureStatus(ctx, rec.Signatures[0])
		if err != nil {
			e.logger.Debug("signature status lookup failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch {
		case status.Found && status.Failed:
			rec.Status = domain.TradeStatusFailed
			rec.Error = "reconciled: transaction failed on chain"
		case status.Found && status.ConfirmationStatus == "finalized":
			rec.Status = domain.TradeStatusCompleted
			rec.Error = ""
			e.logger.Info("unknown trade reconciled as completed",
				slog.String("trade_id", rec.ID))
		default:
			// Still in flight or not yet visible. Check again next sweep.
			continue
		}
		e.updateJournal(ctx, rec)
	}
}

func (e *Engine) updateJournal(ctx context.Context, rec domain.TradeRecord) {
	rec.UpdatedAt = e.now().UTC()
	if err := e.trades.Update(ctx, rec); err != nil {
		e.logger.Error("journal update failed",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}
