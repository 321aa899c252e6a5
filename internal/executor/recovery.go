package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// RecoverAsset tries to unwind one stranded asset back into the base
// currency. It returns recovered=true with a proof when the asset is gone:
// either the wallet no longer holds it, or a reverse swap landed. A missing
// route is not an error; the asset simply stays pending for the next sweep.
func (e *Executor) RecoverAsset(ctx context.Context, asset domain.StuckAsset) (proof string, recovered bool, err error) {
	log := e.logger.With(
		slog.String("trade_id", asset.TradeID),
		slog.String("mint", asset.Mint),
	)

	held, err := e.rpc.GetTokenBalance(ctx, e.signer.PublicKey(), asset.Mint)
	if err != nil {
		return "", false, fmt.Errorf("recover %s: token balance: %w", asset.Mint, err)
	}
	if held == 0 {
		// Already swapped out or moved manually. Nothing left to unwind.
		log.Info("stranded asset no longer held")
		return "wallet_empty", true, nil
	}

	quote, err := e.quotes.GetQuote(ctx, asset.Mint, e.cfg.BaseMint, held, e.cfg.SlippageBps)
	if err != nil {
		return "", false, fmt.Errorf("recover %s: quote: %w", asset.Mint, err)
	}
	if quote == nil {
		log.Debug("no recovery route yet", slog.Uint64("held", held))
		return "", false, nil
	}

	out, err := e.executeLeg(ctx, log, quote)
	if err != nil {
		return "", false, fmt.Errorf("recover %s: swap: %w", asset.Mint, err)
	}

	proof = ""
	if len(out.signatures) > 0 {
		proof = out.signatures[len(out.signatures)-1]
	}
	log.Info("stranded asset recovered",
		slog.Uint64("amount", held),
		slog.Uint64("proceeds_lamports", quote.OutAmount),
		slog.String("signature", proof),
	)
	return proof, true, nil
}
