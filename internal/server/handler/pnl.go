package handler

import (
	"log/slog"
	"net/http"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// PnLHandler serves the persisted profit-and-loss views.
type PnLHandler struct {
	pnl    domain.PnLStore
	stuck  domain.StuckAssetStore
	logger *slog.Logger
}

// NewPnLHandler creates a PnLHandler over the given stores.
func NewPnLHandler(pnl domain.PnLStore, stuck domain.StuckAssetStore, logger *slog.Logger) *PnLHandler {
	return &PnLHandler{
		pnl:    pnl,
		stuck:  stuck,
		logger: logger.With(slog.String("handler", "pnl")),
	}
}

// History responds with up to ?days= recent daily aggregates (default 30).
// GET /api/pnl/history
func (h *PnLHandler) History(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30, 365)
	history, err := h.pnl.History(r.Context(), days)
	if err != nil {
		h.logger.Error("pnl history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load pnl history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "history": history})
}

// StrategyStats responds with the per-strategy aggregates.
// GET /api/pnl/strategies
func (h *PnLHandler) StrategyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pnl.StrategyStats(r.Context())
	if err != nil {
		h.logger.Error("strategy stats failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load strategy stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": stats})
}

// StuckAssets responds with every stranded asset still awaiting recovery.
// GET /api/stuck-assets
func (h *PnLHandler) StuckAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.stuck.ListPending(r.Context())
	if err != nil {
		h.logger.Error("stuck asset list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load stuck assets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": assets})
}
