package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kvasirlabs/cyclearb/internal/domain"
	"github.com/kvasirlabs/cyclearb/internal/engine"
)

// ControlHandler exposes the engine's control surface over HTTP.
type ControlHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler driving the given engine.
func NewControlHandler(eng *engine.Engine, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		engine: eng,
		logger: logger.With(slog.String("handler", "control")),
	}
}

// GetStatus responds with the full engine snapshot.
// GET /api/status
func (h *ControlHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// Start brings a stopped engine back to running.
// POST /api/start
func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	// The engine's loops must outlive this request.
	if err := h.engine.Start(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.engine.CurrentState())})
}

// Stop halts the engine gracefully; open positions stay booked for the
// recovery sweep.
// POST /api/stop
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Stop(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.engine.CurrentState())})
}

// EmergencyStop halts immediately and queues every open position as
// stranded.
// POST /api/emergency-stop
func (h *ControlHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("emergency stop requested", slog.String("remote_addr", r.RemoteAddr))
	if err := h.engine.EmergencyStop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.engine.CurrentState())})
}

// SetRiskLevel swaps the active risk profile.
// PUT /api/risk-level
func (h *ControlHandler) SetRiskLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	level := domain.RiskLevel(req.Level)
	if !level.Valid() {
		writeError(w, http.StatusBadRequest, "unknown risk level: "+req.Level)
		return
	}
	if err := h.engine.SetRiskLevel(r.Context(), level); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"level": req.Level})
}
