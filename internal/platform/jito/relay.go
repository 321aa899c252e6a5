// Package jito is the client for the atomic-bundle relay. Bundles are
// submitted to configured endpoints in priority order; the first endpoint
// that accepts the bundle wins.
package jito

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// Relay submits bundles and polls their status. An optional RequestWindow
// budgets submissions across engine instances.
type Relay struct {
	endpoints  []string
	httpClient *http.Client
	window     domain.RequestWindow
	windowLim  int
	windowSpan time.Duration
	logger     *slog.Logger

	// lastEndpoint remembers which endpoint accepted the most recent bundle
	// so status polls go to the same one.
	lastEndpoint string
}

// NewRelay creates a Relay over the given endpoints. window may be nil to
// disable cross-instance submission budgeting.
func NewRelay(endpoints []string, window domain.RequestWindow, windowLimit int, windowSpan time.Duration, logger *slog.Logger) *Relay {
	return &Relay{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		window:     window,
		windowLim:  windowLimit,
		windowSpan: windowSpan,
		logger:     logger.With(slog.String("component", "relay")),
	}
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Relay) post(ctx context.Context, endpoint, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("jito: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("jito: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jito: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("jito: %s: %w", method, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("jito: %s: unexpected status %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("jito: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("jito: %s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("jito: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// SubmitBundle sends the signed transactions as one atomic unit. Endpoints
// are tried in configured priority order until one accepts the bundle.
// tipLamports is informational; the tip transfer must already be one of the
// bundle's transactions.
func (r *Relay) SubmitBundle(ctx context.Context, signedTxs []string, tipLamports uint64) (string, error) {
	if len(signedTxs) == 0 {
		return "", fmt.Errorf("jito: empty bundle")
	}

	if r.window != nil {
		allowed, err := r.window.Allow(ctx, "relay_submit", r.windowLim, r.windowSpan)
		if err != nil {
			r.logger.Warn("submission window check failed, continuing",
				slog.String("error", err.Error()))
		} else if !allowed {
			return "", fmt.Errorf("jito: submit: %w", domain.ErrRateLimited)
		}
	}

	var errs []error
	for _, endpoint := range r.endpoints {
		var bundleID string
		err := r.post(ctx, endpoint, "sendBundle", []any{signedTxs}, &bundleID)
		if err == nil && bundleID != "" {
			r.lastEndpoint = endpoint
			r.logger.Info("bundle submitted",
				slog.String("bundle_id", bundleID),
				slog.String("endpoint", endpoint),
				slog.Int("txs", len(signedTxs)),
				slog.Uint64("tip_lamports", tipLamports),
			)
			return bundleID, nil
		}
		if err == nil {
			err = fmt.Errorf("jito: empty bundle id from %s", endpoint)
		}
		errs = append(errs, err)
		r.logger.Warn("relay endpoint rejected bundle, trying next",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
	}
	return "", fmt.Errorf("jito: all %d endpoints failed: %w", len(r.endpoints), errors.Join(errs...))
}

// GetBundleStatus returns the current status of a submitted bundle.
func (r *Relay) GetBundleStatus(ctx context.Context, bundleID string) (domain.BundleStatus, error) {
	endpoint := r.lastEndpoint
	if endpoint == "" && len(r.endpoints) > 0 {
		endpoint = r.endpoints[0]
	}

	var result struct {
		Value []struct {
			BundleID           string `json:"bundle_id"`
			ConfirmationStatus string `json:"confirmation_status"`
			Status             string `json:"status"`
		} `json:"value"`
	}
	if err := r.post(ctx, endpoint, "getBundleStatuses", []any{[]string{bundleID}}, &result); err != nil {
		return "", err
	}
	if len(result.Value) == 0 {
		return domain.BundleStatusPending, nil
	}

	v := result.Value[0]
	switch {
	case v.ConfirmationStatus == "confirmed" || v.ConfirmationStatus == "finalized" || v.Status == "Landed":
		return domain.BundleStatusLanded, nil
	case v.Status == "Failed":
		return domain.BundleStatusFailed, nil
	case v.Status == "Dropped":
		return domain.BundleStatusDropped, nil
	case v.Status == "Invalid":
		return domain.BundleStatusInvalid, nil
	default:
		return domain.BundleStatusPending, nil
	}
}
