// Package solana is the JSON-RPC client for the chain node. It covers the
// small RPC surface the engine needs: sending and simulating transactions,
// confirmation against a blockhash validity window, and balance queries.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// Client is a minimal JSON-RPC client. The commitment level is a
// configuration input applied to every call that accepts one.
type Client struct {
	endpoint   string
	commitment string
	httpClient *http.Client
}

// NewClient creates a Client for the given RPC endpoint and commitment level.
func NewClient(endpoint, commitment string) *Client {
	return &Client{
		endpoint:   endpoint,
		commitment: commitment,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("solana: marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("solana: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solana: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("solana: %s: %w", method, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("solana: %s: unexpected status %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("solana: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("solana: %s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("solana: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// GetBalance returns the lamport balance of the given account.
func (c *Client) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	params := []any{pubkey, map[string]string{"commitment": c.commitment}}
	if err := c.call(ctx, "getBalance", params, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// GetTokenBalance returns the owner's total raw balance of the given mint,
// summed over all token accounts.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint string) (uint64, error) {
	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}

	params := []any{
		owner,
		map[string]string{"mint": mint},
		map[string]string{"encoding": "jsonParsed", "commitment": c.commitment},
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return 0, err
	}

	var total uint64
	for _, v := range result.Value {
		amount, err := strconv.ParseUint(v.Account.Data.Parsed.Info.TokenAmount.Amount, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("solana: parse token amount for %s: %w", mint, err)
		}
		total += amount
	}
	return total, nil
}

// SimulateTransaction simulates a signed base64 transaction and returns the
// compute units it consumed. A simulation that executes but fails on-chain
// is returned as an error carrying the on-chain error payload.
func (c *Client) SimulateTransaction(ctx context.Context, signedTx string) (unitsConsumed uint64, err error) {
	var result struct {
		Value struct {
			Err           json.RawMessage `json:"err"`
			Logs          []string        `json:"logs"`
			UnitsConsumed uint64          `json:"unitsConsumed"`
		} `json:"value"`
	}

	params := []any{
		signedTx,
		map[string]any{"encoding": "base64", "commitment": c.commitment, "sigVerify": false, "replaceRecentBlockhash": true},
	}
	if err := c.call(ctx, "simulateTransaction", params, &result); err != nil {
		return 0, err
	}

	if len(result.Value.Err) > 0 && string(result.Value.Err) != "null" {
		return result.Value.UnitsConsumed, fmt.Errorf("solana: simulation failed: %s", string(result.Value.Err))
	}
	return result.Value.UnitsConsumed, nil
}

// SendTransaction broadcasts a signed base64 transaction and returns its
// signature. skipPreflight should be true when the transaction was already
// simulated.
func (c *Client) SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error) {
	var signature string
	params := []any{
		signedTx,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       skipPreflight,
			"preflightCommitment": c.commitment,
			"maxRetries":          0,
		},
	}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// SignatureStatus describes where a signature sits in the confirmation
// pipeline.
type SignatureStatus struct {
	Found              bool
	ConfirmationStatus string
	Failed             bool
}

// GetSignatureStatus looks up a single signature across the node's history.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}

	params := []any{
		[]string{signature},
		map[string]bool{"searchTransactionHistory": true},
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return SignatureStatus{}, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return SignatureStatus{}, nil
	}

	v := result.Value[0]
	return SignatureStatus{
		Found:              true,
		ConfirmationStatus: v.ConfirmationStatus,
		Failed:             len(v.Err) > 0 && string(v.Err) != "null",
	}, nil
}

// ConfirmTransaction polls signature status until the configured commitment
// is reached, the transaction fails, or ctx is done. Callers bound the wait
// by passing a context with a deadline.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) error {
	const pollInterval = 500 * time.Millisecond

	for {
		status, err := c.GetSignatureStatus(ctx, signature)
		if err == nil && status.Found {
			if status.Failed {
				return fmt.Errorf("solana: transaction %s failed on-chain", signature)
			}
			if commitmentReached(status.ConfirmationStatus, c.commitment) {
				return nil
			}
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("solana: confirm %s: %w", signature, domain.ErrConfirmTimeout)
		case <-timer.C:
		}
	}
}

// commitmentReached reports whether got satisfies the wanted commitment.
func commitmentReached(got, want string) bool {
	rank := map[string]int{"processed": 1, "confirmed": 2, "finalized": 3}
	return rank[got] >= rank[want] && rank[got] > 0
}

// GetHealth checks node health; used by the background health timer.
func (c *Client) GetHealth(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("solana: node unhealthy: %s", status)
	}
	return nil
}
