// Package jupiter is the REST client for the quote/swap aggregator. A nil
// quote is a normal outcome (no route, expired market), not an error; callers
// must handle it.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// Client talks to the quote aggregator API. All requests flow through a
// single shared rate limiter so total request pacing stays within the
// configured requests-per-second budget no matter how many callers share the
// client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a quote client with the given request budget.
func NewClient(baseURL string, requestsPerSecond float64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Limiter exposes the shared limiter so the scan loop can derive its
// rate-limit floor from the same budget.
func (c *Client) Limiter() *rate.Limiter {
	return c.limiter
}

// GetQuote fetches a priced route for swapping amount of inputMint into
// outputMint. It returns (nil, nil) when no route exists, a normal outcome
// the caller must expect.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*domain.Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("jupiter: rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: create quote request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter: get quote: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		// No route for this pair/amount right now.
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("jupiter: get quote: %w", domain.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("jupiter: get quote: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jupiter: read quote response: %w", err)
	}

	var apiQuote struct {
		InputMint      string `json:"inputMint"`
		InAmount       string `json:"inAmount"`
		OutputMint     string `json:"outputMint"`
		OutAmount      string `json:"outAmount"`
		SlippageBps    int    `json:"slippageBps"`
		PriceImpactPct string `json:"priceImpactPct"`
	}
	if err := json.Unmarshal(raw, &apiQuote); err != nil {
		return nil, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	if apiQuote.OutAmount == "" {
		return nil, nil
	}

	inAmount, err := strconv.ParseUint(apiQuote.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse inAmount %q: %w", apiQuote.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(apiQuote.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse outAmount %q: %w", apiQuote.OutAmount, err)
	}
	impact, _ := strconv.ParseFloat(apiQuote.PriceImpactPct, 64)

	return &domain.Quote{
		InputMint:      apiQuote.InputMint,
		OutputMint:     apiQuote.OutputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		SlippageBps:    apiQuote.SlippageBps,
		PriceImpactPct: impact,
		RoutePlan:      raw, // full provider response, passed back on swap build
		FetchedAt:      time.Now().UTC(),
	}, nil
}

// usdcMint is the quote currency used to derive USD reference prices.
const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// ReferencePriceUSD derives the USD price of one whole unit of mint by
// quoting a unit-sized swap into USDC. Returns 0 with no error when no
// route exists.
func (c *Client) ReferencePriceUSD(ctx context.Context, mint string, unitAmount uint64) (float64, error) {
	quote, err := c.GetQuote(ctx, mint, usdcMint, unitAmount, 50)
	if err != nil {
		return 0, fmt.Errorf("jupiter: reference price: %w", err)
	}
	if quote == nil || quote.OutAmount == 0 {
		return 0, nil
	}
	// USDC has 6 decimals.
	return float64(quote.OutAmount) / 1e6, nil
}

// BuildSwapTransaction asks the aggregator to build an unsigned transaction
// for the given quote. Returns the base64 transaction blob, or ("", nil)
// when the provider declined the route, also a normal outcome.
func (c *Client) BuildSwapTransaction(ctx context.Context, quote *domain.Quote, userPublicKey string) (string, error) {
	if quote == nil || len(quote.RoutePlan) == 0 {
		return "", fmt.Errorf("jupiter: build swap: quote has no route plan")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("jupiter: rate limiter: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"quoteResponse":    json.RawMessage(quote.RoutePlan),
		"userPublicKey":    userPublicKey,
		"wrapAndUnwrapSol": true,
	})
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("jupiter: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("jupiter: build swap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("jupiter: build swap: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("jupiter: decode swap response: %w", err)
	}
	return result.SwapTransaction, nil
}
