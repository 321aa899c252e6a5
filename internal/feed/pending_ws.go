// Package feed consumes a pending-transaction WebSocket stream and turns it
// into queued opportunities via the event-driven strategies.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kvasirlabs/cyclearb/internal/domain"
	"github.com/kvasirlabs/cyclearb/internal/strategy"
)

// pendingSwapMessage is the JSON shape the stream publishes per observed
// pending swap. Amounts arrive as decimal strings.
type pendingSwapMessage struct {
	Signature  string `json:"signature"`
	Program    string `json:"program"`
	Pool       string `json:"pool"`
	InputMint  string `json:"input_mint"`
	OutputMint string `json:"output_mint"`
	InAmount   string `json:"in_amount"`
	OutAmount  string `json:"out_amount"`
	Slot       uint64 `json:"slot"`
	Timestamp  string `json:"timestamp"`
}

// PendingSwapFeed connects to a pending-transaction stream, subscribes to
// the configured programs, and routes each parsed event through every
// event-driven strategy. Opportunities land on the engine queue. The feed
// reconnects with backoff on disconnect.
type PendingSwapFeed struct {
	wsURL     string
	programs  []string
	registry  *strategy.Registry
	queue     *strategy.Queue
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewPendingSwapFeed creates a feed subscribed to the given program IDs.
func NewPendingSwapFeed(wsURL string, programs []string, registry *strategy.Registry, queue *strategy.Queue, logger *slog.Logger) *PendingSwapFeed {
	return &PendingSwapFeed{
		wsURL:    wsURL,
		programs: programs,
		registry: registry,
		queue:    queue,
		logger:   logger.With(slog.String("component", "pending_swap_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects and consumes until ctx is cancelled or Close is called.
// Reconnects with exponential backoff capped at 30s; the backoff resets
// after a connection that stayed up for a minute.
func (f *PendingSwapFeed) Run(ctx context.Context) error {
	if f.wsURL == "" {
		f.logger.Info("no feed url configured, event strategies will stay idle")
		return nil
	}

	backoff := 2 * time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		connectedAt := time.Now()
		err := f.runConnection(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(connectedAt) > time.Minute {
			backoff = 2 * time.Second
		}

		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *PendingSwapFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	sub := map[string]any{"op": "subscribe", "channel": "pending_swaps", "programs": f.programs}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("feed subscribed", slog.Int("programs", len(f.programs)))

	// Reader unblocks via close when ctx is cancelled.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, data)
	}
}

func (f *PendingSwapFeed) handleMessage(ctx context.Context, data []byte) {
	var msg pendingSwapMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("unparseable feed message",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	if msg.Signature == "" || msg.InputMint == "" || msg.OutputMint == "" {
		return
	}

	event := domain.PendingSwapEvent{
		Signature:  msg.Signature,
		Program:    msg.Program,
		PoolAddr:   msg.Pool,
		InputMint:  msg.InputMint,
		OutputMint: msg.OutputMint,
		Slot:       msg.Slot,
		ObservedAt: time.Now().UTC(),
	}
	if v, err := strconv.ParseUint(msg.InAmount, 10, 64); err == nil {
		event.InAmount = v
	}
	if v, err := strconv.ParseUint(msg.OutAmount, 10, 64); err == nil {
		event.OutAmount = v
	}
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			event.ObservedAt = t
		}
	}

	for _, s := range f.registry.EventDriven() {
		opp, err := s.OnPendingTransaction(ctx, event)
		if err != nil {
			f.registry.RecordError(s.Name())
			f.logger.Debug("event strategy failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if opp == nil {
			continue
		}
		f.registry.RecordProduced(s.Name(), 1)
		if !f.queue.Push(*opp) {
			f.logger.Warn("opportunity queue full, dropping",
				slog.String("strategy", s.Name()),
				slog.String("opportunity_id", opp.ID),
			)
		}
	}
}

// Close stops the feed.
func (f *PendingSwapFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
