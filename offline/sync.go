// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/waleed-mirza/expenser/reconcile"
)

// Config holds tuning for the sync engine.
type Config struct {
	UploadLimit    int           // Max queued operations drained per flush, e.g. 200
	BackoffMin     time.Duration // 1s
	BackoffMax     time.Duration // 60s
	RecheckDelay   time.Duration // Delay before re-checking the queue after a successful flush
	RequestTimeout time.Duration // Per-request network timeout
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() *Config {
	return &Config{
		UploadLimit:    200,
		BackoffMin:     1 * time.Second,
		BackoffMax:     60 * time.Second,
		RecheckDelay:   250 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
	}
}

// FlushResult reports the outcome of one flush attempt.
type FlushResult struct {
	Flushed int                    // Operations accepted by the server in this flush
	Failed  bool                   // True when the batch call failed and the queue was retained
	Err     error                  // Set when Failed
	Results []reconcile.ItemResult // Per-item outcomes from the server (2xx only)
}

// Engine drains the pending queue to the reconciliation endpoint. At most
// one flush is in flight at a time; a flush already in progress is never
// cancelled by connectivity flaps. Failed flushes leave the queue intact
// and schedule a retry with exponential backoff.
type Engine struct {
	store   *Store
	baseURL string
	token   func(context.Context) (string, error)
	online  func() bool
	httpc   *http.Client
	logger  *slog.Logger
	config  *Config

	mu         sync.Mutex
	inFlight   bool
	backoff    time.Duration
	retryTimer *time.Timer
	closed     bool
}

// NewEngine creates a sync engine. online reports current connectivity
// (nil means assume online); token supplies the bearer token for the
// batch endpoint (nil means unauthenticated).
func NewEngine(store *Store, baseURL string, token func(context.Context) (string, error), online func() bool, config *Config, logger *slog.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		baseURL: baseURL,
		token:   token,
		online:  online,
		httpc:   &http.Client{Timeout: config.RequestTimeout},
		logger:  logger,
		config:  config,
		backoff: config.BackoffMin,
	}
}

// Flush drains up to UploadLimit queued operations in insertion order as
// one batch call. It is a no-op while offline or while another flush is in
// flight. The queue is cleared only after the server confirms batch
// acceptance; per-item idempotency server-side makes redelivery of a
// partially-acknowledged batch safe.
func (e *Engine) Flush(ctx context.Context) FlushResult {
	if e.online != nil && !e.online() {
		return FlushResult{}
	}

	e.mu.Lock()
	if e.closed || e.inFlight {
		e.mu.Unlock()
		return FlushResult{}
	}
	e.inFlight = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	ops, err := e.store.PendingOperations(ctx, e.config.UploadLimit)
	if err != nil {
		e.logger.Warn("flush aborted, queue read failed", "error", err)
		e.scheduleRetry()
		return FlushResult{Failed: true, Err: err}
	}
	if len(ops) == 0 {
		return FlushResult{}
	}

	resp, err := e.postBatch(ctx, ops)
	if err != nil {
		e.logger.Warn("flush failed, queue retained", "error", err, "pending", len(ops))
		e.scheduleRetry()
		return FlushResult{Failed: true, Err: err}
	}

	// Clear only the drained prefix; writes queued during the round-trip
	// have higher queue ids and must survive for the next flush.
	if err := e.store.ClearQueueThrough(ctx, ops[len(ops)-1].QueueID); err != nil {
		// Queue survives; the idempotent endpoint absorbs the redelivery.
		return FlushResult{Failed: true, Err: err}
	}
	e.applyResults(ctx, ops, resp.Results)

	e.mu.Lock()
	e.backoff = e.config.BackoffMin
	e.mu.Unlock()

	// New writes may have arrived during the round-trip.
	if n, cerr := e.store.PendingCount(ctx); cerr == nil && n > 0 {
		e.scheduleFlushAfter(e.config.RecheckDelay)
	}

	e.logger.Debug("flush complete", "flushed", len(ops))
	return FlushResult{Flushed: len(ops), Results: resp.Results}
}

// Close cancels any scheduled retry. An in-flight flush is left to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

func (e *Engine) postBatch(ctx context.Context, ops []QueuedOperation) (*reconcile.BatchResponse, error) {
	items := make([]reconcile.BatchItem, 0, len(ops))
	for _, op := range ops {
		items = append(items, reconcile.BatchItem{
			ClientID:        op.ClientID,
			Entity:          op.Entity,
			Op:              op.Op,
			Payload:         op.Payload,
			UserID:          op.OwnerID,
			ClientUpdatedAt: op.ClientUpdatedAt,
		})
	}
	body, err := json.Marshal(reconcile.BatchRequest{Items: items})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.baseURL+"/sync/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != nil {
		tok, err := e.token(reqCtx)
		if err != nil {
			return nil, fmt.Errorf("get token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	httpResp, err := e.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post batch: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("batch rejected: status %d: %s", httpResp.StatusCode, string(msg))
	}

	var resp reconcile.BatchResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return &resp, nil
}

// applyResults stamps mirror rows from per-item outcomes. Results are
// positionally correlated with the drained operations. A skipped item is
// settled too: the losing write is intentionally discarded, not retried.
func (e *Engine) applyResults(ctx context.Context, ops []QueuedOperation, results []reconcile.ItemResult) {
	now := time.Now().UTC()
	for i, res := range results {
		if i >= len(ops) {
			break
		}
		switch res.Status {
		case reconcile.StSynced, reconcile.StSkipped:
		default:
			e.logger.Warn("server rejected item", "client_id", res.ClientID, "error", res.Error)
			continue
		}
		// The server's stamp is authoritative; the local clock only covers
		// results that carry none (skipped items).
		stamp := res.SyncedAt
		if stamp.IsZero() {
			stamp = now
		}
		var err error
		switch ops[i].Entity {
		case reconcile.EntityTransaction:
			err = e.store.MarkTransactionSynced(ctx, res.ClientID, res.ServerID, stamp)
		case reconcile.EntityCategory:
			err = e.store.MarkCategorySynced(ctx, res.ClientID, res.ServerID, stamp)
		}
		if err != nil {
			e.logger.Warn("failed to stamp mirror", "client_id", res.ClientID, "error", err)
		}
	}
}

// scheduleRetry arms the retry timer with the current backoff and doubles
// it, capped at BackoffMax. Flush resets the backoff on success.
func (e *Engine) scheduleRetry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if e.backoff <= 0 {
		e.backoff = e.config.BackoffMin
	}
	delay := e.backoff
	e.backoff *= 2
	if e.backoff > e.config.BackoffMax {
		e.backoff = e.config.BackoffMax
	}
	e.armTimerLocked(delay)
}

func (e *Engine) scheduleFlushAfter(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.armTimerLocked(d)
}

func (e *Engine) armTimerLocked(d time.Duration) {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(d, func() {
		e.Flush(context.Background())
	})
}
