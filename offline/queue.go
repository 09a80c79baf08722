// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/waleed-mirza/expenser/reconcile"
)

// Queue is the queue manager: it records every offline-eligible write as
// an optimistic mirror update plus a queued operation, committed in one
// local transaction. Readers of the mirror see the write before any
// network round-trip completes.
type Queue struct {
	store *Store
	now   func() time.Time
}

// NewQueue creates a queue manager over the local store.
func NewQueue(store *Store) *Queue {
	return &Queue{
		store: store,
		now:   time.Now,
	}
}

// EnqueueTransaction records a transaction upsert. A missing ClientID is
// assigned, a missing ClientUpdatedAt is stamped to now. Returns the
// clientId only after both the mirror row and the queue entry are durable.
func (q *Queue) EnqueueTransaction(ctx context.Context, ownerID string, p reconcile.TransactionPayload) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("ownerID required")
	}
	if p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}
	if p.ClientUpdatedAt.IsZero() {
		p.ClientUpdatedAt = q.now().UTC()
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal transaction payload: %w", err)
	}

	err = q.store.withTx(ctx, func(tx *sql.Tx) error {
		rec := &TransactionRecord{
			ClientID:         p.ClientID,
			OwnerID:          ownerID,
			AmountMinorUnits: p.AmountMinorUnits,
			CurrencyCode:     p.CurrencyCode,
			Note:             p.Note,
			OccurredAt:       p.OccurredAt,
			ClientUpdatedAt:  p.ClientUpdatedAt,
			Source:           p.Source,
			Status:           StatusQueued,
		}
		if err := putTransactionTx(ctx, tx, rec); err != nil {
			return err
		}
		return enqueueTx(ctx, tx, &QueuedOperation{
			ClientID:        p.ClientID,
			Entity:          reconcile.EntityTransaction,
			Op:              reconcile.OpUpsert,
			Payload:         payload,
			OwnerID:         ownerID,
			ClientUpdatedAt: p.ClientUpdatedAt,
		})
	})
	if err != nil {
		return "", err
	}
	return p.ClientID, nil
}

// EnqueueTransactionDelete tombstones the mirror row (a stub when the
// record was never observed locally) and queues the delete. A zero
// clientUpdatedAt is stamped to now.
func (q *Queue) EnqueueTransactionDelete(ctx context.Context, ownerID, clientID string, clientUpdatedAt time.Time) (string, error) {
	if ownerID == "" || clientID == "" {
		return "", fmt.Errorf("ownerID and clientID required")
	}
	if clientUpdatedAt.IsZero() {
		clientUpdatedAt = q.now().UTC()
	}

	payload, err := json.Marshal(reconcile.DeletePayload{
		ClientID:        clientID,
		ClientUpdatedAt: clientUpdatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal delete payload: %w", err)
	}

	err = q.store.withTx(ctx, func(tx *sql.Tx) error {
		// Preserve existing fields; only flip the tombstone and stamps.
		// The INSERT arm produces a valid identity-only stub.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions
				(client_id, owner_id, client_updated_at, is_deleted, status)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(client_id) DO UPDATE SET
				owner_id          = excluded.owner_id,
				client_updated_at = excluded.client_updated_at,
				is_deleted        = 1,
				status            = excluded.status
		`, clientID, ownerID, formatTime(clientUpdatedAt), StatusQueued)
		if err != nil {
			return fmt.Errorf("%w: tombstone transaction: %v", ErrStorageUnavailable, err)
		}
		return enqueueTx(ctx, tx, &QueuedOperation{
			ClientID:        clientID,
			Entity:          reconcile.EntityTransaction,
			Op:              reconcile.OpDelete,
			Payload:         payload,
			OwnerID:         ownerID,
			ClientUpdatedAt: clientUpdatedAt,
		})
	})
	if err != nil {
		return "", err
	}
	return clientID, nil
}

// EnqueueCategory records a category upsert with the same durability
// guarantee as EnqueueTransaction.
func (q *Queue) EnqueueCategory(ctx context.Context, ownerID string, p reconcile.CategoryPayload) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("ownerID required")
	}
	if p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}
	if p.ClientUpdatedAt.IsZero() {
		p.ClientUpdatedAt = q.now().UTC()
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal category payload: %w", err)
	}

	err = q.store.withTx(ctx, func(tx *sql.Tx) error {
		rec := &CategoryRecord{
			ClientID:        p.ClientID,
			OwnerID:         ownerID,
			Name:            p.Name,
			Color:           p.Color,
			Kind:            p.Kind,
			ClientUpdatedAt: p.ClientUpdatedAt,
			Status:          StatusQueued,
		}
		if err := putCategoryTx(ctx, tx, rec); err != nil {
			return err
		}
		return enqueueTx(ctx, tx, &QueuedOperation{
			ClientID:        p.ClientID,
			Entity:          reconcile.EntityCategory,
			Op:              reconcile.OpUpsert,
			Payload:         payload,
			OwnerID:         ownerID,
			ClientUpdatedAt: p.ClientUpdatedAt,
		})
	})
	if err != nil {
		return "", err
	}
	return p.ClientID, nil
}

// EnqueueCategoryDelete tombstones a category mirror row and queues the delete.
func (q *Queue) EnqueueCategoryDelete(ctx context.Context, ownerID, clientID string, clientUpdatedAt time.Time) (string, error) {
	if ownerID == "" || clientID == "" {
		return "", fmt.Errorf("ownerID and clientID required")
	}
	if clientUpdatedAt.IsZero() {
		clientUpdatedAt = q.now().UTC()
	}

	payload, err := json.Marshal(reconcile.DeletePayload{
		ClientID:        clientID,
		ClientUpdatedAt: clientUpdatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal delete payload: %w", err)
	}

	err = q.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO categories
				(client_id, owner_id, client_updated_at, is_deleted, status)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(client_id) DO UPDATE SET
				owner_id          = excluded.owner_id,
				client_updated_at = excluded.client_updated_at,
				is_deleted        = 1,
				status            = excluded.status
		`, clientID, ownerID, formatTime(clientUpdatedAt), StatusQueued)
		if err != nil {
			return fmt.Errorf("%w: tombstone category: %v", ErrStorageUnavailable, err)
		}
		return enqueueTx(ctx, tx, &QueuedOperation{
			ClientID:        clientID,
			Entity:          reconcile.EntityCategory,
			Op:              reconcile.OpDelete,
			Payload:         payload,
			OwnerID:         ownerID,
			ClientUpdatedAt: clientUpdatedAt,
		})
	})
	if err != nil {
		return "", err
	}
	return clientID, nil
}
