// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"fmt"
)

// applyItem validates and applies one queued operation. Every failure mode
// is folded into the per-item result; only the result's status tells the
// client what happened.
func (s *Service) applyItem(ctx context.Context, ownerID string, item *BatchItem) ItemResult {
	if err := s.validateItem(item); err != nil {
		return statusError(item.ClientID, err)
	}
	if s.config.MaxPayloadBytes > 0 && len(item.Payload) > s.config.MaxPayloadBytes {
		return statusError(item.ClientID, fmt.Errorf("%w: payload too large: %d > %d",
			ErrBadPayload, len(item.Payload), s.config.MaxPayloadBytes))
	}

	switch item.Entity {
	case EntityTransaction:
		if item.Op == OpDelete {
			return s.deleteTransaction(ctx, ownerID, item)
		}
		return s.upsertTransaction(ctx, ownerID, item)
	case EntityCategory:
		if item.Op == OpDelete {
			return s.deleteCategory(ctx, ownerID, item)
		}
		return s.upsertCategory(ctx, ownerID, item)
	}
	// validateItem already rejected anything else
	return statusError(item.ClientID, ErrUnknownEntity)
}

// upsertTransaction applies the last-writer-wins rule: an existing row with
// a strictly newer clientUpdatedAt wins and the incoming write is skipped.
// Equal or older stored stamps are overwritten, which also makes retries of
// an already-applied item converge to the same state.
func (s *Service) upsertTransaction(ctx context.Context, ownerID string, item *BatchItem) ItemResult {
	p, err := parseTransactionPayload(item)
	if err != nil {
		return statusError(item.ClientID, err)
	}

	existing, err := findWithRetry(ctx, func() (*Transaction, error) {
		return s.store.FindTransaction(ctx, ownerID, p.ClientID)
	})
	if err != nil {
		return statusError(p.ClientID, fmt.Errorf("%s: %v", ReasonInternalError, err))
	}
	if existing != nil && existing.ClientUpdatedAt.After(p.ClientUpdatedAt) {
		return statusSkipped(p.ClientID)
	}

	var serverID string
	err = withStoreRetry(ctx, func() error {
		var uerr error
		serverID, uerr = s.store.UpsertTransaction(ctx, &Transaction{
			OwnerID:          ownerID,
			ClientID:         p.ClientID,
			AmountMinorUnits: p.AmountMinorUnits,
			CurrencyCode:     p.CurrencyCode,
			Note:             p.Note,
			OccurredAt:       p.OccurredAt,
			ClientUpdatedAt:  p.ClientUpdatedAt,
			Source:           p.Source,
		})
		return uerr
	})
	if err != nil {
		return statusError(p.ClientID, fmt.Errorf("%s: %v", ReasonInternalError, err))
	}
	return statusSynced(p.ClientID, serverID)
}

// deleteTransaction tombstones the row unconditionally when it exists.
// Deletes carry no last-writer-wins guard; a stale delete can tombstone a
// newer upsert. The guard would be a single WHERE clause in the store if
// that trade-off is ever revisited.
func (s *Service) deleteTransaction(ctx context.Context, ownerID string, item *BatchItem) ItemResult {
	p, err := parseDeletePayload(item)
	if err != nil {
		return statusError(item.ClientID, err)
	}
	err = withStoreRetry(ctx, func() error {
		return s.store.TombstoneTransaction(ctx, ownerID, p.ClientID, p.ClientUpdatedAt)
	})
	if err != nil {
		return statusError(p.ClientID, fmt.Errorf("%s: %v", ReasonInternalError, err))
	}
	return statusDeleted(p.ClientID)
}

func (s *Service) upsertCategory(ctx context.Context, ownerID string, item *BatchItem) ItemResult {
	p, err := parseCategoryPayload(item)
	if err != nil {
		return statusError(item.ClientID, err)
	}

	existing, err := findWithRetry(ctx, func() (*Category, error) {
		return s.store.FindCategory(ctx, ownerID, p.ClientID)
	})
	if err != nil {
		return statusError(p.ClientID, fmt.Errorf("%s: %v", ReasonInternalError, err))
	}
	if existing != nil && existing.ClientUpdatedAt.After(p.ClientUpdatedAt) {
		return statusSkipped(p.ClientID)
	}

	var serverID string
	err = withStoreRetry(ctx, func() error {
		var uerr error
		serverID, uerr = s.store.UpsertCategory(ctx, &Category{
			OwnerID:         ownerID,
			ClientID:        p.ClientID,
			Name:            p.Name,
			Color:           p.Color,
			Kind:            p.Kind,
			ClientUpdatedAt: p.ClientUpdatedAt,
		})
		return uerr
	})
	if err != nil {
		return statusError(p.ClientID, fmt.Errorf("%s: %v", ReasonInternalError, err))
	}
	return statusSynced(p.ClientID, serverID)
}

func (s *Service) deleteCategory(ctx context.Context, ownerID string, item *BatchItem) ItemResult {
	p, err := parseDeletePayload(item)
	if err != nil {
		return statusError(item.ClientID, err)
	}
	err = withStoreRetry(ctx, func() error {
		return s.store.TombstoneCategory(ctx, ownerID, p.ClientID, p.ClientUpdatedAt)
	})
	if err != nil {
		return statusError(p.ClientID, fmt.Errorf("%s: %v", ReasonInternalError, err))
	}
	return statusDeleted(p.ClientID)
}

// findWithRetry wraps a lookup, mapping ErrNotFound to (nil, nil) so
// callers branch on presence, and retrying transient failures.
func findWithRetry[T any](ctx context.Context, find func() (*T, error)) (*T, error) {
	var rec *T
	err := withStoreRetry(ctx, func() error {
		var ferr error
		rec, ferr = find()
		if errors.Is(ferr, ErrNotFound) {
			rec = nil
			return nil
		}
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
