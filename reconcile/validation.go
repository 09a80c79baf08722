// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validation error sentinels for mapping to per-item result reasons
var (
	ErrBadPayload    = errors.New(ReasonBadPayload)
	ErrUnknownEntity = errors.New(ReasonUnknownEntity)
	ErrUnknownOp     = errors.New(ReasonUnknownOp)
)

const (
	minClientIDLen = 6
	maxNoteLen     = 300
	maxNameLen     = 80
)

// validateItem normalizes and validates one batch item before it is
// applied. The payload is decoded into its tagged variant here, at the
// boundary, so apply logic only ever sees well-formed shapes.
func (s *Service) validateItem(item *BatchItem) error {
	item.Entity = strings.ToLower(strings.TrimSpace(item.Entity))
	item.Op = strings.ToLower(strings.TrimSpace(item.Op))

	switch item.Entity {
	case EntityTransaction, EntityCategory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEntity, item.Entity)
	}

	switch item.Op {
	case OpUpsert, OpDelete:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, item.Op)
	}

	if len(item.ClientID) < minClientIDLen {
		return fmt.Errorf("%w: clientId too short", ErrBadPayload)
	}
	if len(item.Payload) == 0 {
		return fmt.Errorf("%w: payload required", ErrBadPayload)
	}
	return nil
}

// parseTransactionPayload decodes and validates an upsert payload for
// entity "transaction". Field rules mirror the write-path input schema:
// positive integer amount in minor units, 3-letter currency code
// (normalized upper), bounded note.
func parseTransactionPayload(item *BatchItem) (*TransactionPayload, error) {
	var p TransactionPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.ClientID == "" {
		p.ClientID = item.ClientID
	}
	if len(p.ClientID) < minClientIDLen {
		return nil, fmt.Errorf("%w: clientId too short", ErrBadPayload)
	}
	if p.AmountMinorUnits <= 0 {
		return nil, fmt.Errorf("%w: amountMinorUnits must be positive", ErrBadPayload)
	}
	p.CurrencyCode = strings.ToUpper(strings.TrimSpace(p.CurrencyCode))
	if len(p.CurrencyCode) != 3 || !isAlpha(p.CurrencyCode) {
		return nil, fmt.Errorf("%w: currencyCode must be a 3-letter code", ErrBadPayload)
	}
	if len(p.Note) > maxNoteLen {
		return nil, fmt.Errorf("%w: note exceeds %d characters", ErrBadPayload, maxNoteLen)
	}
	if p.OccurredAt.IsZero() {
		return nil, fmt.Errorf("%w: occurredAt required", ErrBadPayload)
	}
	if p.ClientUpdatedAt.IsZero() {
		p.ClientUpdatedAt = item.ClientUpdatedAt
	}
	if p.ClientUpdatedAt.IsZero() {
		return nil, fmt.Errorf("%w: clientUpdatedAt required", ErrBadPayload)
	}
	return &p, nil
}

// parseCategoryPayload decodes and validates an upsert payload for
// entity "category".
func parseCategoryPayload(item *BatchItem) (*CategoryPayload, error) {
	var p CategoryPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.ClientID == "" {
		p.ClientID = item.ClientID
	}
	if len(p.ClientID) < minClientIDLen {
		return nil, fmt.Errorf("%w: clientId too short", ErrBadPayload)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || len(p.Name) > maxNameLen {
		return nil, fmt.Errorf("%w: name must be 1..%d characters", ErrBadPayload, maxNameLen)
	}
	if p.ClientUpdatedAt.IsZero() {
		p.ClientUpdatedAt = item.ClientUpdatedAt
	}
	if p.ClientUpdatedAt.IsZero() {
		return nil, fmt.Errorf("%w: clientUpdatedAt required", ErrBadPayload)
	}
	return &p, nil
}

// parseDeletePayload decodes and validates a tombstone payload.
func parseDeletePayload(item *BatchItem) (*DeletePayload, error) {
	var p DeletePayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.ClientID == "" {
		p.ClientID = item.ClientID
	}
	if len(p.ClientID) < minClientIDLen {
		return nil, fmt.Errorf("%w: clientId too short", ErrBadPayload)
	}
	if p.ClientUpdatedAt.IsZero() {
		p.ClientUpdatedAt = item.ClientUpdatedAt
	}
	if p.ClientUpdatedAt.IsZero() {
		return nil, fmt.Errorf("%w: clientUpdatedAt required", ErrBadPayload)
	}
	return &p, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
