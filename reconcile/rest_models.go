// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"encoding/json"
	"time"
)

// REST/JSON models for the batch reconciliation API.
// Note: ownership is derived from the authenticated request, not from
// per-item user_id fields; the item-level UserID is echoed by offline
// clients but never trusted server-side.

// BatchRequest represents one drained pending queue from a client.
type BatchRequest struct {
	Items []BatchItem `json:"items"`
}

// BatchItem represents a single queued operation in a batch request.
type BatchItem struct {
	ClientID        string          `json:"clientId"`          // Client-assigned durable identity
	Entity          string          `json:"entity"`            // "transaction" or "category"
	Op              string          `json:"op"`                // "upsert" or "delete"
	Payload         json.RawMessage `json:"payload,omitempty"` // Entity-specific fields
	UserID          string          `json:"userId,omitempty"`  // Client-side owner tag (informational)
	ClientUpdatedAt time.Time       `json:"clientUpdatedAt"`   // Last-writer-wins discriminator
}

// BatchResponse carries one result per input item, in input order.
type BatchResponse struct {
	Results []ItemResult `json:"results"`
}

// ItemResult represents the outcome of applying a single queued operation.
type ItemResult struct {
	ClientID string    `json:"clientId"`
	ServerID string    `json:"serverId,omitempty"` // Assigned on first successful persistence
	Status   string    `json:"status"`             // "synced", "skipped", "error"
	SyncedAt time.Time `json:"syncedAt,omitzero"` // Server persistence stamp, set when status is "synced"
	Error    string    `json:"error,omitempty"`    // Reason when status is "error"
}

// TransactionPayload is the upsert payload for entity "transaction".
type TransactionPayload struct {
	ClientID         string    `json:"clientId"`
	AmountMinorUnits int64     `json:"amountMinorUnits"`
	CurrencyCode     string    `json:"currencyCode"`
	Note             string    `json:"note,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
	ClientUpdatedAt  time.Time `json:"clientUpdatedAt"`
	Source           string    `json:"source,omitempty"` // Origin tag: "online" or "offline"
}

// CategoryPayload is the upsert payload for entity "category".
type CategoryPayload struct {
	ClientID        string    `json:"clientId"`
	Name            string    `json:"name"`
	Color           string    `json:"color,omitempty"`
	Kind            string    `json:"kind,omitempty"` // e.g. "expense", "income"
	ClientUpdatedAt time.Time `json:"clientUpdatedAt"`
}

// DeletePayload is the tombstone payload for either entity.
type DeletePayload struct {
	ClientID        string    `json:"clientId"`
	ClientUpdatedAt time.Time `json:"clientUpdatedAt"`
}

// ErrorResponse represents a whole-request error (auth, malformed body).
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
