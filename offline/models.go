// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package offline

import (
	"encoding/json"
	"time"
)

// Mirror record statuses. The status is a local-only UI annotation; it
// never travels to the server.
const (
	StatusQueued = "queued"
	StatusSynced = "synced"
	StatusError  = "error"
)

// Origin tags recorded on transaction writes
const (
	SourceOnline  = "online"
	SourceOffline = "offline"
)

// TransactionRecord is the optimistic local mirror of one financial event.
// ServerID and SyncedAt stay zero until the server accepts the record.
type TransactionRecord struct {
	ClientID         string
	ServerID         string
	OwnerID          string
	AmountMinorUnits int64
	CurrencyCode     string
	Note             string
	OccurredAt       time.Time
	ClientUpdatedAt  time.Time
	SyncedAt         time.Time
	IsDeleted        bool
	Source           string
	Status           string
}

// CategoryRecord is the optimistic local mirror of one spending category.
type CategoryRecord struct {
	ClientID        string
	ServerID        string
	OwnerID         string
	Name            string
	Color           string
	Kind            string
	ClientUpdatedAt time.Time
	SyncedAt        time.Time
	IsDeleted       bool
	Status          string
}

// QueuedOperation is one durable pending mutation awaiting delivery.
// QueueID is the local insertion-order key; the drain order of the queue
// is strictly ascending QueueID.
type QueuedOperation struct {
	QueueID         int64
	ClientID        string
	Entity          string // "transaction" or "category"
	Op              string // "upsert" or "delete"
	Payload         json.RawMessage
	OwnerID         string
	ClientUpdatedAt time.Time
	Status          string
	QueuedAt        time.Time
}
