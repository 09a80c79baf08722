// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import "time"

// Persisted server-side records. ServerID is the row identity assigned on
// first persistence; (OwnerID, ClientID) is the durable sync identity used
// for idempotent upserts.

// Transaction is the stored form of one financial event.
type Transaction struct {
	ServerID         string
	OwnerID          string
	ClientID         string
	AmountMinorUnits int64
	CurrencyCode     string
	Note             string
	OccurredAt       time.Time
	ClientUpdatedAt  time.Time
	SyncedAt         time.Time
	IsDeleted        bool
	Source           string
}

// Category is the stored form of one spending category.
type Category struct {
	ServerID        string
	OwnerID         string
	ClientID        string
	Name            string
	Color           string
	Kind            string
	ClientUpdatedAt time.Time
	SyncedAt        time.Time
	IsDeleted       bool
}
