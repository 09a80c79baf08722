// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

// Entity constants for batch items
const (
	EntityTransaction = "transaction"
	EntityCategory    = "category"
)

// Operation constants for batch items
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Status constants for per-item results
const (
	StSynced  = "synced"
	StSkipped = "skipped"
	StError   = "error"
)

// Error reason constants reported in per-item results
const (
	ReasonBadPayload    = "bad_payload"
	ReasonUnknownEntity = "unknown_entity"
	ReasonUnknownOp     = "unknown_op"
	ReasonInternalError = "internal_error"
)
