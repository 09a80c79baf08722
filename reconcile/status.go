// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import "time"

// statusSynced creates a result for an applied upsert with its server
// identity and the authoritative persistence stamp.
func statusSynced(clientID, serverID string) ItemResult {
	return ItemResult{
		ClientID: clientID,
		ServerID: serverID,
		Status:   StSynced,
		SyncedAt: time.Now().UTC(),
	}
}

// statusDeleted creates a result for an applied tombstone. Deletes carry no
// server identity; the row may never have existed server-side.
func statusDeleted(clientID string) ItemResult {
	return ItemResult{
		ClientID: clientID,
		Status:   StSynced,
		SyncedAt: time.Now().UTC(),
	}
}

// statusSkipped creates a result for a stale write losing last-writer-wins.
func statusSkipped(clientID string) ItemResult {
	return ItemResult{
		ClientID: clientID,
		Status:   StSkipped,
	}
}

// statusError creates a result for an item that failed validation or
// storage. The batch continues past it.
func statusError(clientID string, err error) ItemResult {
	return ItemResult{
		ClientID: clientID,
		Status:   StError,
		Error:    err.Error(),
	}
}
