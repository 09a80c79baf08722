// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

// Package offline implements the client half of the expenser sync
// protocol: a SQLite-backed durable store with an optimistic mirror and a
// pending-operation queue, a queue manager that makes writes visible
// before any network round-trip, and a sync engine that drains the queue
// to the reconciliation endpoint with bounded retry and backoff.
package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStorageUnavailable signals that the local store could not serve a
// read or write. Callers surface it instead of claiming a silent save.
var ErrStorageUnavailable = errors.New("local store unavailable")

const timeFormat = time.RFC3339Nano

// Store is the local durable store: transaction and category mirrors, the
// pending-operation queue, and a small meta slot table. All operations are
// scoped transactions; a reader never observes a torn record.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex // Serialize write transactions to avoid SQLite lock contention
}

// NewStore initializes the schema on an open SQLite handle.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("%w: enable WAL mode: %v", ErrStorageUnavailable, err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("%w: enable foreign keys: %v", ErrStorageUnavailable, err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			client_id          TEXT PRIMARY KEY,
			server_id          TEXT NOT NULL DEFAULT '',
			owner_id           TEXT NOT NULL,
			amount_minor_units INTEGER NOT NULL DEFAULT 0,
			currency_code      TEXT NOT NULL DEFAULT '',
			note               TEXT NOT NULL DEFAULT '',
			occurred_at        TEXT NOT NULL DEFAULT '',
			client_updated_at  TEXT NOT NULL,
			synced_at          TEXT NOT NULL DEFAULT '',
			is_deleted         INTEGER NOT NULL DEFAULT 0,
			source             TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL DEFAULT 'queued'
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_owner_occurred_idx
			ON transactions (owner_id, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS transactions_owner_updated_idx
			ON transactions (owner_id, client_updated_at DESC)`,

		`CREATE TABLE IF NOT EXISTS categories (
			client_id         TEXT PRIMARY KEY,
			server_id         TEXT NOT NULL DEFAULT '',
			owner_id          TEXT NOT NULL,
			name              TEXT NOT NULL DEFAULT '',
			color             TEXT NOT NULL DEFAULT '',
			kind              TEXT NOT NULL DEFAULT '',
			client_updated_at TEXT NOT NULL,
			synced_at         TEXT NOT NULL DEFAULT '',
			is_deleted        INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL DEFAULT 'queued'
		)`,
		`CREATE INDEX IF NOT EXISTS categories_owner_idx
			ON categories (owner_id, client_updated_at DESC)`,

		`CREATE TABLE IF NOT EXISTS pending_queue (
			queue_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id         TEXT NOT NULL,
			entity            TEXT NOT NULL CHECK (entity IN ('transaction','category')),
			op                TEXT NOT NULL CHECK (op IN ('upsert','delete')),
			payload           TEXT NOT NULL,
			owner_id          TEXT NOT NULL,
			client_updated_at TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'queued',
			queued_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: create tables: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// withTx runs fn inside one write transaction. Used by the queue manager
// so mirror and queue writes commit together or not at all.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStorageUnavailable, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// PutTransaction writes a full mirror record (insert or replace).
func (s *Store) PutTransaction(ctx context.Context, rec *TransactionRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return putTransactionTx(ctx, tx, rec)
	})
}

func putTransactionTx(ctx context.Context, tx *sql.Tx, rec *TransactionRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
			(client_id, server_id, owner_id, amount_minor_units, currency_code,
			 note, occurred_at, client_updated_at, synced_at, is_deleted, source, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			server_id          = excluded.server_id,
			owner_id           = excluded.owner_id,
			amount_minor_units = excluded.amount_minor_units,
			currency_code      = excluded.currency_code,
			note               = excluded.note,
			occurred_at        = excluded.occurred_at,
			client_updated_at  = excluded.client_updated_at,
			synced_at          = excluded.synced_at,
			is_deleted         = excluded.is_deleted,
			source             = excluded.source,
			status             = excluded.status
	`, rec.ClientID, rec.ServerID, rec.OwnerID, rec.AmountMinorUnits, rec.CurrencyCode,
		rec.Note, formatTime(rec.OccurredAt), formatTime(rec.ClientUpdatedAt),
		formatTime(rec.SyncedAt), boolToInt(rec.IsDeleted), rec.Source, rec.Status)
	if err != nil {
		return fmt.Errorf("%w: put transaction: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// TransactionsByOwner returns mirror records newest-first by occurrence
// time, the ordering the UI lists live on. Tombstoned rows are included;
// callers filter if they need to.
func (s *Store) TransactionsByOwner(ctx context.Context, ownerID string, limit int) ([]TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, server_id, owner_id, amount_minor_units, currency_code,
		       note, occurred_at, client_updated_at, synced_at, is_deleted, source, status
		FROM transactions
		WHERE owner_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query transactions: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []TransactionRecord
	for rows.Next() {
		var rec TransactionRecord
		var occurredAt, updatedAt, syncedAt string
		var deleted int
		if err := rows.Scan(&rec.ClientID, &rec.ServerID, &rec.OwnerID, &rec.AmountMinorUnits,
			&rec.CurrencyCode, &rec.Note, &occurredAt, &updatedAt, &syncedAt,
			&deleted, &rec.Source, &rec.Status); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", ErrStorageUnavailable, err)
		}
		rec.OccurredAt = parseTime(occurredAt)
		rec.ClientUpdatedAt = parseTime(updatedAt)
		rec.SyncedAt = parseTime(syncedAt)
		rec.IsDeleted = deleted != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate transactions: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// GetTransaction returns one mirror record, or nil when never observed.
func (s *Store) GetTransaction(ctx context.Context, clientID string) (*TransactionRecord, error) {
	var rec TransactionRecord
	var occurredAt, updatedAt, syncedAt string
	var deleted int
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, server_id, owner_id, amount_minor_units, currency_code,
		       note, occurred_at, client_updated_at, synced_at, is_deleted, source, status
		FROM transactions WHERE client_id = ?
	`, clientID).Scan(&rec.ClientID, &rec.ServerID, &rec.OwnerID, &rec.AmountMinorUnits,
		&rec.CurrencyCode, &rec.Note, &occurredAt, &updatedAt, &syncedAt,
		&deleted, &rec.Source, &rec.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction: %v", ErrStorageUnavailable, err)
	}
	rec.OccurredAt = parseTime(occurredAt)
	rec.ClientUpdatedAt = parseTime(updatedAt)
	rec.SyncedAt = parseTime(syncedAt)
	rec.IsDeleted = deleted != 0
	return &rec, nil
}

// PutCategory writes a full category mirror record.
func (s *Store) PutCategory(ctx context.Context, rec *CategoryRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return putCategoryTx(ctx, tx, rec)
	})
}

func putCategoryTx(ctx context.Context, tx *sql.Tx, rec *CategoryRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO categories
			(client_id, server_id, owner_id, name, color, kind,
			 client_updated_at, synced_at, is_deleted, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			server_id         = excluded.server_id,
			owner_id          = excluded.owner_id,
			name              = excluded.name,
			color             = excluded.color,
			kind              = excluded.kind,
			client_updated_at = excluded.client_updated_at,
			synced_at         = excluded.synced_at,
			is_deleted        = excluded.is_deleted,
			status            = excluded.status
	`, rec.ClientID, rec.ServerID, rec.OwnerID, rec.Name, rec.Color, rec.Kind,
		formatTime(rec.ClientUpdatedAt), formatTime(rec.SyncedAt),
		boolToInt(rec.IsDeleted), rec.Status)
	if err != nil {
		return fmt.Errorf("%w: put category: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// CategoriesByOwner returns category mirrors, most recently edited first.
func (s *Store) CategoriesByOwner(ctx context.Context, ownerID string, limit int) ([]CategoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, server_id, owner_id, name, color, kind,
		       client_updated_at, synced_at, is_deleted, status
		FROM categories
		WHERE owner_id = ?
		ORDER BY client_updated_at DESC
		LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query categories: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []CategoryRecord
	for rows.Next() {
		var rec CategoryRecord
		var updatedAt, syncedAt string
		var deleted int
		if err := rows.Scan(&rec.ClientID, &rec.ServerID, &rec.OwnerID, &rec.Name,
			&rec.Color, &rec.Kind, &updatedAt, &syncedAt, &deleted, &rec.Status); err != nil {
			return nil, fmt.Errorf("%w: scan category: %v", ErrStorageUnavailable, err)
		}
		rec.ClientUpdatedAt = parseTime(updatedAt)
		rec.SyncedAt = parseTime(syncedAt)
		rec.IsDeleted = deleted != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate categories: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

func enqueueTx(ctx context.Context, tx *sql.Tx, op *QueuedOperation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_queue
			(client_id, entity, op, payload, owner_id, client_updated_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, op.ClientID, op.Entity, op.Op, string(op.Payload), op.OwnerID,
		formatTime(op.ClientUpdatedAt), StatusQueued)
	if err != nil {
		return fmt.Errorf("%w: enqueue: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// PendingOperations returns up to limit queued operations oldest-first,
// the drain order the sync protocol depends on.
func (s *Store) PendingOperations(ctx context.Context, limit int) ([]QueuedOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT queue_id, client_id, entity, op, payload, owner_id,
		       client_updated_at, status, queued_at
		FROM pending_queue
		ORDER BY queue_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query queue: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []QueuedOperation
	for rows.Next() {
		var op QueuedOperation
		var payload, updatedAt, queuedAt string
		if err := rows.Scan(&op.QueueID, &op.ClientID, &op.Entity, &op.Op, &payload,
			&op.OwnerID, &updatedAt, &op.Status, &queuedAt); err != nil {
			return nil, fmt.Errorf("%w: scan queue entry: %v", ErrStorageUnavailable, err)
		}
		op.Payload = []byte(payload)
		op.ClientUpdatedAt = parseTime(updatedAt)
		op.QueuedAt = parseTime(queuedAt)
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate queue: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// PendingCount reports the number of queued operations.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count queue: %v", ErrStorageUnavailable, err)
	}
	return n, nil
}

// ClearQueueThrough removes queued operations up to and including
// maxQueueID. Called only after the reconciliation endpoint confirmed
// acceptance of that drained prefix; operations enqueued during the
// round-trip have higher queue ids and stay queued.
func (s *Store) ClearQueueThrough(ctx context.Context, maxQueueID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_queue WHERE queue_id <= ?`, maxQueueID); err != nil {
			return fmt.Errorf("%w: clear queue: %v", ErrStorageUnavailable, err)
		}
		return nil
	})
}

// MarkTransactionSynced stamps a mirror row after server acceptance.
func (s *Store) MarkTransactionSynced(ctx context.Context, clientID, serverID string, syncedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET status = ?, synced_at = ?,
			    server_id = CASE WHEN ? != '' THEN ? ELSE server_id END
			WHERE client_id = ?
		`, StatusSynced, formatTime(syncedAt), serverID, serverID, clientID)
		if err != nil {
			return fmt.Errorf("%w: mark transaction synced: %v", ErrStorageUnavailable, err)
		}
		return nil
	})
}

// MarkCategorySynced stamps a category mirror row after server acceptance.
func (s *Store) MarkCategorySynced(ctx context.Context, clientID, serverID string, syncedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE categories
			SET status = ?, synced_at = ?,
			    server_id = CASE WHEN ? != '' THEN ? ELSE server_id END
			WHERE client_id = ?
		`, StatusSynced, formatTime(syncedAt), serverID, serverID, clientID)
		if err != nil {
			return fmt.Errorf("%w: mark category synced: %v", ErrStorageUnavailable, err)
		}
		return nil
	})
}

// SetMeta writes a value into the named meta slot.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			return fmt.Errorf("%w: set meta %s: %v", ErrStorageUnavailable, key, err)
		}
		return nil
	})
}

// GetMeta reads a meta slot; ok is false when the slot is empty.
func (s *Store) GetMeta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get meta %s: %v", ErrStorageUnavailable, key, err)
	}
	return value, true, nil
}

// DeleteMeta clears a meta slot.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, key); err != nil {
			return fmt.Errorf("%w: delete meta %s: %v", ErrStorageUnavailable, key, err)
		}
		return nil
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
