// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by Find* methods when no row matches
// (owner_id, client_id).
var ErrNotFound = errors.New("record not found")

// Store is the CRUD contract the reconciliation service consumes. The
// service does not depend on any relational schema beyond this interface.
type Store interface {
	FindTransaction(ctx context.Context, ownerID, clientID string) (*Transaction, error)
	UpsertTransaction(ctx context.Context, txn *Transaction) (serverID string, err error)
	TombstoneTransaction(ctx context.Context, ownerID, clientID string, clientUpdatedAt time.Time) error

	FindCategory(ctx context.Context, ownerID, clientID string) (*Category, error)
	UpsertCategory(ctx context.Context, cat *Category) (serverID string, err error)
	TombstoneCategory(ctx context.Context, ownerID, clientID string, clientUpdatedAt time.Time) error
}

// PgxPool is the minimal pool surface PgStore needs. It is implemented by
// *pgxpool.Pool and by pgxmock.PgxPoolIface in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PgStore implements Store on PostgreSQL.
type PgStore struct {
	pool PgxPool
}

// NewPgStore wraps an existing pool. Call InitSchema before first use.
func NewPgStore(pool PgxPool) *PgStore {
	return &PgStore{pool: pool}
}

// InitSchema creates the business tables if they don't exist, atomically.
func (s *PgStore) InitSchema(ctx context.Context) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin schema init: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	migrations := []string{
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS transactions (
			id                 UUID        PRIMARY KEY,
			owner_id           TEXT        NOT NULL,
			client_id          TEXT        NOT NULL,
			amount_minor_units BIGINT      NOT NULL,
			currency_code      TEXT        NOT NULL,
			note               TEXT        NOT NULL DEFAULT '',
			occurred_at        TIMESTAMPTZ NOT NULL,
			client_updated_at  TIMESTAMPTZ NOT NULL,
			synced_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_deleted         BOOLEAN     NOT NULL DEFAULT FALSE,
			source             TEXT        NOT NULL DEFAULT '',
			UNIQUE (owner_id, client_id)
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS transactions_owner_occurred_idx
			ON transactions (owner_id, occurred_at DESC)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS categories (
			id                UUID        PRIMARY KEY,
			owner_id          TEXT        NOT NULL,
			client_id         TEXT        NOT NULL,
			name              TEXT        NOT NULL,
			color             TEXT        NOT NULL DEFAULT '',
			kind              TEXT        NOT NULL DEFAULT '',
			client_updated_at TIMESTAMPTZ NOT NULL,
			synced_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_deleted        BOOLEAN     NOT NULL DEFAULT FALSE,
			UNIQUE (owner_id, client_id)
		)`,
	}
	for _, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema init: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// FindTransaction looks up a transaction by its sync identity.
func (s *PgStore) FindTransaction(ctx context.Context, ownerID, clientID string) (*Transaction, error) {
	var t Transaction
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, client_id, amount_minor_units, currency_code, note,
		       occurred_at, client_updated_at, synced_at, is_deleted, source
		FROM transactions
		WHERE owner_id = $1 AND client_id = $2
	`, ownerID, clientID).Scan(
		&t.ServerID, &t.OwnerID, &t.ClientID, &t.AmountMinorUnits, &t.CurrencyCode,
		&t.Note, &t.OccurredAt, &t.ClientUpdatedAt, &t.SyncedAt, &t.IsDeleted, &t.Source,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction %s: %w", clientID, err)
	}
	return &t, nil
}

// UpsertTransaction creates or replaces the stored transaction for
// (owner_id, client_id) and returns the row identity. The existing id is
// preserved across repeated upserts, so retries keep the same serverId.
func (s *PgStore) UpsertTransaction(ctx context.Context, txn *Transaction) (string, error) {
	var serverID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO transactions
			(id, owner_id, client_id, amount_minor_units, currency_code, note,
			 occurred_at, client_updated_at, synced_at, is_deleted, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), FALSE, $9)
		ON CONFLICT (owner_id, client_id) DO UPDATE SET
			amount_minor_units = EXCLUDED.amount_minor_units,
			currency_code      = EXCLUDED.currency_code,
			note               = EXCLUDED.note,
			occurred_at        = EXCLUDED.occurred_at,
			client_updated_at  = EXCLUDED.client_updated_at,
			synced_at          = now(),
			is_deleted         = FALSE,
			source             = EXCLUDED.source
		RETURNING id
	`, uuid.NewString(), txn.OwnerID, txn.ClientID, txn.AmountMinorUnits,
		txn.CurrencyCode, txn.Note, txn.OccurredAt, txn.ClientUpdatedAt, txn.Source,
	).Scan(&serverID)
	if err != nil {
		return "", fmt.Errorf("upsert transaction %s: %w", txn.ClientID, err)
	}
	return serverID, nil
}

// TombstoneTransaction soft-deletes the row if it exists. A missing row is
// not an error: deleting an unknown record is idempotent.
func (s *PgStore) TombstoneTransaction(ctx context.Context, ownerID, clientID string, clientUpdatedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET is_deleted = TRUE, client_updated_at = $3, synced_at = now()
		WHERE owner_id = $1 AND client_id = $2
	`, ownerID, clientID, clientUpdatedAt)
	if err != nil {
		return fmt.Errorf("tombstone transaction %s: %w", clientID, err)
	}
	return nil
}

// FindCategory looks up a category by its sync identity.
func (s *PgStore) FindCategory(ctx context.Context, ownerID, clientID string) (*Category, error) {
	var c Category
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, client_id, name, color, kind,
		       client_updated_at, synced_at, is_deleted
		FROM categories
		WHERE owner_id = $1 AND client_id = $2
	`, ownerID, clientID).Scan(
		&c.ServerID, &c.OwnerID, &c.ClientID, &c.Name, &c.Color, &c.Kind,
		&c.ClientUpdatedAt, &c.SyncedAt, &c.IsDeleted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find category %s: %w", clientID, err)
	}
	return &c, nil
}

// UpsertCategory creates or replaces the stored category for
// (owner_id, client_id) and returns the row identity.
func (s *PgStore) UpsertCategory(ctx context.Context, cat *Category) (string, error) {
	var serverID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO categories
			(id, owner_id, client_id, name, color, kind,
			 client_updated_at, synced_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), FALSE)
		ON CONFLICT (owner_id, client_id) DO UPDATE SET
			name              = EXCLUDED.name,
			color             = EXCLUDED.color,
			kind              = EXCLUDED.kind,
			client_updated_at = EXCLUDED.client_updated_at,
			synced_at         = now(),
			is_deleted        = FALSE
		RETURNING id
	`, uuid.NewString(), cat.OwnerID, cat.ClientID, cat.Name, cat.Color,
		cat.Kind, cat.ClientUpdatedAt,
	).Scan(&serverID)
	if err != nil {
		return "", fmt.Errorf("upsert category %s: %w", cat.ClientID, err)
	}
	return serverID, nil
}

// TombstoneCategory soft-deletes the row if it exists.
func (s *PgStore) TombstoneCategory(ctx context.Context, ownerID, clientID string, clientUpdatedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE categories
		SET is_deleted = TRUE, client_updated_at = $3, synced_at = now()
		WHERE owner_id = $1 AND client_id = $2
	`, ownerID, clientID, clientUpdatedAt)
	if err != nil {
		return fmt.Errorf("tombstone category %s: %w", clientID, err)
	}
	return nil
}
