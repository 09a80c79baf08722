// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStore(mock), mock
}

func TestPgStore_FindTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, owner_id, client_id, amount_minor_units, currency_code, note`).
		WithArgs("owner-1", "client-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner_id", "client_id", "amount_minor_units", "currency_code",
			"note", "occurred_at", "client_updated_at", "synced_at", "is_deleted", "source",
		}).AddRow("srv-1", "owner-1", "client-1", int64(500), "USD",
			"coffee", now, now, now, false, "offline"))

	txn, err := store.FindTransaction(ctx, "owner-1", "client-1")
	require.NoError(t, err)
	require.Equal(t, "srv-1", txn.ServerID)
	require.Equal(t, int64(500), txn.AmountMinorUnits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_FindTransaction_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, owner_id, client_id, amount_minor_units, currency_code, note`).
		WithArgs("owner-1", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindTransaction(context.Background(), "owner-1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_UpsertTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO transactions`).
		WithArgs(pgxmock.AnyArg(), "owner-1", "client-1", int64(500), "USD",
			"coffee", now.Add(-time.Minute), now, "offline").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("srv-1"))

	serverID, err := store.UpsertTransaction(context.Background(), &Transaction{
		OwnerID:          "owner-1",
		ClientID:         "client-1",
		AmountMinorUnits: 500,
		CurrencyCode:     "USD",
		Note:             "coffee",
		OccurredAt:       now.Add(-time.Minute),
		ClientUpdatedAt:  now,
		Source:           "offline",
	})
	require.NoError(t, err)
	require.Equal(t, "srv-1", serverID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_TombstoneTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE transactions`).
		WithArgs("owner-1", "client-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.TombstoneTransaction(context.Background(), "owner-1", "client-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_TombstoneTransaction_MissingRowIsNotAnError(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE transactions`).
		WithArgs("owner-1", "ghost", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.TombstoneTransaction(context.Background(), "owner-1", "ghost", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_UpsertCategory(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO categories`).
		WithArgs(pgxmock.AnyArg(), "owner-1", "client-2", "Groceries", "#00aa55", "expense", now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("srv-2"))

	serverID, err := store.UpsertCategory(context.Background(), &Category{
		OwnerID:         "owner-1",
		ClientID:        "client-2",
		Name:            "Groceries",
		Color:           "#00aa55",
		Kind:            "expense",
		ClientUpdatedAt: now,
	})
	require.NoError(t, err)
	require.Equal(t, "srv-2", serverID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_InitSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS transactions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS transactions_owner_occurred_idx`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS categories`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	require.NoError(t, store.InitSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
