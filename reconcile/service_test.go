// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for exercising batch semantics without a
// database. It does plain CRUD; conflict policy lives in the service.
type memStore struct {
	mu   sync.Mutex
	txns map[string]*Transaction
	cats map[string]*Category
}

func newMemStore() *memStore {
	return &memStore{
		txns: make(map[string]*Transaction),
		cats: make(map[string]*Category),
	}
}

func skey(ownerID, clientID string) string { return ownerID + "|" + clientID }

func (m *memStore) FindTransaction(_ context.Context, ownerID, clientID string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[skey(ownerID, clientID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) UpsertTransaction(_ context.Context, txn *Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := skey(txn.OwnerID, txn.ClientID)
	cp := *txn
	if existing, ok := m.txns[key]; ok {
		cp.ServerID = existing.ServerID
	} else {
		cp.ServerID = uuid.NewString()
	}
	cp.SyncedAt = time.Now().UTC()
	cp.IsDeleted = false
	m.txns[key] = &cp
	return cp.ServerID, nil
}

func (m *memStore) TombstoneTransaction(_ context.Context, ownerID, clientID string, clientUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.txns[skey(ownerID, clientID)]; ok {
		t.IsDeleted = true
		t.ClientUpdatedAt = clientUpdatedAt
		t.SyncedAt = time.Now().UTC()
	}
	return nil
}

func (m *memStore) FindCategory(_ context.Context, ownerID, clientID string) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cats[skey(ownerID, clientID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) UpsertCategory(_ context.Context, cat *Category) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := skey(cat.OwnerID, cat.ClientID)
	cp := *cat
	if existing, ok := m.cats[key]; ok {
		cp.ServerID = existing.ServerID
	} else {
		cp.ServerID = uuid.NewString()
	}
	cp.SyncedAt = time.Now().UTC()
	cp.IsDeleted = false
	m.cats[key] = &cp
	return cp.ServerID, nil
}

func (m *memStore) TombstoneCategory(_ context.Context, ownerID, clientID string, clientUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cats[skey(ownerID, clientID)]; ok {
		c.IsDeleted = true
		c.ClientUpdatedAt = clientUpdatedAt
		c.SyncedAt = time.Now().UTC()
	}
	return nil
}

func newTestService(store Store) *Service {
	return NewService(store, DefaultServiceConfig(), nil)
}

func txnItem(t *testing.T, clientID string, amount int64, note string, updatedAt time.Time) BatchItem {
	t.Helper()
	payload, err := json.Marshal(TransactionPayload{
		ClientID:         clientID,
		AmountMinorUnits: amount,
		CurrencyCode:     "USD",
		Note:             note,
		OccurredAt:       updatedAt.Add(-time.Minute),
		ClientUpdatedAt:  updatedAt,
		Source:           "offline",
	})
	require.NoError(t, err)
	return BatchItem{
		ClientID:        clientID,
		Entity:          EntityTransaction,
		Op:              OpUpsert,
		Payload:         payload,
		ClientUpdatedAt: updatedAt,
	}
}

func deleteItem(t *testing.T, entity, clientID string, updatedAt time.Time) BatchItem {
	t.Helper()
	payload, err := json.Marshal(DeletePayload{ClientID: clientID, ClientUpdatedAt: updatedAt})
	require.NoError(t, err)
	return BatchItem{
		ClientID:        clientID,
		Entity:          entity,
		Op:              OpDelete,
		Payload:         payload,
		ClientUpdatedAt: updatedAt,
	}
}

func TestProcessBatch_UpsertAssignsServerID(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	clientID := uuid.NewString()

	resp, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{txnItem(t, clientID, 500, "coffee", time.Now().UTC())},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, StSynced, resp.Results[0].Status)
	require.Equal(t, clientID, resp.Results[0].ClientID)
	require.NotEmpty(t, resp.Results[0].ServerID)

	saved, err := store.FindTransaction(context.Background(), "owner1", clientID)
	require.NoError(t, err)
	require.Equal(t, int64(500), saved.AmountMinorUnits)
	require.False(t, saved.SyncedAt.IsZero())
}

func TestProcessBatch_IdempotentUpsert(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	clientID := uuid.NewString()
	stamp := time.Now().UTC()
	item := txnItem(t, clientID, 500, "coffee", stamp)

	first, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{Items: []BatchItem{item}})
	require.NoError(t, err)
	second, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{Items: []BatchItem{item}})
	require.NoError(t, err)

	// Same identity, same state, no duplicate.
	require.Equal(t, StSynced, second.Results[0].Status)
	require.Equal(t, first.Results[0].ServerID, second.Results[0].ServerID)
	require.Len(t, store.txns, 1)

	saved, err := store.FindTransaction(context.Background(), "owner1", clientID)
	require.NoError(t, err)
	require.Equal(t, int64(500), saved.AmountMinorUnits)
	require.True(t, saved.ClientUpdatedAt.Equal(stamp))
}

func TestProcessBatch_LastWriterWinsEitherOrder(t *testing.T) {
	t1 := time.Now().UTC()
	t2 := t1.Add(time.Minute)

	for name, order := range map[string][2]time.Time{
		"oldest first": {t1, t2},
		"newest first": {t2, t1},
	} {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestService(store)
			clientID := uuid.NewString()

			for _, stamp := range order {
				note := fmt.Sprintf("note@%d", stamp.UnixNano())
				_, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
					Items: []BatchItem{txnItem(t, clientID, 500, note, stamp)},
				})
				require.NoError(t, err)
			}

			saved, err := store.FindTransaction(context.Background(), "owner1", clientID)
			require.NoError(t, err)
			require.True(t, saved.ClientUpdatedAt.Equal(t2), "T2 payload must prevail")
			require.Equal(t, fmt.Sprintf("note@%d", t2.UnixNano()), saved.Note)
		})
	}
}

func TestProcessBatch_SkipOnStale(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	clientID := uuid.NewString()
	t2 := time.Now().UTC()
	t3 := t2.Add(time.Hour)

	// Device B already persisted a newer version.
	_, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{txnItem(t, clientID, 900, "newer from device B", t3)},
	})
	require.NoError(t, err)

	resp, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{txnItem(t, clientID, 500, "stale from device A", t2)},
	})
	require.NoError(t, err)
	require.Equal(t, StSkipped, resp.Results[0].Status)

	saved, err := store.FindTransaction(context.Background(), "owner1", clientID)
	require.NoError(t, err)
	require.Equal(t, int64(900), saved.AmountMinorUnits)
	require.Equal(t, "newer from device B", saved.Note)
	require.True(t, saved.ClientUpdatedAt.Equal(t3))
}

func TestProcessBatch_CreateThenEditAppliedInOrder(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	clientID := uuid.NewString()
	t1 := time.Now().UTC()
	t2 := t1.Add(time.Second)

	resp, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{
			txnItem(t, clientID, 500, "created", t1),
			txnItem(t, clientID, 500, "edited", t2),
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	require.Equal(t, StSynced, resp.Results[0].Status)
	require.Equal(t, StSynced, resp.Results[1].Status)

	saved, err := store.FindTransaction(context.Background(), "owner1", clientID)
	require.NoError(t, err)
	require.Equal(t, "edited", saved.Note)
	require.True(t, saved.ClientUpdatedAt.Equal(t2))
}

func TestProcessBatch_PartialBatchContinuesPastErrors(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	good := uuid.NewString()
	stamp := time.Now().UTC()

	bad := BatchItem{
		ClientID:        "bad-item-1",
		Entity:          EntityTransaction,
		Op:              OpUpsert,
		Payload:         json.RawMessage(`{"clientId":"bad-item-1","amountMinorUnits":-5,"currencyCode":"USD"}`),
		ClientUpdatedAt: stamp,
	}

	resp, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{bad, txnItem(t, good, 700, "fine", stamp)},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	require.Equal(t, StError, resp.Results[0].Status)
	require.NotEmpty(t, resp.Results[0].Error)
	require.Equal(t, StSynced, resp.Results[1].Status)

	_, err = store.FindTransaction(context.Background(), "owner1", good)
	require.NoError(t, err)
}

func TestProcessBatch_UnknownEntityAndOp(t *testing.T) {
	svc := newTestService(newMemStore())
	stamp := time.Now().UTC()

	resp, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{
			{ClientID: "client-1", Entity: "budget", Op: OpUpsert, Payload: json.RawMessage(`{}`), ClientUpdatedAt: stamp},
			{ClientID: "client-2", Entity: EntityTransaction, Op: "merge", Payload: json.RawMessage(`{}`), ClientUpdatedAt: stamp},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StError, resp.Results[0].Status)
	require.Contains(t, resp.Results[0].Error, ReasonUnknownEntity)
	require.Equal(t, StError, resp.Results[1].Status)
	require.Contains(t, resp.Results[1].Error, ReasonUnknownOp)
}

func TestProcessBatch_DeleteTombstones(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	clientID := uuid.NewString()
	t1 := time.Now().UTC()

	_, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{txnItem(t, clientID, 500, "to delete", t1)},
	})
	require.NoError(t, err)

	resp, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{deleteItem(t, EntityTransaction, clientID, t1.Add(time.Second))},
	})
	require.NoError(t, err)
	require.Equal(t, StSynced, resp.Results[0].Status)
	require.Empty(t, resp.Results[0].ServerID)

	saved, err := store.FindTransaction(context.Background(), "owner1", clientID)
	require.NoError(t, err)
	require.True(t, saved.IsDeleted)
}

func TestProcessBatch_DeleteOfUnknownRecordIsIdempotent(t *testing.T) {
	svc := newTestService(newMemStore())

	resp, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{deleteItem(t, EntityTransaction, uuid.NewString(), time.Now().UTC())},
	})
	require.NoError(t, err)
	require.Equal(t, StSynced, resp.Results[0].Status)
}

func TestProcessBatch_CategoryRoundTrip(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	clientID := uuid.NewString()
	stamp := time.Now().UTC()

	payload, err := json.Marshal(CategoryPayload{
		ClientID:        clientID,
		Name:            "Groceries",
		Color:           "#00aa55",
		Kind:            "expense",
		ClientUpdatedAt: stamp,
	})
	require.NoError(t, err)

	resp, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{{
			ClientID:        clientID,
			Entity:          EntityCategory,
			Op:              OpUpsert,
			Payload:         payload,
			ClientUpdatedAt: stamp,
		}},
	})
	require.NoError(t, err)
	require.Equal(t, StSynced, resp.Results[0].Status)
	require.NotEmpty(t, resp.Results[0].ServerID)

	resp, err = svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{deleteItem(t, EntityCategory, clientID, stamp.Add(time.Second))},
	})
	require.NoError(t, err)
	require.Equal(t, StSynced, resp.Results[0].Status)

	saved, err := store.FindCategory(context.Background(), "owner1", clientID)
	require.NoError(t, err)
	require.True(t, saved.IsDeleted)
}

func TestProcessBatch_OwnershipScoping(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	clientID := uuid.NewString()
	stamp := time.Now().UTC()

	_, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{txnItem(t, clientID, 500, "mine", stamp)},
	})
	require.NoError(t, err)

	// Same clientId under a different owner is a distinct record.
	_, err = svc.ProcessBatch(context.Background(), "owner2", &BatchRequest{
		Items: []BatchItem{txnItem(t, clientID, 700, "theirs", stamp)},
	})
	require.NoError(t, err)

	mine, err := store.FindTransaction(context.Background(), "owner1", clientID)
	require.NoError(t, err)
	require.Equal(t, int64(500), mine.AmountMinorUnits)
	theirs, err := store.FindTransaction(context.Background(), "owner2", clientID)
	require.NoError(t, err)
	require.Equal(t, int64(700), theirs.AmountMinorUnits)
}

func TestProcessBatch_RejectsOversizedBatch(t *testing.T) {
	svc := NewService(newMemStore(), &ServiceConfig{MaxBatchSize: 2}, nil)
	stamp := time.Now().UTC()

	items := make([]BatchItem, 3)
	for i := range items {
		items[i] = txnItem(t, uuid.NewString(), 100, "x", stamp)
	}
	_, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{Items: items})
	require.Error(t, err)
	require.Contains(t, err.Error(), "batch too large")
}

func TestProcessBatch_EqualTimestampOverwrites(t *testing.T) {
	// An equal stamp is not "strictly newer", so the retry path converges
	// instead of skipping.
	store := newMemStore()
	svc := newTestService(store)
	clientID := uuid.NewString()
	stamp := time.Now().UTC()

	_, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{txnItem(t, clientID, 500, "first", stamp)},
	})
	require.NoError(t, err)

	resp, err := svc.ProcessBatch(context.Background(), "owner1", &BatchRequest{
		Items: []BatchItem{txnItem(t, clientID, 500, "retried", stamp)},
	})
	require.NoError(t, err)
	require.Equal(t, StSynced, resp.Results[0].Status)
}
