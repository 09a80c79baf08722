// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const identityMetaKey = "last_owner"

// DefaultIdentityTTL bounds how long offline writes are permitted after
// the identity provider was last reachable.
const DefaultIdentityTTL = 7 * 24 * time.Hour

type cachedIdentity struct {
	OwnerID string    `json:"ownerId"`
	SavedAt time.Time `json:"savedAt"`
}

// IdentityCache is a single-slot persisted record of the last
// authenticated owner on this device. It lets the queue manager accept
// writes while the identity provider is unreachable, but only for a
// principal that previously signed in here, and only within the TTL.
type IdentityCache struct {
	store *Store
	ttl   time.Duration
	now   func() time.Time
}

// NewIdentityCache creates a cache over the local store. ttl <= 0 selects
// DefaultIdentityTTL.
func NewIdentityCache(store *Store, ttl time.Duration) *IdentityCache {
	if ttl <= 0 {
		ttl = DefaultIdentityTTL
	}
	return &IdentityCache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// SaveOwner records the owner after a successful authentication,
// replacing any previous slot contents.
func (c *IdentityCache) SaveOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("ownerID required")
	}
	raw, err := json.Marshal(cachedIdentity{OwnerID: ownerID, SavedAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	return c.store.SetMeta(ctx, identityMetaKey, string(raw))
}

// CachedOwner returns the cached owner when the slot is populated and
// within TTL. An expired slot is cleared and reported as a miss.
func (c *IdentityCache) CachedOwner(ctx context.Context) (string, bool, error) {
	raw, ok, err := c.store.GetMeta(ctx, identityMetaKey)
	if err != nil || !ok {
		return "", false, err
	}

	var ident cachedIdentity
	if err := json.Unmarshal([]byte(raw), &ident); err != nil {
		// Unreadable slot: treat as absent rather than blocking writes forever.
		_ = c.store.DeleteMeta(ctx, identityMetaKey)
		return "", false, nil
	}
	if c.now().Sub(ident.SavedAt) > c.ttl {
		if err := c.store.DeleteMeta(ctx, identityMetaKey); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return ident.OwnerID, true, nil
}

// Invalidate clears the slot, e.g. on sign-out.
func (c *IdentityCache) Invalidate(ctx context.Context) error {
	return c.store.DeleteMeta(ctx, identityMetaKey)
}
