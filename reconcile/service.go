// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"fmt"
	"log/slog"
)

// Service applies ownership-scoped batches of queued client operations with
// idempotent upsert/delete semantics and a last-writer-wins conflict check.
// This is the server half of the offline sync protocol.
type Service struct {
	store  Store
	logger *slog.Logger
	config *ServiceConfig
}

// ServiceConfig holds limits for batch processing.
type ServiceConfig struct {
	MaxBatchSize    int // Maximum items per request (0 = unlimited)
	MaxPayloadBytes int // Maximum raw payload size per item in bytes (0 = unlimited)
}

// DefaultServiceConfig returns limits matching the client's upload batch cap.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxBatchSize:    500,
		MaxPayloadBytes: 64 * 1024,
	}
}

// NewService creates a reconciliation service over the given store.
func NewService(store Store, config *ServiceConfig, logger *slog.Logger) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		config: config,
	}
}

// ProcessBatch applies each item in request order and returns one result
// per item, positionally correlated to the input. Item outcomes are
// independent: a validation failure or conflict on one item never aborts
// the rest of the batch. A non-nil error is returned only for
// whole-request failures (oversized batch).
func (s *Service) ProcessBatch(ctx context.Context, ownerID string, req *BatchRequest) (*BatchResponse, error) {
	if s.config.MaxBatchSize > 0 && len(req.Items) > s.config.MaxBatchSize {
		return nil, fmt.Errorf("batch too large: %d items exceeds limit of %d", len(req.Items), s.config.MaxBatchSize)
	}

	results := make([]ItemResult, 0, len(req.Items))
	for i := range req.Items {
		item := &req.Items[i]
		result := s.applyItem(ctx, ownerID, item)
		if result.Status == StError {
			s.logger.Warn("batch item rejected",
				"owner_id", ownerID,
				"client_id", item.ClientID,
				"entity", item.Entity,
				"op", item.Op,
				"error", result.Error)
		}
		results = append(results, result)
	}

	s.logger.Debug("processed sync batch",
		"owner_id", ownerID,
		"items", len(req.Items))

	return &BatchResponse{Results: results}, nil
}
