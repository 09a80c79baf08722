// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/waleed-mirza/expenser/internal/auth"
)

// ClientAuthenticator extracts owner and device identity from HTTP requests.
// Implementations should validate auth (e.g., JWT) and provide both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetSourceID(r *http.Request) (string, error)
}

// HTTPHandlers provides HTTP handlers for the sync batch API
type HTTPHandlers struct {
	service       *Service
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPHandlers creates a new instance of sync handlers
func NewHTTPHandlers(service *Service, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// HandleBatch processes POST /sync/batch requests. Per-item failures are
// reported inside a 200 response; non-2xx statuses mean the whole batch
// was not applied and the client must keep its queue.
func (h *HTTPHandlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	ownerID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}
	deviceID, err := h.authenticator.GetSourceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}
	ctx := auth.SetAuthContext(r.Context(), ownerID, deviceID)

	var batchReq BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&batchReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse batch request")
		return
	}
	if batchReq.Items == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "items array required")
		return
	}

	response, err := h.service.ProcessBatch(ctx, ownerID, &batchReq)
	if err != nil {
		h.logger.Error("failed to process batch", "error", err, "owner_id", ownerID, "device_id", deviceID)
		h.writeError(w, http.StatusInternalServerError, "batch_failed", "Failed to process batch")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode batch response", "error", err, "owner_id", ownerID)
	}
}

// HandleHealth reports liveness for load balancers.
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *HTTPHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
