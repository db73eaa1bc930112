package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hvacdash/hvacdash/pkg/config"
	"github.com/hvacdash/hvacdash/pkg/httpx"
)

// LimitChecker reports whether the store has room for more data
type LimitChecker interface {
	CheckStorageLimit() error
}

// Handler serves the ingestion and device-log endpoints
type Handler struct {
	store   Store
	writer  *Writer
	devices *DeviceTracker
	limit   LimitChecker
}

// NewHandler creates a new ingest handler. limit may be nil.
func NewHandler(writer *Writer, limit LimitChecker) *Handler {
	return &Handler{
		store:   writer.store,
		writer:  writer,
		devices: writer.devices,
		limit:   limit,
	}
}

// IngestRequest represents the request payload
type IngestRequest struct {
	Readings []Sample `json:"readings"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status  string `json:"status"`
	Count   int    `json:"count"`
	Message string `json:"message,omitempty"`
}

// HandleReadings handles POST /api/v1/readings
func (h *Handler) HandleReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(req.Readings) > MaxReadingsPerRequest {
		httpx.RespondError(w, http.StatusBadRequest, ErrTooManyReadings)
		return
	}

	// Reject the whole batch before writing anything
	for i, s := range req.Readings {
		if err := ValidateSample(s); err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid reading %d: %v", i, err))
			return
		}
	}

	if h.limit != nil {
		if err := h.limit.CheckStorageLimit(); err != nil {
			httpx.RespondError(w, http.StatusInsufficientStorage, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	for i, s := range req.Readings {
		if _, err := h.writer.Write(ctx, s); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				httpx.RespondErrorString(w, http.StatusServiceUnavailable,
					fmt.Sprintf("timed out after %d of %d readings", i, len(req.Readings)))
				return
			}
			httpx.RespondStoreError(w, r, fmt.Errorf("reading %d of %d: %w", i, len(req.Readings), err))
			return
		}
	}

	httpx.RespondJSON(w, http.StatusOK, IngestResponse{
		Status: "success",
		Count:  len(req.Readings),
	})
}

// HandleDeviceStats handles GET /api/v1/ingest/stats
func (h *Handler) HandleDeviceStats(w http.ResponseWriter, r *http.Request) {
	if h.devices == nil {
		httpx.RespondErrorString(w, http.StatusNotFound, "device tracking disabled")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.devices.Stats(staleDeviceAge))
}
