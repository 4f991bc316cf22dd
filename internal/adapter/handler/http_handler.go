package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/ledger"
	"github.com/rl1809/stock-ledger/internal/notifier"
)

type HTTPHandler struct {
	ledger          *ledger.Ledger
	hub             *notifier.Notifier
	mutationTimeout time.Duration
	logger          *zap.Logger
}

type MutateRequest struct {
	ProductID     string `json:"product_id"`
	Delta         int64  `json:"delta"`
	Cause         string `json:"cause,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type MutateResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Stock     int64  `json:"stock,omitempty"`
	Version   uint64 `json:"version,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
	// CurrentStock is set on insufficient-stock rejections so the caller
	// can show what is actually available.
	CurrentStock *int64 `json:"current_stock,omitempty"`
}

type CatalogResponse struct {
	Products []domain.StockSnapshot `json:"products"`
	Sequence uint64                 `json:"sequence"`
}

func NewHTTPHandler(l *ledger.Ledger, hub *notifier.Notifier, mutationTimeout time.Duration, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{ledger: l, hub: hub, mutationTimeout: mutationTimeout, logger: logger}
}

func (h *HTTPHandler) Mutate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, MutateResponse{Success: false, Message: "invalid request body"})
		return
	}
	if req.ProductID == "" || req.Delta == 0 {
		writeJSON(w, http.StatusBadRequest, MutateResponse{Success: false, Message: "product_id and a non-zero delta are required"})
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.mutationTimeout)
	defer cancel()

	res, err := h.ledger.ApplyMutation(ctx, domain.MutationRequest{
		ProductID:     req.ProductID,
		Delta:         req.Delta,
		Cause:         domain.Cause(req.Cause),
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		h.writeMutateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MutateResponse{
		Success:   true,
		ProductID: res.ProductID,
		Name:      res.Name,
		Stock:     res.Stock,
		Version:   res.Version,
		Sequence:  res.Sequence,
	})
}

func (h *HTTPHandler) writeMutateError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		stock := insufficient.Stock
		writeJSON(w, http.StatusConflict, MutateResponse{
			Success:      false,
			Message:      "insufficient stock",
			CurrentStock: &stock,
		})
		return
	}

	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case errors.Is(err, domain.ErrDuplicateRequest):
		status, message = http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrNotReady):
		status, message = http.StatusServiceUnavailable, "ledger warming up, retry shortly"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, message = http.StatusServiceUnavailable, "store unavailable"
	case errors.Is(err, domain.ErrTransactionAborted):
		status, message = http.StatusServiceUnavailable, "transaction aborted"
	case errors.Is(err, domain.ErrTimeout):
		status, message = http.StatusGatewayTimeout, "timed out"
	case errors.Is(err, domain.ErrProductNotFound):
		status, message = http.StatusNotFound, "product not found"
	case errors.Is(err, domain.ErrLockAbandoned):
		message = "mutation outcome uncertain, check current stock"
	default:
		h.logger.Error("mutation failed", zap.Error(err))
	}
	writeJSON(w, status, MutateResponse{Success: false, Message: message})
}

// Read serves GET /api/stock/{id}.
func (h *HTTPHandler) Read(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	productID := strings.TrimPrefix(r.URL.Path, "/api/stock/")
	if productID == "" || strings.Contains(productID, "/") {
		http.Error(w, "bad product id", http.StatusBadRequest)
		return
	}

	snap, err := h.ledger.ReadStock(r.Context(), productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		h.logger.Error("read stock failed", zap.String("product_id", productID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Catalog serves GET /api/stock: the full state pull subscribers fall back
// to when told to resync. The response carries the notifier's current
// sequence so the client can re-attach from there.
func (h *HTTPHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Current sequence is read before the snapshot; events published in
	// between are replayed on re-attach, which is safe because cache writes
	// land before their event is published.
	seq := h.hub.CurrentSequence()
	products, err := h.ledger.Catalog(r.Context())
	if err != nil {
		h.logger.Error("catalog read failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, CatalogResponse{Products: products, Sequence: seq})
}

// Stream serves GET /api/stream: a server-sent-events bridge over one
// notifier delivery handle. Query params: subscriber_id (generated when
// absent), last_sequence (0 = live only from now).
func (h *HTTPHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	subscriberID := r.URL.Query().Get("subscriber_id")
	if subscriberID == "" {
		subscriberID = uuid.NewString()
	}
	var lastSequence uint64
	if raw := r.URL.Query().Get("last_sequence"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "bad last_sequence", http.StatusBadRequest)
			return
		}
		lastSequence = v
	}

	handle, err := h.hub.Attach(subscriberID, lastSequence)
	if err != nil {
		var resync *notifier.ResyncRequiredError
		if errors.As(err, &resync) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":            "resync_required",
				"oldest_retained":  resync.OldestRetained,
				"current_sequence": resync.Current,
			})
			return
		}
		h.logger.Error("subscriber attach failed", zap.String("subscriber_id", subscriberID), zap.Error(err))
		http.Error(w, "attach failed", http.StatusServiceUnavailable)
		return
	}
	defer h.hub.Detach(subscriberID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("subscriber attached",
		zap.String("subscriber_id", subscriberID),
		zap.Uint64("last_sequence", lastSequence),
	)

	resync := handle.Resync()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-resync:
			fmt.Fprint(w, "event: resync\ndata: {}\n\n")
			flusher.Flush()
			return
		case ev, open := <-handle.Events():
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to marshal change event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: stock\nid: %d\ndata: %s\n\n", ev.Sequence, data)
			flusher.Flush()
		}
	}
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
