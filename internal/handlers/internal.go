package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/baraholka/api/internal/platform/httpx"
	"github.com/baraholka/api/internal/services"
)

const defaultExpiryBatch = 100

// InternalHandlers serves scheduler and worker callbacks.
type InternalHandlers struct {
	listings services.ListingService
	assets   services.AssetService
}

// NewInternalHandlers constructs handlers for the /internal group.
func NewInternalHandlers(listings services.ListingService, assets services.AssetService) *InternalHandlers {
	return &InternalHandlers{listings: listings, assets: assets}
}

// Routes wires the internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/listings/expire", h.expireListings)
	r.Post("/assets/optimized", h.assetOptimized)
}

type expireListingsRequest struct {
	Limit int `json:"limit"`
}

// expireListings is the external scheduler tick driving active → expired.
func (h *InternalHandlers) expireListings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := expireListingsRequest{Limit: defaultExpiryBatch}
	if r.ContentLength > 0 {
		if !decodeJSONBody(ctx, w, r, maxListingBodySize, &req) {
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = defaultExpiryBatch
	}

	expired, err := h.listings.ExpireDue(ctx, req.Limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"expired": expired})
}

type assetOptimizedRequest struct {
	ListingID     string `json:"listingId"`
	AssetID       string `json:"assetId"`
	OptimizedPath string `json:"optimizedPath"`
}

// assetOptimized records a derived rendition produced by the background worker.
func (h *InternalHandlers) assetOptimized(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req assetOptimizedRequest
	if !decodeJSONBody(ctx, w, r, maxListingBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.ListingID) == "" || strings.TrimSpace(req.AssetID) == "" || strings.TrimSpace(req.OptimizedPath) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listingId, assetId, and optimizedPath are required", http.StatusBadRequest))
		return
	}

	if err := h.assets.RecordOptimized(ctx, req.ListingID, req.AssetID, req.OptimizedPath); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
