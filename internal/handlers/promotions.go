package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baraholka/api/internal/platform/httpx"
	"github.com/baraholka/api/internal/services"
)

// PromotionHandlers exposes the promotion catalog and purchase endpoints.
type PromotionHandlers struct {
	promotions services.PromotionService
}

// NewPromotionHandlers constructs handlers for the /promotions group.
func NewPromotionHandlers(promotions services.PromotionService) *PromotionHandlers {
	return &PromotionHandlers{promotions: promotions}
}

// Routes wires the promotion endpoints onto the provided router.
func (h *PromotionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/catalog", h.catalog)
	r.Post("/purchase", h.purchase)
	r.Get("/listing/{listingID}", h.listForListing)
}

func (h *PromotionHandlers) catalog(w http.ResponseWriter, r *http.Request) {
	tiers := make([]map[string]any, 0)
	for _, tier := range h.promotions.Catalog() {
		tiers = append(tiers, map[string]any{
			"type":         tier.Type,
			"title":        tier.Title,
			"price":        tier.Price,
			"currency":     tier.Currency,
			"durationDays": int(tier.Duration.Hours() / 24),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

type purchasePromotionRequest struct {
	ListingID      string `json:"listingId"`
	PromotionType  string `json:"promotionType"`
	PayFromBalance bool   `json:"payFromBalance"`
}

type promotionPurchasePayload struct {
	ID            string     `json:"id"`
	ListingID     string     `json:"listingId"`
	PromotionType string     `json:"promotionType"`
	Price         int64      `json:"price"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"paymentMethod"`
	StartsAt      *time.Time `json:"startsAt,omitempty"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func buildPromotionPayload(purchase services.PromotionPurchase) promotionPurchasePayload {
	return promotionPurchasePayload{
		ID:            purchase.ID,
		ListingID:     purchase.ListingID,
		PromotionType: purchase.PromotionType,
		Price:         purchase.Price,
		Currency:      purchase.Currency,
		Status:        string(purchase.Status),
		PaymentMethod: purchase.PaymentMethod,
		StartsAt:      purchase.StartsAt,
		EndsAt:        purchase.EndsAt,
		CreatedAt:     purchase.CreatedAt,
	}
}

func (h *PromotionHandlers) purchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}

	var req purchasePromotionRequest
	if !decodeJSONBody(ctx, w, r, maxListingBodySize, &req) {
		return
	}

	result, err := h.promotions.Purchase(ctx, services.PurchasePromotionCommand{
		UserID:         userID,
		ListingID:      req.ListingID,
		PromotionType:  req.PromotionType,
		PayFromBalance: req.PayFromBalance,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := map[string]any{"purchase": buildPromotionPayload(result.Purchase)}
	if result.CheckoutURL != "" {
		payload["checkoutUrl"] = result.CheckoutURL
	}
	httpx.WriteJSON(w, http.StatusCreated, payload)
}

func (h *PromotionHandlers) listForListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authedUser(ctx, w); !ok {
		return
	}
	purchases, err := h.promotions.ListByListing(ctx, chi.URLParam(r, "listingID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]promotionPurchasePayload, 0, len(purchases))
	for _, purchase := range purchases {
		payload = append(payload, buildPromotionPayload(purchase))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"purchases": payload})
}
