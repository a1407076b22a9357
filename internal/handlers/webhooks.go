package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/baraholka/api/internal/domain"
	"github.com/baraholka/api/internal/platform/httpx"
	"github.com/baraholka/api/internal/services"
)

// WebhookHandlers receives moderation decisions and payment confirmations.
// The router guards this group with the shared-secret signature middleware.
type WebhookHandlers struct {
	moderation services.ModerationService
	ledger     services.LedgerService
	promotions services.PromotionService
}

// NewWebhookHandlers constructs handlers for the /webhooks group.
func NewWebhookHandlers(moderation services.ModerationService, ledger services.LedgerService, promotions services.PromotionService) *WebhookHandlers {
	return &WebhookHandlers{moderation: moderation, ledger: ledger, promotions: promotions}
}

// Routes wires the webhook endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/moderation", h.moderationDecision)
	r.Post("/payments", h.paymentSettled)
}

type moderationDecisionRequest struct {
	ListingID string `json:"listingId"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason"`
}

// moderationDecision applies a reviewer verdict. Redeliveries of a settled
// decision return success without side effects.
func (h *WebhookHandlers) moderationDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req moderationDecisionRequest
	if !decodeJSONBody(ctx, w, r, maxListingBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.ListingID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listingId is required", http.StatusBadRequest))
		return
	}

	var err error
	switch req.Outcome {
	case domain.DecisionOutcomeApproved:
		err = h.moderation.Approve(ctx, req.ListingID)
	case domain.DecisionOutcomeRejected:
		if strings.TrimSpace(req.Reason) == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reason is required for rejection", http.StatusBadRequest))
			return
		}
		err = h.moderation.Reject(ctx, req.ListingID, req.Reason)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "outcome must be approved or rejected", http.StatusBadRequest))
		return
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

type paymentSettledRequest struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	PackageType string `json:"packageType"`
	PurchaseID  string `json:"purchaseId"`
}

// paymentSettled lands the provider's success callback. Package top-ups credit
// the account; promotion captures flip the pending purchase row to paid so
// approval can activate it.
func (h *WebhookHandlers) paymentSettled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req paymentSettledRequest
	if !decodeJSONBody(ctx, w, r, maxListingBodySize, &req) {
		return
	}

	switch req.Type {
	case "package.paid":
		if _, err := h.ledger.CreditPackage(ctx, services.CreditPackageCommand{
			UserID:        req.UserID,
			PackageType:   req.PackageType,
			PaymentMethod: services.PaymentMethodInvoice,
		}); err != nil {
			writeServiceError(ctx, w, err)
			return
		}
	case "promotion.paid":
		if strings.TrimSpace(req.PurchaseID) == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "purchaseId is required", http.StatusBadRequest))
			return
		}
		if _, err := h.promotions.SettlePayment(ctx, req.PurchaseID); err != nil {
			writeServiceError(ctx, w, err)
			return
		}
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unsupported event type", http.StatusBadRequest))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}
