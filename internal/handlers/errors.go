package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/baraholka/api/internal/platform/httpx"
	"github.com/baraholka/api/internal/repositories"
	"github.com/baraholka/api/internal/services"
)

// writeServiceError maps service errors onto the canonical error envelope.
// Insufficient funds and missing images stay specific and actionable; storage
// and audit failures surface as a generic retry message with detail in logs.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInsufficientCredits):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_credits", "no listing credits left; purchase a package to continue", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrInsufficientBalance):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_balance", "balance does not cover this purchase", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrMissingAssets):
		httpx.WriteError(ctx, w, httpx.NewError("missing_assets", "attach at least one image before submitting", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "operation is not allowed in the listing's current state", http.StatusConflict))
	case errors.Is(err, services.ErrPromotionInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_in_flight", "a promotion is already pending or active for this listing", http.StatusConflict))
	case errors.Is(err, services.ErrUnknownPackage):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_package", "unknown package type", http.StatusBadRequest))
	case errors.Is(err, services.ErrUnknownPromotion):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_promotion", "unknown promotion type", http.StatusBadRequest))
	case errors.Is(err, services.ErrImageTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("image_too_large", "image exceeds the maximum allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, services.ErrUnsupportedImageType):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_image_type", "only JPEG, PNG, and WebP images are accepted", http.StatusUnsupportedMediaType))
	case errors.Is(err, services.ErrListingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("listing_not_found", "listing not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPromotionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_not_found", "promotion purchase not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "account not found", http.StatusNotFound))
	case errors.Is(err, services.ErrNotListingOwner):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "listing belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrStorageWrite), errors.Is(err, services.ErrAuditInconsistency):
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "something went wrong, please try again", http.StatusInternalServerError))
	case isRepoUnavailable(err):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "backend is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "something went wrong, please try again", http.StatusInternalServerError))
	}
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
