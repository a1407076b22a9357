package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	domain "github.com/baraholka/api/internal/domain"
	"github.com/baraholka/api/internal/repositories"
)

const reasonCreditRefund = "listing_rejected"

// Saga step names persisted on the decision record. A crash mid-sequence
// resumes at the first unfinished step instead of re-running refunds.
const (
	stepTransition       = "transition"
	stepPromotion        = "promotion"
	stepRefundCredit     = "refund_credit"
	stepRefundPromotions = "refund_promotions"
	stepNotify           = "notify"
	stepDeleteAssets     = "delete_assets"
	stepDeleteRows       = "delete_rows"
	stepDeleteListing    = "delete_listing"
)

// ModerationServiceDeps bundles dependencies required to construct a ModerationService implementation.
type ModerationServiceDeps struct {
	Listings      repositories.ListingRepository
	Decisions     repositories.DecisionRepository
	Favorites     repositories.FavoriteRepository
	ViewCounters  repositories.ViewCounterRepository
	Promotions    repositories.PromotionPurchaseRepository
	UnitOfWork    repositories.UnitOfWork
	Ledger        LedgerService
	PromotionSvc  PromotionService
	Assets        AssetService
	Notifications NotificationGateway
	// ActiveWindow is applied when approval sets a fresh expiry clock.
	ActiveWindow time.Duration
	Clock        Clock
	Logger       Logger
	IDs          IDGenerator
}

type moderationService struct {
	listings     repositories.ListingRepository
	decisions    repositories.DecisionRepository
	favorites    repositories.FavoriteRepository
	viewCounters repositories.ViewCounterRepository
	promotions   repositories.PromotionPurchaseRepository
	uow          repositories.UnitOfWork
	ledger       LedgerService
	promotionSvc PromotionService
	assets       AssetService
	notifier     NotificationGateway
	activeWindow time.Duration
	clock        Clock
	log          Logger
	newID        IDGenerator
}

// NewModerationService wires a ModerationService backed by the provided dependencies.
func NewModerationService(deps ModerationServiceDeps) (ModerationService, error) {
	if deps.Listings == nil || deps.Decisions == nil || deps.Favorites == nil ||
		deps.ViewCounters == nil || deps.Promotions == nil || deps.UnitOfWork == nil {
		return nil, ErrRepositoriesMissing
	}
	if deps.Ledger == nil {
		return nil, ErrLedgerMissing
	}
	if deps.PromotionSvc == nil {
		return nil, ErrPromotionLedgerMissing
	}
	if deps.Assets == nil {
		return nil, ErrBlobStoreMissing
	}
	if deps.Notifications == nil {
		return nil, ErrNotificationsMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}
	ids := deps.IDs
	if ids == nil {
		ids = defaultIDGenerator
	}
	window := deps.ActiveWindow
	if window <= 0 {
		window = defaultActiveWindow
	}
	return &moderationService{
		listings:     deps.Listings,
		decisions:    deps.Decisions,
		favorites:    deps.Favorites,
		viewCounters: deps.ViewCounters,
		promotions:   deps.Promotions,
		uow:          deps.UnitOfWork,
		ledger:       deps.Ledger,
		promotionSvc: deps.PromotionSvc,
		assets:       deps.Assets,
		notifier:     deps.Notifications,
		activeWindow: window,
		clock:        func() time.Time { return clock().UTC() },
		log:          log,
		newID:        ids,
	}, nil
}

// Approve publishes the listing, activates any waiting promotion, and notifies
// the owner. A repeated call on a settled decision is a no-op.
func (s *moderationService) Approve(ctx context.Context, listingID string) error {
	decision, err := s.loadDecision(ctx, listingID)
	if err != nil {
		return err
	}
	if decision != nil {
		if decision.Outcome != domain.DecisionOutcomeApproved {
			return ErrInvalidTransition
		}
		if decision.Settled {
			return nil
		}
	}

	if decision == nil {
		listing, err := s.listings.FindByID(ctx, listingID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrListingNotFound
			}
			return err
		}
		if listing.Status != domain.ListingStatusPendingModeration {
			return ErrInvalidTransition
		}

		now := s.clock()
		decision = &domain.ModerationDecision{
			ID:        s.newID(idPrefixDecision),
			ListingID: listingID,
			UserID:    listing.UserID,
			Outcome:   domain.DecisionOutcomeApproved,
			Steps:     map[string]bool{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.decisions.Save(ctx, *decision); err != nil {
			return err
		}
	}

	if !decision.Steps[stepTransition] {
		err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
			listing, err := s.listings.FindByID(ctx, listingID)
			if err != nil {
				if isRepoNotFound(err) {
					return ErrListingNotFound
				}
				return err
			}
			switch listing.Status {
			case domain.ListingStatusPendingModeration:
			case domain.ListingStatusActive:
				// Transition already landed; only the step flag is missing.
				return s.markStep(ctx, decision, stepTransition)
			default:
				return ErrInvalidTransition
			}

			now := s.clock()
			listing.Status = domain.ListingStatusActive
			listing.ModerationStatus = nil
			listing.RejectionReason = nil
			if listing.PublishedAt == nil {
				listing.PublishedAt = &now
			}
			// Re-approval after an edit does not reset a running clock
			// unless the listing had fully lapsed.
			if listing.ExpiresAt == nil || listing.ExpiresAt.Before(now) {
				expires := now.Add(s.activeWindow)
				listing.ExpiresAt = &expires
			}
			listing.UpdatedAt = now
			if err := s.listings.Save(ctx, listing); err != nil {
				return err
			}
			return s.markStep(ctx, decision, stepTransition)
		})
		if err != nil {
			return err
		}
	}

	if !decision.Steps[stepPromotion] {
		if _, err := s.promotionSvc.Activate(ctx, listingID); err != nil {
			return err
		}
		if err := s.markStep(ctx, decision, stepPromotion); err != nil {
			return err
		}
	}

	if !decision.Steps[stepNotify] {
		if err := s.notifier.Send(ctx, Notification{
			UserID: decision.UserID,
			Kind:   NotificationListingApproved,
			Params: map[string]string{"listing_id": listingID},
		}); err != nil {
			s.log(ctx, "moderation.notify_failed", map[string]any{
				"listing_id": listingID,
				"error":      err.Error(),
			})
		}
		if err := s.markStep(ctx, decision, stepNotify); err != nil {
			return err
		}
	}

	decision.Settled = true
	decision.UpdatedAt = s.clock()
	if err := s.decisions.Save(ctx, *decision); err != nil {
		return err
	}

	s.log(ctx, "moderation.approved", map[string]any{"listing_id": listingID})
	return nil
}

// Reject settles money first, notifies, and only then deletes. Rejection is
// intentionally destructive: the listing and its assets leave no residue, and
// the owner must create a new listing. Transaction audit rows survive.
func (s *moderationService) Reject(ctx context.Context, listingID, reason string) error {
	decision, err := s.loadDecision(ctx, listingID)
	if err != nil {
		return err
	}
	if decision != nil {
		if decision.Outcome != domain.DecisionOutcomeRejected {
			return ErrInvalidTransition
		}
		if decision.Settled {
			return nil
		}
	}

	// The listing is gone once the final step ran; a resumed saga works from
	// the decision record alone.
	var listing *domain.Listing
	if found, err := s.listings.FindByID(ctx, listingID); err == nil {
		listing = &found
	} else if !isRepoNotFound(err) {
		return err
	}

	if decision == nil {
		if listing == nil {
			return ErrListingNotFound
		}
		if listing.Status != domain.ListingStatusPendingModeration {
			return ErrInvalidTransition
		}

		now := s.clock()
		decision = &domain.ModerationDecision{
			ID:        s.newID(idPrefixDecision),
			ListingID: listingID,
			UserID:    listing.UserID,
			Outcome:   domain.DecisionOutcomeRejected,
			Reason:    reason,
			Steps:     map[string]bool{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.decisions.Save(ctx, *decision); err != nil {
			return err
		}
	}

	// Refund the consumed package credit. The ledger credit and the step
	// flag commit together, so a crash cannot refund twice. The free quota
	// restores nothing.
	if !decision.Steps[stepRefundCredit] {
		paidWithCredit := listing != nil && listing.PaidWithCredit
		err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
			if paidWithCredit {
				if err := s.ledger.RefundPackageCredit(ctx, decision.UserID, reasonCreditRefund, map[string]string{
					"listing_id": listingID,
				}); err != nil {
					return err
				}
				decision.CreditRefunded = true
			}
			return s.markStep(ctx, decision, stepRefundCredit)
		})
		if err != nil {
			return err
		}
	}

	// The refund summary is persisted with the step flag so a saga resumed
	// after a crash still tells the owner what was refunded.
	if !decision.Steps[stepRefundPromotions] {
		refunds, err := s.promotionSvc.RefundForListing(ctx, listingID, reason)
		if err != nil {
			return err
		}
		decision.PromotionsRefunded = refunds.Count
		decision.RefundAmount = refunds.AmountTotal
		decision.RefundCurrency = refunds.Currency
		if err := s.markStep(ctx, decision, stepRefundPromotions); err != nil {
			return err
		}
	}

	if !decision.Steps[stepNotify] {
		params := map[string]string{
			"listing_id":      listingID,
			"reason":          decision.Reason,
			"credit_refunded": strconv.FormatBool(decision.CreditRefunded),
		}
		if decision.PromotionsRefunded > 0 {
			params["promotions_refunded"] = strconv.Itoa(decision.PromotionsRefunded)
			params["refund_amount"] = strconv.FormatInt(decision.RefundAmount, 10)
			params["refund_currency"] = decision.RefundCurrency
		}
		if err := s.notifier.Send(ctx, Notification{
			UserID: decision.UserID,
			Kind:   NotificationListingRejected,
			Params: params,
		}); err != nil {
			s.log(ctx, "moderation.notify_failed", map[string]any{
				"listing_id": listingID,
				"error":      err.Error(),
			})
		}
		if err := s.markStep(ctx, decision, stepNotify); err != nil {
			return err
		}
	}

	if !decision.Steps[stepDeleteAssets] {
		if listing != nil {
			if err := s.assets.DeleteAssets(ctx, listing.Images); err != nil {
				return fmt.Errorf("delete listing assets: %w", err)
			}
		}
		if err := s.markStep(ctx, decision, stepDeleteAssets); err != nil {
			return err
		}
	}

	if !decision.Steps[stepDeleteRows] {
		if err := s.favorites.DeleteByListing(ctx, listingID); err != nil {
			return err
		}
		if err := s.viewCounters.Delete(ctx, listingID); err != nil {
			return err
		}
		if err := s.promotions.DeleteByListing(ctx, listingID); err != nil {
			return err
		}
		if err := s.markStep(ctx, decision, stepDeleteRows); err != nil {
			return err
		}
	}

	if !decision.Steps[stepDeleteListing] {
		if err := s.listings.Delete(ctx, listingID); err != nil {
			return err
		}
		if err := s.markStep(ctx, decision, stepDeleteListing); err != nil {
			return err
		}
	}

	decision.Settled = true
	decision.UpdatedAt = s.clock()
	if err := s.decisions.Save(ctx, *decision); err != nil {
		return err
	}

	s.log(ctx, "moderation.rejected", map[string]any{
		"listing_id": listingID,
		"reason":     reason,
	})
	return nil
}

func (s *moderationService) loadDecision(ctx context.Context, listingID string) (*domain.ModerationDecision, error) {
	decision, err := s.decisions.FindByListing(ctx, listingID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if decision.Steps == nil {
		decision.Steps = map[string]bool{}
	}
	return &decision, nil
}

func (s *moderationService) markStep(ctx context.Context, decision *domain.ModerationDecision, step string) error {
	if decision.Steps == nil {
		decision.Steps = map[string]bool{}
	}
	decision.Steps[step] = true
	decision.UpdatedAt = s.clock()
	return s.decisions.Save(ctx, *decision)
}
