package services

import (
	"context"
	"fmt"
	"time"

	domain "github.com/baraholka/api/internal/domain"
	"github.com/baraholka/api/internal/repositories"
)

const reasonPromotionRefund = "promotion_refund"

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	Promotions repositories.PromotionPurchaseRepository
	Listings   repositories.ListingRepository
	UnitOfWork repositories.UnitOfWork
	Ledger     LedgerService
	Payments   PaymentGateway
	Clock      Clock
	Logger     Logger
	IDs        IDGenerator
}

type promotionService struct {
	promotions repositories.PromotionPurchaseRepository
	listings   repositories.ListingRepository
	uow        repositories.UnitOfWork
	ledger     LedgerService
	payments   PaymentGateway
	clock      Clock
	log        Logger
	newID      IDGenerator
}

// NewPromotionService wires a PromotionService backed by the provided repositories.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil || deps.Listings == nil || deps.UnitOfWork == nil {
		return nil, ErrRepositoriesMissing
	}
	if deps.Ledger == nil {
		return nil, ErrLedgerMissing
	}
	if deps.Payments == nil {
		return nil, ErrPaymentGatewayMissing
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
	return &promotionService{
		promotions: deps.Promotions,
		listings:   deps.Listings,
		uow:        deps.UnitOfWork,
		ledger:     deps.Ledger,
		payments:   deps.Payments,
		clock:      func() time.Time { return clock().UTC() },
		log:        log,
		newID:      ids,
	}, nil
}

func (s *promotionService) Catalog() []PromotionTier {
	return domain.PromotionTiers()
}

// Purchase inserts one purchase row per listing at a time. The single
// in-flight rule is enforced here, not at read time: a second purchase is
// rejected while any row is pending, paid, or active.
func (s *promotionService) Purchase(ctx context.Context, cmd PurchasePromotionCommand) (PromotionPurchaseResult, error) {
	tier, ok := domain.PromotionTierByType(cmd.PromotionType)
	if !ok {
		return PromotionPurchaseResult{}, ErrUnknownPromotion
	}

	var purchase PromotionPurchase
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		listing, err := s.listings.FindByID(ctx, cmd.ListingID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrListingNotFound
			}
			return err
		}
		if listing.UserID != cmd.UserID {
			return ErrNotListingOwner
		}
		switch listing.Status {
		case domain.ListingStatusActive, domain.ListingStatusPendingModeration:
		default:
			return ErrInvalidTransition
		}

		existing, err := s.promotions.ListByListing(ctx, cmd.ListingID)
		if err != nil {
			return err
		}
		for _, row := range existing {
			if row.Settleable() {
				return ErrPromotionInFlight
			}
		}

		now := s.clock()
		purchase = PromotionPurchase{
			ID:            s.newID(idPrefixPromotion),
			ListingID:     cmd.ListingID,
			UserID:        cmd.UserID,
			PromotionType: tier.Type,
			Price:         tier.Price,
			Currency:      tier.Currency,
			Duration:      tier.Duration,
			Status:        domain.PromotionStatusPending,
			PaymentMethod: PaymentMethodInvoice,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if cmd.PayFromBalance {
			if err := s.ledger.DebitForPromotion(ctx, cmd.UserID, tier, map[string]string{
				"listing_id":  cmd.ListingID,
				"purchase_id": purchase.ID,
			}); err != nil {
				return err
			}
			purchase.Status = domain.PromotionStatusPaid
			purchase.PaymentMethod = PaymentMethodBalance
		}

		return s.promotions.Insert(ctx, purchase)
	})
	if err != nil {
		return PromotionPurchaseResult{}, err
	}

	result := PromotionPurchaseResult{Purchase: purchase}
	if !cmd.PayFromBalance {
		// Invoice minting sits outside the transaction; the row stays
		// pending until the provider callback settles it.
		invoice, err := s.payments.CreateInvoice(ctx, InvoiceRequest{
			UserID:      cmd.UserID,
			Amount:      tier.Price,
			Currency:    tier.Currency,
			Description: fmt.Sprintf("Promotion %s for listing %s", tier.Type, cmd.ListingID),
			Metadata: map[string]string{
				"purchase_id": purchase.ID,
				"listing_id":  cmd.ListingID,
			},
		})
		if err != nil {
			return PromotionPurchaseResult{}, err
		}
		result.CheckoutURL = invoice.CheckoutURL
	}

	s.log(ctx, "promotion.purchased", map[string]any{
		"listing_id":  cmd.ListingID,
		"purchase_id": purchase.ID,
		"tier":        tier.Type,
		"status":      string(purchase.Status),
	})
	return result, nil
}

// SettlePayment lands the provider's capture callback for an invoice purchase.
// PaidAt is set exactly once, so a redelivered callback changes nothing. A
// capture on a row already activated by approval keeps it active; a capture
// arriving after the listing's rejection refunded the row credits the money
// straight back.
func (s *promotionService) SettlePayment(ctx context.Context, purchaseID string) (PromotionPurchase, error) {
	var settled PromotionPurchase
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.promotions.FindByID(ctx, purchaseID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrPromotionNotFound
			}
			return err
		}
		if current.PaidAt != nil {
			settled = current
			return nil
		}

		now := s.clock()
		current.PaidAt = &now
		switch current.Status {
		case domain.PromotionStatusPending:
			current.Status = domain.PromotionStatusPaid
		case domain.PromotionStatusRefunded:
			if err := s.ledger.Refund(ctx, RefundCommand{
				UserID:   current.UserID,
				Amount:   current.Price,
				Currency: current.Currency,
				Reason:   reasonPromotionRefund,
				Metadata: map[string]string{
					"listing_id":  current.ListingID,
					"purchase_id": current.ID,
				},
			}); err != nil {
				return err
			}
		}
		current.UpdatedAt = now
		if err := s.promotions.Save(ctx, current); err != nil {
			return err
		}
		settled = current
		return nil
	})
	if err != nil {
		return PromotionPurchase{}, err
	}

	s.log(ctx, "promotion.payment_settled", map[string]any{
		"purchase_id": purchaseID,
		"listing_id":  settled.ListingID,
		"status":      string(settled.Status),
	})
	return settled, nil
}

// Activate turns the latest pending or paid purchase active and mirrors the
// window onto the listing. A second call finds nothing activatable and
// returns nil without side effects.
func (s *promotionService) Activate(ctx context.Context, listingID string) (*PromotionPurchase, error) {
	var activated *PromotionPurchase
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		listing, err := s.listings.FindByID(ctx, listingID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrListingNotFound
			}
			return err
		}

		rows, err := s.promotions.ListByListing(ctx, listingID)
		if err != nil {
			return err
		}

		var candidate *PromotionPurchase
		for i := range rows {
			switch rows[i].Status {
			case domain.PromotionStatusPending, domain.PromotionStatusPaid:
				if candidate == nil || rows[i].CreatedAt.After(candidate.CreatedAt) {
					candidate = &rows[i]
				}
			}
		}
		if candidate == nil {
			return nil
		}

		now := s.clock()
		ends := now.Add(candidate.Duration)
		candidate.Status = domain.PromotionStatusActive
		candidate.StartsAt = &now
		candidate.EndsAt = &ends
		candidate.UpdatedAt = now
		if err := s.promotions.Save(ctx, *candidate); err != nil {
			return err
		}

		// A new activation supersedes; durations never stack.
		listing.PromotionType = &candidate.PromotionType
		listing.PromotionEnds = &ends
		listing.UpdatedAt = now
		if err := s.listings.Save(ctx, listing); err != nil {
			return err
		}

		activated = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated != nil {
		s.log(ctx, "promotion.activated", map[string]any{
			"listing_id":  listingID,
			"purchase_id": activated.ID,
			"tier":        activated.PromotionType,
		})
	}
	return activated, nil
}

// RefundForListing settles every purchase still holding money or an activation
// claim. Paid and active rows credit their price back; pending invoice rows
// never took money and are only marked refunded. Each row settles in its own
// transaction with the status flip, so a crash cannot refund twice.
func (s *promotionService) RefundForListing(ctx context.Context, listingID, reason string) (PromotionRefundSummary, error) {
	rows, err := s.promotions.ListByListing(ctx, listingID)
	if err != nil {
		return PromotionRefundSummary{}, err
	}

	summary := PromotionRefundSummary{Currency: defaultCurrency}
	for _, row := range rows {
		if !row.Settleable() {
			continue
		}

		rowID := row.ID
		err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
			current, err := s.promotions.FindByID(ctx, rowID)
			if err != nil {
				if isRepoNotFound(err) {
					return nil
				}
				return err
			}
			if !current.Settleable() {
				return nil
			}

			moneyHeld := current.Status == domain.PromotionStatusPaid ||
				current.Status == domain.PromotionStatusActive
			if moneyHeld {
				if err := s.ledger.Refund(ctx, RefundCommand{
					UserID:   current.UserID,
					Amount:   current.Price,
					Currency: current.Currency,
					Reason:   reasonPromotionRefund,
					Metadata: map[string]string{
						"listing_id":  listingID,
						"purchase_id": current.ID,
						"detail":      reason,
					},
				}); err != nil {
					return err
				}
				summary.Count++
				summary.AmountTotal += current.Price
				summary.Currency = current.Currency
			}

			now := s.clock()
			current.Status = domain.PromotionStatusRefunded
			current.UpdatedAt = now
			return s.promotions.Save(ctx, current)
		})
		if err != nil {
			return summary, err
		}
	}

	if summary.Count > 0 {
		s.log(ctx, "promotion.refunded", map[string]any{
			"listing_id": listingID,
			"count":      summary.Count,
			"amount":     summary.AmountTotal,
		})
	}
	return summary, nil
}

func (s *promotionService) ListByListing(ctx context.Context, listingID string) ([]PromotionPurchase, error) {
	return s.promotions.ListByListing(ctx, listingID)
}
